package knowledge

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
	minChunkLength      = 50
)

// Chunk is one embedded passage of a knowledge document.
type Chunk struct {
	ID        string
	Source    string
	Title     string
	URL       string
	Content   string
	Embedding []float32
}

// Split cuts text into windows of at most size runes that overlap by
// overlap runes. A window that would end mid-text is pulled back to the last
// space inside it. Windows of minChunkLength runes or fewer are dropped.
func Split(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	runes := []rune(text)
	n := len(runes)

	var chunks []string
	for start := 0; start < n; {
		end := min(start+size, n)
		if end < n {
			if sp := lastSpace(runes, start, end); sp > start {
				end = sp
			}
		}
		if c := strings.TrimSpace(string(runes[start:end])); utf8.RuneCountInString(c) > minChunkLength {
			chunks = append(chunks, c)
		}
		if end >= n {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

func lastSpace(runes []rune, start, end int) int {
	for i := end - 1; i >= start; i-- {
		if runes[i] == ' ' {
			return i
		}
	}
	return -1
}

var unsafeID = regexp.MustCompile(`[^a-zA-Z0-9]`)

// sanitizeID makes a title usable as an id prefix.
func sanitizeID(s string) string {
	s = unsafeID.ReplaceAllString(s, "_")
	if len(s) > 50 {
		s = s[:50]
	}
	return s
}
