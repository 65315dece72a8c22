package domain

// Snippet is one ranked knowledge-base passage.
type Snippet struct {
	Text        string
	SourceLabel string
}
