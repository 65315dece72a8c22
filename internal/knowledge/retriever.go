// Package knowledge holds the retrieval-augmented context for general chat:
// document chunking and ingestion, the pgvector store and a best-effort
// retriever.
package knowledge

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"mindspace-agent/internal/domain"
)

const (
	DefaultTopK           = 5
	defaultRetrievalLimit = 5 * time.Second
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Searcher interface {
	Search(ctx context.Context, vector []float32, k int) ([]Match, error)
}

// Retriever turns a query into ranked snippets. It never fails: any error
// is logged and yields no snippets.
type Retriever struct {
	embedder Embedder
	searcher Searcher
	timeout  time.Duration
}

func NewRetriever(e Embedder, s Searcher, timeout time.Duration) (*Retriever, error) {
	if e == nil {
		return nil, errors.New("knowledge: embedder must not be nil")
	}
	if s == nil {
		return nil, errors.New("knowledge: searcher must not be nil")
	}
	if timeout <= 0 {
		timeout = defaultRetrievalLimit
	}
	return &Retriever{embedder: e, searcher: s, timeout: timeout}, nil
}

func (r *Retriever) Search(ctx context.Context, query string, k int) []domain.Snippet {
	if k <= 0 {
		k = DefaultTopK
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		slog.Warn("knowledge query embedding failed", "err", err)
		return nil
	}
	matches, err := r.searcher.Search(ctx, vector, k)
	if err != nil {
		slog.Warn("knowledge search failed", "err", err)
		return nil
	}

	out := make([]domain.Snippet, 0, len(matches))
	for _, m := range matches {
		source := m.Source
		if source == "" {
			source = "Unknown"
		}
		out = append(out, domain.Snippet{Text: m.Content, SourceLabel: "[Source: " + source + "]"})
	}
	return out
}
