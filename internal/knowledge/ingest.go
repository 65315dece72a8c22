package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

const defaultBatchSize = 100

// Document is one entry of the knowledge base JSON file.
type Document struct {
	Title    string           `json:"title"`
	URL      string           `json:"url"`
	Text     string           `json:"text"`
	Summary  string           `json:"summary"`
	Metadata DocumentMetadata `json:"metadata"`
}

type DocumentMetadata struct {
	Source        string `json:"source"`
	DocSourceType string `json:"doc_source_type"`
}

// DecodeDocuments reads a JSON array of documents.
func DecodeDocuments(r io.Reader) ([]Document, error) {
	var docs []Document
	if err := json.NewDecoder(r).Decode(&docs); err != nil {
		return nil, fmt.Errorf("knowledge: decode documents: %w", err)
	}
	return docs, nil
}

// BuildChunks splits every document into chunks with stable ids. Documents
// without text or summary are skipped.
func BuildChunks(docs []Document) []Chunk {
	var out []Chunk
	for idx, d := range docs {
		text := d.Text
		if text == "" {
			text = d.Summary
		}
		if text == "" {
			continue
		}

		base := strings.TrimSpace(d.URL)
		if base == "" {
			title := d.Title
			if title == "" {
				title = "doc"
			}
			base = "research_" + strconv.Itoa(idx) + "_" + sanitizeID(title)
		}
		source := d.Metadata.Source
		if source == "" {
			source = "Unknown"
		}

		for i, c := range Split(text, DefaultChunkSize, DefaultChunkOverlap) {
			out = append(out, Chunk{
				ID:      base + "_chunk_" + strconv.Itoa(i),
				Source:  source,
				Title:   d.Title,
				URL:     d.URL,
				Content: c,
			})
		}
	}
	return out
}

type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type Upserter interface {
	Upsert(ctx context.Context, chunks []Chunk) error
}

// Ingester embeds chunks in batches and writes them to the store.
type Ingester struct {
	embedder  BatchEmbedder
	store     Upserter
	batchSize int
}

func NewIngester(e BatchEmbedder, s Upserter, batchSize int) (*Ingester, error) {
	if e == nil {
		return nil, errors.New("knowledge: embedder must not be nil")
	}
	if s == nil {
		return nil, errors.New("knowledge: store must not be nil")
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Ingester{embedder: e, store: s, batchSize: batchSize}, nil
}

// Ingest chunks docs and stores them. It returns the number of chunks stored.
func (in *Ingester) Ingest(ctx context.Context, docs []Document) (int, error) {
	chunks := BuildChunks(docs)
	if len(chunks) == 0 {
		return 0, nil
	}
	total := (len(chunks) + in.batchSize - 1) / in.batchSize

	stored := 0
	for i := 0; i < len(chunks); i += in.batchSize {
		batch := chunks[i:min(i+in.batchSize, len(chunks))]
		texts := make([]string, len(batch))
		for j, c := range batch {
			texts[j] = c.Content
		}
		vectors, err := in.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return stored, fmt.Errorf("knowledge: embed batch %d: %w", i/in.batchSize+1, err)
		}
		if len(vectors) != len(batch) {
			return stored, fmt.Errorf("knowledge: embed batch %d: got %d vectors for %d chunks", i/in.batchSize+1, len(vectors), len(batch))
		}
		for j := range batch {
			batch[j].Embedding = vectors[j]
		}
		if err := in.store.Upsert(ctx, batch); err != nil {
			return stored, fmt.Errorf("knowledge: store batch %d: %w", i/in.batchSize+1, err)
		}
		stored += len(batch)
		slog.Info("knowledge batch stored", "batch", i/in.batchSize+1, "of", total, "chunks", len(batch))
	}
	return stored, nil
}
