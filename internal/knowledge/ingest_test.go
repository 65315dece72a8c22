package knowledge

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	calls   [][]string
	err     error
	short   bool
	vector  []float32
	embedFn func(string) ([]float32, error)
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.calls = append(f.calls, texts)
	if f.err != nil {
		return nil, f.err
	}
	n := len(texts)
	if f.short {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = []float32{float32(i), 1}
	}
	return out, nil
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.embedFn != nil {
		return f.embedFn(text)
	}
	return f.vector, f.err
}

type fakeUpserter struct {
	batches [][]Chunk
	err     error
}

func (f *fakeUpserter) Upsert(_ context.Context, chunks []Chunk) error {
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, append([]Chunk(nil), chunks...))
	return nil
}

func longText(words int) string {
	return strings.TrimSpace(strings.Repeat("breathe slowly ", words))
}

func TestDecodeDocuments(t *testing.T) {
	docs, err := DecodeDocuments(strings.NewReader(`[
		{"title":"Sleep","url":"https://x/sleep","text":"t","metadata":{"source":"WHO","doc_source_type":"news"}},
		{"title":"Paper","summary":"s","metadata":{}}
	]`))
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, "WHO", docs[0].Metadata.Source)
	require.Equal(t, "s", docs[1].Summary)

	_, err = DecodeDocuments(strings.NewReader(`{`))
	require.Error(t, err)
}

func TestBuildChunks(t *testing.T) {
	docs := []Document{
		{Title: "Sleep", URL: "https://x/sleep", Text: longText(10), Metadata: DocumentMetadata{Source: "WHO"}},
		{Title: "Empty"},
		{Title: "Stress & Work: 2024", Summary: longText(10)},
	}
	chunks := BuildChunks(docs)
	require.Len(t, chunks, 2)

	require.Equal(t, "https://x/sleep_chunk_0", chunks[0].ID)
	require.Equal(t, "WHO", chunks[0].Source)

	require.Equal(t, "research_2_Stress___Work__2024_chunk_0", chunks[1].ID)
	require.Equal(t, "Unknown", chunks[1].Source)
	require.Empty(t, chunks[1].URL)
}

func TestIngester_Batches(t *testing.T) {
	docs := make([]Document, 5)
	for i := range docs {
		docs[i] = Document{URL: "u" + string(rune('a'+i)), Text: longText(10)}
	}
	emb := &fakeEmbedder{}
	store := &fakeUpserter{}
	in, err := NewIngester(emb, store, 2)
	require.NoError(t, err)

	n, err := in.Ingest(context.Background(), docs)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Len(t, emb.calls, 3)
	require.Len(t, store.batches, 3)
	require.Len(t, store.batches[2], 1)
	require.Equal(t, []float32{1, 1}, store.batches[0][1].Embedding)
}

func TestIngester_NothingToStore(t *testing.T) {
	emb := &fakeEmbedder{}
	in, err := NewIngester(emb, &fakeUpserter{}, 0)
	require.NoError(t, err)
	n, err := in.Ingest(context.Background(), []Document{{Title: "no text"}})
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, emb.calls)
}

func TestIngester_Errors(t *testing.T) {
	docs := []Document{{URL: "a", Text: longText(10)}}

	in, _ := NewIngester(&fakeEmbedder{err: errors.New("quota")}, &fakeUpserter{}, 10)
	_, err := in.Ingest(context.Background(), docs)
	require.ErrorContains(t, err, "quota")

	in, _ = NewIngester(&fakeEmbedder{short: true}, &fakeUpserter{}, 10)
	_, err = in.Ingest(context.Background(), docs)
	require.ErrorContains(t, err, "got 0 vectors")

	in, _ = NewIngester(&fakeEmbedder{}, &fakeUpserter{err: errors.New("disk full")}, 10)
	_, err = in.Ingest(context.Background(), docs)
	require.ErrorContains(t, err, "disk full")

	_, err = NewIngester(nil, &fakeUpserter{}, 1)
	require.Error(t, err)
	_, err = NewIngester(&fakeEmbedder{}, nil, 1)
	require.Error(t, err)
}
