package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	// PostgreSQL driver.
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

const DefaultTable = "knowledge_chunks"

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Match is a stored chunk with its cosine similarity to the query.
type Match struct {
	Chunk
	Score float64
}

// PGStore keeps chunks in a pgvector table and searches them by cosine
// distance.
type PGStore struct {
	db    *sql.DB
	table string
}

// OpenDB opens and pings a PostgreSQL connection pool.
func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("knowledge: open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(15 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("knowledge: ping database: %w", err)
	}
	return db, nil
}

func NewPGStore(db *sql.DB, table string) (*PGStore, error) {
	if db == nil {
		return nil, errors.New("knowledge: db must not be nil")
	}
	if table == "" {
		table = DefaultTable
	}
	if !identifier.MatchString(table) {
		return nil, fmt.Errorf("knowledge: invalid table name %q", table)
	}
	return &PGStore{db: db, table: table}, nil
}

// EnsureSchema creates the vector extension and the chunk table.
func (s *PGStore) EnsureSchema(ctx context.Context, dimensions int) error {
	if dimensions <= 0 {
		return errors.New("knowledge: dimensions must be positive")
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			title TEXT NOT NULL,
			url TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL
		)`, s.table, dimensions),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("knowledge: ensure schema: %w", err)
		}
	}
	return nil
}

// Upsert writes chunks in one transaction, replacing rows with the same id.
func (s *PGStore) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("knowledge: begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt := `INSERT INTO ` + s.table + ` (id, source, title, url, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			source = EXCLUDED.source,
			title = EXCLUDED.title,
			url = EXCLUDED.url,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding`
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("knowledge: chunk %q has no embedding", c.ID)
		}
		if _, err := tx.ExecContext(ctx, stmt, c.ID, c.Source, c.Title, c.URL, c.Content, pgvector.NewVector(c.Embedding)); err != nil {
			return fmt.Errorf("knowledge: upsert chunk %q: %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("knowledge: commit upsert: %w", err)
	}
	return nil
}

// Search returns the k chunks closest to vector, most similar first.
func (s *PGStore) Search(ctx context.Context, vector []float32, k int) ([]Match, error) {
	if len(vector) == 0 {
		return nil, errors.New("knowledge: empty query vector")
	}
	if k <= 0 {
		k = DefaultTopK
	}

	// <=> is cosine distance, so ascending order is most similar first.
	query := `SELECT id, source, title, url, content, 1 - (embedding <=> $1) AS score
		FROM ` + s.table + `
		ORDER BY embedding <=> $1
		LIMIT $2`
	rows, err := s.db.QueryContext(ctx, query, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("knowledge: vector search: %w", err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.Source, &m.Title, &m.URL, &m.Content, &m.Score); err != nil {
			return nil, fmt.Errorf("knowledge: scan search result: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("knowledge: iterate search results: %w", err)
	}
	return out, nil
}
