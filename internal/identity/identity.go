// Package identity maps a caller's email to the conversation id that
// partitions their chat history. It only reads; users are managed elsewhere.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	// PostgreSQL driver.
	_ "github.com/lib/pq"
)

// ErrUnknownIdentity is returned when no user matches the email.
var ErrUnknownIdentity = errors.New("identity: unknown identity")

// PostgresStore reads the users table owned by the account service.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("identity: db must not be nil")
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) ConversationID(ctx context.Context, email string) (string, error) {
	email = normalize(email)
	if email == "" {
		return "", errors.New("identity: email is required")
	}
	var code sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT chat_code FROM users WHERE lower(email) = $1`, email).Scan(&code)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrUnknownIdentity
	}
	if err != nil {
		return "", fmt.Errorf("identity: lookup: %w", err)
	}
	if !code.Valid || strings.TrimSpace(code.String) == "" {
		return "", fmt.Errorf("identity: user has no conversation id: %w", ErrUnknownIdentity)
	}
	return code.String, nil
}

// Static is a fixed email to conversation id map for local development.
type Static map[string]string

func (s Static) ConversationID(_ context.Context, email string) (string, error) {
	email = normalize(email)
	if email == "" {
		return "", errors.New("identity: email is required")
	}
	for k, v := range s {
		if normalize(k) == email && v != "" {
			return v, nil
		}
	}
	return "", ErrUnknownIdentity
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
