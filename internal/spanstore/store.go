package spanstore

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/spanner"
)

// Store reads and writes entity rows in one Spanner database.
type Store struct {
	client   *spanner.Client
	database string
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New wraps an existing client. database is the full resource name
// (projects/p/instances/i/databases/d) used for schema changes.
func New(client *spanner.Client, database string, opts ...Option) *Store {
	s := &Store{client: client, database: database, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open creates a client for database.
func Open(ctx context.Context, database string, opts ...Option) (*Store, error) {
	client, err := spanner.NewClient(ctx, database)
	if err != nil {
		return nil, fmt.Errorf("failed to create spanner client: %w", err)
	}
	return New(client, database, opts...), nil
}

// Close releases the client.
func (s *Store) Close() {
	s.client.Close()
}

// Client returns the underlying client.
func (s *Store) Client() *spanner.Client {
	return s.client
}
