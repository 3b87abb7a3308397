package history

import (
	"context"
	"strings"
)

// NewStore creates a postgres-backed store when configured. An empty URL
// returns a nil Store: running without a remote is a supported mode.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, nil
	}
	store, err := NewPostgresStore(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return store, nil
}
