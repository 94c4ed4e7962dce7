package repo

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// newCourseToken generates the opaque unique token assigned to every course
// at creation time.
func newCourseToken() string {
	return uuid.NewString()
}

// New opens a Store implementation based on the database URL scheme:
// postgres:// and postgresql:// use the pgx pool, everything else is
// treated as an SQLite path.
func New(ctx context.Context, databaseURL, schema string, logger *slog.Logger) (Store, error) {
	url := strings.TrimSpace(databaseURL)
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return NewPostgres(ctx, url, schema, logger)
	}
	return NewSQLite(ctx, url, logger)
}
