package repositories

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
)

// Open creates the repository named by databaseURL. Supported schemes are
// sqlite://<path>, postgres:// or postgresql://, and memory://.
// migrationsDir holds one sub directory per SQL backend.
func Open(ctx context.Context, databaseURL string, migrationsDir string) (Repository, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	switch u.Scheme {
	case "sqlite":
		path := u.Host + u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == "" {
			return nil, fmt.Errorf("sqlite database URL has no path: %s", databaseURL)
		}
		repo, err := NewSQLiteRepository(ctx, path, filepath.Join(migrationsDir, "sqlite"))
		if err != nil {
			return nil, err
		}
		return repo, nil
	case "postgres", "postgresql":
		repo, err := NewPostgresRepository(ctx, databaseURL, filepath.Join(migrationsDir, "postgres"))
		if err != nil {
			return nil, err
		}
		return repo, nil
	case "memory":
		return NewMemoryRepository(), nil
	default:
		return nil, fmt.Errorf("unsupported database scheme: %q", u.Scheme)
	}
}
