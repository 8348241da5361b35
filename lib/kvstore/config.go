package kvstore

import (
	"context"
	"database/sql"
	"fmt"
	"io"
)

type Config struct {
	// one of "memory", "file", "sqlite", "libsql", "postgres", "redis"
	Driver    string `json:"driver"`
	File      string `json:"file"`
	Url       string `json:"url" env:"URL"`
	AuthToken string `json:"auth_token" env:"AUTH_TOKEN"`
	Namespace string `json:"namespace"`
}

// Open returns the store described by config and a function releasing
// whatever connection backs it.
func Open(ctx context.Context, config Config) (Store, func() error, error) {
	noop := func() error { return nil }

	switch config.Driver {
	case "", "memory":
		return NewMemoryStore(), noop, nil
	case "file":
		path := config.File
		if path == "" {
			path = ".data_store"
		}
		s, err := OpenFileStore(path)
		return s, noop, err
	case "sqlite", "libsql":
		var db *sql.DB
		var err error
		if config.Driver == "sqlite" {
			db, err = OpenSqliteFile(config.File)
		} else {
			db, err = OpenLibsql(config.Url, config.AuthToken)
		}
		if err != nil {
			return nil, noop, err
		}
		s, err := NewSqliteStore(ctx, db)
		if err != nil {
			db.Close()
			return nil, noop, err
		}
		return s, s.Close, nil
	case "postgres":
		db, err := OpenPostgres(ctx, config.Url)
		if err != nil {
			return nil, noop, err
		}
		s, err := NewPostgresStore(ctx, db)
		if err != nil {
			db.Close()
			return nil, noop, err
		}
		return s, s.Close, nil
	case "redis":
		client, err := OpenRedis(config.Url)
		if err != nil {
			return nil, noop, err
		}
		err = client.Ping(ctx).Err()
		if err != nil {
			return nil, noop, fmt.Errorf("ping redis: %w", err)
		}
		s := NewRedisStore(client, config.Namespace)
		return s, s.Close, nil
	}
	return nil, noop, fmt.Errorf("%w: %q", ErrUnknownDriver, config.Driver)
}

var _ io.Closer = (*SqlStore)(nil)
var _ io.Closer = (*RedisStore)(nil)
