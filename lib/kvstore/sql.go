package kvstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "embed"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

//go:embed schema_postgres.sql
var postgresSchema string

type dialect struct {
	name   string
	schema string
	// numbered placeholders ($1, $2, ...) instead of ?
	numbered bool
}

var (
	sqliteDialect   = dialect{name: "sqlite", schema: sqliteSchema}
	postgresDialect = dialect{name: "postgres", schema: postgresSchema, numbered: true}
)

func (d dialect) bind(query string) string {
	if !d.numbered {
		return query
	}
	var out strings.Builder
	n := 0
	for _, r := range query {
		if r != '?' {
			out.WriteRune(r)
			continue
		}
		n++
		out.WriteString("$" + strconv.Itoa(n))
	}
	return out.String()
}

// SqlStore keeps values in a single `kv` table. it serves local sqlite
// files, remote libsql databases and postgres.
type SqlStore struct {
	db      *sql.DB
	dialect dialect
}

// NewSqliteStore is for sqlite and libsql connections.
func NewSqliteStore(ctx context.Context, db *sql.DB) (*SqlStore, error) {
	return newSqlStore(ctx, db, sqliteDialect)
}

func NewPostgresStore(ctx context.Context, db *sql.DB) (*SqlStore, error) {
	return newSqlStore(ctx, db, postgresDialect)
}

func newSqlStore(ctx context.Context, db *sql.DB, d dialect) (*SqlStore, error) {
	_, err := db.ExecContext(ctx, d.schema)
	if err != nil {
		return nil, fmt.Errorf("create %s kv schema: %w", d.name, err)
	}
	return &SqlStore{db: db, dialect: d}, nil
}

// OpenSqliteFile opens (creating if necessary) a local sqlite database.
func OpenSqliteFile(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("a path was not specified")
	}
	if path != ":memory:" {
		_, statErr := os.Stat(path)
		if os.IsNotExist(statErr) {
			f, err := os.Create(path)
			if err != nil {
				return nil, err
			}
			f.Close()
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// see this stackoverflow post for information on why the following
	// lines exist: https://stackoverflow.com/questions/35804884/sqlite-concurrent-writing-performance
	db.SetMaxOpenConns(1)
	if path != ":memory:" {
		_, err = db.Exec("PRAGMA journal_mode=WAL")
		if err != nil {
			return nil, err
		}
	}
	return db, nil
}

// OpenLibsql connects to a remote libsql (turso) database.
func OpenLibsql(url, authToken string) (*sql.DB, error) {
	if url == "" {
		return nil, fmt.Errorf("a libsql url was not specified")
	}
	if authToken != "" {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url = url + sep + "authToken=" + authToken
	}
	return sql.Open("libsql", url)
}

// OpenPostgres connects through the pgx driver, url is a postgres:// dsn.
func OpenPostgres(ctx context.Context, url string) (*sql.DB, error) {
	if url == "" {
		return nil, fmt.Errorf("a postgres url was not specified")
	}
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, err
	}
	err = db.PingContext(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func (s *SqlStore) Read(ctx context.Context, key string, out any) (bool, error) {
	ctx, span := tracer.Start(ctx, s.dialect.name+":Read")
	defer span.End()
	span.SetAttributes(attribute.String("key", key))

	var serialized string
	err := s.db.QueryRowContext(ctx, s.dialect.bind("select value from kv where key = ?"), key).Scan(&serialized)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read kv row")
		return false, err
	}
	return true, decode(key, []byte(serialized), out)
}

func (s *SqlStore) Write(ctx context.Context, key string, value any) error {
	ctx, span := tracer.Start(ctx, s.dialect.name+":Write")
	defer span.End()
	span.SetAttributes(attribute.String("key", key))

	serialized, err := encode(key, value)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		s.dialect.bind(`insert into kv(key, value, updated_at) values (?, ?, ?)
		on conflict(key) do update set value = excluded.value, updated_at = excluded.updated_at`),
		key, string(serialized), time.Now().Unix(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upsert kv row")
		return err
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *SqlStore) Keys(ctx context.Context, prefix, suffix string) ([]string, error) {
	pattern := likeEscaper.Replace(prefix) + "%" + likeEscaper.Replace(suffix)
	rows, err := s.db.QueryContext(
		ctx,
		s.dialect.bind(`select key from kv where key like ? escape '\' order by key`),
		pattern,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		err = rows.Scan(&key)
		if err != nil {
			return nil, err
		}
		// LIKE is case insensitive for ascii in sqlite
		if strings.HasPrefix(key, prefix) && strings.HasSuffix(key, suffix) {
			keys = append(keys, key)
		}
	}
	return keys, rows.Err()
}

func (s *SqlStore) Close() error {
	return s.db.Close()
}
