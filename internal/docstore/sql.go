package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/identikit/identikit/internal/dbx"
	"github.com/identikit/identikit/internal/docstore/migrations"
)

// SQLStore keeps documents in a single table (key, collection, data,
// version) on PostgreSQL or embedded sqlite. The version column carries the
// optimistic-concurrency check: every write in a commit batch runs inside
// one transaction and asserts the version it loaded.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an existing database handle. The schema is assumed to be
// in place; use OpenPostgres/OpenSQLite to get it created.
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("docstore: nil database handle")
	}
	return &SQLStore{db: db}, nil
}

// OpenPostgres connects via the pgx stdlib driver and applies the embedded
// goose migrations.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	s := &SQLStore{db: db}
	if err := s.RunMigrations(ctx); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return s, nil
}

// OpenSQLite opens an embedded sqlite database (modernc.org/sqlite, no cgo)
// and bootstraps the schema. A real deployment option for single-node
// setups, and what the integration tests run against.
func OpenSQLite(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	// sqlite allows one writer; a small pool avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(4)
	s := &SQLStore{db: db}
	if err := s.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("schema error: %w", err)
	}
	return s, nil
}

// RunMigrations applies the embedded goose migrations (PostgreSQL).
func (s *SQLStore) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	return goose.UpContext(ctx, s.db, ".")
}

// EnsureSchema creates the documents table with portable SQL. Used for
// sqlite, where goose's postgres dialect does not apply.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			key TEXT PRIMARY KEY,
			collection TEXT NOT NULL,
			data TEXT NOT NULL,
			version BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents (collection)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}

// Conn exposes the underlying handle.
func (s *SQLStore) Conn() *sql.DB {
	return s.db
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// OpenSession starts a unit of work. SQL sessions always run with
// optimistic concurrency: the version checks are built into the statements.
func (s *SQLStore) OpenSession() *SQLSession {
	return &SQLSession{db: s.db, sessionState: newSessionState()}
}

// SQLSession is a Session over a SQLStore.
type SQLSession struct {
	db *sql.DB
	sessionState
}

var _ Session = (*SQLSession)(nil)

func (s *SQLSession) OptimisticConcurrency() bool {
	return true
}

func (s *SQLSession) Store(_ context.Context, key string, doc any) error {
	return s.sessionState.store(key, doc)
}

func (s *SQLSession) Delete(_ context.Context, key string) error {
	return s.remove(key)
}

func (s *SQLSession) Load(ctx context.Context, key string, out any) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("docstore: load requires a key")
	}
	if handled, found, err := s.loadTracked(key, out); handled || err != nil {
		return found, err
	}
	var (
		data    []byte
		version int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT data, version FROM documents WHERE key = $1`, key).Scan(&data, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("db error: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("docstore: unmarshal %s: %w", key, err)
	}
	s.track(key, out, version, data)
	return true, nil
}

func (s *SQLSession) Query(ctx context.Context, prefix string, fn func(key string, data []byte) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, data FROM documents WHERE key LIKE $1 ESCAPE '\' ORDER BY key`, likePattern(prefix))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key  string
			data []byte
		)
		if err := rows.Scan(&key, &data); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if err := fn(key, data); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *SQLSession) Commit(ctx context.Context) error {
	writes, deletes, err := s.changes()
	if err != nil {
		return err
	}
	if len(writes) == 0 && len(deletes) == 0 {
		return nil
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		conflict := &ConflictError{}
		for _, w := range writes {
			if w.expected == 0 {
				res, err := tx.ExecContext(ctx,
					`INSERT INTO documents (key, collection, data, version)
					 VALUES ($1, $2, $3, 1)
					 ON CONFLICT (key) DO NOTHING`,
					w.key, collectionOf(w.key), string(w.data))
				if err != nil {
					return fmt.Errorf("db error: %w", err)
				}
				if n, err := res.RowsAffected(); err != nil {
					return fmt.Errorf("db error: %w", err)
				} else if n == 0 {
					conflict.CreateKeys = append(conflict.CreateKeys, w.key)
				}
				continue
			}
			res, err := tx.ExecContext(ctx,
				`UPDATE documents SET data = $1, version = version + 1
				 WHERE key = $2 AND version = $3`,
				string(w.data), w.key, w.expected)
			if err != nil {
				return fmt.Errorf("db error: %w", err)
			}
			if n, err := res.RowsAffected(); err != nil {
				return fmt.Errorf("db error: %w", err)
			} else if n == 0 {
				conflict.UpdateKeys = append(conflict.UpdateKeys, w.key)
			}
		}
		for _, d := range deletes {
			if d.expected == 0 {
				if _, err := tx.ExecContext(ctx,
					`DELETE FROM documents WHERE key = $1`, d.key); err != nil {
					return fmt.Errorf("db error: %w", err)
				}
				continue
			}
			res, err := tx.ExecContext(ctx,
				`DELETE FROM documents WHERE key = $1 AND version = $2`, d.key, d.expected)
			if err != nil {
				return fmt.Errorf("db error: %w", err)
			}
			if n, err := res.RowsAffected(); err != nil {
				return fmt.Errorf("db error: %w", err)
			} else if n == 0 {
				conflict.UpdateKeys = append(conflict.UpdateKeys, d.key)
			}
		}
		if len(conflict.CreateKeys) > 0 || len(conflict.UpdateKeys) > 0 {
			// Returning the conflict rolls the whole batch back.
			return conflict
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.applied(writes)
	return nil
}

func collectionOf(key string) string {
	if i := strings.Index(key, "/"); i > 0 {
		return key[:i]
	}
	return key
}

func likePattern(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
