// Package store persists profiles, tweets, snapshots, relationship lists,
// named sets and scores behind database/sql. SQLite (modernc) is the default
// driver; Postgres is reached through the pgx stdlib driver.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

//go:embed schema_postgres.sql
var postgresSchema string

// Config selects the backing database.
type Config struct {
	Driver      string // sqlite or postgres
	DSN         string
	TablePrefix string
}

// Schema names the table that backs each role. It is resolved once when the
// store is opened and every statement is rendered against it.
type Schema struct {
	Profiles      string
	Aliases       string
	Snapshots     string
	Tweets        string
	Hashtags      string
	TweetHashtags string
	Mentions      string
	Lists         string
	ListMembers   string
	Sets          string
	SetProfiles   string
	SetTweets     string
	Scores        string
	Cursors       string
}

// NewSchema returns the default table names with prefix prepended.
func NewSchema(prefix string) Schema {
	return Schema{
		Profiles:      prefix + "profiles",
		Aliases:       prefix + "profile_aliases",
		Snapshots:     prefix + "profile_snapshots",
		Tweets:        prefix + "tweets",
		Hashtags:      prefix + "hashtags",
		TweetHashtags: prefix + "tweet_hashtags",
		Mentions:      prefix + "tweet_mentions",
		Lists:         prefix + "relationship_lists",
		ListMembers:   prefix + "relationship_members",
		Sets:          prefix + "named_sets",
		SetProfiles:   prefix + "set_profiles",
		SetTweets:     prefix + "set_tweets",
		Scores:        prefix + "botometer_scores",
		Cursors:       prefix + "cursors",
	}
}

func (s Schema) replacer() *strings.Replacer {
	return strings.NewReplacer(
		"{profiles}", s.Profiles,
		"{aliases}", s.Aliases,
		"{snapshots}", s.Snapshots,
		"{tweets}", s.Tweets,
		"{hashtags}", s.Hashtags,
		"{tweet_hashtags}", s.TweetHashtags,
		"{mentions}", s.Mentions,
		"{lists}", s.Lists,
		"{list_members}", s.ListMembers,
		"{sets}", s.Sets,
		"{set_profiles}", s.SetProfiles,
		"{set_tweets}", s.SetTweets,
		"{scores}", s.Scores,
		"{cursors}", s.Cursors,
	)
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Store is safe for concurrent use. Session and InTx return derived stores
// bound to a dedicated connection or transaction.
type Store struct {
	db       *sql.DB
	conn     *sql.Conn
	tx       *sql.Tx
	q        querier
	postgres bool
	schema   Schema
	rep      *strings.Replacer
}

// Open connects to the configured database and applies the schema.
func Open(cfg Config) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case "", "sqlite":
		db, err = openSQLite(cfg.DSN)
	case "postgres":
		db, err = openPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	schema := NewSchema(cfg.TablePrefix)
	s := &Store{db: db, q: db, postgres: cfg.Driver == "postgres", schema: schema, rep: schema.replacer()}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// OpenSQLite is Open for a SQLite file path.
func OpenSQLite(path string) (*Store, error) {
	return Open(Config{Driver: "sqlite", DSN: path})
}

func openSQLite(path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("sqlite path is empty")
	}
	memory := path == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	// Writers take the lock at BEGIN so concurrent sessions queue on
	// busy_timeout instead of failing on lock upgrade.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=foreign_keys(ON)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if memory {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return db, nil
}

func openPostgres(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func (s *Store) migrate() error {
	ddl := sqliteSchema
	if s.postgres {
		ddl = postgresSchema
	}
	for _, stmt := range strings.Split(s.rep.Replace(ddl), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("%s: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i > 0 {
		return s[:i]
	}
	return s
}

// Schema returns the resolved table names.
func (s *Store) Schema() Schema { return s.schema }

// Close releases the store. On a session it returns the connection to the pool.
func (s *Store) Close() error {
	switch {
	case s.tx != nil:
		return nil
	case s.conn != nil:
		return s.conn.Close()
	default:
		return s.db.Close()
	}
}

// Session returns a store bound to one dedicated connection. Each batch
// worker uses its own session so transactional state is never shared.
func (s *Store) Session(ctx context.Context) (*Store, error) {
	if s.conn != nil || s.tx != nil {
		return nil, errors.New("session: store is already bound")
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	out := *s
	out.conn = conn
	out.q = conn
	return &out, nil
}

// InTx runs fn inside a transaction. Nested calls join the outer transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	var b txBeginner = s.db
	if s.conn != nil {
		b = s.conn
	}
	tx, err := b.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	out := *s
	out.tx = tx
	out.q = tx
	if err := fn(&out); err != nil {
		return err
	}
	return tx.Commit()
}

// Lock serializes writers on key for the rest of the current transaction.
// SQLite transactions already hold the database write lock.
func (s *Store) Lock(ctx context.Context, key string) error {
	if !s.postgres {
		return nil
	}
	if s.tx == nil {
		return errors.New("lock: not in a transaction")
	}
	_, err := s.q.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key)
	return err
}

// IsRetryable reports whether err is a uniqueness or lock conflict that a
// fresh attempt can resolve.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "40001", "40P01":
			return true
		}
		return false
	}
	msg := err.Error()
	for _, frag := range []string{"UNIQUE constraint failed", "database is locked", "SQLITE_BUSY", "SQLITE_LOCKED"} {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

// render substitutes table names and, for Postgres, rewrites ? placeholders
// to $n.
func (s *Store) render(query string) string {
	query = s.rep.Replace(query)
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.q.ExecContext(ctx, s.render(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.q.QueryContext(ctx, s.render(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.q.QueryRowContext(ctx, s.render(query), args...)
}

// SaveCursor stores a named progress marker.
func (s *Store) SaveCursor(ctx context.Context, key, value string) error {
	_, err := s.exec(ctx, `INSERT INTO {cursors}(key, value) VALUES(?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	return err
}

// LoadCursor returns the marker saved under key, or "" if none.
func (s *Store) LoadCursor(ctx context.Context, key string) (string, error) {
	var v string
	err := s.queryRow(ctx, `SELECT value FROM {cursors} WHERE key=?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func collectStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
