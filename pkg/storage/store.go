package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"

	"github.com/small-frappuccino/aperture/pkg/log"
	"github.com/small-frappuccino/aperture/pkg/telemetry"
)

// Dialect is the SQL flavour behind a Store.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgresql"
	}
	return "sqlite"
}

const tracerName = "aperture/storage"

// Store is the durable backing store shared by every cache. A DSN starting
// with postgres:// or postgresql:// opens PostgreSQL through pgx; anything
// else is treated as a SQLite file path (modernc.org/sqlite, no CGO).
type Store struct {
	dsn     string
	dialect Dialect
	db      *sql.DB
}

// NewStore creates a Store for dsn. Call Init() before using it.
func NewStore(dsn string) *Store {
	d := SQLite
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		d = Postgres
	}
	return &Store{dsn: dsn, dialect: d}
}

// Dialect reports which SQL flavour the store speaks.
func (s *Store) Dialect() Dialect { return s.dialect }

// Init opens the pool, configures it and ensures the schema exists.
func (s *Store) Init(ctx context.Context) error {
	if s.db != nil {
		return nil
	}
	if s.dsn == "" {
		return fmt.Errorf("db dsn is empty")
	}

	var (
		db  *sql.DB
		err error
	)
	switch s.dialect {
	case Postgres:
		db, err = sql.Open("pgx", s.dsn)
		if err != nil {
			return &OpError{Op: "open", Err: err}
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	default:
		if err := os.MkdirAll(filepath.Dir(s.dsn), 0o755); err != nil {
			return fmt.Errorf("failed to create db directory: %w", err)
		}
		// Pragmas travel in the DSN so every pooled connection gets them.
		dsn := "file:" + s.dsn +
			"?_pragma=journal_mode(WAL)" +
			"&_pragma=busy_timeout(5000)" +
			"&_pragma=synchronous(NORMAL)" +
			"&_pragma=foreign_keys(ON)"
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return &OpError{Op: "open", Err: err}
		}
		// SQLite allows one writer at a time.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return &OpError{Op: "ping", Err: err}
	}
	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	log.DatabaseLogger().Info("Store initialized", "dialect", s.dialect.String())
	return nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Ping checks that the pool can still reach the database.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return &OpError{Op: "ping", Err: ErrNotInitialized}
	}
	if err := s.db.PingContext(ctx); err != nil {
		return &OpError{Op: "ping", Err: err}
	}
	return nil
}

// Scanner is the subset of *sql.Rows handed to Fetch callbacks.
type Scanner interface {
	Scan(dest ...any) error
}

// Execute runs a statement and returns the number of affected rows.
// Placeholders are written as '?' for every dialect.
func (s *Store) Execute(ctx context.Context, query string, args ...any) (n int64, err error) {
	ctx, span := s.startSpan(ctx, "execute", query)
	defer func() { telemetry.EndSpan(span, err) }()

	if s.db == nil {
		return 0, &OpError{Op: "execute", Err: ErrNotInitialized}
	}
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return 0, &OpError{Op: "execute", Err: err}
	}
	n, err = res.RowsAffected()
	if err != nil {
		return 0, &OpError{Op: "execute", Err: err}
	}
	return n, nil
}

// ExecuteMany runs one statement for every row inside a single transaction.
// Either every row is written or none is.
func (s *Store) ExecuteMany(ctx context.Context, query string, rows [][]any) (err error) {
	ctx, span := s.startSpan(ctx, "execute_many", query, attribute.Int("db.rows", len(rows)))
	defer func() { telemetry.EndSpan(span, err) }()

	if s.db == nil {
		return &OpError{Op: "execute_many", Err: ErrNotInitialized}
	}
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &OpError{Op: "execute_many", Err: err}
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, s.rebind(query))
	if err != nil {
		return &OpError{Op: "execute_many", Err: err}
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err = stmt.ExecContext(ctx, row...); err != nil {
			return &OpError{Op: "execute_many", Err: err}
		}
	}
	if err = tx.Commit(); err != nil {
		return &OpError{Op: "execute_many", Err: err}
	}
	return nil
}

// Fetch runs a query and calls each once per returned row.
// An error from each stops iteration and is returned unwrapped.
func (s *Store) Fetch(ctx context.Context, query string, each func(Scanner) error, args ...any) (err error) {
	ctx, span := s.startSpan(ctx, "fetch", query)
	defer func() { telemetry.EndSpan(span, err) }()

	if s.db == nil {
		return &OpError{Op: "fetch", Err: ErrNotInitialized}
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return &OpError{Op: "fetch", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		if err = each(rows); err != nil {
			return err
		}
	}
	if err = rows.Err(); err != nil {
		return &OpError{Op: "fetch", Err: err}
	}
	return nil
}

// FetchRow runs a query expected to return at most one row and scans it into
// dest. It reports false, with a nil error, when there is no row.
func (s *Store) FetchRow(ctx context.Context, query string, args []any, dest ...any) (found bool, err error) {
	ctx, span := s.startSpan(ctx, "fetch_row", query)
	defer func() { telemetry.EndSpan(span, err) }()

	if s.db == nil {
		return false, &OpError{Op: "fetch_row", Err: ErrNotInitialized}
	}
	err = s.db.QueryRowContext(ctx, s.rebind(query), args...).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, &OpError{Op: "fetch_row", Err: err}
	}
	return true, nil
}

func (s *Store) startSpan(ctx context.Context, op, query string, extra ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs := append([]attribute.KeyValue{
		attribute.String("db.system", s.dialect.String()),
		attribute.String("db.operation", op),
		attribute.String("db.statement", query),
	}, extra...)
	return telemetry.StartSpan(ctx, tracerName, "storage."+op, attrs...)
}

// rebind rewrites '?' placeholders to $1..$n for PostgreSQL. Question marks
// inside single-quoted literals are left alone.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
