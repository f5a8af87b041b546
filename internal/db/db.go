package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// ErrNotFound is returned by single-row queries when nothing matched.
var ErrNotFound = sql.ErrNoRows

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	PrepareContext(context.Context, string) (*sql.Stmt, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{
		db: tx,
	}
}

// DB exposes the underlying connection so callers can run raw SQL when needed.
func (q *Queries) DB() DBTX {
	return q.db
}

// Open connects to PostgreSQL, applies a per-session statement timeout and
// verifies the connection.
func Open(ctx context.Context, connStr string, statementTimeout time.Duration) (*sql.DB, *Queries, error) {
	if connStr == "" {
		return nil, nil, errors.New("db: DATABASE_URL is empty")
	}
	if statementTimeout > 0 {
		connStr = withStatementTimeout(connStr, statementTimeout)
	}
	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, nil, fmt.Errorf("db: open: %w", err)
	}
	conn.SetMaxOpenConns(20)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("db: ping: %w", err)
	}
	return conn, New(conn), nil
}

// withStatementTimeout appends a libpq options parameter to either URL or
// key=value connection strings.
func withStatementTimeout(connStr string, d time.Duration) string {
	opt := fmt.Sprintf("-c statement_timeout=%d", d.Milliseconds())
	if strings.HasPrefix(connStr, "postgres://") || strings.HasPrefix(connStr, "postgresql://") {
		sep := "?"
		if strings.Contains(connStr, "?") {
			sep = "&"
		}
		return connStr + sep + "options=" + url.QueryEscape(opt)
	}
	return connStr + " options='" + opt + "'"
}
