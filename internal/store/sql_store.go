package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicate is returned when an insert or update violates a unique key.
var ErrDuplicate = errors.New("duplicate key")

type dialect int

const (
	dialectPostgres dialect = iota
	dialectSQLite
)

// SQLStore implements every persistence operation over database/sql. Queries
// are written with ? placeholders and rebound for Postgres.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

func NewPostgresStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, dialect: dialectPostgres}
}

func NewSQLiteStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, dialect: dialectSQLite}
}

func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

// insertID runs an INSERT ... RETURNING id statement.
func (s *SQLStore) insertID(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	if err := s.queryRow(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// setClause collects "column = ?" assignments for partial updates.
type setClause struct {
	columns []string
	args    []any
}

func (c *setClause) add(column string, value any) {
	c.columns = append(c.columns, column+" = ?")
	c.args = append(c.args, value)
}

func (c *setClause) empty() bool {
	return len(c.columns) == 0
}

func (c *setClause) String() string {
	return strings.Join(c.columns, ", ")
}

func (s *SQLStore) updateRow(ctx context.Context, table string, id int64, set setClause) (int64, error) {
	if set.empty() {
		return 0, nil
	}
	args := append(set.args, id)
	result, err := s.exec(ctx, "UPDATE "+table+" SET "+set.String()+" WHERE id = ?", args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *SQLStore) deleteRow(ctx context.Context, table string, id int64) (int64, error) {
	result, err := s.exec(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
