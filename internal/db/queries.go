package db

import (
	"context"
	"database/sql"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Queries holds the per-entity accessors. Statements are built with ent's
// dialect-aware builder so the same code emits "?" for SQLite and "$n" for
// Postgres; rows are scanned with sqlx.
type Queries struct {
	ext sqlx.ExtContext
	sb  *entsql.DialectBuilder
}

// get scans a single row into dest.
func (q *Queries) get(ctx context.Context, dest any, b entsql.Querier, entity string) error {
	query, args := b.Query()
	return mapError(sqlx.GetContext(ctx, q.ext, dest, query, args...), entity)
}

// list scans all rows into dest, a pointer to a slice.
func (q *Queries) list(ctx context.Context, dest any, b entsql.Querier, entity string) error {
	query, args := b.Query()
	return mapError(sqlx.SelectContext(ctx, q.ext, dest, query, args...), entity)
}

// exec runs a statement and returns the number of affected rows.
func (q *Queries) exec(ctx context.Context, b entsql.Querier, entity string) (int64, error) {
	query, args := b.Query()
	res, err := q.ext.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, mapError(err, entity)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, mapError(err, entity)
	}
	return n, nil
}

// execOne is exec that reports NotFound when no row was affected.
func (q *Queries) execOne(ctx context.Context, b entsql.Querier, entity string) error {
	n, err := q.exec(ctx, b, entity)
	if err != nil {
		return err
	}
	if n == 0 {
		return mapError(sql.ErrNoRows, entity)
	}
	return nil
}

// raw runs a hand-written "?" query, rebound for the driver.
func (q *Queries) raw(ctx context.Context, dest any, query string, args ...any) error {
	return mapError(sqlx.SelectContext(ctx, q.ext, dest, q.ext.Rebind(query), args...), "report")
}

func (q *Queries) table(name string) *entsql.SelectTable {
	return q.sb.Table(name)
}

func newID() string {
	return uuid.NewString()
}

// now is the storage clock. Timestamps are always stored in UTC so their
// text form in SQLite sorts chronologically.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func anySlice[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
