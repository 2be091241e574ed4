package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Entity is implemented by every row type the generic Repository manages.
// Scan must read columns in exactly the order Descriptor.Columns lists
// them; Values must produce insert/update values in the same order.
type Entity interface {
	Scan(row RowScanner) error
	Values() []any
}

// RowScanner is the subset of pgx.Row/pgx.Rows used by Entity.Scan.
type RowScanner interface {
	Scan(dest ...any) error
}

// Repository is the generic replacement for the original source's
// macro-generated per-entity CRUD (§9 design notes): one implementation
// parameterized by an EntityDescriptor and a constructor, instead of five
// hand-copied macro expansions.
type Repository[T Entity] struct {
	store *Store
	desc  EntityDescriptor
	zero  func() T
}

// NewRepository builds a Repository for one entity kind.
func NewRepository[T Entity](s *Store, desc EntityDescriptor, zero func() T) *Repository[T] {
	return &Repository[T]{store: s, desc: desc, zero: zero}
}

// Get fetches one row by id.
func (r *Repository[T]) Get(ctx context.Context, id uuid.UUID) (T, error) {
	var zero T
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1",
		strings.Join(r.desc.Columns, ", "), r.desc.Table, r.desc.IDCol)
	row := r.store.pool.QueryRow(ctx, q, id)

	v := r.zero()
	if err := v.Scan(row); err != nil {
		return zero, wrapErr("get "+r.desc.Table, err, true)
	}
	return v, nil
}

// List fetches every row in the table, ordered by id.
func (r *Repository[T]) List(ctx context.Context) ([]T, error) {
	q := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		strings.Join(r.desc.Columns, ", "), r.desc.Table, r.desc.IDCol)
	rows, err := r.store.pool.Query(ctx, q)
	if err != nil {
		return nil, wrapErr("list "+r.desc.Table, err, false)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v := r.zero()
		if err := v.Scan(rows); err != nil {
			return nil, wrapErr("list "+r.desc.Table, err, false)
		}
		out = append(out, v)
	}
	return out, wrapErrIfNotNil("list "+r.desc.Table, rows.Err())
}

// Upsert inserts or updates one row, keyed on the id column.
func (r *Repository[T]) Upsert(ctx context.Context, v T) error {
	cols := r.desc.Columns
	placeholders := make([]string, len(cols))
	updates := make([]string, 0, len(cols)-1)
	for i, c := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if c != r.desc.IDCol {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
		}
	}
	q := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		r.desc.Table, strings.Join(cols, ", "), strings.Join(placeholders, ", "),
		r.desc.IDCol, strings.Join(updates, ", "),
	)
	if _, err := r.store.pool.Exec(ctx, q, v.Values()...); err != nil {
		return wrapErr("upsert "+r.desc.Table, err, false)
	}
	return nil
}

// Delete removes one row by id.
func (r *Repository[T]) Delete(ctx context.Context, id uuid.UUID) error {
	q := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", r.desc.Table, r.desc.IDCol)
	if _, err := r.store.pool.Exec(ctx, q, id); err != nil {
		return wrapErr("delete "+r.desc.Table, err, false)
	}
	return nil
}

func wrapErrIfNotNil(op string, err error) error {
	if err == nil {
		return nil
	}
	return wrapErr(op, err, false)
}
