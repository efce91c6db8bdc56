// Package sqlstore is a model.Store on database/sql. Postgres is reached
// through pgx's database/sql adapter and SQLite through the pure-Go modernc
// driver. The Dialect values also generate the SQL pgstore runs natively.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"             // registers the "sqlite" driver

	"github.com/JonMunkholm/docmapper/internal/model"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store persists entities into one table per entity type.
type Store struct {
	db      *sql.DB
	dialect *Dialect
}

// New wraps an open database handle.
func New(db *sql.DB, dialect *Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Open opens a database for the named driver ("postgres" or "sqlite").
// SQLite in-memory databases are limited to one connection so every query
// sees the same database.
func Open(driver, dsn string) (*Store, error) {
	d, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", d.Name, err)
	}
	if d == SQLite && (dsn == "" || strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")) {
		db.SetMaxOpenConns(1)
	}

	return New(db, d), nil
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the store's dialect.
func (s *Store) Dialect() *Dialect {
	return s.dialect
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// FindOrCreate implements model.Store. The lookup and insert run in one
// transaction holding the dialect's lock on the key, so concurrent callers
// with the same key serialize. A unique violation from an insert made
// outside the lock is resolved by repeating the lookup.
func (s *Store) FindOrCreate(ctx context.Context, t *model.EntityType, key model.Values) (*model.Entity, bool, error) {
	names, args, err := s.bind(t, key)
	if err != nil {
		return nil, false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("sqlstore: begin: %w", err)
	}
	defer tx.Rollback()

	if lock := s.dialect.LockSQL(); lock != "" {
		if _, err := tx.ExecContext(ctx, lock, LockKey(t, names, args)); err != nil {
			return nil, false, fmt.Errorf("sqlstore: lock %s: %w", t.Name, err)
		}
	}

	found, err := s.query(ctx, tx, t, names, args, 1)
	if err != nil {
		return nil, false, err
	}
	if len(found) > 0 {
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("sqlstore: commit: %w", err)
		}
		return found[0], false, nil
	}

	e, err := s.insert(ctx, tx, t, names, args)
	if err != nil {
		if isUniqueViolation(err) {
			tx.Rollback()
			found, qerr := s.query(ctx, s.db, t, names, args, 1)
			if qerr == nil && len(found) > 0 {
				return found[0], false, nil
			}
		}
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("sqlstore: commit: %w", err)
	}
	return e, true, nil
}

// Filter implements model.Store.
func (s *Store) Filter(ctx context.Context, t *model.EntityType, key model.Values) ([]*model.Entity, error) {
	names, args, err := s.bind(t, key)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, s.db, t, names, args, 0)
}

// AddToRelation implements model.Store.
func (s *Store) AddToRelation(ctx context.Context, owner *model.Entity, relation string, related *model.Entity) error {
	rel, err := owner.Type.Relation(relation)
	if err != nil {
		return err
	}
	if related.Type != rel.TargetType() {
		return fmt.Errorf("sqlstore: %s.%s holds %s, got %s", owner.Type.Name, relation, rel.Target, related.Type.Name)
	}
	if !owner.Persisted() || !related.Persisted() {
		return fmt.Errorf("sqlstore: add %s to %s.%s: entities must be saved first", related, owner, relation)
	}

	if _, err := s.db.ExecContext(ctx, s.dialect.LinkInsertSQL(owner.Type, relation), owner.ID, related.ID); err != nil {
		return fmt.Errorf("sqlstore: link %s.%s: %w", owner.Type.Name, relation, err)
	}
	return nil
}

// Save implements model.Store.
func (s *Store) Save(ctx context.Context, e *model.Entity) error {
	if e.Persisted() {
		return s.update(ctx, e)
	}

	stored, _, err := s.FindOrCreate(ctx, e.Type, e.Values)
	if err != nil {
		return err
	}
	e.ID = stored.ID
	e.Values = stored.Values
	return nil
}

// Related implements model.RelationReader.
func (s *Store) Related(ctx context.Context, owner *model.Entity, relation string) ([]*model.Entity, error) {
	rel, err := owner.Type.Relation(relation)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.LinkSelectSQL(owner.Type, relation), owner.ID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: related %s.%s: %w", owner.Type.Name, relation, err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*model.Entity, 0, len(ids))
	for _, id := range ids {
		e, err := s.byID(ctx, rel.TargetType(), id)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) update(ctx context.Context, e *model.Entity) error {
	names, args, err := s.bind(e.Type, e.Values)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return nil
	}

	// UPDATE binds NULLs as parameters rather than IS NULL.
	query, err := s.dialect.UpdateSQL(e.Type, names)
	if err != nil {
		return err
	}
	args = append(args, e.ID)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlstore: update %s: %w", e, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("sqlstore: update %s: not found", e)
	}
	return nil
}

func (s *Store) insert(ctx context.Context, q querier, t *model.EntityType, names []string, args []any) (*model.Entity, error) {
	query, err := s.dialect.InsertSQL(t, names)
	if err != nil {
		return nil, err
	}

	var id int64
	if err := q.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return nil, fmt.Errorf("sqlstore: insert %s: %w", t.Name, err)
	}

	e := &model.Entity{Type: t, ID: id, Values: make(model.Values, len(t.Attributes))}
	for _, a := range t.Attributes {
		e.Values[a.Name] = nil
	}
	for i, name := range names {
		e.Values[name] = s.unbind(t, name, args[i])
	}
	return e, nil
}

// query runs a SELECT over names/args. limit 0 means no limit.
func (s *Store) query(ctx context.Context, q querier, t *model.EntityType, names []string, args []any, limit int) ([]*model.Entity, error) {
	query, bound, err := s.dialect.SelectSQL(t, names, args)
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, query, bound...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: select %s: %w", t.Name, err)
	}
	defer rows.Close()

	var out []*model.Entity
	for rows.Next() {
		e, err := s.scan(t, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: select %s: %w", t.Name, err)
	}
	return out, nil
}

func (s *Store) byID(ctx context.Context, t *model.EntityType, id int64) (*model.Entity, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.ByIDSQL(t), id)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: select %s: %w", t.Name, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("sqlstore: %s#%d: %w", t.Name, id, sql.ErrNoRows)
	}
	return s.scan(t, rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scan(t *model.EntityType, row scanner) (*model.Entity, error) {
	var id int64
	dests := make([]any, 0, len(t.Attributes)+1)
	dests = append(dests, &id)
	for _, a := range t.Attributes {
		dests = append(dests, s.dest(a))
	}

	if err := row.Scan(dests...); err != nil {
		return nil, fmt.Errorf("sqlstore: scan %s: %w", t.Name, err)
	}

	e := &model.Entity{Type: t, ID: id, Values: make(model.Values, len(t.Attributes))}
	for i, a := range t.Attributes {
		v, err := s.decode(a, dests[i+1])
		if err != nil {
			return nil, err
		}
		e.Values[a.Name] = v
	}
	return e, nil
}

func (s *Store) dest(a *model.Attribute) any {
	switch a.Kind {
	case model.KindInt, model.KindRef:
		return new(sql.NullInt64)
	case model.KindFloat:
		return new(sql.NullFloat64)
	case model.KindBool:
		return new(sql.NullBool)
	case model.KindTime:
		if s.dialect.timeAsText {
			return new(sql.NullString)
		}
		return new(sql.NullTime)
	default:
		return new(sql.NullString)
	}
}

func (s *Store) decode(a *model.Attribute, dest any) (any, error) {
	switch d := dest.(type) {
	case *sql.NullInt64:
		if !d.Valid {
			return nil, nil
		}
		if a.IsRef() {
			return &model.Entity{Type: a.TargetType(), ID: d.Int64}, nil
		}
		return d.Int64, nil
	case *sql.NullFloat64:
		if !d.Valid {
			return nil, nil
		}
		return d.Float64, nil
	case *sql.NullBool:
		if !d.Valid {
			return nil, nil
		}
		return d.Bool, nil
	case *sql.NullTime:
		if !d.Valid {
			return nil, nil
		}
		return d.Time, nil
	case *sql.NullString:
		if !d.Valid {
			return nil, nil
		}
		if a.Kind == model.KindTime {
			t, err := time.Parse(time.RFC3339Nano, d.String)
			if err != nil {
				return nil, fmt.Errorf("sqlstore: decode %s: %w", a.Name, err)
			}
			return t, nil
		}
		return d.String, nil
	}
	return nil, fmt.Errorf("sqlstore: unsupported scan destination %T", dest)
}

// bind coerces values and returns the attribute names in declaration order
// with their driver arguments.
func (s *Store) bind(t *model.EntityType, values model.Values) ([]string, []any, error) {
	coerced, err := model.CoerceValues(t, values)
	if err != nil {
		return nil, nil, err
	}

	names := t.AttributeNames(coerced)
	args := make([]any, len(names))
	for i, name := range names {
		switch v := coerced[name].(type) {
		case *model.Entity:
			if !v.Persisted() {
				return nil, nil, fmt.Errorf("sqlstore: %s.%s references unsaved %s", t.Name, name, v.Type.Name)
			}
			args[i] = v.ID
		case time.Time:
			if s.dialect.timeAsText {
				args[i] = v.UTC().Format(time.RFC3339Nano)
			} else {
				args[i] = v
			}
		default:
			args[i] = v
		}
	}
	return names, args, nil
}

// unbind turns a bound argument back into an attribute value.
func (s *Store) unbind(t *model.EntityType, name string, arg any) any {
	a, err := t.Attribute(name)
	if err != nil || arg == nil {
		return arg
	}
	switch a.Kind {
	case model.KindRef:
		return &model.Entity{Type: a.TargetType(), ID: arg.(int64)}
	case model.KindTime:
		if str, ok := arg.(string); ok {
			if tm, err := time.Parse(time.RFC3339Nano, str); err == nil {
				return tm
			}
		}
	}
	return arg
}

// isUniqueViolation reports whether err is a unique-constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
