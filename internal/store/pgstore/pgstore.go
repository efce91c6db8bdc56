// Package pgstore is a model.Store on a pgx connection pool. It runs the SQL
// generated by sqlstore's Postgres dialect natively through pgx, binding
// parameters as pgtype values.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/docmapper/internal/config"
	"github.com/JonMunkholm/docmapper/internal/model"
	"github.com/JonMunkholm/docmapper/internal/store/sqlstore"
)

// uniqueViolation is the SQLSTATE of a unique-constraint violation.
const uniqueViolation = "23505"

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists entities into one table per entity type.
type Store struct {
	pool *pgxpool.Pool
	sql  *sqlstore.Dialect
}

// New wraps an open pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, sql: sqlstore.Postgres}
}

// Connect opens a pool sized from cfg and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	return New(pool), nil
}

// Pool returns the underlying pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping verifies a connection can be acquired.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates the tables of every entity type and their link tables in
// one transaction. Existing tables are left alone.
func (s *Store) Migrate(ctx context.Context, catalog *model.Catalog) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, t := range catalog.Types() {
			if _, err := tx.Exec(ctx, s.sql.CreateTableSQL(t)); err != nil {
				return fmt.Errorf("pgstore: create table %s: %w", t.Table, err)
			}
		}
		for _, t := range catalog.Types() {
			for _, r := range t.Relations {
				if _, err := tx.Exec(ctx, s.sql.CreateLinkTableSQL(t, r.Name)); err != nil {
					return fmt.Errorf("pgstore: create link table %s: %w", sqlstore.LinkTable(t, r.Name), err)
				}
			}
		}
		return nil
	})
}

// FindOrCreate implements model.Store. The lookup and insert run in one
// transaction holding an advisory lock on the key, so concurrent loads
// resolving the same value create it once.
func (s *Store) FindOrCreate(ctx context.Context, t *model.EntityType, key model.Values) (*model.Entity, bool, error) {
	b, err := bind(t, key)
	if err != nil {
		return nil, false, err
	}

	var (
		e       *model.Entity
		created bool
	)
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, s.sql.LockSQL(), sqlstore.LockKey(t, b.names, b.args)); err != nil {
			return fmt.Errorf("pgstore: lock %s: %w", t.Name, err)
		}

		found, err := s.query(ctx, tx, t, b, true)
		if err != nil {
			return err
		}
		if len(found) > 0 {
			e = found[0]
			return nil
		}

		e, err = s.insert(ctx, tx, t, b)
		created = err == nil
		return err
	})
	if err != nil {
		// A row inserted outside the lock can still trip a unique index.
		if isUniqueViolation(err) {
			if found, qerr := s.query(ctx, s.pool, t, b, true); qerr == nil && len(found) > 0 {
				return found[0], false, nil
			}
		}
		return nil, false, err
	}
	return e, created, nil
}

// Filter implements model.Store.
func (s *Store) Filter(ctx context.Context, t *model.EntityType, key model.Values) ([]*model.Entity, error) {
	b, err := bind(t, key)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, s.pool, t, b, false)
}

// AddToRelation implements model.Store.
func (s *Store) AddToRelation(ctx context.Context, owner *model.Entity, relation string, related *model.Entity) error {
	rel, err := owner.Type.Relation(relation)
	if err != nil {
		return err
	}
	if related.Type != rel.TargetType() {
		return fmt.Errorf("pgstore: %s.%s holds %s, got %s", owner.Type.Name, relation, rel.Target, related.Type.Name)
	}
	if !owner.Persisted() || !related.Persisted() {
		return fmt.Errorf("pgstore: add %s to %s.%s: entities must be saved first", related, owner, relation)
	}

	if _, err := s.pool.Exec(ctx, s.sql.LinkInsertSQL(owner.Type, relation), owner.ID, related.ID); err != nil {
		return fmt.Errorf("pgstore: link %s.%s: %w", owner.Type.Name, relation, err)
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

	rows, err := s.pool.Query(ctx, s.sql.LinkSelectSQL(owner.Type, relation), owner.ID)
	if err != nil {
		return nil, fmt.Errorf("pgstore: related %s.%s: %w", owner.Type.Name, relation, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("pgstore: related %s.%s: %w", owner.Type.Name, relation, err)
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
	b, err := bind(e.Type, e.Values)
	if err != nil {
		return err
	}
	if len(b.names) == 0 {
		return nil
	}

	query, err := s.sql.UpdateSQL(e.Type, b.names)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, query, append(b.params(), e.ID)...)
	if err != nil {
		return fmt.Errorf("pgstore: update %s: %w", e, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pgstore: update %s: %w", e, pgx.ErrNoRows)
	}
	return nil
}

func (s *Store) insert(ctx context.Context, q querier, t *model.EntityType, b *binding) (*model.Entity, error) {
	query, err := s.sql.InsertSQL(t, b.names)
	if err != nil {
		return nil, err
	}

	var id int64
	if err := q.QueryRow(ctx, query, b.params()...).Scan(&id); err != nil {
		return nil, fmt.Errorf("pgstore: insert %s: %w", t.Name, err)
	}

	e := &model.Entity{Type: t, ID: id, Values: make(model.Values, len(t.Attributes))}
	for _, a := range t.Attributes {
		e.Values[a.Name] = nil
	}
	for _, name := range b.names {
		e.Values[name] = b.values[name]
	}
	return e, nil
}

// query selects the rows matching b. first stops at the first row.
func (s *Store) query(ctx context.Context, q querier, t *model.EntityType, b *binding, first bool) ([]*model.Entity, error) {
	query, _, err := s.sql.SelectSQL(t, b.names, b.args)
	if err != nil {
		return nil, err
	}
	if first {
		query += " LIMIT 1"
	}

	rows, err := q.Query(ctx, query, b.whereParams()...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: select %s: %w", t.Name, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.Entity, error) {
		return scan(t, row)
	})
	if err != nil {
		return nil, fmt.Errorf("pgstore: select %s: %w", t.Name, err)
	}
	return out, nil
}

func (s *Store) byID(ctx context.Context, t *model.EntityType, id int64) (*model.Entity, error) {
	rows, err := s.pool.Query(ctx, s.sql.ByIDSQL(t), id)
	if err != nil {
		return nil, fmt.Errorf("pgstore: select %s: %w", t.Name, err)
	}
	e, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (*model.Entity, error) {
		return scan(t, row)
	})
	if err != nil {
		return nil, fmt.Errorf("pgstore: %s#%d: %w", t.Name, id, err)
	}
	return e, nil
}

func scan(t *model.EntityType, row pgx.Row) (*model.Entity, error) {
	var id int64
	dests := make([]any, 0, len(t.Attributes)+1)
	dests = append(dests, &id)
	for _, a := range t.Attributes {
		dests = append(dests, dest(a))
	}

	if err := row.Scan(dests...); err != nil {
		return nil, fmt.Errorf("scan %s: %w", t.Name, err)
	}

	e := &model.Entity{Type: t, ID: id, Values: make(model.Values, len(t.Attributes))}
	for i, a := range t.Attributes {
		v, err := decode(a, dests[i+1])
		if err != nil {
			return nil, err
		}
		e.Values[a.Name] = v
	}
	return e, nil
}

func dest(a *model.Attribute) any {
	switch a.Kind {
	case model.KindInt, model.KindRef:
		return new(pgtype.Int8)
	case model.KindFloat:
		return new(pgtype.Float8)
	case model.KindBool:
		return new(pgtype.Bool)
	case model.KindTime:
		return new(pgtype.Timestamptz)
	default:
		return new(pgtype.Text)
	}
}

func decode(a *model.Attribute, dest any) (any, error) {
	switch d := dest.(type) {
	case *pgtype.Int8:
		if !d.Valid {
			return nil, nil
		}
		if a.IsRef() {
			return &model.Entity{Type: a.TargetType(), ID: d.Int64}, nil
		}
		return d.Int64, nil
	case *pgtype.Float8:
		if !d.Valid {
			return nil, nil
		}
		return d.Float64, nil
	case *pgtype.Bool:
		if !d.Valid {
			return nil, nil
		}
		return d.Bool, nil
	case *pgtype.Timestamptz:
		if !d.Valid {
			return nil, nil
		}
		return d.Time, nil
	case *pgtype.Text:
		if !d.Valid {
			return nil, nil
		}
		return d.String, nil
	}
	return nil, fmt.Errorf("pgstore: unsupported scan destination %T", dest)
}

// binding is a coerced key: names in declaration order, the plain values
// the SQL and lock key are built from, and the attributes they belong to.
type binding struct {
	names  []string
	args   []any
	attrs  []*model.Attribute
	values model.Values
}

func bind(t *model.EntityType, values model.Values) (*binding, error) {
	coerced, err := model.CoerceValues(t, values)
	if err != nil {
		return nil, err
	}

	b := &binding{names: t.AttributeNames(coerced), values: coerced}
	b.args = make([]any, len(b.names))
	b.attrs = make([]*model.Attribute, len(b.names))
	for i, name := range b.names {
		a, err := t.Attribute(name)
		if err != nil {
			return nil, err
		}
		b.attrs[i] = a

		switch v := coerced[name].(type) {
		case *model.Entity:
			if !v.Persisted() {
				return nil, fmt.Errorf("pgstore: %s.%s references unsaved %s", t.Name, name, v.Type.Name)
			}
			b.args[i] = v.ID
		case time.Time:
			b.args[i] = v.UTC()
		default:
			b.args[i] = v
		}
	}
	return b, nil
}

// params returns every argument as a pgtype value.
func (b *binding) params() []any {
	out := make([]any, len(b.args))
	for i, v := range b.args {
		out[i] = toPg(b.attrs[i], v)
	}
	return out
}

// whereParams skips the NULL arguments, which the WHERE clause compares with
// IS NULL.
func (b *binding) whereParams() []any {
	out := make([]any, 0, len(b.args))
	for i, v := range b.args {
		if v != nil {
			out = append(out, toPg(b.attrs[i], v))
		}
	}
	return out
}

// toPg converts a bound value to the pgtype of its column. Nil becomes an
// invalid (NULL) value.
func toPg(a *model.Attribute, v any) any {
	switch a.Kind {
	case model.KindInt, model.KindRef:
		n, ok := v.(int64)
		return pgtype.Int8{Int64: n, Valid: ok}
	case model.KindFloat:
		f, ok := v.(float64)
		return pgtype.Float8{Float64: f, Valid: ok}
	case model.KindBool:
		bv, ok := v.(bool)
		return pgtype.Bool{Bool: bv, Valid: ok}
	case model.KindTime:
		tm, ok := v.(time.Time)
		return pgtype.Timestamptz{Time: tm, Valid: ok}
	default:
		s, ok := v.(string)
		return pgtype.Text{String: s, Valid: ok}
	}
}

// isUniqueViolation reports whether err is a unique-constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
