package sqlstore

import (
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/JonMunkholm/docmapper/internal/model"
)

// selectColumns lists "id" followed by every attribute column of t.
func selectColumns(t *model.EntityType) string {
	cols := make([]string, 0, len(t.Attributes)+1)
	cols = append(cols, quote("id"))
	for _, a := range t.Attributes {
		cols = append(cols, quote(column(a)))
	}
	return strings.Join(cols, ", ")
}

// whereClause builds "col = $n AND ..." over names. Nil values compare with
// IS NULL and take no argument.
func (d *Dialect) whereClause(t *model.EntityType, names []string, args []any, start int) (string, []any, error) {
	conds := make([]string, 0, len(names))
	out := make([]any, 0, len(args))
	n := start
	for i, name := range names {
		a, err := t.Attribute(name)
		if err != nil {
			return "", nil, err
		}
		if args[i] == nil {
			conds = append(conds, quote(column(a))+" IS NULL")
			continue
		}
		conds = append(conds, quote(column(a))+" = "+d.placeholder(n))
		out = append(out, args[i])
		n++
	}
	return strings.Join(conds, " AND "), out, nil
}

// SelectSQL selects the rows of t matching names/args, ordered by id. The
// returned arguments omit the NULL comparisons.
func (d *Dialect) SelectSQL(t *model.EntityType, names []string, args []any) (string, []any, error) {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(selectColumns(t))
	b.WriteString(" FROM ")
	b.WriteString(quote(t.Table))

	var bound []any
	if len(names) > 0 {
		where, out, err := d.whereClause(t, names, args, 1)
		if err != nil {
			return "", nil, err
		}
		b.WriteString(" WHERE ")
		b.WriteString(where)
		bound = out
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(quote("id"))
	return b.String(), bound, nil
}

// InsertSQL inserts one row of t and returns its id.
func (d *Dialect) InsertSQL(t *model.EntityType, names []string) (string, error) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(quote(t.Table))

	if len(names) == 0 {
		b.WriteString(" DEFAULT VALUES RETURNING ")
		b.WriteString(quote("id"))
		return b.String(), nil
	}

	cols := make([]string, len(names))
	marks := make([]string, len(names))
	for i, name := range names {
		a, err := t.Attribute(name)
		if err != nil {
			return "", err
		}
		cols[i] = quote(column(a))
		marks[i] = d.placeholder(i + 1)
	}
	b.WriteString(" (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(") VALUES (")
	b.WriteString(strings.Join(marks, ", "))
	b.WriteString(") RETURNING ")
	b.WriteString(quote("id"))
	return b.String(), nil
}

// UpdateSQL sets names on the row whose id is the last argument.
func (d *Dialect) UpdateSQL(t *model.EntityType, names []string) (string, error) {
	sets := make([]string, len(names))
	for i, name := range names {
		a, err := t.Attribute(name)
		if err != nil {
			return "", err
		}
		sets[i] = quote(column(a)) + " = " + d.placeholder(i+1)
	}
	return "UPDATE " + quote(t.Table) + " SET " + strings.Join(sets, ", ") +
		" WHERE " + quote("id") + " = " + d.placeholder(len(names)+1), nil
}

// LinkInsertSQL adds an (owner, related) pair to a relation, ignoring
// duplicates.
func (d *Dialect) LinkInsertSQL(t *model.EntityType, relation string) string {
	return "INSERT INTO " + quote(LinkTable(t, relation)) +
		" (" + quote("owner_id") + ", " + quote("related_id") + ") VALUES (" +
		d.placeholder(1) + ", " + d.placeholder(2) + ") ON CONFLICT DO NOTHING"
}

// LinkSelectSQL lists the related ids of an owner.
func (d *Dialect) LinkSelectSQL(t *model.EntityType, relation string) string {
	return "SELECT " + quote("related_id") + " FROM " + quote(LinkTable(t, relation)) +
		" WHERE " + quote("owner_id") + " = " + d.placeholder(1) + " ORDER BY " + quote("related_id")
}

func (d *Dialect) ByIDSQL(t *model.EntityType) string {
	return "SELECT " + selectColumns(t) + " FROM " + quote(t.Table) +
		" WHERE " + quote("id") + " = " + d.placeholder(1)
}

// CreateTableSQL returns the DDL for t.
func (d *Dialect) CreateTableSQL(t *model.EntityType) string {
	defs := make([]string, 0, len(t.Attributes)+1)
	defs = append(defs, d.idColumn)
	for _, a := range t.Attributes {
		defs = append(defs, quote(column(a))+" "+d.columnTypes[a.Kind])
	}
	return "CREATE TABLE IF NOT EXISTS " + quote(t.Table) + " (" + strings.Join(defs, ", ") + ")"
}

func (d *Dialect) CreateLinkTableSQL(t *model.EntityType, relation string) string {
	return "CREATE TABLE IF NOT EXISTS " + quote(LinkTable(t, relation)) + " (" +
		quote("owner_id") + " " + d.columnTypes[model.KindRef] + " NOT NULL, " +
		quote("related_id") + " " + d.columnTypes[model.KindRef] + " NOT NULL, " +
		"PRIMARY KEY (" + quote("owner_id") + ", " + quote("related_id") + "))"
}

// LockSQL takes a transaction-scoped lock on the key computed by LockKey.
// It is empty for dialects whose writers are already serialized.
func (d *Dialect) LockSQL() string {
	if !d.advisoryLock {
		return ""
	}
	return "SELECT pg_advisory_xact_lock(" + d.placeholder(1) + ")"
}

// LockKey hashes a find-or-create lookup so concurrent lookups of the same
// key contend on one lock.
func LockKey(t *model.EntityType, names []string, args []any) int64 {
	h := xxhash.New()
	h.WriteString(t.Table)
	for i, name := range names {
		h.WriteString("\x00")
		h.WriteString(name)
		h.WriteString("=")
		switch v := args[i].(type) {
		case nil:
			h.WriteString("\x01")
		case time.Time:
			h.WriteString(v.UTC().Format(time.RFC3339Nano))
		default:
			fmt.Fprint(h, v)
		}
	}
	return int64(h.Sum64())
}
