package sqlstore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/JonMunkholm/docmapper/internal/model"
)

// Dialect holds the SQL differences between the supported databases.
type Dialect struct {
	// Name is the config value selecting the dialect.
	Name string

	// Driver is the database/sql driver name.
	Driver string

	idColumn    string
	columnTypes map[model.Kind]string
	numbered     bool
	timeAsText   bool
	advisoryLock bool
}

// Postgres is served natively by pgstore and through pgx's database/sql
// adapter by this package.
var Postgres = &Dialect{
	Name:     "postgres",
	Driver:   "pgx",
	idColumn: `"id" BIGSERIAL PRIMARY KEY`,
	columnTypes: map[model.Kind]string{
		model.KindText:  "TEXT",
		model.KindInt:   "BIGINT",
		model.KindFloat: "DOUBLE PRECISION",
		model.KindBool:  "BOOLEAN",
		model.KindTime:  "TIMESTAMPTZ",
		model.KindRef:   "BIGINT",
	},
	numbered:     true,
	advisoryLock: true,
}

// SQLite uses the pure-Go modernc driver. Times are stored as RFC 3339 text
// in UTC so equality lookups compare strings.
var SQLite = &Dialect{
	Name:     "sqlite",
	Driver:   "sqlite",
	idColumn: `"id" INTEGER PRIMARY KEY AUTOINCREMENT`,
	columnTypes: map[model.Kind]string{
		model.KindText:  "TEXT",
		model.KindInt:   "INTEGER",
		model.KindFloat: "REAL",
		model.KindBool:  "INTEGER",
		model.KindTime:  "TEXT",
		model.KindRef:   "INTEGER",
	},
	timeAsText: true,
}

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (*Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", name)
	}
}

func (d *Dialect) placeholder(n int) string {
	if d.numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// column returns the column name of an attribute. Refs store the target id.
func column(a *model.Attribute) string {
	if a.IsRef() {
		return a.Name + "_id"
	}
	return a.Name
}

// linkTable names the table backing a direct relation.
func LinkTable(t *model.EntityType, relation string) string {
	return t.Table + "_" + relation
}
