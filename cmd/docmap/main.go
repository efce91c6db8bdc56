// Command docmap loads one document with one mapping file and prints the
// load statistics as JSON.
//
//	docmap -catalog catalog.yaml -mapping news.yaml -source feed.xml -db news.db
//
// The exit status is 0 for a clean load, 2 when some nodes failed and 1 when
// the load could not run.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/docmapper/internal/backend"
	_ "github.com/JonMunkholm/docmapper/internal/backend/jsondoc" // Register the json backend
	_ "github.com/JonMunkholm/docmapper/internal/backend/xmldoc"  // Register the xml backend
	"github.com/JonMunkholm/docmapper/internal/config"
	"github.com/JonMunkholm/docmapper/internal/core"
	"github.com/JonMunkholm/docmapper/internal/logging"
	"github.com/JonMunkholm/docmapper/internal/mapper"
	"github.com/JonMunkholm/docmapper/internal/model"
	"github.com/JonMunkholm/docmapper/internal/store/pgstore"
	"github.com/JonMunkholm/docmapper/internal/store/sqlstore"
)

const (
	exitOK      = 0
	exitFatal   = 1
	exitPartial = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	mapping     string
	catalog     string
	source      string
	driver      string
	db          string
	logLevel    string
	logFormat   string
	maxFailures int
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("docmap", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var o options
	fs.StringVar(&o.mapping, "mapping", "", "mapping file (required)")
	fs.StringVar(&o.catalog, "catalog", "", "entity catalog file (required)")
	fs.StringVar(&o.source, "source", "", `document path or URL, "-" for stdin (default: the mapping's source)`)
	fs.StringVar(&o.driver, "driver", sqlstore.SQLite.Name, "store driver: sqlite or postgres")
	fs.StringVar(&o.db, "db", ":memory:", "store DSN")
	fs.StringVar(&o.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	fs.StringVar(&o.logFormat, "log-format", "text", "log format: text or json")
	fs.IntVar(&o.maxFailures, "max-failures", mapper.DefaultMaxFailures, "failure records kept in the output, 0 for all")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.mapping == "" || o.catalog == "" {
		fs.Usage()
		return nil, errors.New("-mapping and -catalog are required")
	}
	return &o, nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(stderr, "docmap:", err)
		return exitFatal
	}

	log := logging.New(stderr, o.logLevel, o.logFormat)

	stats, err := load(ctx, o, stdin, log)
	if stats != nil {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(stats); encErr != nil {
			fmt.Fprintln(stderr, "docmap:", encErr)
		}
	}
	if err != nil {
		msg := core.MapError(err)
		fmt.Fprintf(stderr, "docmap: %v (Code: %s)\n", err, msg.Code)
		return exitFatal
	}
	if !stats.Clean() {
		return exitPartial
	}
	return exitOK
}

func load(ctx context.Context, o *options, stdin io.Reader, log *slog.Logger) (*mapper.Stats, error) {
	catalog, err := model.LoadCatalogFile(o.catalog)
	if err != nil {
		return nil, err
	}
	mapping, err := core.LoadMappingFile(o.mapping)
	if err != nil {
		return nil, err
	}
	b, err := backend.Get(mapping.Backend)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownBackend, mapping.Backend)
	}

	store, err := openStore(ctx, o.driver, o.db)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	if err := store.Migrate(ctx, catalog); err != nil {
		return nil, err
	}

	eng := mapper.New(b, catalog, store,
		mapper.WithLogger(log),
		mapper.WithMaxFailures(o.maxFailures),
	)

	source := o.source
	if source == "" {
		source = mapping.Source
	}
	log.Info("loading", "mapping", mapping.Name, "source", source, "driver", o.driver)

	switch source {
	case "":
		return nil, fmt.Errorf("mapping %s: %w: pass -source", mapping.Name, core.ErrEmptySource)
	case "-":
		return eng.LoadReader(ctx, stdin, mapping.Raw)
	default:
		return eng.Load(ctx, source, mapping.Raw)
	}
}

type entityStore interface {
	model.Store
	Migrate(ctx context.Context, catalog *model.Catalog) error
	Close() error
}

// openStore opens SQLite through database/sql and Postgres on a pgx pool.
func openStore(ctx context.Context, driver, dsn string) (entityStore, error) {
	dialect, err := sqlstore.DialectFor(driver)
	if err != nil {
		return nil, err
	}
	if dialect == sqlstore.SQLite {
		return sqlstore.Open(driver, dsn)
	}
	return pgstore.Connect(ctx, config.DatabaseConfig{URL: dsn})
}
