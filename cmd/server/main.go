package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	_ "github.com/JonMunkholm/docmapper/internal/backend/jsondoc" // Register the json backend
	_ "github.com/JonMunkholm/docmapper/internal/backend/xmldoc"  // Register the xml backend
	"github.com/JonMunkholm/docmapper/internal/config"
	"github.com/JonMunkholm/docmapper/internal/core"
	"github.com/JonMunkholm/docmapper/internal/logging"
	"github.com/JonMunkholm/docmapper/internal/metrics"
	"github.com/JonMunkholm/docmapper/internal/model"
	"github.com/JonMunkholm/docmapper/internal/store/pgstore"
	"github.com/JonMunkholm/docmapper/internal/store/sqlstore"
	"github.com/JonMunkholm/docmapper/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_driver", cfg.Database.Driver,
		"mapping_dir", cfg.Mapping.Dir,
		"load_max_concurrent", cfg.Load.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	catalog, err := model.LoadCatalogFile(cfg.Mapping.Catalog)
	if err != nil {
		slog.Error("failed to load entity catalog", "error", err)
		os.Exit(1)
	}
	slog.Info("entity catalog loaded", "file", cfg.Mapping.Catalog, "types", catalog.Len())

	ctx := context.Background()
	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if cfg.Database.AutoMigrate {
		if err := store.Migrate(ctx, catalog); err != nil {
			slog.Error("failed to migrate store", "error", err)
			os.Exit(1)
		}
		slog.Info("store migrated", "types", catalog.Len())
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	service := core.NewService(catalog, store, cfg.Load, core.WithMetrics(m))
	if err := service.ReloadMappings(cfg.Mapping.Dir, cfg.Mapping.Catalog); err != nil {
		slog.Error("failed to load mappings", "error", err)
		os.Exit(1)
	}
	for _, mapping := range service.ListMappings() {
		slog.Debug("mapping registered", "name", mapping.Name, "backend", mapping.Backend, "entities", mapping.Entities())
	}

	server := web.NewServer(service, cfg, m)

	// Cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	if cfg.Mapping.Watch {
		watcher, err := core.NewWatcher(service, cfg.Mapping.Dir, cfg.Mapping.Catalog)
		if err != nil {
			slog.Warn("mapping hot reload disabled", "error", err)
		} else {
			go watcher.Run(jobCtx)
		}
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if status := service.LimiterStatus(); status.Active > 0 {
			slog.Info("waiting for loads to complete", "active", status.Active)
			if err := service.WaitForLoads(shutdownCtx); err != nil {
				slog.Warn("loads did not complete in time", "error", err)
			} else {
				slog.Info("all loads completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// entityStore is what main needs from a store beyond model.Store.
type entityStore interface {
	model.Store
	Migrate(ctx context.Context, catalog *model.Catalog) error
	Close() error
}

// openStore opens the entity store. Postgres runs natively on a pgx pool
// sized from config; SQLite opens the DSN through database/sql.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (entityStore, error) {
	dialect, err := sqlstore.DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	if dialect == sqlstore.SQLite {
		store, err := sqlstore.Open(cfg.Driver, cfg.URL)
		if err != nil {
			return nil, err
		}
		if err := store.Ping(ctx); err != nil {
			store.Close()
			return nil, err
		}
		slog.Info("connected to database", "driver", dialect.Name, "name", cfg.URL)
		return store, nil
	}

	store, err := pgstore.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to database", "driver", dialect.Name, "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database", "driver", dialect.Name)
	}
	return store, nil
}
