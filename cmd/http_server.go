package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	gormPostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/danuarta/archive-management/internal"
	"github.com/danuarta/archive-management/internal/auth"
	"github.com/danuarta/archive-management/internal/cache"
	"github.com/danuarta/archive-management/internal/core/events"
	"github.com/danuarta/archive-management/internal/transport/rest"
	"github.com/danuarta/archive-management/internal/user"
	userPostgres "github.com/danuarta/archive-management/internal/user/postgres"
	"github.com/danuarta/archive-management/pkg/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config      *internal.Config
	DB          *sqlx.DB
	Store       *cache.Store
	Router      *chi.Mux
	AuthHandler *auth.Handler
	UserHandler *user.Handler
	Logger      *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	rest.RegisterAllRoutes(deps.Router, deps.DB.DB, deps.Store, deps.AuthHandler, deps.UserHandler, deps.Logger)

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	slog.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:         addr,
		Handler:      deps.Router,
		ReadTimeout:  deps.Config.Server.ReadTimeout,
		WriteTimeout: deps.Config.Server.WriteTimeout,
		IdleTimeout:  deps.Config.Server.IdleTimeout,
	}

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
		// Let in-flight cache write-backs land before closing connections
		deps.Store.Flush()
		deps.Store.Close()
		if err := deps.DB.Close(); err != nil {
			slog.Error("Database close error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}

	slog.Info("Server stopped")
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(os.Getenv("APP_ENV"))
	log := logger.L()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := initGorm(db)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ORM: %w", err)
	}

	store := initCache(config, log)
	bus := events.NewEventBus(log)

	userRepo := userPostgres.NewUserRepository(gormDB)
	userService := user.NewService(userRepo, store, config.Cache, bus, config.Security.BCryptCost, log)

	tokens := auth.NewJWTTokenGenerator(
		config.Security.JWTAccessSecret,
		config.Security.JWTRefreshSecret,
		config.Security.AccessTokenTTL,
		config.Security.RefreshTokenTTL,
	)
	authService := auth.NewService(userRepo, tokens, store, *config, log)
	authService.RegisterEventHandlers(bus)

	return &Dependencies{
		Config:      config,
		Logger:      log,
		DB:          db,
		Store:       store,
		Router:      chi.NewRouter(),
		AuthHandler: auth.NewHandler(authService),
		UserHandler: user.NewHandler(userService),
	}, nil
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// verify connection; close underlying *sql.DB on failure
	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

// initGorm layers the ORM over the already-open pgx connection pool.
func initGorm(db *sqlx.DB) (*gorm.DB, error) {
	return gorm.Open(gormPostgres.New(gormPostgres.Config{Conn: db.DB}), &gorm.Config{})
}

// initCache wires the Redis transport when the backend is reachable. A nil
// client degrades the store to pass-through mode: every read goes to the
// database and the service stays up.
func initCache(cfg *internal.Config, log *slog.Logger) *cache.Store {
	client := cache.NewRedisClient(cfg.Redis)
	if client == nil {
		log.Warn("cache backend unreachable, running without cache", "addr", cfg.Redis.Addr)
		return cache.NewStore(nil, cfg.Cache.ScanBatchSize, log)
	}
	transport := cache.NewRedisTransport(client, cfg.Cache.ScanBatchSize)
	return cache.NewStore(transport, cfg.Cache.ScanBatchSize, log)
}
