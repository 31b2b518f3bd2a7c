package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/labourcare/clinic/internal/config"
	"github.com/labourcare/clinic/internal/domain/consultation"
	"github.com/labourcare/clinic/internal/domain/household"
	"github.com/labourcare/clinic/internal/domain/prescription"
	"github.com/labourcare/clinic/internal/domain/profile"
	"github.com/labourcare/clinic/internal/domain/queue"
	"github.com/labourcare/clinic/internal/platform/auth"
	"github.com/labourcare/clinic/internal/platform/db"
	"github.com/labourcare/clinic/internal/platform/middleware"
	"github.com/labourcare/clinic/internal/platform/notify"
	"github.com/labourcare/clinic/internal/platform/websocket"
	"github.com/labourcare/clinic/migrations"
)

const (
	version        = "0.1.0"
	requestTimeout = 30 * time.Second
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinic-server",
		Short: "Clinic patient queue and consultation API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the clinic API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(os.Stdout, statuses)
				return nil
			})
		},
	})

	return cmd
}

func withMigrator(ctx context.Context, fn func(context.Context, *db.Migrator) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, db.NewMigrator(pool, migrations.FS))
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func newBroker(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (notify.Broker, error) {
	if cfg.NotifyBackend == "redis" {
		return notify.NewRedis(ctx, cfg.RedisURL, logger)
	}
	return notify.NewLocal(), nil
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	jwt := auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: []byte(cfg.AuthSigningKey),
	})
	if cfg.IsDev() {
		return auth.DevAuthMiddleware(jwt)
	}
	return jwt
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"))

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid clinic timezone")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	broker, err := newBroker(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.NotifyBackend).Msg("failed to start change notifications")
	}
	logger.Info().Str("backend", cfg.NotifyBackend).Msg("change notifications ready")

	// Domain services
	queueSvc := queue.NewService(queue.NewEntryRepoPG(pool), broker, loc, logger)
	householdSvc := household.NewService(household.NewRepoPG(pool))
	rxSvc := prescription.NewService(prescription.NewRepoPG(pool), queueSvc, logger)
	profileSvc := profile.NewService(queueSvc, householdSvc, rxSvc)

	board := queue.NewBoard(ctx, queueSvc, broker, cfg.QueuePollInterval, loc, logger)
	desk := consultation.NewDesk(queueSvc, profileSvc, rxSvc, board, logger)

	hub := websocket.NewHub(logger)
	liveQueue(board, hub, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	apiV1 := e.Group("/api/v1", authMiddleware(cfg), middleware.RequestTimeout(requestTimeout))
	registerRoutes(apiV1,
		queue.NewHandler(queueSvc, board, householdSvc),
		consultation.NewHandler(desk),
		prescription.NewHandler(rxSvc),
		websocket.NewHandler(hub, cfg.CORSOrigins),
	)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("timezone", loc.String()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	stop()
	board.Close()
	if err := broker.Close(); err != nil {
		logger.Warn().Err(err).Msg("close change notifications")
	}
	logger.Info().Msg("server stopped")
	return nil
}

type routeRegistrar interface {
	RegisterRoutes(api *echo.Group)
}

func registerRoutes(api *echo.Group, handlers ...routeRegistrar) {
	for _, h := range handlers {
		h.RegisterRoutes(api)
	}
}
