package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/domain/account"
	"github.com/clinic/clinic/internal/domain/catalog"
	"github.com/clinic/clinic/internal/domain/directory"
	"github.com/clinic/clinic/internal/domain/scheduling"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/datetime"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/events"
	"github.com/clinic/clinic/internal/platform/live"
	"github.com/clinic/clinic/internal/platform/middleware"
	"github.com/clinic/clinic/internal/platform/telemetry"
	"github.com/clinic/clinic/migrations"
)

var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "clinic-server",
		Short:        "Clinic scheduling API server",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(userCmd())
	return root
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

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withPool(cmd.Context(), func(ctx context.Context, pool *pgxpool.Pool) error {
				count, err := db.NewMigrator(pool, migrationSource(dir)).Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withPool(cmd.Context(), func(ctx context.Context, pool *pgxpool.Pool) error {
				statuses, err := db.NewMigrator(pool, migrationSource(dir)).Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
				for _, s := range statuses {
					status := "pending"
					appliedAt := ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}

	createAdmin := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an administrator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			name, _ := cmd.Flags().GetString("name")
			password, _ := cmd.Flags().GetString("password")
			if email == "" || password == "" {
				return errors.New("--email and --password are required")
			}
			return withPool(cmd.Context(), func(ctx context.Context, pool *pgxpool.Pool) error {
				svc := account.NewService(account.NewUserRepoPG(pool), nil)
				u, err := svc.CreateUser(ctx, account.CreateUserInput{
					Name:     name,
					Email:    email,
					Password: password,
					Role:     auth.RoleAdmin,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created admin %s (%s)\n", u.Email, u.ID)
				return nil
			})
		},
	}
	createAdmin.Flags().String("email", "", "Admin email")
	createAdmin.Flags().String("name", "Administrator", "Display name")
	createAdmin.Flags().String("password", "", "Initial password")
	cmd.AddCommand(createAdmin)

	return cmd
}

func withPool(ctx context.Context, fn func(ctx context.Context, pool *pgxpool.Pool) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	pool, err := db.NewPool(ctx, db.PoolOptions{URL: cfg.DatabaseURL, MaxConns: 2})
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, pool)
}

func migrationSource(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TracingConfig{
		Enabled:        cfg.OTelEnabled,
		ServiceVersion: version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRatio:    cfg.OTelSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	// Database
	pool, err := db.NewPool(ctx, db.PoolOptions{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnIdleTime: 5 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	metrics := telemetry.NewMetrics()
	tokens := auth.NewTokens(auth.JWTConfig{
		Issuer:     cfg.JWTIssuer,
		SigningKey: []byte(cfg.JWTSecret),
		TTL:        cfg.TokenTTL,
		Skipper:    auth.AuthSkipper,
	})

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Metrics(metrics))
	e.Use(middleware.SecurityHeaders(middleware.SecurityConfig{
		HSTS:            cfg.IsProduction(),
		NoStorePrefixes: []string{"/api/"},
	}))
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(auth.JWTMiddleware(tokens))

	limiter, closeLimiter, err := rateLimiter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLimiter()
	e.Use(limiter)

	// Ops endpoints
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(pool, func() *db.PoolStats { return db.GetPoolStats(pool) }))
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	// Events
	var recorder events.Recorder = events.NoopRecorder{}
	if brokers := cfg.KafkaBrokerList(); len(brokers) > 0 {
		outbox := events.NewOutbox(pool)
		recorder = outbox
		writer := events.NewKafkaWriter(brokers)
		defer writer.Close()
		relay := events.NewRelay(outbox, writer, events.RelayConfig{
			TopicPrefix: cfg.KafkaTopicPrefix,
			PollEvery:   cfg.OutboxPollInterval,
		}, logger, metrics)
		go relay.Run(ctx)
		logger.Info().Strs("brokers", brokers).Msg("outbox relay started")
	}

	// Domain wiring
	apiV1 := e.Group("/api/v1")

	hub := live.NewHub(logger)
	metrics.TrackLiveFeed(hub, live.TopicAll)
	live.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(apiV1, auth.RequireAdmin())

	userRepo := account.NewUserRepoPG(pool)
	clientRepo := directory.NewClientRepoPG(pool)
	profRepo := directory.NewProfessionalRepoPG(pool)
	apptRepo := scheduling.NewRepoPG(pool)

	accountSvc := account.NewService(userRepo, tokens)
	account.NewHandler(accountSvc).RegisterRoutes(apiV1)

	directorySvc := directory.NewService(clientRepo, profRepo, apptRepo)
	directory.NewHandler(directorySvc).RegisterRoutes(apiV1)

	catalogSvc := catalog.NewService(catalog.NewProcedureRepoPG(pool), catalog.NewPlanRepoPG(pool), apptRepo)
	catalog.NewHandler(catalogSvc).RegisterRoutes(apiV1)

	schedulingSvc := scheduling.NewService(scheduling.Deps{
		Repo:       apptRepo,
		References: &bookingRefs{clients: clientRepo, professionals: profRepo, catalog: catalogSvc},
		Tx:         db.NewTxManager(pool),
		Events:     recorder,
		Live:       hub,
		Metrics:    metrics,
		Normalizer: datetime.NewNormalizer(loc, cfg.RequireTZOffset),
	})
	scheduling.NewHandler(schedulingSvc).RegisterRoutes(apiV1)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(e, telemetry.ServiceName),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("timezone", loc.String()).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

// rateLimiter picks the shared Redis window limiter when REDIS_URL is set and
// falls back to per-process token buckets otherwise.
func rateLimiter(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (echo.MiddlewareFunc, func(), error) {
	if cfg.RedisURL == "" {
		rl := middleware.NewRateLimiter(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateLimitBurst,
		})
		go rl.Run(ctx, time.Minute)
		return rl.Middleware(), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("redis unreachable, rate limiter will fail open")
	}
	mw := middleware.WindowRateLimit(middleware.NewRedisCounter(rdb), middleware.WindowLimitConfig{
		Limit:    windowLimit(cfg.RateLimitRPS, cfg.RateLimitWindow),
		Window:   cfg.RateLimitWindow,
		FailOpen: true,
	}, logger)
	return mw, func() { _ = rdb.Close() }, nil
}

func windowLimit(rps float64, window time.Duration) int {
	n := int(rps * window.Seconds())
	if n < 1 {
		n = 1
	}
	return n
}
