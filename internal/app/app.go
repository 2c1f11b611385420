package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/alexedwards/scs/goredisstore"
	"github.com/alexedwards/scs/v2"
	"github.com/exaring/otelpgx"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/metinatakli/seat-hold-coordinator/internal/coordinator"
	"github.com/metinatakli/seat-hold-coordinator/internal/pubsub"
	"github.com/metinatakli/seat-hold-coordinator/internal/queue"
	"github.com/metinatakli/seat-hold-coordinator/internal/repository"
	appvalidator "github.com/metinatakli/seat-hold-coordinator/internal/validator"
	"github.com/metinatakli/seat-hold-coordinator/internal/vcs"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"golang.org/x/sync/errgroup"
)

var (
	version = vcs.Version()
)

type Application struct {
	config         Config
	logger         *slog.Logger
	validator      *validator.Validate
	sessionManager *scs.SessionManager
	coordinator    *coordinator.Coordinator
}

type Config struct {
	Port             int
	Env              string
	DB               DBConfig
	Redis            RedisConfig
	AMQPUrl          string
	OtelCollectorUrl string
	Holds            HoldConfig
}

type DBConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleTime  time.Duration
}

type RedisConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	MaxIdleTime  time.Duration
}

type HoldConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
	MaxPerOwner   int
	OutboxSize    int
}

func (h HoldConfig) CoordinatorConfig() coordinator.Config {
	return coordinator.Config{
		HoldTTL:          h.TTL,
		SweepInterval:    h.SweepInterval,
		MaxHoldsPerOwner: h.MaxPerOwner,
		OutboxSize:       h.OutboxSize,
	}
}

func NewApp(
	cfg Config,
	logger *slog.Logger,
	validator *validator.Validate,
	sessionManager *scs.SessionManager,
	coordinator *coordinator.Coordinator) *Application {

	return &Application{
		config:         cfg,
		logger:         logger,
		validator:      validator,
		sessionManager: sessionManager,
		coordinator:    coordinator,
	}
}

func Run() error {
	// A missing .env file is fine; flags and the real environment still apply.
	_ = godotenv.Load()

	cfg := parseFlags(flag.CommandLine, os.Args[1:])

	if cfg.displayVersion {
		fmt.Printf("Version:\t%s\n", version)
		os.Exit(0)
	}

	app := &Application{
		config: cfg.Config,
		logger: slog.New(slog.NewTextHandler(os.Stdout, nil)),
	}

	shutdownTelemetry, err := app.InitTelemetry()
	if err != nil {
		return err
	}
	defer shutdownTelemetry(context.Background())

	if cfg.OtelCollectorUrl != "" {
		app.logger = slog.New(NewMultiHandler(
			slog.NewTextHandler(os.Stdout, nil),
			otelslog.NewHandler(instrumentationName),
		))
	}

	db, err := NewDatabasePool(cfg.Config)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := NewRedisClient(cfg.Config)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	opts := []coordinator.Option{
		coordinator.WithSinks(pubsub.NewRedisRelay(redisClient)),
	}

	if cfg.AMQPUrl != "" {
		publisher := queue.NewPublisher(cfg.AMQPUrl, app.logger)
		defer publisher.Close()

		opts = append(opts, coordinator.WithNotifier(publisher))
	}

	app.validator = appvalidator.NewValidator()
	app.sessionManager = NewSessionManager(redisClient)
	app.coordinator = coordinator.New(
		cfg.Holds.CoordinatorConfig(),
		repository.NewPostgresUnitRepository(db),
		repository.NewPostgresBookingRepository(db),
		app.logger,
		opts...,
	)

	return app.run()
}

type flagConfig struct {
	Config
	displayVersion bool
}

// parseFlags reads the configuration. Every flag defaults to the matching
// environment variable when it is set.
func parseFlags(fs *flag.FlagSet, args []string) flagConfig {
	var cfg flagConfig

	fs.IntVar(&cfg.Port, "port", envInt("PORT", 3000), "server port")
	fs.StringVar(&cfg.Env, "env", envString("ENV", "dev"), "Environment (dev|staging|prod)")

	fs.StringVar(&cfg.DB.DSN, "db-dsn", envString("DB_DSN", ""), "PostgreSQL DSN")
	fs.IntVar(&cfg.DB.MaxOpenConns, "db-max-open-conns", envInt("DB_MAX_OPEN_CONNS", 25), "PostgreSQL max open connections")
	fs.DurationVar(&cfg.DB.MaxIdleTime, "db-max-idle-time", envDuration("DB_MAX_IDLE_TIME", 15*time.Minute), "PostgreSQL max idle time for connections")

	fs.StringVar(&cfg.Redis.URL, "redis-url", envString("REDIS_URL", ""), "Redis URL")
	fs.IntVar(&cfg.Redis.MaxOpenConns, "redis-max-open-conns", envInt("REDIS_MAX_OPEN_CONNS", 25), "Redis max open connections")
	fs.IntVar(&cfg.Redis.MaxIdleConns, "redis-max-idle-conns", envInt("REDIS_MAX_IDLE_CONNS", 10), "Redis max idle connections")
	fs.DurationVar(&cfg.Redis.MaxIdleTime, "redis-max-idle-time", envDuration("REDIS_MAX_IDLE_TIME", 2*time.Minute), "Redis max idle time for connections")

	fs.StringVar(&cfg.AMQPUrl, "amqp-url", envString("AMQP_URL", ""), "RabbitMQ URL for booking events (disabled when empty)")
	fs.StringVar(&cfg.OtelCollectorUrl, "otel-collector-url", envString("OTEL_COLLECTOR_URL", ""), "OpenTelemetry collector gRPC endpoint")

	defaults := coordinator.DefaultConfig()
	fs.DurationVar(&cfg.Holds.TTL, "hold-ttl", envDuration("HOLD_TTL", defaults.HoldTTL), "How long a unit stays held without renewal")
	fs.DurationVar(&cfg.Holds.SweepInterval, "hold-sweep-interval", envDuration("HOLD_SWEEP_INTERVAL", defaults.SweepInterval), "How often expired holds are reclaimed")
	fs.IntVar(&cfg.Holds.MaxPerOwner, "max-holds-per-owner", envInt("MAX_HOLDS_PER_OWNER", defaults.MaxHoldsPerOwner), "Maximum units a single connection may hold (0 = unlimited)")
	fs.IntVar(&cfg.Holds.OutboxSize, "ws-outbox-size", envInt("WS_OUTBOX_SIZE", defaults.OutboxSize), "Events buffered per WebSocket connection")

	fs.BoolVar(&cfg.displayVersion, "version", false, "Display version and exit")

	_ = fs.Parse(args)

	return cfg
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

// envInt and envDuration keep the fallback when the variable is unset, and
// warn when it is set but cannot be parsed.
func envInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring malformed environment variable", "key", key, "value", v, "error", err)
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("ignoring malformed environment variable", "key", key, "value", v, "error", err)
		return fallback
	}
	return d
}

func NewSessionManager(client *redis.Client) *scs.SessionManager {
	sessionManager := scs.New()

	sessionManager.Store = goredisstore.New(client)
	sessionManager.IdleTimeout = 20 * time.Minute
	sessionManager.Cookie.Name = "session_id"

	return sessionManager
}

func NewRedisClient(cfg Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Redis.URL,
		MaxIdleConns:    cfg.Redis.MaxIdleConns,
		MaxActiveConns:  cfg.Redis.MaxOpenConns,
		ConnMaxIdleTime: cfg.Redis.MaxIdleTime,
	})

	err := errors.Join(
		redisotel.InstrumentTracing(rdb),
		redisotel.InstrumentMetrics(rdb),
	)
	if err != nil {
		rdb.Close()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err = rdb.Ping(ctx).Err()
	if err != nil {
		rdb.Close()
		return nil, err
	}

	return rdb, nil
}

func NewDatabasePool(cfg Config) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(cfg.DB.DSN)
	if err != nil {
		return nil, err
	}

	config.MaxConnIdleTime = cfg.DB.MaxIdleTime
	config.MaxConns = int32(cfg.DB.MaxOpenConns)
	config.ConnConfig.Tracer = otelpgx.NewTracer()

	db, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err = db.Ping(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func (app *Application) run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:        fmt.Sprintf("0.0.0.0:%d", app.config.Port),
		Handler:     app.Routes(),
		IdleTimeout: time.Minute,
		ReadTimeout: 5 * time.Second,
		// No WriteTimeout: it would cut long-lived WebSocket connections.
		ErrorLog: slog.NewLogLogger(app.logger.Handler(), slog.LevelDebug),
		// Hijacked WebSocket connections are not closed by Shutdown; their
		// request contexts end with ctx instead.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g.Go(func() error {
		return app.coordinator.Run(ctx)
	})

	g.Go(func() error {
		app.logger.Info("starting server", "addr", srv.Addr, "env", app.config.Env)

		err := srv.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		app.logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if err != nil {
		return err
	}

	app.logger.Info("stopped server", "addr", srv.Addr)

	return nil
}
