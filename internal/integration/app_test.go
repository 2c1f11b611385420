package integration_test

import (
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/metinatakli/seat-hold-coordinator/internal/app"
	"github.com/metinatakli/seat-hold-coordinator/internal/coordinator"
	"github.com/metinatakli/seat-hold-coordinator/internal/pubsub"
	"github.com/metinatakli/seat-hold-coordinator/internal/repository"
	appvalidator "github.com/metinatakli/seat-hold-coordinator/internal/validator"
	"github.com/redis/go-redis/v9"
)

type TestApp struct {
	App         *app.Application
	Coordinator *coordinator.Coordinator
	DB          *pgxpool.Pool
	RedisClient *redis.Client
	Bookings    *repository.PostgresBookingRepository
}

func newTestApp(cfg app.Config) (*TestApp, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	validator := appvalidator.NewValidator()

	db, err := app.NewDatabasePool(cfg)
	if err != nil {
		return nil, err
	}

	redisClient, err := app.NewRedisClient(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	sessionManager := app.NewSessionManager(redisClient)

	bookingRepo := repository.NewPostgresBookingRepository(db)

	coord := coordinator.New(
		cfg.Holds.CoordinatorConfig(),
		repository.NewPostgresUnitRepository(db),
		bookingRepo,
		logger,
		coordinator.WithSinks(pubsub.NewRedisRelay(redisClient)),
	)

	application := app.NewApp(
		cfg,
		logger,
		validator,
		sessionManager,
		coord,
	)

	return &TestApp{
		App:         application,
		Coordinator: coord,
		DB:          db,
		RedisClient: redisClient,
		Bookings:    bookingRepo,
	}, nil
}

func (a *TestApp) Close() {
	a.RedisClient.Close()
	a.DB.Close()
}
