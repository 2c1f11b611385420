package coordinator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/metinatakli/seat-hold-coordinator/internal/domain"
	"github.com/metinatakli/seat-hold-coordinator/internal/mocks"
	"github.com/shopspring/decimal"
)

const (
	testShowtimeID      = 1
	otherShowtimeID     = 2
	testTTL             = time.Second
	testMaxHoldsPerUser = 8
)

var testStart = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testStart}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
	return c.now
}

func testUnits(showtimeID int) []domain.Unit {
	return []domain.Unit{
		{ID: "A1", ShowtimeID: showtimeID, Kind: domain.UnitKindSeat, Category: domain.SeatCategoryStandard, Price: decimal.NewFromInt(10), Status: domain.UnitStatusAvailable},
		{ID: "A2", ShowtimeID: showtimeID, Kind: domain.UnitKindSeat, Category: domain.SeatCategoryPremium, Price: decimal.NewFromInt(15), Status: domain.UnitStatusAvailable},
		{ID: "A3", ShowtimeID: showtimeID, Kind: domain.UnitKindSeat, Category: domain.SeatCategoryVIP, Price: decimal.RequireFromString("22.50"), Status: domain.UnitStatusAvailable},
		{ID: "P1", ShowtimeID: showtimeID, Kind: domain.UnitKindFourWheeler, Price: decimal.NewFromInt(5), Status: domain.UnitStatusAvailable},
		{ID: "P2", ShowtimeID: showtimeID, Kind: domain.UnitKindTwoWheeler, Price: decimal.NewFromInt(2), Status: domain.UnitStatusAvailable},
		{ID: "Z9", ShowtimeID: showtimeID, Kind: domain.UnitKindSeat, Category: domain.SeatCategoryStandard, Price: decimal.NewFromInt(10), Status: domain.UnitStatusSold},
	}
}

func newTestUnitRepo() *mocks.MockUnitRepo {
	return &mocks.MockUnitRepo{
		GetUnitsByShowtimeFunc: func(ctx context.Context, showtimeID int) ([]domain.Unit, error) {
			switch showtimeID {
			case testShowtimeID, otherShowtimeID:
				return testUnits(showtimeID), nil
			default:
				return []domain.Unit{}, nil
			}
		},
	}
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCoordinator(clock func() time.Time, bookings domain.BookingRepository, opts ...Option) *Coordinator {
	return newTestCoordinatorWithRepo(clock, newTestUnitRepo(), bookings, opts...)
}

func newTestCoordinatorWithRepo(clock func() time.Time, units domain.UnitRepository, bookings domain.BookingRepository, opts ...Option) *Coordinator {
	cfg := Config{
		HoldTTL:          testTTL,
		SweepInterval:    10 * time.Millisecond,
		MaxHoldsPerOwner: testMaxHoldsPerUser,
		OutboxSize:       64,
	}

	if clock != nil {
		opts = append([]Option{WithClock(clock)}, opts...)
	}

	return New(cfg, units, bookings, newTestLogger(), opts...)
}

// drain returns every event currently queued for conn without blocking.
func drain(conn *Connection) []domain.Event {
	var events []domain.Event
	for {
		select {
		case ev := <-conn.Events():
			events = append(events, ev)
		default:
			return events
		}
	}
}

func eventsOfType(events []domain.Event, t domain.EventType) []domain.Event {
	var out []domain.Event
	for _, ev := range events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// sweep runs one expiry pass at the given instant.
func sweep(c *Coordinator, now time.Time) {
	if due := c.expiry.due(now); len(due) > 0 {
		c.reclaim(now, due)
	}
}
