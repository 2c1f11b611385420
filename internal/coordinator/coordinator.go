// Package coordinator arbitrates concurrent seat and parking-slot holds for
// showtimes and keeps every watching connection informed of inventory
// changes.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/metinatakli/seat-hold-coordinator/internal/domain"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// storeReadTimeout bounds inventory reads, which run detached from the
// caller that triggered them.
const storeReadTimeout = 5 * time.Second

type Config struct {
	HoldTTL          time.Duration
	SweepInterval    time.Duration
	MaxHoldsPerOwner int
	OutboxSize       int
}

func DefaultConfig() Config {
	return Config{
		HoldTTL:          10 * time.Minute,
		SweepInterval:    500 * time.Millisecond,
		MaxHoldsPerOwner: 8,
		OutboxSize:       64,
	}
}

type Option func(*Coordinator)

func WithClock(clock func() time.Time) Option {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

func WithSinks(sinks ...Sink) Option {
	return func(c *Coordinator) {
		c.sinks = append(c.sinks, sinks...)
	}
}

func WithNotifier(notifier domain.BookingNotifier) Option {
	return func(c *Coordinator) {
		c.notifier = notifier
	}
}

type Coordinator struct {
	cfg      Config
	logger   *slog.Logger
	clock    func() time.Time
	units    domain.UnitRepository
	notifier domain.BookingNotifier
	sinks    []Sink
	loads    singleflight.Group
	metrics  *metrics

	registry  *Registry
	holds     *HoldStore
	expiry    *ExpiryScheduler
	rooms     *Rooms
	bus       *Bus
	finalizer *Finalizer
}

func New(
	cfg Config,
	units domain.UnitRepository,
	bookings domain.BookingRepository,
	logger *slog.Logger,
	opts ...Option) *Coordinator {

	c := &Coordinator{
		cfg:     cfg,
		logger:  logger,
		clock:   time.Now,
		units:   units,
		metrics: newMetrics(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.registry = NewRegistry()
	c.expiry = NewExpiryScheduler(cfg.SweepInterval, c.clock)
	c.holds = NewHoldStore(c.registry, c.expiry, c.clock, cfg.MaxHoldsPerOwner)
	c.rooms = NewRooms()
	c.bus = NewBus(c.rooms, logger, c.sinks...)
	c.finalizer = &Finalizer{
		registry: c.registry,
		holds:    c.holds,
		bus:      c.bus,
		units:    units,
		bookings: bookings,
		notifier: c.notifier,
		clock:    c.clock,
		logger:   logger,
		metrics:  c.metrics,
	}

	return c
}

// Run drives the expiry sweep and the sink relay until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.expiry.Run(ctx, c)
	})
	g.Go(func() error {
		return c.bus.Run(ctx)
	})

	return g.Wait()
}

// Connect registers a new connection opened by the given HTTP session and
// queues its welcome event carrying the owner token.
func (c *Coordinator) Connect(sessionID string) *Connection {
	conn := newConnection(uuid.NewString(), sessionID, c.cfg.OutboxSize)
	c.rooms.Register(conn)

	conn.deliver(domain.Event{
		Type:       domain.EventWelcome,
		OwnerToken: conn.ID(),
	})

	return conn
}

// Connection looks up a live connection by its owner token.
func (c *Coordinator) Connection(ownerToken string) (*Connection, bool) {
	return c.rooms.Connection(ownerToken)
}

// Join adds conn to the showtime's room and queues a full inventory snapshot.
// Deltas produced while the snapshot is taken are queued after it, minus those
// it already reflects, so a client applying events in order stays current.
func (c *Coordinator) Join(ctx context.Context, conn *Connection, showtimeID int) ([]domain.Unit, error) {
	err := c.ensureLoaded(ctx, showtimeID)
	if err != nil {
		return nil, err
	}

	conn.stage(showtimeID)

	err = c.rooms.Join(showtimeID, conn.ID())
	if err != nil {
		conn.unstage(showtimeID)
		return nil, err
	}

	units, err := c.registry.List(showtimeID)
	if err != nil {
		conn.unstage(showtimeID)
		return nil, err
	}

	conn.finishSnapshot(showtimeID, units)

	return units, nil
}

func (c *Coordinator) Leave(conn *Connection, showtimeID int) {
	c.rooms.Leave(showtimeID, conn.ID())
}

// Snapshot returns the current inventory of a showtime, loading it first if
// needed.
func (c *Coordinator) Snapshot(ctx context.Context, showtimeID int) ([]domain.Unit, error) {
	err := c.ensureLoaded(ctx, showtimeID)
	if err != nil {
		return nil, err
	}

	return c.registry.List(showtimeID)
}

func (c *Coordinator) Hold(ctx context.Context, conn *Connection, showtimeID int, unitID string) (domain.Hold, error) {
	err := c.ensureLoaded(ctx, showtimeID)
	if err != nil {
		return domain.Hold{}, err
	}

	res, err := c.holds.RequestHold(showtimeID, unitID, conn.ID(), c.cfg.HoldTTL)

	if res.delta != nil {
		c.bus.Publish(showtimeID, domain.NewDeltaEvent(showtimeID, *res.delta))
	}

	if res.expired != nil {
		c.metrics.expired(ctx, 1)
		if res.expired.OwnerToken != conn.ID() {
			c.bus.Notify(res.expired.OwnerToken, domain.NewHoldExpiredEvent(showtimeID, unitID))
		}
	}

	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			c.metrics.holdConflict(ctx)
		}
		return domain.Hold{}, err
	}

	if res.acquired {
		c.metrics.holdAcquired(ctx)
	}

	return res.hold, nil
}

func (c *Coordinator) Renew(ctx context.Context, conn *Connection, showtimeID int, unitID string) (domain.Hold, error) {
	err := c.ensureLoaded(ctx, showtimeID)
	if err != nil {
		return domain.Hold{}, err
	}

	return c.holds.RenewHold(showtimeID, unitID, conn.ID(), c.cfg.HoldTTL)
}

func (c *Coordinator) Release(ctx context.Context, conn *Connection, showtimeID int, unitID string) error {
	err := c.ensureLoaded(ctx, showtimeID)
	if err != nil {
		return err
	}

	delta, err := c.holds.Release(showtimeID, unitID, conn.ID())
	if err != nil {
		return err
	}

	if delta != nil {
		c.metrics.released(ctx, 1, "explicit")
		c.bus.Publish(showtimeID, domain.NewDeltaEvent(showtimeID, *delta))
	}

	return nil
}

// Holds returns the live holds owned by conn.
func (c *Coordinator) Holds(conn *Connection) []domain.Hold {
	return c.holds.Holds(conn.ID())
}

// Disconnect removes conn from every room and releases every hold it owns.
// Both steps always run, whatever the order of earlier room bookkeeping.
func (c *Coordinator) Disconnect(conn *Connection) {
	left := c.rooms.Disconnect(conn.ID())
	released := c.holds.ReleaseAllFor(conn.ID())
	conn.close()

	c.publishReleased(released)
	c.metrics.released(context.Background(), len(released), "disconnect")

	c.logger.Debug("connection closed",
		"conn_id", conn.ID(),
		"rooms_left", len(left),
		"holds_released", len(released),
	)
}

// Finalize converts the units owned by ownerToken into a booking. See
// Finalizer.Finalize for the failure contract.
func (c *Coordinator) Finalize(ctx context.Context, showtimeID int, ownerToken string, unitIDs []string) (*domain.BookingReceipt, error) {
	err := c.ensureLoaded(ctx, showtimeID)
	if err != nil {
		return nil, err
	}

	return c.finalizer.Finalize(ctx, showtimeID, ownerToken, unitIDs)
}

func (c *Coordinator) reclaim(now time.Time, due []deadline) {
	var released []releasedHold
	for _, d := range due {
		if r, ok := c.holds.expire(d, now); ok {
			released = append(released, r)
		}
	}

	if len(released) == 0 {
		return
	}

	c.publishReleased(released)

	for _, r := range released {
		c.bus.Notify(r.hold.OwnerToken, domain.NewHoldExpiredEvent(r.hold.ShowtimeID, r.hold.UnitID))
	}

	c.metrics.expired(context.Background(), len(released))
	c.logger.Info("reclaimed expired holds", "count", len(released))
}

// publishReleased sends one batched delta per showtime.
func (c *Coordinator) publishReleased(released []releasedHold) {
	byShowtime := make(map[int][]domain.UnitDelta)
	var order []int

	for _, r := range released {
		id := r.hold.ShowtimeID
		if _, ok := byShowtime[id]; !ok {
			order = append(order, id)
		}
		byShowtime[id] = append(byShowtime[id], r.delta)
	}

	for _, id := range order {
		c.bus.Publish(id, domain.NewDeltaEvent(id, byShowtime[id]...))
	}
}

func (c *Coordinator) ensureLoaded(ctx context.Context, showtimeID int) error {
	if showtimeID < 1 {
		return domain.ErrShowtimeNotFound
	}

	if c.registry.Loaded(showtimeID) {
		return nil
	}

	// The shared load outlives the caller that started it.
	results := c.loads.DoChan(strconv.Itoa(showtimeID), func() (any, error) {
		if c.registry.Loaded(showtimeID) {
			return nil, nil
		}

		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeReadTimeout)
		defer cancel()

		units, err := c.units.GetUnitsByShowtime(loadCtx, showtimeID)
		if err != nil {
			return nil, err
		}

		if len(units) == 0 {
			return nil, domain.ErrShowtimeNotFound
		}

		c.registry.Load(showtimeID, units)
		c.logger.Info("loaded showtime inventory", "showtime_id", showtimeID, "units", len(units))

		return nil, nil
	})

	select {
	case res := <-results:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}
