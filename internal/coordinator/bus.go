package coordinator

import (
	"context"
	"log/slog"
	"time"

	"github.com/metinatakli/seat-hold-coordinator/internal/domain"
)

const sinkPublishTimeout = 2 * time.Second

// Sink receives every room event, e.g. to relay it to other processes.
type Sink interface {
	Publish(ctx context.Context, showtimeID int, event domain.Event) error
}

type sinkItem struct {
	showtimeID int
	event      domain.Event
}

// Bus delivers events to the members of a showtime's room. Delivery is best
// effort: a connection whose outbox is full misses the event and is expected
// to re-fetch the snapshot.
type Bus struct {
	rooms  *Rooms
	logger *slog.Logger
	sinks  []Sink
	queue  chan sinkItem
}

func NewBus(rooms *Rooms, logger *slog.Logger, sinks ...Sink) *Bus {
	b := &Bus{
		rooms:  rooms,
		logger: logger,
		sinks:  sinks,
	}

	if len(sinks) > 0 {
		b.queue = make(chan sinkItem, 1024)
	}

	return b
}

// Publish sends event to every connection in the showtime's room and returns
// how many of them accepted it.
func (b *Bus) Publish(showtimeID int, event domain.Event) int {
	delivered := 0
	for _, c := range b.rooms.Members(showtimeID) {
		if c.deliver(event) {
			delivered++
			continue
		}

		b.logger.Warn("dropped event for slow connection",
			"conn_id", c.ID(),
			"showtime_id", showtimeID,
			"event", event.Type,
		)
	}

	if b.queue != nil {
		select {
		case b.queue <- sinkItem{showtimeID: showtimeID, event: event}:
		default:
			b.logger.Warn("sink queue full, dropping event", "showtime_id", showtimeID, "event", event.Type)
		}
	}

	return delivered
}

// Notify sends event to a single connection if it is still connected.
func (b *Bus) Notify(connID string, event domain.Event) bool {
	c, ok := b.rooms.Connection(connID)
	if !ok {
		return false
	}

	return c.deliver(event)
}

// Run forwards queued events to the sinks until ctx is cancelled.
func (b *Bus) Run(ctx context.Context) error {
	if b.queue == nil {
		<-ctx.Done()
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case item := <-b.queue:
			for _, sink := range b.sinks {
				sinkCtx, cancel := context.WithTimeout(ctx, sinkPublishTimeout)
				err := sink.Publish(sinkCtx, item.showtimeID, item.event)
				cancel()

				if err != nil {
					b.logger.Error("failed to publish event to sink",
						"showtime_id", item.showtimeID,
						"event", item.event.Type,
						"error", err,
					)
				}
			}
		}
	}
}
