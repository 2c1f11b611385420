package coordinator

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/metinatakli/seat-hold-coordinator/internal/coordinator"

type metrics struct {
	holdsAcquired   metric.Int64Counter
	holdConflicts   metric.Int64Counter
	holdsReleased   metric.Int64Counter
	holdsExpired    metric.Int64Counter
	unitsSold       metric.Int64Counter
	bookingFailures metric.Int64Counter
}

func newMetrics() *metrics {
	meter := otel.Meter(instrumentationName)

	return &metrics{
		holdsAcquired:   counter(meter, "holds.acquired", "Holds granted"),
		holdConflicts:   counter(meter, "holds.conflicts", "Hold requests rejected because the unit was not available"),
		holdsReleased:   counter(meter, "holds.released", "Holds released by their owner or on disconnect"),
		holdsExpired:    counter(meter, "holds.expired", "Holds reclaimed after their TTL elapsed"),
		unitsSold:       counter(meter, "bookings.units_sold", "Units converted to SOLD by a finalized booking"),
		bookingFailures: counter(meter, "bookings.failed", "Finalize calls that did not produce a booking"),
	}
}

func counter(meter metric.Meter, name, description string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		return noop.Int64Counter{}
	}

	return c
}

func (m *metrics) holdAcquired(ctx context.Context) {
	m.holdsAcquired.Add(ctx, 1)
}

func (m *metrics) holdConflict(ctx context.Context) {
	m.holdConflicts.Add(ctx, 1)
}

func (m *metrics) released(ctx context.Context, n int, reason string) {
	if n == 0 {
		return
	}

	m.holdsReleased.Add(ctx, int64(n), metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *metrics) expired(ctx context.Context, n int) {
	m.holdsExpired.Add(ctx, int64(n))
}

func (m *metrics) bookingFinalized(ctx context.Context, units int) {
	m.unitsSold.Add(ctx, int64(units))
}

func (m *metrics) bookingFailed(ctx context.Context, reason string) {
	m.bookingFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
