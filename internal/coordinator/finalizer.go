package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/metinatakli/seat-hold-coordinator/internal/domain"
	"github.com/shopspring/decimal"
)

// Finalizer turns a caller's held units into a durable booking, all or
// nothing.
type Finalizer struct {
	registry *Registry
	holds    *HoldStore
	bus      *Bus
	units    domain.UnitRepository
	bookings domain.BookingRepository
	notifier domain.BookingNotifier
	clock    func() time.Time
	logger   *slog.Logger
	metrics  *metrics
}

// Finalize checks that every requested unit is held by owner and unexpired.
// If any of them is not, it returns a *domain.FinalizeError naming them and
// changes nothing. Otherwise the units become SOLD and the booking is
// written; a failed write rolls them back to AVAILABLE and returns a
// *domain.ExternalWriteError. Units the store reports as already booked stay
// SOLD.
func (f *Finalizer) Finalize(ctx context.Context, showtimeID int, owner string, unitIDs []string) (*domain.BookingReceipt, error) {
	ids := normalizeIDs(unitIDs)
	if len(ids) == 0 {
		return nil, domain.ErrEmptySelection
	}

	entries, missing, err := f.registry.entries(showtimeID, ids)
	if err != nil {
		return nil, err
	}

	unlock := lockEntries(entries)

	now := f.clock()
	failed := missing
	for _, e := range entries {
		if !f.holds.heldBy(e, owner, now) {
			failed = append(failed, e.unit.ID)
		}
	}

	if len(failed) > 0 {
		unlock()
		sort.Strings(failed)
		f.metrics.bookingFailed(ctx, "selection_expired")

		return nil, &domain.FinalizeError{Units: failed}
	}

	units := make([]domain.Unit, 0, len(entries))
	deltas := make([]domain.UnitDelta, 0, len(entries))
	for _, e := range entries {
		f.holds.sellLocked(e)
		units = append(units, e.unit)
		deltas = append(deltas, e.delta())
	}

	unlock()

	f.bus.Publish(showtimeID, domain.NewDeltaEvent(showtimeID, deltas...))

	booking := domain.Booking{
		Reference:  uuid.NewString(),
		ShowtimeID: showtimeID,
		OwnerToken: owner,
		Units:      units,
		TotalPrice: totalPrice(units),
	}

	err = f.bookings.Create(ctx, &booking)
	if err != nil {
		f.logger.Error("booking write failed, rolling back sold units",
			"showtime_id", showtimeID,
			"unit_ids", ids,
			"error", err,
		)
		sold, keepAll := f.durablySold(ctx, showtimeID, err)
		f.rollback(showtimeID, entries, sold, keepAll)
		f.metrics.bookingFailed(ctx, "external_write")

		return nil, &domain.ExternalWriteError{Err: err}
	}

	if booking.CreatedAt.IsZero() {
		booking.CreatedAt = now
	}

	receipt := domain.BookingReceipt{
		BookingID:  booking.ID,
		Reference:  booking.Reference,
		ShowtimeID: showtimeID,
		UnitIDs:    booking.UnitIDs(),
		TotalPrice: booking.TotalPrice,
		CreatedAt:  booking.CreatedAt,
	}

	f.metrics.bookingFinalized(ctx, len(units))

	if f.notifier != nil {
		err = f.notifier.BookingConfirmed(ctx, receipt)
		if err != nil {
			f.logger.Warn("failed to publish booking confirmation", "reference", receipt.Reference, "error", err)
		}
	}

	return &receipt, nil
}

// durablySold returns the units the durable store already records as booked
// after a failed write. keepAll is set when that cannot be determined.
func (f *Finalizer) durablySold(ctx context.Context, showtimeID int, writeErr error) (sold map[string]struct{}, keepAll bool) {
	if !errors.Is(writeErr, domain.ErrUnitAlreadyBooked) {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeReadTimeout)
	defer cancel()

	units, err := f.units.GetUnitsByShowtime(ctx, showtimeID)
	if err != nil {
		f.logger.Error("failed to re-read booked units, keeping them sold",
			"showtime_id", showtimeID,
			"error", err,
		)
		return nil, true
	}

	sold = make(map[string]struct{})
	for _, u := range units {
		if u.Status == domain.UnitStatusSold {
			sold[u.ID] = struct{}{}
		}
	}

	return sold, false
}

// rollback returns sold entries to AVAILABLE, except those the store already
// holds a booking for.
func (f *Finalizer) rollback(showtimeID int, entries []*unitEntry, sold map[string]struct{}, keepAll bool) {
	if keepAll {
		return
	}

	unlock := lockEntries(entries)

	deltas := make([]domain.UnitDelta, 0, len(entries))
	for _, e := range entries {
		if _, ok := sold[e.unit.ID]; ok {
			continue
		}
		if e.revertSold() {
			deltas = append(deltas, e.delta())
		}
	}

	unlock()

	if len(deltas) > 0 {
		f.bus.Publish(showtimeID, domain.NewDeltaEvent(showtimeID, deltas...))
	}
}

func totalPrice(units []domain.Unit) decimal.Decimal {
	total := decimal.Zero
	for _, u := range units {
		total = total.Add(u.Price)
	}

	return total
}

// normalizeIDs sorts ids and drops empty and duplicate entries.
func normalizeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))

	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}

		seen[id] = struct{}{}
		out = append(out, id)
	}

	sort.Strings(out)

	return out
}
