package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type Booking struct {
	ID         int
	Reference  string
	ShowtimeID int
	OwnerToken string
	Units      []Unit
	TotalPrice decimal.Decimal
	CreatedAt  time.Time
}

func (b Booking) UnitIDs() []string {
	ids := make([]string, len(b.Units))
	for i, u := range b.Units {
		ids[i] = u.ID
	}

	return ids
}

// BookingReceipt is what a successful finalize hands back to the caller.
type BookingReceipt struct {
	BookingID  int             `json:"bookingId"`
	Reference  string          `json:"reference"`
	ShowtimeID int             `json:"showtimeId"`
	UnitIDs    []string        `json:"unitIds"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
	CreatedAt  time.Time       `json:"createdAt"`
}

type BookingRepository interface {
	// Create persists the booking and fills in its ID and CreatedAt.
	Create(ctx context.Context, booking *Booking) error
}

// BookingNotifier publishes confirmed bookings to downstream consumers.
type BookingNotifier interface {
	BookingConfirmed(ctx context.Context, receipt BookingReceipt) error
}
