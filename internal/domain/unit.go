package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

type UnitKind string

const (
	UnitKindSeat        UnitKind = "SEAT"
	UnitKindTwoWheeler  UnitKind = "TWO_WHEELER"
	UnitKindFourWheeler UnitKind = "FOUR_WHEELER"
)

func (k UnitKind) Valid() bool {
	switch k {
	case UnitKindSeat, UnitKindTwoWheeler, UnitKindFourWheeler:
		return true
	}

	return false
}

// SeatCategory only affects pricing. Parking slots leave it empty.
type SeatCategory string

const (
	SeatCategoryStandard SeatCategory = "STANDARD"
	SeatCategoryPremium  SeatCategory = "PREMIUM"
	SeatCategoryVIP      SeatCategory = "VIP"
)

type UnitStatus string

const (
	UnitStatusAvailable UnitStatus = "AVAILABLE"
	UnitStatusHeld      UnitStatus = "HELD"
	UnitStatusSold      UnitStatus = "SOLD"
)

// CanTransition reports whether next is reachable from s in a single step
// of the unit lattice: AVAILABLE -> HELD -> {AVAILABLE, SOLD}.
func (s UnitStatus) CanTransition(next UnitStatus) bool {
	switch s {
	case UnitStatusAvailable:
		return next == UnitStatusHeld
	case UnitStatusHeld:
		return next == UnitStatusAvailable || next == UnitStatusSold
	default:
		return false
	}
}

// Unit is a seat or a parking slot of exactly one showtime. Version increases
// on every status change so clients can discard deltas older than the state
// they already have.
type Unit struct {
	ID         string          `json:"id"`
	ShowtimeID int             `json:"showtimeId"`
	Kind       UnitKind        `json:"kind"`
	Category   SeatCategory    `json:"category,omitempty"`
	Price      decimal.Decimal `json:"price"`
	Status     UnitStatus      `json:"status"`
	Version    uint64          `json:"version"`
}

type UnitRepository interface {
	// GetUnitsByShowtime returns every unit of the showtime. Units that are
	// already covered by a durable booking come back as SOLD.
	GetUnitsByShowtime(ctx context.Context, showtimeID int) ([]Unit, error)
}
