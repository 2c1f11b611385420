package domain

import "time"

// Hold is the ephemeral ownership record of a HELD unit.
type Hold struct {
	UnitID     string    `json:"unitId"`
	ShowtimeID int       `json:"showtimeId"`
	OwnerToken string    `json:"-"`
	ExpiresAt  time.Time `json:"expiresAt"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (h Hold) ExpiredAt(now time.Time) bool {
	return !h.ExpiresAt.After(now)
}
