package integration_test

import "time"

// Every test works on its own showtime; the coordinator keeps a loaded
// showtime in memory for the life of the suite.
const (
	InventoryShowtimeID = 1
	BookingShowtimeID   = 2
	ConflictShowtimeID  = 3
	RelayShowtimeID     = 4
	ExpiryShowtimeID    = 5
	UnknownShowtimeID   = 99

	TestHoldTTL = 2 * time.Second
)
