package domain

type EventType string

const (
	EventWelcome           EventType = "welcome"
	EventInventorySnapshot EventType = "inventory_snapshot"
	EventInventoryDelta    EventType = "inventory_delta"
	EventHoldExpired       EventType = "hold_expired"
)

type UnitDelta struct {
	UnitID  string     `json:"unitId"`
	Status  UnitStatus `json:"status"`
	Version uint64     `json:"version"`
}

// Event is a server initiated message. Only the fields relevant to Type are set.
type Event struct {
	Type       EventType   `json:"type"`
	ShowtimeID int         `json:"showtimeId,omitempty"`
	OwnerToken string      `json:"ownerToken,omitempty"`
	UnitID     string      `json:"unitId,omitempty"`
	Deltas     []UnitDelta `json:"deltas,omitempty"`
	Units      []Unit      `json:"units,omitempty"`
}

func NewDeltaEvent(showtimeID int, deltas ...UnitDelta) Event {
	return Event{
		Type:       EventInventoryDelta,
		ShowtimeID: showtimeID,
		Deltas:     deltas,
	}
}

func NewHoldExpiredEvent(showtimeID int, unitID string) Event {
	return Event{
		Type:       EventHoldExpired,
		ShowtimeID: showtimeID,
		UnitID:     unitID,
	}
}
