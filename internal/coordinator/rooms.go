package coordinator

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/metinatakli/seat-hold-coordinator/internal/domain"
)

var errUnknownConnection = errors.New("unknown connection")

// Connection is the per-client context passed through the room and hold
// APIs. Its ID is the owner token of every hold it takes.
type Connection struct {
	id        string
	sessionID string
	outbox    chan domain.Event
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Int64

	// mu orders outbox sends against snapshots in progress. staged holds the
	// deltas of a showtime whose snapshot is being taken.
	mu     sync.Mutex
	staged map[int][]domain.Event
}

func newConnection(id, sessionID string, outboxSize int) *Connection {
	if outboxSize < 1 {
		outboxSize = 1
	}

	return &Connection{
		id:        id,
		sessionID: sessionID,
		outbox:    make(chan domain.Event, outboxSize),
		done:      make(chan struct{}),
	}
}

func (c *Connection) ID() string {
	return c.id
}

// SessionID is the HTTP session that opened the connection.
func (c *Connection) SessionID() string {
	return c.sessionID
}

// Events is drained by the transport's write pump.
func (c *Connection) Events() <-chan domain.Event {
	return c.outbox
}

// Done is closed once the connection has been disconnected.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Dropped returns how many events were discarded because the outbox was full.
func (c *Connection) Dropped() int64 {
	return c.dropped.Load()
}

// deliver never blocks. The outbox is never closed, so a concurrent close
// cannot make the send panic.
func (c *Connection) deliver(ev domain.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ev.Type == domain.EventInventoryDelta {
		if staged, ok := c.staged[ev.ShowtimeID]; ok {
			c.staged[ev.ShowtimeID] = append(staged, ev)
			return true
		}
	}

	return c.push(ev)
}

// push sends ev to the outbox. c.mu must be held.
func (c *Connection) push(ev domain.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.outbox <- ev:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// stage holds back deltas of the showtime until finishSnapshot or unstage.
func (c *Connection) stage(showtimeID int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.staged == nil {
		c.staged = make(map[int][]domain.Event)
	}
	c.staged[showtimeID] = []domain.Event{}
}

// unstage stops holding back deltas of the showtime and discards the staged
// ones.
func (c *Connection) unstage(showtimeID int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.staged, showtimeID)
}

// finishSnapshot queues the snapshot followed by the staged deltas that are
// newer than it, then resumes normal delivery for the showtime.
func (c *Connection) finishSnapshot(showtimeID int, units []domain.Unit) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	staged := c.staged[showtimeID]
	delete(c.staged, showtimeID)

	ok := c.push(domain.Event{
		Type:       domain.EventInventorySnapshot,
		ShowtimeID: showtimeID,
		Units:      units,
	})

	versions := make(map[string]uint64, len(units))
	for _, u := range units {
		versions[u.ID] = u.Version
	}

	for _, ev := range staged {
		newer := make([]domain.UnitDelta, 0, len(ev.Deltas))
		for _, d := range ev.Deltas {
			if d.Version > versions[d.UnitID] {
				newer = append(newer, d)
			}
		}

		if len(newer) > 0 {
			c.push(domain.NewDeltaEvent(showtimeID, newer...))
		}
	}

	return ok
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Rooms tracks connected clients and the showtimes each of them watches.
type Rooms struct {
	mu          sync.RWMutex
	conns       map[string]*Connection
	rooms       map[int]map[string]*Connection
	memberships map[string]map[int]struct{}
}

func NewRooms() *Rooms {
	return &Rooms{
		conns:       make(map[string]*Connection),
		rooms:       make(map[int]map[string]*Connection),
		memberships: make(map[string]map[int]struct{}),
	}
}

func (r *Rooms) Register(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[c.id] = c
}

func (r *Rooms) Connection(connID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[connID]
	return c, ok
}

// Join adds the connection to the showtime's room. Joining twice is a no-op.
func (r *Rooms) Join(showtimeID int, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return errUnknownConnection
	}

	members := r.rooms[showtimeID]
	if members == nil {
		members = make(map[string]*Connection)
		r.rooms[showtimeID] = members
	}
	members[connID] = c

	joined := r.memberships[connID]
	if joined == nil {
		joined = make(map[int]struct{})
		r.memberships[connID] = joined
	}
	joined[showtimeID] = struct{}{}

	return nil
}

func (r *Rooms) Leave(showtimeID int, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.leaveLocked(showtimeID, connID)
}

// Disconnect forgets the connection and removes it from every room it was
// in. It returns the showtimes it left.
func (r *Rooms) Disconnect(connID string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var left []int
	for showtimeID := range r.memberships[connID] {
		left = append(left, showtimeID)
	}
	sort.Ints(left)

	for _, showtimeID := range left {
		r.leaveLocked(showtimeID, connID)
	}

	delete(r.conns, connID)

	return left
}

// Members returns the connections currently watching the showtime.
func (r *Rooms) Members(showtimeID int) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]*Connection, 0, len(r.rooms[showtimeID]))
	for _, c := range r.rooms[showtimeID] {
		members = append(members, c)
	}

	return members
}

// roomsOf returns the showtimes the connection watches, in ascending order.
func (r *Rooms) roomsOf(connID string) []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int, 0, len(r.memberships[connID]))
	for id := range r.memberships[connID] {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	return ids
}

func (r *Rooms) leaveLocked(showtimeID int, connID string) {
	if members, ok := r.rooms[showtimeID]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, showtimeID)
		}
	}

	if joined, ok := r.memberships[connID]; ok {
		delete(joined, showtimeID)
		if len(joined) == 0 {
			delete(r.memberships, connID)
		}
	}
}
