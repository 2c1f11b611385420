package coordinator

import (
	"sort"
	"sync"
	"time"

	"github.com/metinatakli/seat-hold-coordinator/internal/domain"
)

// releasedHold describes a hold that was dropped together with the state the
// unit moved to.
type releasedHold struct {
	hold  domain.Hold
	delta domain.UnitDelta
}

// HoldStore manages hold records on top of the registry. Every status change
// goes through unitEntry.compareAndSet while the unit lock is held.
type HoldStore struct {
	registry    *Registry
	expiry      *ExpiryScheduler
	clock       func() time.Time
	maxPerOwner int

	mu      sync.Mutex
	byOwner map[string]map[unitKey]struct{}
}

func NewHoldStore(registry *Registry, expiry *ExpiryScheduler, clock func() time.Time, maxPerOwner int) *HoldStore {
	if clock == nil {
		clock = time.Now
	}

	return &HoldStore{
		registry:    registry,
		expiry:      expiry,
		clock:       clock,
		maxPerOwner: maxPerOwner,
		byOwner:     make(map[string]map[unitKey]struct{}),
	}
}

// holdResult reports what RequestHold changed. delta is the unit's final
// state and is nil when nothing changed. expired is set when a lapsed hold
// that the sweep had not reached yet was reclaimed first.
type holdResult struct {
	hold     domain.Hold
	delta    *domain.UnitDelta
	expired  *domain.Hold
	acquired bool
}

// RequestHold moves an AVAILABLE unit to HELD on behalf of owner. A repeated
// request from the current owner returns the existing hold.
func (s *HoldStore) RequestHold(showtimeID int, unitID, owner string, ttl time.Duration) (holdResult, error) {
	var res holdResult

	e, err := s.registry.entry(showtimeID, unitID)
	if err != nil {
		return res, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := s.clock()

	if e.hold != nil && e.hold.ExpiredAt(now) {
		if released, ok := s.releaseLocked(e); ok {
			res.expired = &released.hold
			res.delta = &released.delta
		}
	}

	if e.hold != nil && e.hold.OwnerToken == owner {
		res.hold = *e.hold
		return res, nil
	}

	if e.unit.Status != domain.UnitStatusAvailable {
		return res, domain.ErrConflict
	}

	if !s.track(owner, e.key) {
		return res, domain.ErrHoldLimitReached
	}

	if !e.compareAndSet(domain.UnitStatusAvailable, domain.UnitStatusHeld) {
		s.untrack(owner, e.key)
		return res, domain.ErrConflict
	}

	hold := domain.Hold{
		UnitID:     unitID,
		ShowtimeID: showtimeID,
		OwnerToken: owner,
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	}
	e.hold = &hold

	s.expiry.Schedule(e.key, owner, hold.ExpiresAt)

	delta := e.delta()
	res.hold = hold
	res.delta = &delta
	res.acquired = true

	return res, nil
}

// RenewHold extends a live hold owned by owner. Holds that are gone, expired
// or owned by someone else are rejected so a stale client cannot bring back a
// lock it no longer owns.
func (s *HoldStore) RenewHold(showtimeID int, unitID, owner string, ttl time.Duration) (domain.Hold, error) {
	e, err := s.registry.entry(showtimeID, unitID)
	if err != nil {
		return domain.Hold{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := s.clock()

	if e.hold == nil || e.hold.OwnerToken != owner || e.hold.ExpiredAt(now) {
		return domain.Hold{}, domain.ErrRejected
	}

	e.hold.ExpiresAt = now.Add(ttl)
	s.expiry.Schedule(e.key, owner, e.hold.ExpiresAt)

	return *e.hold, nil
}

// Release returns a held unit to AVAILABLE. Releasing a unit that is not held
// is a successful no-op and returns a nil delta.
func (s *HoldStore) Release(showtimeID int, unitID, owner string) (*domain.UnitDelta, error) {
	e, err := s.registry.entry(showtimeID, unitID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.unit.Status != domain.UnitStatusHeld {
		return nil, nil
	}

	if e.hold == nil || e.hold.OwnerToken != owner {
		return nil, domain.ErrRejected
	}

	released, ok := s.releaseLocked(e)
	if !ok {
		return nil, nil
	}

	return &released.delta, nil
}

// ReleaseAllFor releases every hold of owner, ordered by showtime and unit.
func (s *HoldStore) ReleaseAllFor(owner string) []releasedHold {
	keys := s.keysOf(owner)

	var released []releasedHold
	for _, key := range keys {
		e, err := s.registry.entry(key.showtimeID, key.unitID)
		if err != nil {
			s.untrack(owner, key)
			continue
		}

		e.mu.Lock()
		if e.hold != nil && e.hold.OwnerToken == owner {
			if r, ok := s.releaseLocked(e); ok {
				released = append(released, r)
			}
		}
		e.mu.Unlock()
	}

	return released
}

// Holds returns the live holds of owner.
func (s *HoldStore) Holds(owner string) []domain.Hold {
	keys := s.keysOf(owner)

	holds := make([]domain.Hold, 0, len(keys))
	for _, key := range keys {
		e, err := s.registry.entry(key.showtimeID, key.unitID)
		if err != nil {
			continue
		}

		e.mu.Lock()
		if e.hold != nil && e.hold.OwnerToken == owner {
			holds = append(holds, *e.hold)
		}
		e.mu.Unlock()
	}

	return holds
}

// expire reclaims the hold behind d only if it is still the same hold: same
// owner, same deadline and not renewed past now.
func (s *HoldStore) expire(d deadline, now time.Time) (releasedHold, bool) {
	e, err := s.registry.entry(d.key.showtimeID, d.key.unitID)
	if err != nil {
		return releasedHold{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.hold == nil || e.hold.OwnerToken != d.owner {
		return releasedHold{}, false
	}

	if !e.hold.ExpiresAt.Equal(d.at) || !e.hold.ExpiredAt(now) {
		return releasedHold{}, false
	}

	return s.releaseLocked(e)
}

// heldBy reports whether e carries a live hold of owner. e must be locked.
func (s *HoldStore) heldBy(e *unitEntry, owner string, now time.Time) bool {
	return e.unit.Status == domain.UnitStatusHeld &&
		e.hold != nil &&
		e.hold.OwnerToken == owner &&
		!e.hold.ExpiredAt(now)
}

// sellLocked moves a held unit to SOLD and drops its hold. e must be locked.
func (s *HoldStore) sellLocked(e *unitEntry) bool {
	if e.hold == nil {
		return false
	}

	owner := e.hold.OwnerToken
	if !e.compareAndSet(domain.UnitStatusHeld, domain.UnitStatusSold) {
		return false
	}

	e.hold = nil
	s.untrack(owner, e.key)
	s.expiry.Cancel(e.key)

	return true
}

func (s *HoldStore) releaseLocked(e *unitEntry) (releasedHold, bool) {
	hold := *e.hold

	if !e.compareAndSet(domain.UnitStatusHeld, domain.UnitStatusAvailable) {
		return releasedHold{}, false
	}

	e.hold = nil
	s.untrack(hold.OwnerToken, e.key)
	s.expiry.Cancel(e.key)

	return releasedHold{hold: hold, delta: e.delta()}, true
}

// track records key as held by owner unless owner already reached the limit.
func (s *HoldStore) track(owner string, key unitKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := s.byOwner[owner]
	if s.maxPerOwner > 0 && len(keys) >= s.maxPerOwner {
		return false
	}

	if keys == nil {
		keys = make(map[unitKey]struct{})
		s.byOwner[owner] = keys
	}
	keys[key] = struct{}{}

	return true
}

func (s *HoldStore) untrack(owner string, key unitKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := s.byOwner[owner]
	delete(keys, key)
	if len(keys) == 0 {
		delete(s.byOwner, owner)
	}
}

func (s *HoldStore) keysOf(owner string) []unitKey {
	s.mu.Lock()
	keys := make([]unitKey, 0, len(s.byOwner[owner]))
	for k := range s.byOwner[owner] {
		keys = append(keys, k)
	}
	s.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].showtimeID != keys[j].showtimeID {
			return keys[i].showtimeID < keys[j].showtimeID
		}
		return keys[i].unitID < keys[j].unitID
	})

	return keys
}
