package coordinator

import (
	"sort"
	"sync"

	"github.com/metinatakli/seat-hold-coordinator/internal/domain"
)

type unitKey struct {
	showtimeID int
	unitID     string
}

// unitEntry is the authoritative state of one unit. mu guards both the unit
// and its hold record, so a hold exists exactly while the unit is HELD.
type unitEntry struct {
	mu   sync.Mutex
	key  unitKey
	unit domain.Unit
	hold *domain.Hold
}

func (e *unitEntry) compareAndSet(expected, next domain.UnitStatus) bool {
	if e.unit.Status != expected || !expected.CanTransition(next) {
		return false
	}

	e.unit.Status = next
	e.unit.Version++

	return true
}

// revertSold is the compensating transition used when a booking could not be
// written after its units were already marked SOLD.
func (e *unitEntry) revertSold() bool {
	if e.unit.Status != domain.UnitStatusSold {
		return false
	}

	e.unit.Status = domain.UnitStatusAvailable
	e.unit.Version++

	return true
}

func (e *unitEntry) delta() domain.UnitDelta {
	return domain.UnitDelta{
		UnitID:  e.unit.ID,
		Status:  e.unit.Status,
		Version: e.unit.Version,
	}
}

type showtimeInventory struct {
	// units is never modified after Load, only the entries themselves.
	units map[string]*unitEntry
	ids   []string
}

// Registry holds the in-memory inventory of every loaded showtime.
type Registry struct {
	mu        sync.RWMutex
	showtimes map[int]*showtimeInventory
}

func NewRegistry() *Registry {
	return &Registry{
		showtimes: make(map[int]*showtimeInventory),
	}
}

// Load installs the inventory of a showtime. It returns false if the showtime
// is already loaded, in which case the existing state is kept. Hold state
// never survives a restart, so HELD units are loaded as AVAILABLE.
func (r *Registry) Load(showtimeID int, units []domain.Unit) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.showtimes[showtimeID]; ok {
		return false
	}

	inv := &showtimeInventory{
		units: make(map[string]*unitEntry, len(units)),
		ids:   make([]string, 0, len(units)),
	}

	for _, u := range units {
		if _, dup := inv.units[u.ID]; dup {
			continue
		}

		u.ShowtimeID = showtimeID
		if u.Status != domain.UnitStatusSold {
			u.Status = domain.UnitStatusAvailable
		}

		inv.units[u.ID] = &unitEntry{
			key:  unitKey{showtimeID: showtimeID, unitID: u.ID},
			unit: u,
		}
		inv.ids = append(inv.ids, u.ID)
	}

	sort.Strings(inv.ids)
	r.showtimes[showtimeID] = inv

	return true
}

func (r *Registry) Loaded(showtimeID int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.showtimes[showtimeID]
	return ok
}

func (r *Registry) Get(showtimeID int, unitID string) (domain.Unit, error) {
	e, err := r.entry(showtimeID, unitID)
	if err != nil {
		return domain.Unit{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.unit, nil
}

// List returns a snapshot of every unit of the showtime ordered by ID. Each
// unit is read under its own lock; the list as a whole is not a single
// atomic cut, which is fine because every later change carries a higher
// version.
func (r *Registry) List(showtimeID int) ([]domain.Unit, error) {
	inv, err := r.inventory(showtimeID)
	if err != nil {
		return nil, err
	}

	units := make([]domain.Unit, len(inv.ids))
	for i, id := range inv.ids {
		e := inv.units[id]

		e.mu.Lock()
		units[i] = e.unit
		e.mu.Unlock()
	}

	return units, nil
}

// CompareAndSetStatus moves the unit from expected to next if and only if its
// current status is expected and the transition is allowed. It has no side
// effects when it returns false.
func (r *Registry) CompareAndSetStatus(showtimeID int, unitID string, expected, next domain.UnitStatus) bool {
	e, err := r.entry(showtimeID, unitID)
	if err != nil {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.compareAndSet(expected, next)
}

func (r *Registry) inventory(showtimeID int) (*showtimeInventory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inv, ok := r.showtimes[showtimeID]
	if !ok {
		return nil, domain.ErrShowtimeNotFound
	}

	return inv, nil
}

func (r *Registry) entry(showtimeID int, unitID string) (*unitEntry, error) {
	inv, err := r.inventory(showtimeID)
	if err != nil {
		return nil, err
	}

	e, ok := inv.units[unitID]
	if !ok {
		return nil, domain.ErrUnitNotFound
	}

	return e, nil
}

// entries resolves unitIDs, which must be sorted and free of duplicates. IDs
// that do not exist in the showtime are returned in missing.
func (r *Registry) entries(showtimeID int, unitIDs []string) (found []*unitEntry, missing []string, err error) {
	inv, err := r.inventory(showtimeID)
	if err != nil {
		return nil, nil, err
	}

	found = make([]*unitEntry, 0, len(unitIDs))
	for _, id := range unitIDs {
		e, ok := inv.units[id]
		if !ok {
			missing = append(missing, id)
			continue
		}

		found = append(found, e)
	}

	return found, missing, nil
}

// lockEntries locks every entry in the given order and returns the matching
// unlock function. Callers pass entries sorted by unit ID so that concurrent
// multi-unit operations cannot deadlock.
func lockEntries(entries []*unitEntry) func() {
	for _, e := range entries {
		e.mu.Lock()
	}

	return func() {
		for i := len(entries) - 1; i >= 0; i-- {
			entries[i].mu.Unlock()
		}
	}
}
