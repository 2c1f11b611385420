package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/google/btree"
)

// deadline is the point in time at which a hold must be reclaimed unless it
// was renewed or released in the meantime.
type deadline struct {
	at    time.Time
	key   unitKey
	owner string
}

// deadlineLess orders by expiry time, then showtime, then unit ID, so Min()
// always returns the next hold to expire.
func deadlineLess(a, b deadline) bool {
	if !a.at.Equal(b.at) {
		return a.at.Before(b.at)
	}
	if a.key.showtimeID != b.key.showtimeID {
		return a.key.showtimeID < b.key.showtimeID
	}
	return a.key.unitID < b.key.unitID
}

// reclaimer releases holds whose deadline has passed. It must re-validate
// each deadline against the current hold before releasing anything.
type reclaimer interface {
	reclaim(now time.Time, due []deadline)
}

// ExpiryScheduler tracks hold deadlines in a B-tree and sweeps them on a
// fixed interval instead of running one timer per hold.
type ExpiryScheduler struct {
	interval time.Duration
	clock    func() time.Time

	mu    sync.Mutex
	queue *btree.BTreeG[deadline]
	index map[unitKey]deadline // unit -> its current deadline
}

func NewExpiryScheduler(interval time.Duration, clock func() time.Time) *ExpiryScheduler {
	const degree = 32

	if clock == nil {
		clock = time.Now
	}

	return &ExpiryScheduler{
		interval: interval,
		clock:    clock,
		queue:    btree.NewG[deadline](degree, deadlineLess),
		index:    make(map[unitKey]deadline),
	}
}

// Schedule sets the deadline of a unit, replacing any previous one.
func (s *ExpiryScheduler) Schedule(key unitKey, owner string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.index[key]; ok {
		s.queue.Delete(prev)
	}

	d := deadline{at: at, key: key, owner: owner}
	s.queue.ReplaceOrInsert(d)
	s.index[key] = d
}

// Cancel drops the deadline of a unit. It is a no-op if none is scheduled.
func (s *ExpiryScheduler) Cancel(key unitKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.index[key]
	if !ok {
		return
	}

	delete(s.index, key)
	s.queue.Delete(d)
}

// pending returns the number of scheduled deadlines.
func (s *ExpiryScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.queue.Len()
}

// Run sweeps due deadlines every interval until ctx is cancelled.
func (s *ExpiryScheduler) Run(ctx context.Context, r reclaimer) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			now := s.clock()
			if due := s.due(now); len(due) > 0 {
				r.reclaim(now, due)
			}
		}
	}
}

// due removes and returns every deadline at or before now. The scheduler lock
// is released before the caller reclaims anything.
func (s *ExpiryScheduler) due(now time.Time) []deadline {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []deadline
	for {
		d, ok := s.queue.Min()
		if !ok || d.at.After(now) {
			break
		}

		s.queue.DeleteMin()
		delete(s.index, d.key)
		due = append(due, d)
	}

	return due
}
