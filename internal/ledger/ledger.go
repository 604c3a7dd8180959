// Package ledger holds the authoritative remaining-stock counter for every
// sale line. Reserve is the single serialization point of the purchase path:
// one mutex per line, decrement and rank assignment inside it, nothing else.
// Unrelated lines never contend with each other.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrOutOfStock   = errors.New("ledger: out of stock")
	ErrLineNotFound = errors.New("ledger: sale line not found")
)

// Reservation is one claimed unit: the rank assigned at commit order and the
// stock left after the decrement.
type Reservation struct {
	LineID    int64
	Rank      int
	Remaining int
}

type line struct {
	mu        sync.Mutex
	limit     int
	remaining int
	nextRank  int
	// ranks handed back by Release, reassigned lowest-first so committed
	// ranks stay gap-free
	reclaimed []int
}

type Ledger struct {
	mu    sync.RWMutex
	lines map[int64]*line
}

func New() *Ledger {
	return &Ledger{lines: make(map[int64]*line)}
}

// Load registers a sale line, seeding the counter from persisted state.
// sold is the number of committed purchases for the line; remaining stock is
// always recomputed as limit-sold rather than trusted from a snapshot.
func (l *Ledger) Load(lineID int64, limit, sold int) error {
	if limit < 0 || sold < 0 || sold > limit {
		return fmt.Errorf("ledger: inconsistent counts for line %d: limit=%d sold=%d", lineID, limit, sold)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines[lineID] = &line{
		limit:     limit,
		remaining: limit - sold,
		nextRank:  sold + 1,
	}
	return nil
}

func (l *Ledger) get(lineID int64) *line {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lines[lineID]
}

// Reserve claims one unit of the line, or reports ErrOutOfStock. The
// decrement and the rank assignment happen as one indivisible step; no caller
// can observe the counter between them.
func (l *Ledger) Reserve(lineID int64) (Reservation, error) {
	ln := l.get(lineID)
	if ln == nil {
		return Reservation{}, ErrLineNotFound
	}

	ln.mu.Lock()
	defer ln.mu.Unlock()

	if ln.remaining <= 0 {
		if ln.remaining < 0 {
			panic(fmt.Sprintf("ledger: negative stock on line %d: %d", lineID, ln.remaining))
		}
		return Reservation{}, ErrOutOfStock
	}

	ln.remaining--
	var rank int
	if len(ln.reclaimed) > 0 {
		rank = ln.reclaimed[0]
		ln.reclaimed = ln.reclaimed[1:]
	} else {
		rank = ln.nextRank
		ln.nextRank++
	}

	return Reservation{LineID: lineID, Rank: rank, Remaining: ln.remaining}, nil
}

// Release hands a reservation back after a failed persist. The unit returns
// to stock and the rank is queued for reassignment, so the set of committed
// ranks stays exactly 1..successCount.
func (l *Ledger) Release(lineID int64, rank int) {
	ln := l.get(lineID)
	if ln == nil {
		return
	}

	ln.mu.Lock()
	defer ln.mu.Unlock()

	if ln.remaining >= ln.limit {
		panic(fmt.Sprintf("ledger: release overflow on line %d", lineID))
	}
	ln.remaining++
	if rank == ln.nextRank-1 {
		ln.nextRank--
		return
	}
	i := sort.SearchInts(ln.reclaimed, rank)
	ln.reclaimed = append(ln.reclaimed, 0)
	copy(ln.reclaimed[i+1:], ln.reclaimed[i:])
	ln.reclaimed[i] = rank
}

// Remaining reports the current counter for a line.
func (l *Ledger) Remaining(lineID int64) (int, bool) {
	ln := l.get(lineID)
	if ln == nil {
		return 0, false
	}
	ln.mu.Lock()
	defer ln.mu.Unlock()
	return ln.remaining, true
}
