package home

import "sync"

// SearchLedger orders searches across the screens mounted for one browser
// tab. Every request mounts its own Screen, so the per-screen token cannot
// see a search started by another request; the ledger can.
type SearchLedger struct {
	mu     sync.Mutex
	next   uint64
	latest map[string]uint64
}

// NewSearchLedger returns an empty ledger.
func NewSearchLedger() *SearchLedger {
	return &SearchLedger{latest: make(map[string]uint64)}
}

// begin records a search for key and returns its ticket. Tickets are unique
// across keys, so a cleared key never reissues one still in flight.
func (l *SearchLedger) begin(key string) uint64 {
	if l == nil || key == "" {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	l.latest[key] = l.next
	return l.next
}

// settle reports whether ticket is still the newest search for key. The
// newest search clears its key so the ledger only holds tabs with searches
// in flight.
func (l *SearchLedger) settle(key string, ticket uint64) bool {
	if l == nil || key == "" {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.latest[key] != ticket {
		return false
	}
	delete(l.latest, key)
	return true
}

// pending returns the number of tabs with a search in flight.
func (l *SearchLedger) pending() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.latest)
}
