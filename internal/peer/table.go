package peer

import (
	"math/rand"
	"sort"
	"sync"
)

// Table is the set of peers a node currently holds links to.
type Table struct {
	mu     sync.RWMutex
	peers  map[Key]Identity
	randFn func(n int) int
}

func NewTable() *Table {
	return &Table{
		peers:  make(map[Key]Identity),
		randFn: rand.Intn,
	}
}

// NewTableWithRand is used by tests that need a deterministic selection.
func NewTableWithRand(randFn func(n int) int) *Table {
	t := NewTable()
	t.randFn = randFn
	return t
}

// Add inserts the peer unless an entry with the same host and port exists.
func (t *Table) Add(id Identity) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.peers[id.Key()]; exists {
		return false
	}
	t.peers[id.Key()] = id
	return true
}

func (t *Table) Remove(id Identity) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.peers[id.Key()]; !exists {
		return false
	}
	delete(t.peers, id.Key())
	return true
}

func (t *Table) Contains(id Identity) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.peers[id.Key()]
	return ok
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

// List returns a snapshot ordered by host then port.
func (t *Table) List() []Identity {
	t.mu.RLock()
	peers := make([]Identity, 0, len(t.peers))
	for _, p := range t.peers {
		peers = append(peers, p)
	}
	t.mu.RUnlock()

	sort.Slice(peers, func(i, j int) bool {
		if peers[i].Host != peers[j].Host {
			return peers[i].Host < peers[j].Host
		}
		return peers[i].Port < peers[j].Port
	})
	return peers
}

// Clear drops every entry and returns what was held.
func (t *Table) Clear() []Identity {
	peers := t.List()
	t.mu.Lock()
	t.peers = make(map[Key]Identity)
	t.mu.Unlock()
	return peers
}

// Sample picks up to n distinct random neighbors, skipping any that equal
// one of exclude.
func (t *Table) Sample(n int, exclude ...Identity) []Identity {
	candidates := make([]Identity, 0, t.Len())
	for _, p := range t.List() {
		if !containsPeer(exclude, p) {
			candidates = append(candidates, p)
		}
	}

	t.mu.RLock()
	randFn := t.randFn
	t.mu.RUnlock()

	return SelectRandom(candidates, n, randFn)
}

// SelectRandom returns up to n distinct entries of peers in random order.
// The input slice is left untouched.
func SelectRandom(peers []Identity, n int, randFn func(n int) int) []Identity {
	if n <= 0 || len(peers) == 0 {
		return []Identity{}
	}
	if randFn == nil {
		randFn = rand.Intn
	}

	pool := make([]Identity, len(peers))
	copy(pool, peers)

	if n > len(pool) {
		n = len(pool)
	}
	for i := 0; i < n; i++ {
		j := i + randFn(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:n]
}

func containsPeer(peers []Identity, id Identity) bool {
	for _, p := range peers {
		if p.Equal(id) {
			return true
		}
	}
	return false
}
