package task

import (
	"sort"
	"sync"
)

// DefaultMaxTerminalPerStatus bounds unbounded task-map growth by evicting
// the oldest terminal tasks once a status group exceeds this count. Running
// tasks are never evicted.
const DefaultMaxTerminalPerStatus = 200

// Manager holds every task this node has started, keyed by a monotonically
// allocated id. Tasks are purely in-memory: restarting the node loses them.
type Manager struct {
	mu                   sync.Mutex
	nextID               uint64
	tasks                map[uint64]*Handle
	order                []uint64 // insertion order, oldest first
	maxTerminalPerStatus int
}

// NewManager constructs an empty Manager. maxTerminalPerStatus <= 0 uses
// DefaultMaxTerminalPerStatus.
func NewManager(maxTerminalPerStatus int) *Manager {
	if maxTerminalPerStatus <= 0 {
		maxTerminalPerStatus = DefaultMaxTerminalPerStatus
	}
	return &Manager{
		tasks:                make(map[uint64]*Handle),
		maxTerminalPerStatus: maxTerminalPerStatus,
	}
}

// Start allocates a new task id, registers a Running handle for it, and
// returns both. Callers update the returned handle's counters as work
// proceeds and call SetStatus when the job ends.
func (m *Manager) Start(itemsTotal uint32) (uint64, *Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	h := newHandle(itemsTotal)
	m.tasks[id] = h
	m.order = append(m.order, id)

	m.evictLocked()
	return id, h
}

// Get returns the handle for id, or false if it is unknown (never existed,
// or was evicted after completing).
func (m *Manager) Get(id uint64) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.tasks[id]
	return h, ok
}

// List returns a snapshot of every known task, ordered by id ascending.
// Terminal tasks beyond the per-status bound are evicted first.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictLocked()

	out := make([]Snapshot, 0, len(m.tasks))
	for id, h := range m.tasks {
		out = append(out, h.Snapshot(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// evictLocked drops the oldest terminal tasks once either terminal status
// bucket exceeds maxTerminalPerStatus. Must be called with m.mu held.
func (m *Manager) evictLocked() {
	var completeIDs, failureIDs []uint64
	for _, id := range m.order {
		h, ok := m.tasks[id]
		if !ok {
			continue
		}
		switch h.GetStatus().state {
		case stateComplete:
			completeIDs = append(completeIDs, id)
		case stateFailure:
			failureIDs = append(failureIDs, id)
		}
	}

	toEvict := map[uint64]bool{}
	if over := len(completeIDs) - m.maxTerminalPerStatus; over > 0 {
		for _, id := range completeIDs[:over] {
			toEvict[id] = true
		}
	}
	if over := len(failureIDs) - m.maxTerminalPerStatus; over > 0 {
		for _, id := range failureIDs[:over] {
			toEvict[id] = true
		}
	}
	if len(toEvict) == 0 {
		return
	}

	newOrder := m.order[:0:0]
	for _, id := range m.order {
		if toEvict[id] {
			delete(m.tasks, id)
			continue
		}
		newOrder = append(newOrder, id)
	}
	m.order = newOrder
}
