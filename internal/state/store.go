// Package state holds the household directory: households, the derived
// region/cluster aggregates, the undo log and the discovered resource index.
// All mutation goes through Store methods.
package state

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jvilburn/EmergencyPrepWebpage/internal/aggregate"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/domain"
)

// MaxChanges bounds the undo log.
const MaxChanges = 50

const (
	EventHouseholdAdded   = "household:added"
	EventHouseholdUpdated = "household:updated"
	EventHouseholdDeleted = "household:deleted"
	EventHouseholdsLoaded = "households:loaded"
	EventChangeRecorded   = "change:recorded"
	EventChangeUndone     = "change:undone"
	EventResourcesUpdated = "resources:updated"
	EventRegionsChanged   = "regions:changed"
	EventFiltersChanged   = "filters:changed"
	EventHighlightChanged = "highlight:changed"
	// EventAll subscribes to every event.
	EventAll = "*"
)

type Event struct {
	Name      string
	Household *domain.Household
	Previous  *domain.Household
	Change    *domain.ChangeEntry
	Count     int
}

// Listener receives events after the mutation that raised them has been
// applied. Returned errors and panics are logged and otherwise ignored.
type Listener func(Event) error

type listener struct {
	id int
	fn Listener
}

type reservation struct {
	region    string
	clusterID int
}

type Store struct {
	mu          sync.RWMutex
	households  map[string]*domain.Household
	order       []string
	agg         *aggregate.Aggregator
	changes     []domain.ChangeEntry
	resources   domain.ResourceIndex
	filters     domain.Filters
	highlighted map[string]struct{}
	reserved    map[reservation]struct{}

	lmu       sync.Mutex
	listeners map[string][]listener
	nextID    int

	qmu      sync.Mutex
	queue    []Event
	draining bool

	logger *slog.Logger
	now    func() time.Time
}

func NewStore(logger *slog.Logger) *Store {
	return &Store{
		households:  make(map[string]*domain.Household),
		agg:         aggregate.New(),
		resources:   domain.BuildResourceIndex(nil),
		highlighted: make(map[string]struct{}),
		reserved:    make(map[reservation]struct{}),
		listeners:   make(map[string][]listener),
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe registers fn for an event name, or EventAll. The returned func
// removes the subscription.
func (s *Store) Subscribe(event string, fn Listener) func() {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners[event] = append(s.listeners[event], listener{id: id, fn: fn})

	return func() {
		s.lmu.Lock()
		defer s.lmu.Unlock()
		s.listeners[event] = slices.DeleteFunc(s.listeners[event], func(l listener) bool { return l.id == id })
	}
}

// enqueue must be called with s.mu held so events keep mutation order.
func (s *Store) enqueue(events ...Event) {
	s.qmu.Lock()
	s.queue = append(s.queue, events...)
	s.qmu.Unlock()
}

// unlockAndNotify releases the write lock and delivers queued events. A
// listener that mutates the store has its events delivered after it returns.
func (s *Store) unlockAndNotify() {
	s.mu.Unlock()

	s.qmu.Lock()
	if s.draining {
		s.qmu.Unlock()
		return
	}
	s.draining = true
	for len(s.queue) > 0 {
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.qmu.Unlock()
		s.notify(ev)
		s.qmu.Lock()
	}
	s.draining = false
	s.qmu.Unlock()
}

func (s *Store) notify(ev Event) {
	s.lmu.Lock()
	targets := slices.Concat(s.listeners[ev.Name], s.listeners[EventAll])
	s.lmu.Unlock()

	for _, l := range targets {
		s.call(l.fn, ev)
	}
}

func (s *Store) call(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("listener panicked", "event", ev.Name, "panic", r)
		}
	}()
	if err := fn(ev); err != nil {
		s.logger.Error("listener failed", "event", ev.Name, "error", err)
	}
}

// refreshResources rebuilds the resource index and reports whether it changed.
func (s *Store) refreshResources() bool {
	idx := domain.BuildResourceIndex(s.list())
	if idx.Equal(s.resources) {
		return false
	}
	s.resources = idx
	return true
}

func (s *Store) list() []*domain.Household {
	out := make([]*domain.Household, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.households[id])
	}
	return out
}

func (s *Store) insert(h *domain.Household) {
	s.households[h.ID] = h
	s.order = append(s.order, h.ID)
}

// insertAt puts h back at position i of the directory order.
func (s *Store) insertAt(h *domain.Household, i int) {
	s.households[h.ID] = h
	s.order = slices.Insert(s.order, min(max(i, 0), len(s.order)), h.ID)
}

func (s *Store) remove(id string) {
	delete(s.households, id)
	delete(s.highlighted, id)
	s.order = slices.DeleteFunc(s.order, func(o string) bool { return o == id })
}
