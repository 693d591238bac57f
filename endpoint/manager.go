package endpoint

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"anemobox/coalesce"
)

// DefaultCloseAfter is how long an endpoint stays open after its last use.
const DefaultCloseAfter = 30 * time.Second

// Factory creates an unopened endpoint.
type Factory func(name string) Endpoint

type entry struct {
	ep    Endpoint
	close *coalesce.Timer
	inUse int
}

// Manager opens endpoints on demand and closes them once they have been idle
// for a while. Bursts of calls keep pushing the close further out instead of
// opening and closing the database for every message.
type Manager struct {
	factory    Factory
	closeAfter time.Duration

	mu      sync.Mutex
	entries map[string]*entry
}

func NewManager(factory Factory, closeAfter time.Duration) *Manager {
	if closeAfter <= 0 {
		closeAfter = DefaultCloseAfter
	}
	return &Manager{
		factory:    factory,
		closeAfter: closeAfter,
		entries:    make(map[string]*entry),
	}
}

// With opens the named endpoint (or reopens it after an idle close), runs fn
// on it, and schedules the idle close.
func (m *Manager) With(ctx context.Context, name string, fn func(Endpoint) error) error {
	name = strings.TrimSpace(name)
	e := m.acquire(name)
	defer m.release(e)

	if err := e.ep.Open(ctx); err != nil {
		return err
	}
	return fn(e.ep)
}

func (m *Manager) acquire(name string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[name]
	if !ok {
		e = &entry{ep: m.factory(name)}
		e.close = coalesce.NewTimer(func() { m.closeIdle(e) })
		m.entries[name] = e
		if len(m.entries) > 1 {
			logrus.WithField("endpoints", m.namesLocked()).Warn("endpoint: more than one endpoint opened")
		}
	}
	e.inUse++
	return e
}

func (m *Manager) release(e *entry) {
	m.mu.Lock()
	e.inUse--
	m.mu.Unlock()
	e.close.ScheduleAfter(m.closeAfter)
}

func (m *Manager) closeIdle(e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.inUse > 0 {
		// The user's release schedules another close.
		return
	}
	if err := e.ep.Close(); err != nil {
		logrus.WithField("endpoint", e.ep.Name()).WithError(err).Warn("endpoint: delayed close failed")
	}
}

// Names lists the endpoints the manager knows, open or not.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.namesLocked()
}

func (m *Manager) namesLocked() []string {
	names := make([]string, 0, len(m.entries))
	for name := range m.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CloseAll closes every endpoint immediately.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	var first error
	for _, e := range entries {
		if err := e.ep.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
