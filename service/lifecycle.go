// Package service provides a minimal lifecycle manager shared by the idp
// and witness binaries: register the long-lived tasks a process owns
// (batcher, prover, publisher, handler, sync helper, listener, ...) and
// start/stop them together in priority order. Adapted from the teacher's
// node/lifecycle.go, trimmed to the pieces cmd/idp and cmd/witness
// actually need: no health-check map, no per-service timestamps — just
// ordered start, ordered stop, the first start error, and every stop
// error.
package service

import (
	"fmt"
	"sort"
	"sync"
)

// Service is a subsystem a binary starts at boot and stops at shutdown.
// Start must return once the subsystem is ready to do work (e.g. the
// listener is bound); it does not block for the subsystem's lifetime.
// Stop requests a clean shutdown and waits for it.
type Service interface {
	Name() string
	Start() error
	Stop() error
}

// entry pairs a Service with its start priority. Lower starts first and
// stops last, mirroring the teacher's LifecycleManager ordering.
type entry struct {
	svc      Service
	priority int
	started  bool
}

// Manager starts and stops a fixed set of services in priority order.
// Not reusable after StopAll.
type Manager struct {
	mu      sync.Mutex
	entries []*entry
	byName  map[string]*entry
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{byName: make(map[string]*entry)}
}

// Register adds svc to the manager. Lower priority values start first.
// Registering the same name twice is a programming error.
func (m *Manager) Register(svc Service, priority int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byName[svc.Name()]; exists {
		panic(fmt.Sprintf("service: %q registered twice", svc.Name()))
	}
	e := &entry{svc: svc, priority: priority}
	m.entries = append(m.entries, e)
	m.byName[svc.Name()] = e
}

// StartAll starts every registered service in ascending priority order.
// It stops and returns on the first failure, having already rolled back
// (stopped) every service it had started so far — a binary that can't
// come up fully should not leave a partial task graph running.
func (m *Manager) StartAll() error {
	m.mu.Lock()
	ordered := m.sorted()
	m.mu.Unlock()

	for i, e := range ordered {
		if err := e.svc.Start(); err != nil {
			m.rollback(ordered[:i])
			return fmt.Errorf("service: start %s: %w", e.svc.Name(), err)
		}
		e.started = true
	}
	return nil
}

// StopAll stops every started service in descending priority order
// (reverse of start order), collecting every error rather than stopping
// at the first one — a shutdown should make a best effort to tear down
// everything even if one service misbehaves.
func (m *Manager) StopAll() []error {
	m.mu.Lock()
	ordered := m.sorted()
	m.mu.Unlock()

	var errs []error
	for i := len(ordered) - 1; i >= 0; i-- {
		e := ordered[i]
		if !e.started {
			continue
		}
		if err := e.svc.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("service: stop %s: %w", e.svc.Name(), err))
		}
		e.started = false
	}
	return errs
}

func (m *Manager) rollback(started []*entry) {
	for i := len(started) - 1; i >= 0; i-- {
		started[i].svc.Stop()
	}
}

func (m *Manager) sorted() []*entry {
	out := make([]*entry, len(m.entries))
	copy(out, m.entries)
	sort.Slice(out, func(i, j int) bool { return out[i].priority < out[j].priority })
	return out
}
