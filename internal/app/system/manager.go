// Package system provides the ordered start/stop lifecycle manager that
// wires indexnode's long-running components together, grounded on the
// teacher's applications/system.Manager: register in dependency order,
// start in that order rolling back on first failure, stop in reverse order
// tolerating partial starts.
package system

import (
	"context"
	"fmt"
	"sync"
)

// Service is any long-running component the application manages.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Manager starts and stops a fixed set of services in registration order
// (and its reverse), guarding against double start/stop and rolling a
// partially-started set back on failure.
type Manager struct {
	mu       sync.Mutex
	services []Service
	started  bool

	startOnce sync.Once
	stopOnce  sync.Once
}

func NewManager() *Manager {
	return &Manager{}
}

// Register adds a service to the managed set. Registering after Start
// returns an error: the start order is fixed once the manager is running.
func (m *Manager) Register(svc Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("register service %s: manager already started", svc.Name())
	}
	m.services = append(m.services, svc)
	return nil
}

// Start starts every registered service in registration order. If a
// service fails to start, every service started before it is stopped in
// reverse order before Start returns the failing service's error.
func (m *Manager) Start(ctx context.Context) error {
	var startErr error
	m.startOnce.Do(func() {
		m.mu.Lock()
		services := append([]Service(nil), m.services...)
		m.mu.Unlock()

		started := make([]Service, 0, len(services))
		for _, svc := range services {
			if err := svc.Start(ctx); err != nil {
				startErr = fmt.Errorf("start %s: %w", svc.Name(), err)
				for i := len(started) - 1; i >= 0; i-- {
					_ = started[i].Stop(ctx)
				}
				return
			}
			started = append(started, svc)
		}

		m.mu.Lock()
		m.started = true
		m.mu.Unlock()
	})
	return startErr
}

// Stop stops every registered service in reverse registration order,
// tolerating a partially- or never-started manager. It returns the first
// error encountered but always attempts every service.
func (m *Manager) Stop(ctx context.Context) error {
	var stopErr error
	m.stopOnce.Do(func() {
		m.mu.Lock()
		services := append([]Service(nil), m.services...)
		m.mu.Unlock()

		for i := len(services) - 1; i >= 0; i-- {
			if err := services[i].Stop(ctx); err != nil && stopErr == nil {
				stopErr = fmt.Errorf("stop %s: %w", services[i].Name(), err)
			}
		}
	})
	return stopErr
}
