package assignment

import (
	"context"
	"sync"

	pkgerrors "github.com/subgraphd/indexnode/pkg/errors"
)

// fakeRunner records Start/Stop calls and lets a test script specific error
// behaviors per deployment (a pre-set "already running" on Start, or an
// arbitrary "stop" failure that the provider must treat as fatal).
type fakeRunner struct {
	mu       sync.Mutex
	running  map[string]bool
	startErr map[string]error
	stopErr  map[string]error
	started  []string
	stopped  []string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		running:  make(map[string]bool),
		startErr: make(map[string]error),
		stopErr:  make(map[string]error),
	}
}

func (r *fakeRunner) Start(ctx context.Context, deployment string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.startErr[deployment]; ok {
		return err
	}
	if r.running[deployment] {
		return pkgerrors.ErrAlreadyRunning
	}
	r.running[deployment] = true
	r.started = append(r.started, deployment)
	return nil
}

func (r *fakeRunner) Stop(ctx context.Context, deployment string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.stopErr[deployment]; ok {
		return err
	}
	if !r.running[deployment] {
		return pkgerrors.ErrNotRunning
	}
	delete(r.running, deployment)
	r.stopped = append(r.stopped, deployment)
	return nil
}

func (r *fakeRunner) isRunning(deployment string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running[deployment]
}
