// Package assignment implements the Assignment Provider (spec §4.5): it
// watches the Assignment entity type's change stream and starts/stops
// deployments on this node accordingly, observing the precise
// subscribe-before-read startup ordering the spec calls out by name.
package assignment

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/subgraphd/indexnode/internal/entity"
	"github.com/subgraphd/indexnode/internal/entitystore"
	pkgerrors "github.com/subgraphd/indexnode/pkg/errors"
	"github.com/subgraphd/indexnode/pkg/logger"
)

const (
	metaDeployment       = "subgraphs"
	assignmentEntityType = "Assignment"
)

// Runner is implemented by whatever drives one deployment's indexing loop
// (the chain-store sync loop feeding the mapping host). Start/Stop must be
// idempotent: a second Start on an already-running deployment returns
// pkgerrors.ErrAlreadyRunning, and a Stop on one not running returns
// pkgerrors.ErrNotRunning, so the reconciliation loop can absorb both
// silently per spec §4.5.
type Runner interface {
	Start(ctx context.Context, deployment string) error
	Stop(ctx context.Context, deployment string) error
}

// Provider runs the reconciliation loop described in spec §4.5.
type Provider struct {
	store         entitystore.Store
	runner        Runner
	selfNode      string
	reconcileCron string
	log           *logger.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	cron    *cron.Cron
}

// Config wires the provider's collaborators. ReconcileCron is a full
// safety-net reconciliation schedule (e.g. "@every 5m") re-running the
// startup recovery read, guarding against a missed or dropped change-bus
// notification; empty disables it.
type Config struct {
	Store         entitystore.Store
	Runner        Runner
	SelfNodeID    string
	ReconcileCron string
}

func New(cfg Config, log *logger.Logger) *Provider {
	return &Provider{
		store:         cfg.Store,
		runner:        cfg.Runner,
		selfNode:      cfg.SelfNodeID,
		reconcileCron: cfg.ReconcileCron,
		log:           log.Component("assignment"),
	}
}

// Run executes the startup race protocol from spec §4.5 and then blocks,
// consuming the change stream, until ctx is cancelled or Stop is called.
func (p *Provider) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return pkgerrors.ErrAlreadyRunning
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	// Step 1: subscribe before reading, so no assignment added between the
	// read and the subscribe is ever missed.
	changes, unsubscribe, err := p.store.Subscribe(ctx, map[entity.TypeKey]struct{}{
		{Deployment: metaDeployment, EntityType: assignmentEntityType}: {},
	})
	if err != nil {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		return fmt.Errorf("subscribe to assignment changes: %w", err)
	}
	defer unsubscribe()

	// Step 2: read the full table and start every entry already assigned
	// to this node, before consuming the just-opened stream.
	if err := p.reconcile(ctx); err != nil {
		return fmt.Errorf("initial assignment reconciliation: %w", err)
	}

	if p.reconcileCron != "" {
		p.cron = cron.New()
		if _, err := p.cron.AddFunc(p.reconcileCron, func() {
			if err := p.reconcile(ctx); err != nil {
				p.log.WithError(err).Warn("periodic assignment reconciliation failed")
			}
		}); err != nil {
			return fmt.Errorf("schedule reconciliation cron %q: %w", p.reconcileCron, err)
		}
		p.cron.Start()
		defer p.cron.Stop()
	}

	// Step 3: begin consuming the stream.
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case change, ok := <-changes:
			if !ok {
				return nil
			}
			if err := p.handleChange(ctx, change); err != nil {
				return err
			}
		}
	}
}

// Stop ends Run's consuming loop.
func (p *Provider) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	close(p.stopCh)
}

// reconcile re-reads the full Assignment table and starts every deployment
// currently assigned to this node. Safe to call repeatedly: Start is
// idempotent.
func (p *Provider) reconcile(ctx context.Context) error {
	assignments, err := p.store.Find(ctx, entity.EntityQuery{
		Deployment: metaDeployment,
		EntityType: assignmentEntityType,
	})
	if err != nil {
		return fmt.Errorf("list assignments: %w", err)
	}
	for _, a := range assignments {
		if a.Attributes["nodeId"].Str != p.selfNode {
			continue
		}
		p.start(ctx, a.Key.ID)
	}
	return nil
}

func (p *Provider) handleChange(ctx context.Context, change entity.Change) error {
	deployment := change.EntityID

	switch change.Op {
	case entity.ChangeRemove:
		return p.stop(ctx, deployment)

	case entity.ChangeSet:
		a, err := p.store.Get(ctx, entity.Key{Deployment: metaDeployment, Type: assignmentEntityType, ID: deployment})
		if err != nil {
			p.log.WithError(err).Warn("reading changed assignment")
			return nil
		}
		if a == nil {
			// Missing after an add/update: a later Removed notification
			// will arrive and drive the stop, per spec §4.5.
			return nil
		}
		if a.Attributes["nodeId"].Str == p.selfNode {
			p.start(ctx, deployment)
			return nil
		}
		return p.stop(ctx, deployment)
	}
	return nil
}

func (p *Provider) start(ctx context.Context, deployment string) {
	if err := p.runner.Start(ctx, deployment); err != nil {
		if pkgerrors.IsAlreadyRunning(err) {
			return
		}
		// A non-idempotent start failure is typically a user-authored
		// mapping defect (bad schema, unparseable script); log and keep
		// the reconciliation loop alive rather than crash the node.
		p.log.WithError(err).WithFields(map[string]any{"deployment": deployment}).
			Error("failed to start deployment")
		return
	}
	p.log.WithFields(map[string]any{"deployment": deployment}).Info("started deployment")
}

// stop is fatal to the reconciliation loop for any error other than
// NotRunning: a deployment that fails to stop may still be running and
// writing on a node no longer assigned to it (spec §4.5).
func (p *Provider) stop(ctx context.Context, deployment string) error {
	if err := p.runner.Stop(ctx, deployment); err != nil {
		if pkgerrors.IsNotRunning(err) {
			return nil
		}
		return fmt.Errorf("stop deployment %s: %w", deployment, err)
	}
	p.log.WithFields(map[string]any{"deployment": deployment}).Info("stopped deployment")
	return nil
}
