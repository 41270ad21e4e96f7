package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/subgraphd/indexnode/internal/chain"
	"github.com/subgraphd/indexnode/internal/chainstore"
	"github.com/subgraphd/indexnode/internal/entity"
	"github.com/subgraphd/indexnode/internal/entitystore"
	"github.com/subgraphd/indexnode/internal/mappinghost"
	pkgerrors "github.com/subgraphd/indexnode/pkg/errors"
	"github.com/subgraphd/indexnode/pkg/logger"
	"github.com/subgraphd/indexnode/pkg/metrics"
)

// DataSourceResolver loads a deployment's data source manifest (network,
// compiled mapping script, handler table). The manifest format is part of
// the mapping bytecode instruction set the core treats as given (spec §1
// Non-goals); the resolver is the boundary a concrete manifest reader
// (content-addressed fetch + parse) plugs into.
type DataSourceResolver interface {
	DataSources(ctx context.Context, deployment string) ([]mappinghost.DataSource, error)
}

// EventDecoder turns one fetched chain block into the decoded events its
// data sources declare handlers for. Log/wire decoding is an out-of-scope
// on-chain data format (spec §1 Non-goals); this is the boundary a
// chain-specific decoder plugs into.
type EventDecoder interface {
	DecodeEvents(ctx context.Context, block chainstore.Block, dataSources []mappinghost.DataSource) ([]mappinghost.Event, error)
}

// RuntimeConfig wires one Runtime's collaborators.
type RuntimeConfig struct {
	Entities     entitystore.Store
	Chains       chainstore.Store
	Adapters     map[string]chain.Adapter
	Host         *mappinghost.Host
	Resolver     DataSourceResolver
	Decoder      EventDecoder
	PollInterval time.Duration
	AncestorScan int
}

// Runtime drives the per-deployment chain-sync loop (spec §2 "data flow:
// chain adapter -> per-deployment event loop -> Mapping Host -> Entity
// Store"), and is the assignment.Runner the Assignment Provider starts and
// stops per spec §4.5. Grounded on the teacher's services/indexer.Syncer
// polling loop, generalized from a fixed set of configured networks to one
// goroutine per dynamically assigned deployment.
type Runtime struct {
	cfg RuntimeConfig
	log *logger.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
	done    map[string]chan struct{}
	count   int
}

func NewRuntime(cfg RuntimeConfig, log *logger.Logger) *Runtime {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.AncestorScan <= 0 {
		cfg.AncestorScan = 100
	}
	return &Runtime{
		cfg:     cfg,
		log:     log.Component("runtime"),
		running: make(map[string]context.CancelFunc),
		done:    make(map[string]chan struct{}),
	}
}

// Start loads the deployment's data sources into the mapping host and
// launches its sync loop. Idempotent per assignment.Runner's contract: a
// second Start on an already-running deployment returns ErrAlreadyRunning.
func (r *Runtime) Start(ctx context.Context, deployment string) error {
	r.mu.Lock()
	if _, ok := r.running[deployment]; ok {
		r.mu.Unlock()
		return pkgerrors.ErrAlreadyRunning
	}

	dataSources, err := r.cfg.Resolver.DataSources(ctx, deployment)
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("resolve data sources for %s: %w", deployment, err)
	}
	for _, ds := range dataSources {
		if err := r.cfg.Host.LoadDataSource(ds); err != nil {
			r.mu.Unlock()
			return fmt.Errorf("load data source %s: %w", ds.ID, err)
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.running[deployment] = cancel
	r.done[deployment] = done
	r.count++
	metrics.SetAssignmentsRunning(r.count)
	r.mu.Unlock()

	go func() {
		defer close(done)
		r.syncLoop(runCtx, deployment, dataSources)
	}()

	r.log.WithFields(map[string]any{"deployment": deployment}).Info("runtime started")
	return nil
}

// Stop cancels the deployment's sync loop, waits for it to exit, and
// unloads its data sources. Idempotent: stopping a deployment not running
// returns ErrNotRunning.
func (r *Runtime) Stop(ctx context.Context, deployment string) error {
	r.mu.Lock()
	cancel, ok := r.running[deployment]
	done := r.done[deployment]
	if ok {
		delete(r.running, deployment)
		delete(r.done, deployment)
		r.count--
		metrics.SetAssignmentsRunning(r.count)
	}
	r.mu.Unlock()
	if !ok {
		return pkgerrors.ErrNotRunning
	}

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	dataSources, err := r.cfg.Resolver.DataSources(ctx, deployment)
	if err == nil {
		for _, ds := range dataSources {
			r.cfg.Host.UnloadDataSource(ds.ID)
		}
	}
	return nil
}

func (r *Runtime) syncLoop(ctx context.Context, deployment string, dataSources []mappinghost.DataSource) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	r.syncOnce(ctx, deployment, dataSources)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.syncOnce(ctx, deployment, dataSources)
		}
	}
}

// syncOnce fetches the configured network adapter's current head block,
// caches it, and hands it to advanceTo, which reverts through any fork the
// head update reveals before processing it (spec §4.2 ancestor/fork
// handling). Only that head block is handled per poll: blocks between the
// deployment's pointer and the head are not fetched, so a deployment that
// already has a pointer and is more than one block behind the head does not
// advance.
func (r *Runtime) syncOnce(ctx context.Context, deployment string, dataSources []mappinghost.DataSource) {
	network := networkOf(dataSources)
	if network == "" {
		return
	}
	adapter := r.cfg.Adapters[network]
	if adapter == nil {
		r.log.WithFields(map[string]any{"deployment": deployment, "network": network}).
			Warn("no chain adapter configured for network")
		return
	}

	head, err := adapter.HeadBlock(ctx)
	if err != nil {
		r.log.WithError(err).WithFields(map[string]any{"deployment": deployment}).Warn("fetch chain head failed")
		return
	}
	if err := r.cfg.Chains.UpsertBlock(ctx, head); err != nil {
		r.log.WithError(err).WithFields(map[string]any{"deployment": deployment}).Warn("cache chain head failed")
		return
	}

	if err := r.advanceTo(ctx, deployment, network, dataSources, head); err != nil {
		r.log.WithError(err).WithFields(map[string]any{"deployment": deployment}).Warn("advance to chain head failed")
	}
}

// advanceTo resolves the network's canonical chain head by scanning every
// cached fork tip (spec §4.2 attempt_chain_head_update), then reverts
// deployment one block at a time, per spec §3's "decrement by exactly one
// block at a time", off any block the head update just orphaned, before
// attempting to process block against the resolved head.
func (r *Runtime) advanceTo(ctx context.Context, deployment, network string, dataSources []mappinghost.DataSource, block chainstore.Block) error {
	head, err := r.cfg.Chains.ChainHeadPtr(ctx, network)
	if err != nil {
		return fmt.Errorf("read chain head pointer: %w", err)
	}
	if head == block.Pointer() {
		return nil // already caught up to this head, nothing to advance
	}

	orphans, err := r.cfg.Chains.AttemptChainHeadUpdate(ctx, network, r.cfg.AncestorScan)
	if err != nil {
		return fmt.Errorf("attempt chain head update: %w", err)
	}
	orphaned := make(map[string]bool, len(orphans))
	for _, h := range orphans {
		orphaned[h] = true
	}

	for attempts := 0; attempts < r.cfg.AncestorScan; attempts++ {
		from, err := r.cfg.Entities.BlockPtr(ctx, deployment)
		if err != nil {
			return fmt.Errorf("read block pointer: %w", err)
		}
		if !orphaned[from.Hash] {
			break
		}
		if err := r.revertOneBlock(ctx, deployment, network); err != nil {
			return err
		}
	}

	head, err = r.cfg.Chains.ChainHeadPtr(ctx, network)
	if err != nil {
		return fmt.Errorf("read chain head pointer: %w", err)
	}
	if head != block.Pointer() {
		// the resolved canonical tip isn't the block this poll fetched;
		// the next poll will surface that chain's blocks for processing.
		return nil
	}
	return r.processBlock(ctx, deployment, network, block, dataSources)
}

func (r *Runtime) revertOneBlock(ctx context.Context, deployment, network string) error {
	from, err := r.cfg.Entities.BlockPtr(ctx, deployment)
	if err != nil {
		return fmt.Errorf("read block pointer: %w", err)
	}
	if from.IsZero() {
		return fmt.Errorf("cannot revert %s below genesis", deployment)
	}

	ancestor, err := r.cfg.Chains.AncestorBlock(ctx, network, from, from.Number-1)
	if err != nil {
		return fmt.Errorf("find ancestor block: %w", err)
	}
	if ancestor == nil {
		return fmt.Errorf("ancestor block for %s at %d not cached", network, from.Number-1)
	}

	to := ancestor.Pointer()
	if err := r.cfg.Entities.RevertBlockOperations(ctx, deployment, from, to); err != nil {
		return fmt.Errorf("revert block operations: %w", err)
	}
	metrics.RecordBlockReverted(deployment, network)
	r.log.WithFields(map[string]any{"deployment": deployment, "from": from.Number, "to": to.Number}).
		Warn("reverted deployment across reorg")
	return nil
}

// processBlock decodes block's events, runs each against its data source's
// mapping handler, and commits every resulting operation atomically with
// the block pointer advance (spec §4.1/§4.3).
func (r *Runtime) processBlock(ctx context.Context, deployment, network string, block chainstore.Block, dataSources []mappinghost.DataSource) error {
	from, err := r.cfg.Entities.BlockPtr(ctx, deployment)
	if err != nil {
		return fmt.Errorf("read block pointer: %w", err)
	}
	to := block.Pointer()
	if from.Number != 0 && to.Number != from.Number+1 {
		return fmt.Errorf("block %d does not extend %s's pointer at %d by one", to.Number, deployment, from.Number)
	}

	events, err := r.cfg.Decoder.DecodeEvents(ctx, block, dataSources)
	if err != nil {
		return fmt.Errorf("decode events for block %d: %w", block.Number, err)
	}

	var ops []entity.Op
	for _, ds := range dataSources {
		for _, event := range events {
			if _, handled := ds.Handlers[event.Signature]; !handled {
				continue
			}
			start := time.Now()
			dsOps, err := r.cfg.Host.HandleEvent(ctx, ds.ID, event)
			outcome := "ok"
			if err != nil {
				outcome = "trapped"
			}
			metrics.RecordHandlerInvocation(deployment, ds.ID, outcome, time.Since(start))
			if err != nil {
				return fmt.Errorf("handle event %s on data source %s: %w", event.Signature, ds.ID, err)
			}
			ops = append(ops, dsOps...)
		}
	}

	if len(ops) == 0 {
		err = r.cfg.Entities.SetBlockPtrWithNoChanges(ctx, deployment, from, to)
	} else {
		err = r.cfg.Entities.TransactBlockOperations(ctx, deployment, from, to, ops)
	}
	if err != nil {
		return err
	}

	metrics.RecordBlockProcessed(deployment, network)
	metrics.RecordOperationsCommitted(deployment, countOpsByKind(ops))
	return nil
}

func countOpsByKind(ops []entity.Op) map[string]int {
	counts := make(map[string]int, 3)
	for _, op := range ops {
		counts[string(op.Kind)]++
	}
	return counts
}

func networkOf(dataSources []mappinghost.DataSource) string {
	for _, ds := range dataSources {
		if ds.Network != "" {
			return ds.Network
		}
	}
	return ""
}
