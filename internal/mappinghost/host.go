// Package mappinghost implements the sandboxed mapping bytecode host (spec
// §5): one VM instance per data source, a host-function ABI surface, and a
// per-event operation buffer committed atomically at the block boundary by
// the caller. Grounded on the teacher's goja-based script engine
// (system/tee/script_engine.go) and its capability-gated runtime adapters
// (system/runtime/sandbox_runtime.go).
package mappinghost

import (
	"context"
	"fmt"
	"sync"

	"github.com/dop251/goja"

	"github.com/subgraphd/indexnode/internal/chain"
	"github.com/subgraphd/indexnode/internal/entity"
	"github.com/subgraphd/indexnode/internal/entitystore"
	pkgerrors "github.com/subgraphd/indexnode/pkg/errors"
	"github.com/subgraphd/indexnode/pkg/logger"
)

// ContentFetcher is the boundary to the out-of-scope content-addressed file
// service (spec §1), backing the `ipfs.cat` host function.
type ContentFetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// DataSource names one mapping: the deployment it belongs to, the compiled
// JavaScript source, and its declared event handlers. The mapping
// bytecode's actual instruction set is out of scope (spec §9 Non-goals);
// the host only needs a runnable script and an entry-point table.
type DataSource struct {
	ID         string
	Deployment string
	Network    string
	Script     string
	Handlers   map[string]string // event signature -> JS function name
}

// Event is the decoded chain event handed to a mapping handler. Its Params
// payload uses the same typed Value representation as stored entities so a
// handler can pass event fields straight into store.set without a second
// conversion layer.
type Event struct {
	Source    entity.BlockPointer
	Signature string
	Params    entity.Attributes
}

// Host runs mapping handlers in per-data-source sandboxed goja VMs.
type Host struct {
	log     *logger.Logger
	store   entitystore.Store
	chains  map[string]chain.Adapter // network -> adapter
	content ContentFetcher
	quota   *Quota

	mu  sync.Mutex
	vms map[string]*vmState
}

type vmState struct {
	ds  DataSource
	rt  *goja.Runtime
	buf *operationBuffer
}

// Config wires the host's external collaborators.
type Config struct {
	Store   entitystore.Store
	Chains  map[string]chain.Adapter
	Content ContentFetcher
	Quota   *Quota
}

func New(cfg Config, log *logger.Logger) *Host {
	return &Host{
		log:     log.Component("mappinghost"),
		store:   cfg.Store,
		chains:  cfg.Chains,
		content: cfg.Content,
		quota:   cfg.Quota,
		vms:     make(map[string]*vmState),
	}
}

// LoadDataSource compiles ds's script into a fresh VM and binds the host
// function ABI. One VM is created per data source and reused across
// events/blocks until the data source is removed.
func (h *Host) LoadDataSource(ds DataSource) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	rt := goja.New()
	buf := newOperationBuffer()

	adapter := h.chains[ds.Network]
	abi := &hostABI{
		host:       h,
		deployment: ds.Deployment,
		dataSource: ds.ID,
		buf:        buf,
		chain:      adapter,
	}
	if err := abi.bind(rt); err != nil {
		return fmt.Errorf("bind host ABI for data source %s: %w", ds.ID, err)
	}

	if _, err := rt.RunString(ds.Script); err != nil {
		return pkgerrors.MalformedInput(fmt.Sprintf("compile mapping script for %s: %v", ds.ID, err))
	}

	h.vms[ds.ID] = &vmState{ds: ds, rt: rt, buf: buf}
	return nil
}

// UnloadDataSource drops a data source's VM, releasing its resources.
func (h *Host) UnloadDataSource(dataSourceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.vms, dataSourceID)
}

// HandleEvent resets the data source's operation buffer, invokes the
// handler bound to event.Signature, and returns the operations the handler
// produced. The buffer is never applied directly: the caller (the block
// processor) hands the returned ops to the entity store at the block
// boundary (spec §5.1).
func (h *Host) HandleEvent(ctx context.Context, dataSourceID string, event Event) ([]entity.Op, error) {
	h.mu.Lock()
	state, ok := h.vms[dataSourceID]
	h.mu.Unlock()
	if !ok {
		return nil, pkgerrors.MalformedInput(fmt.Sprintf("unknown data source %s", dataSourceID))
	}

	handlerName, ok := state.ds.Handlers[event.Signature]
	if !ok {
		return nil, nil // no handler registered for this event, not an error
	}

	if h.quota != nil {
		if err := h.quota.Acquire(ctx); err != nil {
			return nil, err
		}
		defer h.quota.Release()
	}

	state.buf.reset()
	state.buf.setContext(ctx, event.Source)

	fn, ok := goja.AssertFunction(state.rt.Get(handlerName))
	if !ok {
		return nil, pkgerrors.MalformedInput(fmt.Sprintf("handler %s is not a function", handlerName))
	}

	params := state.rt.ToValue(attributesToJS(event.Params))

	result, err := h.runProtected(fn, state.rt, params)
	if err != nil {
		return nil, pkgerrors.HandlerTrap(state.ds.Deployment, state.ds.ID, handlerName, err)
	}
	_ = result

	return state.buf.ops, nil
}

// runProtected calls fn, converting both JS exceptions and Go panics raised
// by `env.abort` into a single error so the caller always sees a normal
// return rather than a crashed process. A panicking host function is a
// trapped handler, not a node-level failure (spec §7 "handler errors").
func (h *Host) runProtected(fn goja.Callable, rt *goja.Runtime, arg goja.Value) (result goja.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			if abortErr, ok := r.(abortPanic); ok {
				err = fmt.Errorf("mapping aborted: %s", abortErr.message)
				return
			}
			err = fmt.Errorf("mapping handler panicked: %v", r)
		}
	}()
	return fn(goja.Undefined(), arg)
}

func attributesToJS(attrs entity.Attributes) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = valueToJS(v)
	}
	return out
}
