package mappinghost

import (
	"context"
	"sync"

	"github.com/subgraphd/indexnode/internal/entity"
)

// operationBuffer accumulates the Set/Remove/AbortUnless operations a
// handler produces during a single event. It is cleared at the start of
// every HandleEvent call (spec §5.1: "per-event operation buffer cleared
// per event") and is never applied by the host itself.
type operationBuffer struct {
	mu     sync.Mutex
	ops    []entity.Op
	ctx    context.Context
	source entity.BlockPointer
}

func newOperationBuffer() *operationBuffer {
	return &operationBuffer{}
}

func (b *operationBuffer) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ops = nil
}

func (b *operationBuffer) setContext(ctx context.Context, source entity.BlockPointer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ctx = ctx
	b.source = source
}

func (b *operationBuffer) append(op entity.Op) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ops = append(b.ops, op)
}
