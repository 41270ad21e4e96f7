package app

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/subgraphd/indexnode/internal/chain"
	"github.com/subgraphd/indexnode/internal/chainstore"
	"github.com/subgraphd/indexnode/internal/mappinghost"
	pkgerrors "github.com/subgraphd/indexnode/pkg/errors"
	"github.com/subgraphd/indexnode/pkg/logger"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

const transferMappingScript = `
function handleTransfer(params) {
    store.set("Transfer", "seen", {});
}
`

func newTestRuntime(deployment, network string, adapter *chain.FakeAdapter, decoder *fakeDecoder) (*Runtime, *fakeEntities, *fakeChainStore) {
	entities := newFakeEntities()
	chains := newFakeChainStore()
	host := mappinghost.New(mappinghost.Config{
		Store:   entities,
		Chains:  map[string]chain.Adapter{network: adapter},
		Content: fakeContentFetcher{},
	}, logger.NewDefault("test"))

	resolver := &fakeResolver{byDeployment: map[string][]mappinghost.DataSource{
		deployment: {{
			ID:         deployment + "-ds",
			Deployment: deployment,
			Network:    network,
			Script:     transferMappingScript,
			Handlers:   map[string]string{"Transfer": "handleTransfer"},
		}},
	}}

	rt := NewRuntime(RuntimeConfig{
		Entities:     entities,
		Chains:       chains,
		Adapters:     map[string]chain.Adapter{network: adapter},
		Host:         host,
		Resolver:     resolver,
		Decoder:      decoder,
		PollInterval: 5 * time.Millisecond,
		AncestorScan: 10,
	}, logger.NewDefault("test"))

	return rt, entities, chains
}

func addChain(adapter *chain.FakeAdapter, network string, from, to uint64) {
	for n := from; n <= to; n++ {
		parent := ""
		if n > 0 {
			parent = fmt.Sprintf("hash-%d", n-1)
		}
		adapter.AddBlock(chainstore.Block{
			Network:    network,
			Hash:       fmt.Sprintf("hash-%d", n),
			Number:     n,
			ParentHash: parent,
		})
	}
}

func TestRuntimeStartIsIdempotent(t *testing.T) {
	adapter := chain.NewFakeAdapter("mainnet-1")
	rt, _, _ := newTestRuntime("Qm1", "mainnet", adapter, &fakeDecoder{})

	if err := rt.Start(context.Background(), "Qm1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rt.Stop(context.Background(), "Qm1")

	if err := rt.Start(context.Background(), "Qm1"); !pkgerrors.IsAlreadyRunning(err) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestRuntimeStopIsIdempotent(t *testing.T) {
	adapter := chain.NewFakeAdapter("mainnet-1")
	rt, _, _ := newTestRuntime("Qm1", "mainnet", adapter, &fakeDecoder{})

	if err := rt.Start(context.Background(), "Qm1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := rt.Stop(context.Background(), "Qm1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := rt.Stop(context.Background(), "Qm1"); !pkgerrors.IsNotRunning(err) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestRuntimeAdvancesBlockPointerOnEmptyBlocks(t *testing.T) {
	adapter := chain.NewFakeAdapter("mainnet-1")
	addChain(adapter, "mainnet", 0, 3)
	rt, entities, _ := newTestRuntime("Qm1", "mainnet", adapter, &fakeDecoder{emit: false})

	if err := rt.Start(context.Background(), "Qm1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rt.Stop(context.Background(), "Qm1")

	waitFor(t, time.Second, func() bool {
		ptr, _ := entities.BlockPtr(context.Background(), "Qm1")
		return ptr.Number == 3
	})
}

func TestRuntimeCommitsMappingProducedOperations(t *testing.T) {
	adapter := chain.NewFakeAdapter("mainnet-1")
	addChain(adapter, "mainnet", 0, 1)
	rt, entities, _ := newTestRuntime("Qm1", "mainnet", adapter, &fakeDecoder{emit: true})

	if err := rt.Start(context.Background(), "Qm1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rt.Stop(context.Background(), "Qm1")

	waitFor(t, time.Second, func() bool {
		return entities.blockCount("Qm1") > 0
	})

	entities.mu.Lock()
	defer entities.mu.Unlock()
	found := false
	for _, b := range entities.batches {
		if b.deployment == "Qm1" && len(b.ops) > 0 {
			found = true
		}
	}
	if !found {
		t.Fatal("expected at least one committed batch with mapping-produced operations")
	}
}
