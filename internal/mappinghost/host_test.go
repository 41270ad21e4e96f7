package mappinghost

import (
	"context"
	"testing"

	"github.com/subgraphd/indexnode/internal/chain"
	"github.com/subgraphd/indexnode/internal/entity"
	"github.com/subgraphd/indexnode/pkg/logger"
)

const transferScript = `
function handleTransfer(params) {
    store.set("Transfer", params.id, {
        from: params.from,
        to: params.to,
        amount: params.amount,
    });
}

function handleTransferAbort(params) {
    env.abort("refusing to process", "mapping.js", 1, 1);
}
`

func newTestHost(t *testing.T) (*Host, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	h := New(Config{
		Store:  store,
		Chains: map[string]chain.Adapter{"mainnet": chain.NewFakeAdapter("mainnet-1")},
	}, logger.NewDefault("test"))
	return h, store
}

func TestHandleEventAppliesStoreSet(t *testing.T) {
	h, _ := newTestHost(t)
	ds := DataSource{
		ID:         "ds-1",
		Deployment: "Qm123",
		Network:    "mainnet",
		Script:     transferScript,
		Handlers:   map[string]string{"Transfer(address,address,uint256)": "handleTransfer"},
	}
	if err := h.LoadDataSource(ds); err != nil {
		t.Fatalf("LoadDataSource: %v", err)
	}

	event := Event{
		Source:    entity.BlockPointer{Hash: "0xabc", Number: 10},
		Signature: "Transfer(address,address,uint256)",
		Params: entity.Attributes{
			"id":     entity.String("evt-1"),
			"from":   entity.String("0x1"),
			"to":     entity.String("0x2"),
			"amount": entity.Int(100),
		},
	}

	ops, err := h.HandleEvent(context.Background(), "ds-1", event)
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(ops) != 1 || ops[0].Kind != entity.OpSet {
		t.Fatalf("expected one Set op, got %#v", ops)
	}
	if ops[0].Set.Key.ID != "evt-1" {
		t.Fatalf("unexpected key: %#v", ops[0].Set.Key)
	}
	if ops[0].Set.Data["to"].Str != "0x2" {
		t.Fatalf("unexpected attribute: %#v", ops[0].Set.Data["to"])
	}
}

func TestHandleEventUnknownSignatureReturnsNoOps(t *testing.T) {
	h, _ := newTestHost(t)
	ds := DataSource{
		ID:       "ds-1",
		Script:   transferScript,
		Handlers: map[string]string{"Transfer(address,address,uint256)": "handleTransfer"},
	}
	if err := h.LoadDataSource(ds); err != nil {
		t.Fatalf("LoadDataSource: %v", err)
	}

	ops, err := h.HandleEvent(context.Background(), "ds-1", Event{Signature: "Approval(address,address,uint256)"})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if ops != nil {
		t.Fatalf("expected nil ops for unregistered signature, got %#v", ops)
	}
}

func TestHandleEventAbortIsTrappedAsError(t *testing.T) {
	h, _ := newTestHost(t)
	ds := DataSource{
		ID:       "ds-1",
		Script:   transferScript,
		Handlers: map[string]string{"Transfer(address,address,uint256)": "handleTransferAbort"},
	}
	if err := h.LoadDataSource(ds); err != nil {
		t.Fatalf("LoadDataSource: %v", err)
	}

	_, err := h.HandleEvent(context.Background(), "ds-1", Event{Signature: "Transfer(address,address,uint256)"})
	if err == nil {
		t.Fatal("expected an error from an aborted handler")
	}
}

func TestHandleEventUnknownDataSource(t *testing.T) {
	h, _ := newTestHost(t)
	if _, err := h.HandleEvent(context.Background(), "missing", Event{}); err == nil {
		t.Fatal("expected error for unknown data source")
	}
}
