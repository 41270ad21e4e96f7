package app

import (
	"context"

	"github.com/subgraphd/indexnode/internal/chainstore"
	"github.com/subgraphd/indexnode/internal/mappinghost"
)

// fakeResolver returns a fixed data source manifest per deployment.
type fakeResolver struct {
	byDeployment map[string][]mappinghost.DataSource
}

func (r *fakeResolver) DataSources(ctx context.Context, deployment string) ([]mappinghost.DataSource, error) {
	return r.byDeployment[deployment], nil
}

// fakeDecoder emits one synthetic "Transfer" event per block, letting tests
// observe the commit path without a real chain-specific log decoder.
type fakeDecoder struct {
	emit bool
}

func (d *fakeDecoder) DecodeEvents(ctx context.Context, block chainstore.Block, dataSources []mappinghost.DataSource) ([]mappinghost.Event, error) {
	if !d.emit {
		return nil, nil
	}
	return []mappinghost.Event{{
		Source:    block.Pointer(),
		Signature: "Transfer",
		Params:    nil,
	}}, nil
}

type fakeContentFetcher struct{}

func (fakeContentFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) { return nil, nil }
