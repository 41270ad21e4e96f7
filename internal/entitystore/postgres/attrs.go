package postgres

import (
	"encoding/json"

	"github.com/subgraphd/indexnode/internal/entity"
)

// marshalAttributes encodes an attribute map for the entities.attributes
// JSONB column.
func marshalAttributes(attrs entity.Attributes) ([]byte, error) {
	if attrs == nil {
		attrs = entity.Attributes{}
	}
	return json.Marshal(attrs)
}

// unmarshalAttributes decodes an entities.attributes JSONB column value.
func unmarshalAttributes(data []byte) (entity.Attributes, error) {
	if len(data) == 0 {
		return entity.Attributes{}, nil
	}
	var attrs entity.Attributes
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}
