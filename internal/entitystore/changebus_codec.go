package entitystore

import (
	"encoding/json"

	"github.com/subgraphd/indexnode/internal/entity"
)

func marshalChange(c entity.Change) (json.RawMessage, error) {
	return json.Marshal(c)
}

func unmarshalChange(data []byte, out *entity.Change) error {
	return json.Unmarshal(data, out)
}
