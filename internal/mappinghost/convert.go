package mappinghost

import (
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"github.com/subgraphd/indexnode/internal/entity"
)

// bigIntTag marks a plain JS object as carrying an arbitrary-precision
// integer; typeConversion.toBigInt produces values of this shape so that
// jsToValue can recover entity.KindBigInt instead of losing precision to a
// JS number.
const bigIntTag = "__bigint"

// valueToJS converts a stored entity.Value into the native Go type goja
// exposes to script code as a JS value.
func valueToJS(v entity.Value) any {
	switch v.Kind {
	case entity.KindNull:
		return nil
	case entity.KindString, entity.KindID:
		return v.Str
	case entity.KindInt:
		return v.Int
	case entity.KindBigInt:
		return map[string]any{bigIntTag: v.BigInt}
	case entity.KindFloat:
		return v.Float
	case entity.KindBool:
		return v.Bool
	case entity.KindBytes:
		return "0x" + hex.EncodeToString(v.Bytes)
	case entity.KindList:
		out := make([]any, len(v.Elems))
		for i, e := range v.Elems {
			out[i] = valueToJS(e)
		}
		return out
	default:
		return nil
	}
}

// jsToValue converts a JS value exported from goja (via Value.Export())
// back into an entity.Value, inferring Kind from the exported Go type.
func jsToValue(exported any) (entity.Value, error) {
	switch v := exported.(type) {
	case nil:
		return entity.Null(), nil
	case bool:
		return entity.Bool(v), nil
	case int64:
		return entity.Int(v), nil
	case int:
		return entity.Int(int64(v)), nil
	case float64:
		if v == math.Trunc(v) && !math.IsInf(v, 0) {
			return entity.Int(int64(v)), nil
		}
		return entity.Float(v), nil
	case string:
		if strings.HasPrefix(v, "0x") {
			b, err := hex.DecodeString(strings.TrimPrefix(v, "0x"))
			if err == nil {
				return entity.Bytes(b), nil
			}
		}
		return entity.String(v), nil
	case map[string]any:
		if tagged, ok := v[bigIntTag]; ok {
			s, _ := tagged.(string)
			return entity.BigInt(s), nil
		}
		return entity.Value{}, fmt.Errorf("cannot convert plain object to a scalar value; use typeConversion helpers")
	case []any:
		elems := make([]entity.Value, len(v))
		elemKind := entity.KindString
		for i, e := range v {
			ev, err := jsToValue(e)
			if err != nil {
				return entity.Value{}, err
			}
			elems[i] = ev
			if i == 0 {
				elemKind = ev.Kind
			}
		}
		return entity.List(elemKind, elems...), nil
	default:
		return entity.Value{}, fmt.Errorf("unsupported JS value type %T", exported)
	}
}

// jsObjectToAttributes converts a plain JS object exported as
// map[string]any into an Attributes map, keyed by attribute name.
func jsObjectToAttributes(exported map[string]any) (entity.Attributes, error) {
	attrs := make(entity.Attributes, len(exported))
	for k, raw := range exported {
		v, err := jsToValue(raw)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		attrs[k] = v
	}
	return attrs, nil
}
