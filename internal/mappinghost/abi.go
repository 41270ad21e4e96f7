package mappinghost

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/dop251/goja"
	"golang.org/x/crypto/sha3"

	"github.com/subgraphd/indexnode/internal/chain"
	"github.com/subgraphd/indexnode/internal/entity"
)

// abortPanic is recovered by Host.runProtected and turned into a
// HandlerTrap error; env.abort is implemented as a panic rather than a
// returned error because goja host functions have no other way to unwind
// out of deeply nested script call frames.
type abortPanic struct {
	message string
	file    string
	line    int
}

// hostABI binds the store/ethereum/ipfs/typeConversion/json/env surfaces
// (spec §5.2) into a goja.Runtime, scoped to one data source.
type hostABI struct {
	host       *Host
	deployment string
	dataSource string
	buf        *operationBuffer
	chain      chain.Adapter
}

func (a *hostABI) bind(rt *goja.Runtime) error {
	binders := []func(*goja.Runtime) error{
		a.bindStore,
		a.bindEthereum,
		a.bindIPFS,
		a.bindTypeConversion,
		a.bindJSON,
		a.bindEnv,
	}
	for _, bind := range binders {
		if err := bind(rt); err != nil {
			return err
		}
	}
	return nil
}

func (a *hostABI) bindStore(rt *goja.Runtime) error {
	store := rt.NewObject()

	if err := store.Set("set", func(call goja.FunctionCall) goja.Value {
		entityType := call.Argument(0).String()
		id := call.Argument(1).String()
		raw, ok := call.Argument(2).Export().(map[string]any)
		if !ok {
			panic(rt.ToValue("store.set: third argument must be an object"))
		}
		attrs, err := jsObjectToAttributes(raw)
		if err != nil {
			panic(rt.ToValue(fmt.Sprintf("store.set: %v", err)))
		}
		key := entity.Key{Deployment: a.deployment, Type: entityType, ID: id}
		a.buf.append(entity.Set(key, attrs))
		return goja.Undefined()
	}); err != nil {
		return err
	}

	if err := store.Set("remove", func(call goja.FunctionCall) goja.Value {
		entityType := call.Argument(0).String()
		id := call.Argument(1).String()
		key := entity.Key{Deployment: a.deployment, Type: entityType, ID: id}
		a.buf.append(entity.Remove(key))
		return goja.Undefined()
	}); err != nil {
		return err
	}

	// get reads committed state only: the current event's own buffered
	// writes are not visible to itself or later events in the same block
	// (spec §5.1 Open Question, decided: intra-block visibility is
	// committed-state-only).
	if err := store.Set("get", func(call goja.FunctionCall) goja.Value {
		entityType := call.Argument(0).String()
		id := call.Argument(1).String()
		key := entity.Key{Deployment: a.deployment, Type: entityType, ID: id}

		e, err := a.host.store.Get(a.buf.ctx, key)
		if err != nil {
			panic(rt.ToValue(fmt.Sprintf("store.get: %v", err)))
		}
		if e == nil {
			return goja.Null()
		}
		return rt.ToValue(attributesToJS(e.Attributes))
	}); err != nil {
		return err
	}

	return rt.Set("store", store)
}

func (a *hostABI) bindEthereum(rt *goja.Runtime) error {
	ethereum := rt.NewObject()

	if err := ethereum.Set("call", func(call goja.FunctionCall) goja.Value {
		if a.chain == nil {
			panic(rt.ToValue("ethereum.call: no chain adapter configured for this network"))
		}
		contract := call.Argument(0).String()
		function := call.Argument(1).String()

		rawArgs, _ := call.Argument(2).Export().([]any)
		args := make([]entity.Value, 0, len(rawArgs))
		for _, ra := range rawArgs {
			v, err := jsToValue(ra)
			if err != nil {
				panic(rt.ToValue(fmt.Sprintf("ethereum.call: argument: %v", err)))
			}
			args = append(args, v)
		}

		result, err := a.chain.Call(a.buf.ctx, chain.CallRequest{
			Contract: contract,
			Function: function,
			Args:     args,
			Block:    a.buf.source,
		})
		if err != nil {
			panic(rt.ToValue(fmt.Sprintf("ethereum.call: %v", err)))
		}
		return rt.ToValue(string(result))
	}); err != nil {
		return err
	}

	return rt.Set("ethereum", ethereum)
}

func (a *hostABI) bindIPFS(rt *goja.Runtime) error {
	ipfs := rt.NewObject()

	if err := ipfs.Set("cat", func(call goja.FunctionCall) goja.Value {
		if a.host.content == nil {
			panic(rt.ToValue("ipfs.cat: no content fetcher configured"))
		}
		ref := call.Argument(0).String()
		data, err := a.host.content.Fetch(a.buf.ctx, ref)
		if err != nil {
			panic(rt.ToValue(fmt.Sprintf("ipfs.cat: %v", err)))
		}
		return rt.ToValue(string(data))
	}); err != nil {
		return err
	}

	return rt.Set("ipfs", ipfs)
}

func (a *hostABI) bindTypeConversion(rt *goja.Runtime) error {
	tc := rt.NewObject()

	set := func(name string, fn func(goja.FunctionCall) goja.Value) error {
		return tc.Set(name, fn)
	}

	if err := set("bytesToHex", func(call goja.FunctionCall) goja.Value {
		return rt.ToValue(call.Argument(0).String())
	}); err != nil {
		return err
	}
	if err := set("bigIntToString", func(call goja.FunctionCall) goja.Value {
		exported := call.Argument(0).Export()
		if m, ok := exported.(map[string]any); ok {
			if s, ok := m[bigIntTag].(string); ok {
				return rt.ToValue(s)
			}
		}
		return rt.ToValue(fmt.Sprint(exported))
	}); err != nil {
		return err
	}
	if err := set("toBigInt", func(call goja.FunctionCall) goja.Value {
		return rt.ToValue(map[string]any{bigIntTag: call.Argument(0).String()})
	}); err != nil {
		return err
	}
	if err := set("stringToBytes", func(call goja.FunctionCall) goja.Value {
		return rt.ToValue("0x" + fmt.Sprintf("%x", []byte(call.Argument(0).String())))
	}); err != nil {
		return err
	}
	if err := set("keccak256", func(call goja.FunctionCall) goja.Value {
		input := call.Argument(0).String()
		input = strings.TrimPrefix(input, "0x")
		raw, err := hex.DecodeString(input)
		if err != nil {
			raw = []byte(call.Argument(0).String())
		}
		sum := sha3.NewLegacyKeccak256()
		sum.Write(raw)
		return rt.ToValue("0x" + hex.EncodeToString(sum.Sum(nil)))
	}); err != nil {
		return err
	}
	if err := set("hash160ToHash256", func(call goja.FunctionCall) goja.Value {
		raw, err := decodeFixedWidthHex(call.Argument(0).String(), 20)
		if err != nil {
			panic(rt.ToValue(fmt.Sprintf("typeConversion.hash160ToHash256: %v", err)))
		}
		padded := make([]byte, 32)
		copy(padded[12:], raw)
		return rt.ToValue("0x" + hex.EncodeToString(padded))
	}); err != nil {
		return err
	}
	if err := set("hash256ToHash160", func(call goja.FunctionCall) goja.Value {
		raw, err := decodeFixedWidthHex(call.Argument(0).String(), 32)
		if err != nil {
			panic(rt.ToValue(fmt.Sprintf("typeConversion.hash256ToHash160: %v", err)))
		}
		for _, b := range raw[:12] {
			if b != 0 {
				panic(rt.ToValue("typeConversion.hash256ToHash160: value does not fit in 160 bits"))
			}
		}
		return rt.ToValue("0x" + hex.EncodeToString(raw[12:]))
	}); err != nil {
		return err
	}
	if err := set("stringToAddress", func(call goja.FunctionCall) goja.Value {
		raw, err := decodeFixedWidthHex(call.Argument(0).String(), 20)
		if err != nil {
			panic(rt.ToValue(fmt.Sprintf("typeConversion.stringToAddress: %v", err)))
		}
		return rt.ToValue("0x" + hex.EncodeToString(raw))
	}); err != nil {
		return err
	}

	return rt.Set("typeConversion", tc)
}

// decodeFixedWidthHex decodes an optionally "0x"-prefixed hex string and
// requires it to be exactly width bytes wide.
func decodeFixedWidthHex(s string, width int) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%q is not valid hex: %w", s, err)
	}
	if len(raw) != width {
		return nil, fmt.Errorf("%q is %d bytes, expected %d", s, len(raw), width)
	}
	return raw, nil
}

func (a *hostABI) bindJSON(rt *goja.Runtime) error {
	j := rt.NewObject()

	if err := j.Set("fromBytes", func(call goja.FunctionCall) goja.Value {
		raw := call.Argument(0).String()
		val, err := rt.RunString(fmt.Sprintf("(%s)", raw))
		if err != nil {
			panic(rt.ToValue(fmt.Sprintf("json.fromBytes: %v", err)))
		}
		return val
	}); err != nil {
		return err
	}
	if err := j.Set("toI64", func(call goja.FunctionCall) goja.Value {
		return rt.ToValue(call.Argument(0).ToInteger())
	}); err != nil {
		return err
	}
	if err := j.Set("toU64", func(call goja.FunctionCall) goja.Value {
		n := call.Argument(0).ToInteger()
		if n < 0 {
			panic(rt.ToValue("json.toU64: negative value"))
		}
		return rt.ToValue(n)
	}); err != nil {
		return err
	}
	if err := j.Set("toF64", func(call goja.FunctionCall) goja.Value {
		return rt.ToValue(call.Argument(0).ToFloat())
	}); err != nil {
		return err
	}
	if err := j.Set("toBigInt", func(call goja.FunctionCall) goja.Value {
		s := call.Argument(0).String()
		if _, ok := new(big.Int).SetString(s, 10); !ok {
			panic(rt.ToValue(fmt.Sprintf("json.toBigInt: %q is not a decimal integer", s)))
		}
		return rt.ToValue(map[string]any{bigIntTag: s})
	}); err != nil {
		return err
	}
	// path extracts a single field from a decoded JSON value by JSONPath
	// expression, for mappings that only need one or two fields out of a
	// larger ipfs.cat payload without walking the whole object in script.
	if err := j.Set("path", func(call goja.FunctionCall) goja.Value {
		decoded := call.Argument(0).Export()
		expr := call.Argument(1).String()
		result, err := jsonpath.Get(expr, decoded)
		if err != nil {
			panic(rt.ToValue(fmt.Sprintf("json.path: %v", err)))
		}
		return rt.ToValue(result)
	}); err != nil {
		return err
	}

	return rt.Set("json", j)
}

func (a *hostABI) bindEnv(rt *goja.Runtime) error {
	env := rt.NewObject()

	if err := env.Set("abort", func(call goja.FunctionCall) goja.Value {
		panic(abortPanic{
			message: call.Argument(0).String(),
			file:    call.Argument(1).String(),
			line:    int(call.Argument(2).ToInteger()),
		})
	}); err != nil {
		return err
	}

	return rt.Set("env", env)
}
