// Package errors implements the error taxonomy from spec §7: client errors,
// transient store errors, AbortUnless failures, handler errors,
// configuration errors, and idempotent-duplicate errors.
package errors

import (
	"errors"
	"fmt"
)

// Code names one error kind from the taxonomy.
type Code string

const (
	// Client errors.
	CodeNameExists       Code = "NAME_EXISTS"
	CodeNameNotFound     Code = "NAME_NOT_FOUND"
	CodeMalformedInput   Code = "MALFORMED_INPUT"
	CodeUnsupportedOp    Code = "UNSUPPORTED_OPERATION"
	CodeEmptyQuery       Code = "EMPTY_QUERY"
	CodeMultipleSubscriptionFields Code = "MULTIPLE_SUBSCRIPTION_FIELDS"
	CodeDeploymentNotFound Code = "DEPLOYMENT_NOT_FOUND"

	// Transient store errors.
	CodeConnectionExhausted Code = "CONNECTION_EXHAUSTED"
	CodeSerializationConflict Code = "SERIALIZATION_CONFLICT"

	// AbortUnless failure.
	CodeAborted Code = "ABORTED"

	// Handler errors.
	CodeHandlerTrap    Code = "HANDLER_TRAP"
	CodeHostFunction   Code = "HOST_FUNCTION_FAILED"
	CodeResourceFetch  Code = "RESOURCE_FETCH_FAILED"

	// Configuration errors.
	CodeNetworkIdentityMismatch Code = "NETWORK_IDENTITY_MISMATCH"

	// Idempotent-duplicate errors.
	CodeAlreadyRunning Code = "ALREADY_RUNNING"
	CodeNotRunning     Code = "NOT_RUNNING"
)

// IndexError is a structured error carrying a taxonomy Code plus details.
type IndexError struct {
	Code    Code
	Message string
	Details map[string]any
	Err     error
}

func (e *IndexError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *IndexError) Unwrap() error { return e.Err }

func (e *IndexError) WithDetail(key string, value any) *IndexError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func New(code Code, message string) *IndexError {
	return &IndexError{Code: code, Message: message}
}

func Wrap(code Code, message string, err error) *IndexError {
	return &IndexError{Code: code, Message: message, Err: err}
}

// Client errors.

func NameExists(name string) *IndexError {
	return New(CodeNameExists, "subgraph name already exists").WithDetail("name", name)
}

func NameNotFound(name string) *IndexError {
	return New(CodeNameNotFound, "subgraph name not found").WithDetail("name", name)
}

func MalformedInput(reason string) *IndexError {
	return New(CodeMalformedInput, reason)
}

func UnsupportedOperation(reason string) *IndexError {
	return New(CodeUnsupportedOp, reason)
}

// EmptyQuery is returned when a subscription document names no top-level
// field (spec §4.6 step 1).
func EmptyQuery() *IndexError {
	return New(CodeEmptyQuery, "subscription selects no top-level field")
}

// MultipleSubscriptionFields is returned when a subscription document names
// more than one top-level field; the subscription engine allows exactly one
// (spec §4.6 step 1).
func MultipleSubscriptionFields(count int) *IndexError {
	return New(CodeMultipleSubscriptionFields, "subscription must select exactly one top-level field").
		WithDetail("field_count", count)
}

// DeploymentNotFound is returned when a subgraph name or deployment id
// cannot be resolved to a deployed subgraph (spec §6, WebSocket 404).
func DeploymentNotFound(ref string) *IndexError {
	return New(CodeDeploymentNotFound, "no deployed subgraph for reference").WithDetail("ref", ref)
}

// Transient store errors.

func ConnectionExhausted(err error) *IndexError {
	return Wrap(CodeConnectionExhausted, "connection pool exhausted", err)
}

func SerializationConflict(err error) *IndexError {
	return Wrap(CodeSerializationConflict, "transaction serialization conflict", err)
}

// AbortUnless failure.

// ErrAborted is the sentinel checked via errors.Is against AbortError.
var ErrAborted = errors.New("abort_unless: transaction aborted")

// AbortError carries the expected/actual id lists for diagnostics (spec §7).
type AbortError struct {
	Description string
	Expected    []string
	Actual      []string
	// Extra lists ids present in Actual but not Expected; Missing lists ids
	// present in Expected but not Actual. Supplements the spec's bare
	// expected/actual pair with the same diff the registrar's guard-failure
	// log line needs (see original_source/core/src/subgraph/registrar.rs).
	Extra   []string
	Missing []string
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("abort_unless %q: expected %v, got %v", e.Description, e.Expected, e.Actual)
}

func (e *AbortError) Is(target error) bool { return target == ErrAborted }

// Abort constructs an AbortError, computing the Extra/Missing diff.
func Abort(description string, expected, actual []string) *AbortError {
	expSet := make(map[string]struct{}, len(expected))
	for _, id := range expected {
		expSet[id] = struct{}{}
	}
	actSet := make(map[string]struct{}, len(actual))
	for _, id := range actual {
		actSet[id] = struct{}{}
	}
	var extra, missing []string
	for _, id := range actual {
		if _, ok := expSet[id]; !ok {
			extra = append(extra, id)
		}
	}
	for _, id := range expected {
		if _, ok := actSet[id]; !ok {
			missing = append(missing, id)
		}
	}
	return &AbortError{
		Description: description,
		Expected:    expected,
		Actual:      actual,
		Extra:       extra,
		Missing:     missing,
	}
}

// Handler errors.

func HandlerTrap(deployment, dataSource, handler string, err error) *IndexError {
	return Wrap(CodeHandlerTrap, "mapping handler trapped", err).
		WithDetail("deployment", deployment).
		WithDetail("data_source", dataSource).
		WithDetail("handler", handler)
}

func HostFunctionFailed(fn string, err error) *IndexError {
	return Wrap(CodeHostFunction, "host function failed", err).WithDetail("function", fn)
}

func ResourceFetchFailed(kind, ref string, err error) *IndexError {
	return Wrap(CodeResourceFetch, "resource fetch failed", err).
		WithDetail("kind", kind).
		WithDetail("ref", ref)
}

// Configuration errors.

func NetworkIdentityMismatch(network string, err error) *IndexError {
	return Wrap(CodeNetworkIdentityMismatch, "chain network identity mismatch", err).
		WithDetail("network", network)
}

// Idempotent-duplicate errors.

var (
	ErrAlreadyRunning = New(CodeAlreadyRunning, "already running")
	ErrNotRunning     = New(CodeNotRunning, "not running")
)

// IsAlreadyRunning / IsNotRunning let reconciliation loops absorb the
// idempotent-duplicate cases silently per spec §4.5/§7.
func IsAlreadyRunning(err error) bool {
	var ie *IndexError
	return errors.As(err, &ie) && ie.Code == CodeAlreadyRunning
}

func IsNotRunning(err error) bool {
	var ie *IndexError
	return errors.As(err, &ie) && ie.Code == CodeNotRunning
}

// AsAbort extracts an *AbortError from the error chain, if any.
func AsAbort(err error) (*AbortError, bool) {
	var ae *AbortError
	ok := errors.As(err, &ae)
	return ae, ok
}
