// Package nbtxn implements the northbound transaction engine: a
// two-phase (validate, apply) mutation of an instance's configuration
// tree, serialized with the event loop of the owning instance. Callbacks
// are registered by path prefix in a plain map keyed by string, and the
// transaction itself is just a slice of path/value modifications.
package nbtxn

import (
	"fmt"
	"sort"
	"strings"

	"github.com/holo-routing/routingd/internal/event"
)

// OpKind is the kind of mutation a Modification performs on the tree.
type OpKind int

const (
	OpCreate OpKind = iota
	OpModify
	OpDelete
)

func (o OpKind) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Modification is one leaf/list-entry mutation within a transaction,
// addressed by a YANG-shaped path (e.g. "/neighbors/10.0.0.2/peer-as").
// Value is nil for OpDelete.
type Modification struct {
	Path  string
	Op    OpKind
	Value any
}

// ValidateFunc checks one Modification against the transaction's working
// copy. It must not mutate working and must not enqueue events: a
// failing Validate leaves no side effects whatsoever.
type ValidateFunc[T any] func(working *T, mod Modification) error

// ApplyFunc mutates the working copy for one Modification and may
// enqueue zero or more Events. ApplyFunc is only ever invoked after
// every Modification in the transaction has passed Validate.
type ApplyFunc[T any] func(working *T, mod Modification, q *event.Queue) error

// Callback binds a Validate/Apply pair to every path with a given prefix.
type Callback[T any] struct {
	Validate ValidateFunc[T]
	Apply    ApplyFunc[T]
}

// CloneFunc produces the engine's "working copy" that validate/apply run
// against, leaving the committed tree untouched until Apply commits it.
type CloneFunc[T any] func(committed *T) *T

// Engine drives create/modify/delete transactions and lookups against
// one instance's configuration tree. It is not safe for concurrent use:
// NB mutations are serialized with the rest of the owning instance's
// event loop, so the engine is driven exclusively from that loop's
// NB-IN handler.
type Engine[T any] struct {
	committed *T
	clone     CloneFunc[T]
	callbacks map[string]Callback[T]
	prefixes  []string // kept sorted, longest-first, for prefix lookup
}

func New[T any](initial *T, clone CloneFunc[T]) *Engine[T] {
	return &Engine[T]{
		committed: initial,
		clone:     clone,
		callbacks: make(map[string]Callback[T]),
	}
}

// Register binds cb to every path with the given prefix. Registering the
// same prefix twice replaces the previous binding.
func (e *Engine[T]) Register(prefix string, cb Callback[T]) {
	if _, exists := e.callbacks[prefix]; !exists {
		e.prefixes = append(e.prefixes, prefix)
		sort.Slice(e.prefixes, func(i, j int) bool {
			return len(e.prefixes[i]) > len(e.prefixes[j])
		})
	}
	e.callbacks[prefix] = cb
}

// Lookup returns the current committed tree. Callers read fields off
// the returned tree directly; the tree is plain Go data, not an opaque
// handle.
func (e *Engine[T]) Lookup() *T {
	return e.committed
}

func (e *Engine[T]) callbackFor(path string) (Callback[T], bool) {
	for _, p := range e.prefixes {
		if strings.HasPrefix(path, p) {
			return e.callbacks[p], true
		}
	}
	return Callback[T]{}, false
}

// Apply runs the two-phase validate+apply transaction over mods and
// returns the events its apply callbacks enqueued. On any validation
// failure, the transaction aborts with no side effects: the committed
// tree is left exactly as it was, no events are returned, and the error
// is surfaced synchronously to the caller. No partial apply is possible.
func (e *Engine[T]) Apply(mods []Modification) ([]event.Event, error) {
	working := e.clone(e.committed)

	cbs := make([]Callback[T], len(mods))

	// Validate phase: runs entirely against the working copy. A mutation
	// observed by a later callback in this same phase is never visible,
	// since Validate callbacks must not mutate (only Apply may).
	for i, mod := range mods {
		cb, ok := e.callbackFor(mod.Path)
		if !ok {
			return nil, fmt.Errorf("nbtxn: no callback registered for path %q", mod.Path)
		}
		cbs[i] = cb
		if cb.Validate == nil {
			continue
		}
		if err := cb.Validate(working, mod); err != nil {
			return nil, fmt.Errorf("nbtxn: validate %s %s: %w", mod.Op, mod.Path, err)
		}
	}

	// Apply phase: mutates working and accumulates events. Nothing here
	// touches e.committed until every callback has succeeded.
	var q event.Queue
	for i, mod := range mods {
		if cbs[i].Apply == nil {
			continue
		}
		if err := cbs[i].Apply(working, mod, &q); err != nil {
			return nil, fmt.Errorf("nbtxn: apply %s %s: %w", mod.Op, mod.Path, err)
		}
	}

	// Commit: swap the working copy in, then hand the accumulated
	// events to the caller for draining.
	e.committed = working

	return q.Drain(), nil
}
