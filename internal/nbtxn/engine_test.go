package nbtxn

import (
	"fmt"
	"strings"
	"testing"

	"github.com/holo-routing/routingd/internal/event"
)

type fakeTree struct {
	ASN       uint32
	Neighbors map[string]bool
}

func cloneFakeTree(t *fakeTree) *fakeTree {
	n := &fakeTree{ASN: t.ASN, Neighbors: make(map[string]bool, len(t.Neighbors))}
	for k, v := range t.Neighbors {
		n.Neighbors[k] = v
	}
	return n
}

func newTestEngine() *Engine[fakeTree] {
	e := New(&fakeTree{Neighbors: map[string]bool{}}, cloneFakeTree)
	e.Register("/instance/asn", Callback[fakeTree]{
		Validate: func(w *fakeTree, mod Modification) error {
			asn, ok := mod.Value.(uint32)
			if !ok || asn == 0 {
				return fmt.Errorf("asn must be nonzero, got %v", mod.Value)
			}
			return nil
		},
		Apply: func(w *fakeTree, mod Modification, q *event.Queue) error {
			asn := mod.Value.(uint32)
			if w.ASN == asn {
				return nil // idempotent: re-applying the same ASN is a no-op
			}
			w.ASN = asn
			q.Push(event.Event{Kind: event.InstanceUpdate})
			return nil
		},
	})
	e.Register("/neighbors/", Callback[fakeTree]{
		Validate: func(w *fakeTree, mod Modification) error {
			if mod.Op == OpDelete {
				addr := strings.TrimPrefix(mod.Path, "/neighbors/")
				if !w.Neighbors[addr] {
					return fmt.Errorf("neighbor %s does not exist", addr)
				}
			}
			return nil
		},
		Apply: func(w *fakeTree, mod Modification, q *event.Queue) error {
			addr := strings.TrimPrefix(mod.Path, "/neighbors/")
			switch mod.Op {
			case OpCreate, OpModify:
				if w.Neighbors[addr] {
					return nil // idempotent: neighbor already present
				}
				w.Neighbors[addr] = true
				q.Push(event.Event{Kind: event.NeighborUpdate, Addr: addr})
			case OpDelete:
				if !w.Neighbors[addr] {
					return nil // idempotent: nothing to delete
				}
				delete(w.Neighbors, addr)
				q.Push(event.Event{Kind: event.NeighborDelete, Addr: addr})
			}
			return nil
		},
	})
	return e
}

func TestValidateFailureHasNoSideEffects(t *testing.T) {
	e := newTestEngine()
	_, err := e.Apply([]Modification{{Path: "/instance/asn", Op: OpModify, Value: uint32(0)}})
	if err == nil {
		t.Fatal("expected validation failure")
	}
	if e.Lookup().ASN != 0 {
		t.Fatalf("expected no mutation on validate failure, got ASN=%d", e.Lookup().ASN)
	}
}

func TestApplyCommitsAndDrainsEvents(t *testing.T) {
	e := newTestEngine()
	evs, err := e.Apply([]Modification{
		{Path: "/instance/asn", Op: OpModify, Value: uint32(65001)},
		{Path: "/neighbors/10.0.0.2", Op: OpCreate, Value: nil},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	if e.Lookup().ASN != 65001 {
		t.Fatalf("expected ASN committed, got %d", e.Lookup().ASN)
	}
	if !e.Lookup().Neighbors["10.0.0.2"] {
		t.Fatal("expected neighbor committed")
	}
}

// Applying the same configuration tree twice must yield no events on
// the second application.
func TestIdempotentConfigApply(t *testing.T) {
	e := newTestEngine()
	mods := []Modification{
		{Path: "/instance/asn", Op: OpModify, Value: uint32(65001)},
		{Path: "/neighbors/10.0.0.2", Op: OpCreate, Value: nil},
	}
	first, err := e.Apply(mods)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) == 0 {
		t.Fatal("expected events on first apply")
	}

	second, err := e.Apply(mods)
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 0 {
		t.Fatalf("expected no events on repeat apply of unchanged config, got %d", len(second))
	}
	if e.Lookup().ASN != 65001 || !e.Lookup().Neighbors["10.0.0.2"] {
		t.Fatal("expected identical committed state after repeat apply")
	}
}
