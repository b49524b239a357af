package bgp

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/holo-routing/routingd/internal/nbtxn"
	"github.com/holo-routing/routingd/internal/southbound"
)

func TestInstanceNBAddNeighborCreatesPeer(t *testing.T) {
	inst := NewInstance("default", InstanceTree{LocalAS: 65001, RouterID: "10.0.0.1", Neighbors: map[string]NeighborConfig{}}, southbound.NoopFIBWriter{}, zap.NewNop())

	go inst.Loop.Run(testCtx(t))

	inst.Loop.NBIn <- []nbtxn.Modification{
		{Path: "/neighbor/10.0.0.2", Op: nbtxn.OpCreate, Value: NeighborConfig{Address: "10.0.0.2", PeerAS: 65002}},
	}

	waitUntil(t, func() bool {
		_, ok := inst.peers["10.0.0.2"]
		return ok
	})
}

func TestInstanceNBDeleteNeighborWithdrawsRIB(t *testing.T) {
	inst := NewInstance("default", InstanceTree{
		LocalAS:  65001,
		RouterID: "10.0.0.1",
		Neighbors: map[string]NeighborConfig{
			"10.0.0.2": {Address: "10.0.0.2", PeerAS: 65002},
		},
	}, southbound.NoopFIBWriter{}, zap.NewNop())

	inst.RIB.Update("10.0.0.2", Path{Prefix: "192.0.2.0/24", PeerAddr: "10.0.0.2"}, attrKey{})

	go inst.Loop.Run(testCtx(t))

	inst.Loop.NBIn <- []nbtxn.Modification{
		{Path: "/neighbor/10.0.0.2", Op: nbtxn.OpDelete},
	}

	waitUntil(t, func() bool {
		_, ok := inst.peers["10.0.0.2"]
		return !ok
	})

	if _, ok := inst.RIB.Lookup(AFIPv4, "192.0.2.0/24"); ok {
		t.Fatal("expected RIB entry withdrawn after neighbor delete")
	}
}

func TestInstanceProtoUpdateInstallsRoute(t *testing.T) {
	inst := NewInstance("default", InstanceTree{
		LocalAS:  65001,
		RouterID: "10.0.0.1",
		Neighbors: map[string]NeighborConfig{
			"10.0.0.2": {Address: "10.0.0.2", PeerAS: 65002},
		},
	}, southbound.NoopFIBWriter{}, zap.NewNop())

	go inst.Loop.Run(testCtx(t))

	inst.Loop.ProtoIn <- RawMessage{
		PeerAddr: "10.0.0.2",
		Data:     buildSimpleUpdate(t),
	}

	waitUntil(t, func() bool {
		_, ok := inst.RIB.Lookup(AFIPv4, "203.0.113.0/24")
		return ok
	})
}

// Changing the MD5 key on a live session must reset it with a
// Cease/OtherConfigurationChange rather than silently updating config
// under it.
func TestInstanceNeighborMD5KeyChangeResetsSession(t *testing.T) {
	inst := NewInstance("default", InstanceTree{
		LocalAS:  65001,
		RouterID: "10.0.0.1",
		Neighbors: map[string]NeighborConfig{
			"10.0.0.2": {Address: "10.0.0.2", PeerAS: 65002},
		},
	}, southbound.NoopFIBWriter{}, zap.NewNop())

	peer := inst.peers["10.0.0.2"]
	peer.FSM.Handle(EvManualStart, nil)
	peer.FSM.Handle(EvTCPConnectionConfirmed, nil)
	peer.FSM.Handle(EvOpenReceived, nil)
	peer.FSM.Handle(EvKeepaliveReceived, nil)
	if peer.FSM.State != StateEstablished {
		t.Fatalf("expected Established before reset, got %s", peer.FSM.State)
	}

	inst.RIB.Update("10.0.0.2", Path{Prefix: "192.0.2.0/24", PeerAddr: "10.0.0.2"}, attrKey{})

	go inst.Loop.Run(testCtx(t))

	inst.Loop.NBIn <- []nbtxn.Modification{
		{Path: "/neighbor/10.0.0.2", Op: nbtxn.OpCreate, Value: NeighborConfig{Address: "10.0.0.2", PeerAS: 65002, MD5Key: "secret"}},
	}

	// StateConnect is the last mutation of the reset sequence (RIB
	// purge, then config swap, then EvManualStart) so waiting for it
	// also guarantees the earlier steps have already happened.
	waitUntil(t, func() bool { return peer.FSM.State == StateConnect })

	if _, ok := inst.RIB.Lookup(AFIPv4, "192.0.2.0/24"); ok {
		t.Fatal("expected RIB entries purged by the reset")
	}
	if peer.Config.MD5Key != "secret" {
		t.Fatalf("expected peer config to pick up new MD5 key, got %q", peer.Config.MD5Key)
	}
}

// TestInstanceNeighborHoldTimeChangeDoesNotResetSession confirms a
// non-reset-requiring field update (hold-time) goes through the plain
// NeighborUpdate path and leaves an Established session alone.
func TestInstanceNeighborHoldTimeChangeDoesNotResetSession(t *testing.T) {
	inst := NewInstance("default", InstanceTree{
		LocalAS:  65001,
		RouterID: "10.0.0.1",
		Neighbors: map[string]NeighborConfig{
			"10.0.0.2": {Address: "10.0.0.2", PeerAS: 65002},
		},
	}, southbound.NoopFIBWriter{}, zap.NewNop())

	peer := inst.peers["10.0.0.2"]
	peer.FSM.Handle(EvManualStart, nil)
	peer.FSM.Handle(EvTCPConnectionConfirmed, nil)
	peer.FSM.Handle(EvOpenReceived, nil)
	peer.FSM.Handle(EvKeepaliveReceived, nil)

	go inst.Loop.Run(testCtx(t))

	inst.Loop.NBIn <- []nbtxn.Modification{
		{Path: "/neighbor/10.0.0.2", Op: nbtxn.OpCreate, Value: NeighborConfig{Address: "10.0.0.2", PeerAS: 65002, HoldTime: 30}},
	}

	waitUntil(t, func() bool { return peer.Config.HoldTime == 30 })
	if peer.FSM.State != StateEstablished {
		t.Fatalf("expected session to remain Established across a hold-time-only change, got %s", peer.FSM.State)
	}
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// buildSimpleUpdate constructs a minimal 19-byte-header BGP UPDATE
// announcing 203.0.113.0/24 with ORIGIN=IGP and NEXT_HOP=198.51.100.1,
// matching the on-the-wire layout internal/bgp/update.go expects.
func buildSimpleUpdate(t *testing.T) []byte {
	t.Helper()

	var attrs []byte
	// ORIGIN (type 1), flags 0x40 (well-known transitive), len 1, value 0 (IGP).
	attrs = append(attrs, 0x40, 1, 1, 0)
	// NEXT_HOP (type 3), flags 0x40, len 4, 198.51.100.1.
	attrs = append(attrs, 0x40, 3, 4, 198, 51, 100, 1)

	var nlri []byte
	// 203.0.113.0/24 -> prefix len 24, 3 octets.
	nlri = append(nlri, 24, 203, 0, 113)

	body := make([]byte, 0, 4+len(attrs)+len(nlri))
	body = binary.BigEndian.AppendUint16(body, 0) // withdrawn routes length
	body = binary.BigEndian.AppendUint16(body, uint16(len(attrs)))
	body = append(body, attrs...)
	body = append(body, nlri...)

	msg := make([]byte, BGPHeaderSize+len(body))
	msg[18] = BGPMsgTypeUpdate
	copy(msg[BGPHeaderSize:], body)
	return msg
}
