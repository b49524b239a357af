package bgp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/holo-routing/routingd/internal/event"
	"github.com/holo-routing/routingd/internal/ibus"
	"github.com/holo-routing/routingd/internal/instance"
	"github.com/holo-routing/routingd/internal/metrics"
	"github.com/holo-routing/routingd/internal/nbtxn"
	"github.com/holo-routing/routingd/internal/southbound"
	"github.com/holo-routing/routingd/internal/timer"
)

// redistributePeer is the synthetic Adj-RIB-In source key a
// redistributed (non-BGP) route is stored under, so the existing
// per-peer candidate machinery in RIB also carries redistributed routes
// without a second storage path.
func redistributePeer(protocol string) string { return "redistribute:" + protocol }

// resetRequired reports whether changing a neighbor's config from prev
// to cfg touches a parameter that cannot be applied to a live session:
// the MD5 key, the neighbor's AS, the local AS used toward it, eBGP
// multihop, or TTL security, any of which changes what TCP/BGP session
// is even valid.
func resetRequired(prev, cfg NeighborConfig) bool {
	return prev.MD5Key != cfg.MD5Key ||
		prev.PeerAS != cfg.PeerAS ||
		prev.LocalAS != cfg.LocalAS ||
		prev.EBGPMultihop != cfg.EBGPMultihop ||
		prev.TTLSecurity != cfg.TTLSecurity
}

// InstanceTree is the northbound working tree for one BGP instance:
// everything config changes can touch, cloned-on-write by the nbtxn
// engine before every transaction.
type InstanceTree struct {
	LocalAS        uint32
	RouterID       string
	FourOctetAS    bool
	Neighbors      map[string]NeighborConfig
	DecisionConfig DecisionConfig
}

func cloneInstanceTree(t *InstanceTree) *InstanceTree {
	n := &InstanceTree{
		LocalAS:        t.LocalAS,
		RouterID:       t.RouterID,
		FourOctetAS:    t.FourOctetAS,
		Neighbors:      make(map[string]NeighborConfig, len(t.Neighbors)),
		DecisionConfig: t.DecisionConfig,
	}
	for k, v := range t.Neighbors {
		n.Neighbors[k] = v
	}
	return n
}

// Instance is one running BGP routing instance: its FSMs, its shared
// RIB, its northbound transaction engine, and the event loop tying them
// together. One Instance per configured BGP routing domain.
type Instance struct {
	Name   string
	Loop   *instance.Loop
	NB     *nbtxn.Engine[InstanceTree]
	RIB    *RIB
	FIB    southbound.FIBWriter
	logger *zap.Logger

	peers map[string]*Peer
}

func NewInstance(name string, initial InstanceTree, fib southbound.FIBWriter, logger *zap.Logger) *Instance {
	named := logger.Named("bgp").With(zap.String("instance", name))
	loop := instance.NewLoop(64, named)

	if initial.DecisionConfig == (DecisionConfig{}) {
		initial.DecisionConfig = DefaultDecisionConfig()
	}

	inst := &Instance{
		Name:   name,
		Loop:   loop,
		RIB:    NewRIB(name),
		FIB:    fib,
		logger: named,
		peers:  make(map[string]*Peer),
	}
	inst.RIB.SetDecisionConfig(initial.DecisionConfig)
	inst.RIB.SetInvariantHook(func(err error) {
		named.Error("attribute store invariant violated, stopping instance", zap.Error(err))
		loop.Stop()
	})

	nb := nbtxn.New(&initial, cloneInstanceTree)
	nb.Register("/instance/local-as", nbtxn.Callback[InstanceTree]{
		Validate: func(working *InstanceTree, mod nbtxn.Modification) error {
			asn, ok := mod.Value.(uint32)
			if !ok || asn == 0 {
				return fmt.Errorf("bgp: local-as must be a non-zero uint32")
			}
			return nil
		},
		Apply: func(working *InstanceTree, mod nbtxn.Modification, q *event.Queue) error {
			asn := mod.Value.(uint32)
			if working.LocalAS == asn {
				return nil // idempotent: re-applying the same ASN is a no-op
			}
			working.LocalAS = asn
			q.Push(event.Event{Kind: event.InstanceUpdate})
			return nil
		},
	})
	nb.Register("/decision-config", nbtxn.Callback[InstanceTree]{
		Validate: func(working *InstanceTree, mod nbtxn.Modification) error {
			cfg, ok := mod.Value.(DecisionConfig)
			if !ok {
				return fmt.Errorf("bgp: decision-config requires a DecisionConfig value")
			}
			if cfg.EBGPMaxPaths < 0 || cfg.IBGPMaxPaths < 0 {
				return fmt.Errorf("bgp: max-paths must be non-negative")
			}
			return nil
		},
		Apply: func(working *InstanceTree, mod nbtxn.Modification, q *event.Queue) error {
			cfg := mod.Value.(DecisionConfig)
			if working.DecisionConfig == cfg {
				return nil // idempotent: unchanged config is a no-op
			}
			working.DecisionConfig = cfg
			q.Push(event.Event{Kind: event.InstanceUpdate})
			return nil
		},
	})
	nb.Register("/neighbor/", nbtxn.Callback[InstanceTree]{
		Validate: func(working *InstanceTree, mod nbtxn.Modification) error {
			if mod.Op == nbtxn.OpDelete {
				return nil
			}
			cfg, ok := mod.Value.(NeighborConfig)
			if !ok || cfg.Address == "" || cfg.PeerAS == 0 {
				return fmt.Errorf("bgp: neighbor config requires address and peer-as")
			}
			return nil
		},
		Apply: func(working *InstanceTree, mod nbtxn.Modification, q *event.Queue) error {
			addr := strings.TrimPrefix(mod.Path, "/neighbor/")
			switch mod.Op {
			case nbtxn.OpDelete:
				if _, exists := working.Neighbors[addr]; !exists {
					return nil // idempotent: nothing to delete
				}
				delete(working.Neighbors, addr)
				q.Push(event.Event{Kind: event.NeighborDelete, Addr: addr, Protocol: "bgp"})
			default:
				cfg := mod.Value.(NeighborConfig)
				prev, existed := working.Neighbors[addr]
				if existed && prev == cfg {
					return nil // idempotent: re-applying an unchanged config is a no-op
				}
				working.Neighbors[addr] = cfg
				if existed && resetRequired(prev, cfg) {
					q.Push(event.Event{
						Kind: event.NeighborReset,
						Addr: addr, Protocol: "bgp",
						Notification: event.Notification{Code: NotifCodeCease, SubCode: NotifSubCodeOtherConfigChange},
					})
				} else {
					q.Push(event.Event{Kind: event.NeighborUpdate, Addr: addr, Protocol: "bgp"})
				}
			}
			return nil
		},
	})
	inst.NB = nb

	for addr, cfg := range initial.Neighbors {
		inst.peers[addr] = NewPeer(cfg, loop.Timers, named)
	}

	inst.Loop.H = instance.Handlers{
		HandleNB: func(msg any) {
			mods, ok := msg.([]nbtxn.Modification)
			if !ok {
				return
			}
			events, err := inst.NB.Apply(mods)
			if err != nil {
				metrics.NBTransactionsTotal.WithLabelValues(inst.Name, "rejected").Inc()
				inst.logger.Warn("nb apply failed", zap.Error(err))
				return
			}
			metrics.NBTransactionsTotal.WithLabelValues(inst.Name, "applied").Inc()
			for _, ev := range events {
				inst.Loop.Queue.Push(ev)
			}
		},
		HandleProto: func(msg any) {
			raw, ok := msg.(RawMessage)
			if !ok {
				return
			}
			events, err := ParseUpdate(raw.Data, raw.HasAddPath)
			if err != nil {
				metrics.DecodeErrorsTotal.WithLabelValues("bgp", "update").Inc()
				inst.logger.Warn("update decode failed", zap.String("peer", raw.PeerAddr), zap.Error(err))
				return
			}
			start := time.Now()
			tree := inst.NB.Lookup()
			for _, ref := range inst.ApplyUpdate(raw.PeerAddr, events, tree.LocalAS) {
				inst.flushPrefix(ref)
			}
			metrics.DecisionDuration.WithLabelValues(inst.Name).Observe(time.Since(start).Seconds())
			if peer, ok := inst.peers[raw.PeerAddr]; ok {
				peer.FSM.Handle(EvUpdateReceived, nil)
			}
		},
		HandleTimer: func(tok timer.Token) {
			peer, ok := inst.peers[tok.Owner]
			if !ok {
				return
			}
			switch tok.Kind {
			case timer.KindConnectRetry:
				peer.FSM.Handle(EvConnectRetryTimerExpires, nil)
			case timer.KindHold:
				peer.FSM.Handle(EvHoldTimerExpires, nil)
			case timer.KindKeepalive:
				peer.FSM.Handle(EvKeepaliveTimerExpires, nil)
			}
		},
		HandleIBus: func(msg any) {
			rec, ok := msg.(ibus.Record)
			if !ok {
				return
			}
			switch rec.Class {
			case ibus.ClassRouteToFIB:
				re, err := ibus.UnmarshalRoute(rec.Payload)
				if err != nil {
					inst.logger.Warn("ibus route decode failed", zap.Error(err))
					return
				}
				peer := redistributePeer(re.Protocol)
				// IBUS carries IANA AFI codes (1 = IPv4, 2 = IPv6).
				afi := AFIPv4
				if re.AFI == 2 {
					afi = AFIPv6
				}
				ref := PrefixRef{AFI: afi, Prefix: re.Prefix}
				if re.Withdrawn {
					if inst.RIB.Withdraw(peer, afi, re.Prefix) {
						inst.flushPrefix(ref)
					}
					return
				}
				path := Path{AFI: afi, Prefix: re.Prefix, PeerAddr: peer, NextHop: re.NextHop, MED: re.Metric, PeerType: "redistribute"}
				if inst.RIB.Update(peer, path, attrKey{NextHop: re.NextHop, MED: re.Metric}) {
					inst.flushPrefix(ref)
				}
			}
		},
		HandleEvent: func(ev event.Event) {
			switch ev.Kind {
			case event.InstanceUpdate:
				tree := inst.NB.Lookup()
				inst.RIB.SetDecisionConfig(tree.DecisionConfig)
				for _, ref := range inst.RIB.Recompute() {
					inst.flushPrefix(ref)
				}
			case event.NeighborUpdate:
				tree := inst.NB.Lookup()
				if cfg, ok := tree.Neighbors[ev.Addr]; ok {
					if p, exists := inst.peers[ev.Addr]; exists {
						p.Config = cfg
					} else {
						inst.peers[ev.Addr] = NewPeer(cfg, inst.Loop.Timers, named)
					}
				}
			case event.NeighborReset:
				if peer, ok := inst.peers[ev.Addr]; ok {
					peer.FSM.Reset(ev.Notification.Code, ev.Notification.SubCode)
					for _, ref := range inst.RIB.WithdrawPeer(ev.Addr) {
						inst.flushPrefix(ref)
					}
					tree := inst.NB.Lookup()
					if cfg, ok := tree.Neighbors[ev.Addr]; ok {
						peer.Config = cfg
					}
					if !peer.Config.Passive {
						peer.FSM.Handle(EvManualStart, nil)
					}
				}
			case event.NeighborDelete:
				if _, ok := inst.peers[ev.Addr]; ok {
					inst.Loop.Timers.CancelOwner(ev.Addr)
					for _, ref := range inst.RIB.WithdrawPeer(ev.Addr) {
						inst.flushPrefix(ref)
					}
					delete(inst.peers, ev.Addr)
				}
			}
		},
		AdvanceDecision: func() {},
		FlushOutbound:   func() {},
	}

	return inst
}

// flushPrefix installs the prefix's current Loc-RIB result(s)
// southbound under its real address family: normally a single next
// hop, or one FIBWriter.AddRoute call per next hop when
// DecisionConfig's max-paths knobs selected a multipath group.
func (i *Instance) flushPrefix(ref PrefixRef) {
	ctx := context.Background()
	paths := i.RIB.LookupAll(ref.AFI, ref.Prefix)
	if len(paths) == 0 {
		i.FIB.WithdrawRoute(ctx, i.Name, ref.AFI, ref.Prefix)
		return
	}
	for _, path := range paths {
		i.FIB.AddRoute(ctx, i.Name, ref.AFI, ref.Prefix, path.NextHop, path.MED)
	}
}

// Ready reports instance-level readiness for /readyz: at least one
// configured peer is Established, or there are no peers configured at
// all (a passive/route-reflector-only instance with zero neighbors is
// trivially ready).
func (i *Instance) Ready() bool {
	if len(i.peers) == 0 {
		return true
	}
	for _, p := range i.peers {
		if p.Ready() {
			return true
		}
	}
	return false
}
