package ldp

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/holo-routing/routingd/internal/event"
	"github.com/holo-routing/routingd/internal/ibus"
	"github.com/holo-routing/routingd/internal/instance"
	"github.com/holo-routing/routingd/internal/metrics"
	"github.com/holo-routing/routingd/internal/nbtxn"
	"github.com/holo-routing/routingd/internal/southbound"
	"github.com/holo-routing/routingd/internal/timer"
)

// InstanceTree is the northbound working tree for one LDP instance.
type InstanceTree struct {
	LSRID          string
	HelloAccept    bool // instance-wide targeted-hello gate
	Interfaces     map[string]bool
	TargetedPeers  map[string]PeerConfig
}

func cloneInstanceTree(t *InstanceTree) *InstanceTree {
	n := &InstanceTree{
		LSRID:         t.LSRID,
		HelloAccept:   t.HelloAccept,
		Interfaces:    make(map[string]bool, len(t.Interfaces)),
		TargetedPeers: make(map[string]PeerConfig, len(t.TargetedPeers)),
	}
	for k, v := range t.Interfaces {
		n.Interfaces[k] = v
	}
	for k, v := range t.TargetedPeers {
		n.TargetedPeers[k] = v
	}
	return n
}

// Instance is one running LDP instance: its sessions, its shared LIB,
// and the event loop tying them together. One Instance per configured
// LDP routing domain.
type Instance struct {
	Name   string
	Loop   *instance.Loop
	NB     *nbtxn.Engine[InstanceTree]
	LIB    *LIB
	FIB    southbound.FIBWriter
	logger *zap.Logger

	sessions map[string]*Session
}

func NewInstance(name string, initial InstanceTree, fib southbound.FIBWriter, logger *zap.Logger) *Instance {
	named := logger.Named("ldp").With(zap.String("instance", name))
	loop := instance.NewLoop(64, named)

	inst := &Instance{
		Name:     name,
		Loop:     loop,
		LIB:      NewLIB(name),
		FIB:      fib,
		logger:   named,
		sessions: make(map[string]*Session),
	}

	nb := nbtxn.New(&initial, cloneInstanceTree)
	nb.Register("/interface/", nbtxn.Callback[InstanceTree]{
		Apply: func(working *InstanceTree, mod nbtxn.Modification, q *event.Queue) error {
			name := strings.TrimPrefix(mod.Path, "/interface/")
			switch mod.Op {
			case nbtxn.OpDelete:
				delete(working.Interfaces, name)
			default:
				working.Interfaces[name] = true
			}
			return nil
		},
	})
	nb.Register("/targeted-peer/", nbtxn.Callback[InstanceTree]{
		Validate: func(working *InstanceTree, mod nbtxn.Modification) error {
			if mod.Op == nbtxn.OpDelete {
				return nil
			}
			cfg, ok := mod.Value.(PeerConfig)
			if !ok || cfg.Address == "" {
				return fmt.Errorf("ldp: targeted peer config requires address")
			}
			return nil
		},
		Apply: func(working *InstanceTree, mod nbtxn.Modification, q *event.Queue) error {
			addr := strings.TrimPrefix(mod.Path, "/targeted-peer/")
			switch mod.Op {
			case nbtxn.OpDelete:
				delete(working.TargetedPeers, addr)
				q.Push(event.Event{Kind: event.NeighborDelete, Addr: addr, Protocol: "ldp"})
			default:
				cfg := mod.Value.(PeerConfig)
				cfg.Targeted = true
				working.TargetedPeers[addr] = cfg
				q.Push(event.Event{Kind: event.NeighborUpdate, Addr: addr, Protocol: "ldp"})
			}
			return nil
		},
	})
	inst.NB = nb

	for addr, cfg := range initial.TargetedPeers {
		cfg.Targeted = true
		inst.sessions[addr] = NewSession(cfg, loop.Timers, named)
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
			inst.handlePDU(raw)
		},
		HandleTimer: func(tok timer.Token) {
			sess, ok := inst.sessions[tok.Owner]
			if !ok {
				return
			}
			switch tok.Kind {
			case timer.KindHold:
				sess.FSM.Handle(EvHoldTimerExpires, nil)
			case timer.KindKeepaliveLDP:
				sess.FSM.Handle(EvKeepAliveTimerExpires, nil)
			}
		},
		HandleIBus: func(msg any) {
			rec, ok := msg.(ibus.Record)
			if !ok {
				return
			}
			if rec.Class != ibus.ClassInterface {
				return
			}
			ie, err := ibus.UnmarshalInterface(rec.Payload)
			if err != nil {
				inst.logger.Warn("ibus interface decode failed", zap.Error(err))
				return
			}
			if ie.Up {
				return
			}
			if _, ok := inst.NB.Lookup().Interfaces[ie.Name]; !ok {
				return
			}
			// Link Hello sessions aren't tied to a specific interface in
			// the session table (a Hello is identified by source address
			// only), so losing any configured link interface tears down
			// every non-targeted session rather than risk one surviving
			// over a dead link.
			for addr, sess := range inst.sessions {
				if sess.Config.Targeted {
					continue
				}
				inst.Loop.Timers.CancelOwner(addr)
				inst.LIB.WithdrawPeer(addr)
				delete(inst.sessions, addr)
			}
		},
		HandleEvent: func(ev event.Event) {
			switch ev.Kind {
			case event.NeighborUpdate:
				tree := inst.NB.Lookup()
				if cfg, ok := tree.TargetedPeers[ev.Addr]; ok {
					if s, exists := inst.sessions[ev.Addr]; exists {
						s.Config = cfg
					} else {
						inst.sessions[ev.Addr] = NewSession(cfg, inst.Loop.Timers, named)
					}
				}
			case event.NeighborDelete:
				if _, ok := inst.sessions[ev.Addr]; ok {
					inst.Loop.Timers.CancelOwner(ev.Addr)
					inst.LIB.WithdrawPeer(ev.Addr)
					delete(inst.sessions, ev.Addr)
				}
			}
		},
		AdvanceDecision: func() {},
		FlushOutbound:   func() {},
	}

	return inst
}

// handlePDU decodes one PDU and dispatches each message it carries.
// Hello PDUs are gated by the two-layer targeted-hello precedence
// rule before a session is allowed to progress past NonExistent.
func (i *Instance) handlePDU(raw RawMessage) {
	_, msgs, err := DecodePDU(raw.Data)
	if err != nil {
		metrics.DecodeErrorsTotal.WithLabelValues("ldp", "pdu").Inc()
		i.logger.Warn("pdu decode failed", zap.String("peer", raw.PeerAddr), zap.Error(err))
		return
	}

	for _, m := range msgs {
		if m.Type != MsgTypeHello && m.Type != MsgTypeInit && m.Type != MsgTypeKeepAlive {
			if sess, ok := i.sessions[raw.PeerAddr]; !ok || sess.FSM.State != StateOperational {
				i.logger.Warn("pdu requires an operational session, shutting down",
					zap.String("peer", raw.PeerAddr), zap.Uint16("msg_type", m.Type))
				i.sessionFor(raw.PeerAddr).FSM.Handle(EvSessionDown, &Notification{StatusCode: statusShutdown, Fatal: true})
				return
			}
		}

		switch m.Type {
		case MsgTypeHello:
			i.handleHello(raw.PeerAddr)
		case MsgTypeInit:
			i.sessionFor(raw.PeerAddr).FSM.Handle(EvInitReceived, nil)
		case MsgTypeKeepAlive:
			i.sessionFor(raw.PeerAddr).FSM.Handle(EvKeepAliveReceived, nil)
		case MsgTypeLabelMapping:
			mapping, err := DecodeLabelMapping(m.Body)
			if err != nil {
				metrics.DecodeErrorsTotal.WithLabelValues("ldp", "label-mapping").Inc()
				i.logger.Warn("label mapping decode failed", zap.Error(err))
				continue
			}
			i.LIB.Learn(raw.PeerAddr, mapping)
			i.flushFEC(mapping.FEC)
		case MsgTypeLabelWithdraw:
			fec, err := DecodeFEC(m.Body)
			if err != nil {
				metrics.DecodeErrorsTotal.WithLabelValues("ldp", "label-withdraw").Inc()
				i.logger.Warn("label withdraw decode failed", zap.Error(err))
				continue
			}
			i.LIB.Withdraw(raw.PeerAddr, fec)
			i.flushFEC(fec)
		case MsgTypeLabelRelease:
			i.handleLabelRelease(raw.PeerAddr, m.Body)
		}
	}
}

// handleLabelRelease processes a received Label Release (RFC 5036
// §3.5.10): every local label mapping this instance
// has advertised to peerAddr for the released FEC (or, for a wildcard
// FEC, every mapping advertised to peerAddr) is removed. This is a
// one-way acknowledgement (the peer is telling us it will stop using
// the label(s)), so nothing is sent back in response.
func (i *Instance) handleLabelRelease(peerAddr string, body []byte) {
	fec, err := DecodeFEC(body)
	if err != nil {
		metrics.DecodeErrorsTotal.WithLabelValues("ldp", "label-release").Inc()
		i.logger.Warn("label release decode failed", zap.Error(err))
		return
	}
	n := i.LIB.ReleaseLocal(peerAddr, fec)
	scope := "single"
	if fec == WildcardFEC {
		scope = "wildcard"
	}
	metrics.LDPLabelReleasesTotal.WithLabelValues(i.Name, peerAddr, scope).Add(float64(n))
}

func (i *Instance) handleHello(peerAddr string) {
	tree := i.NB.Lookup()
	if cfg, targeted := tree.TargetedPeers[peerAddr]; targeted {
		if !AcceptTargetedHello(tree.HelloAccept, cfg.HelloAccept) {
			i.logger.Debug("rejecting targeted hello", zap.String("peer", peerAddr))
			return
		}
	}
	i.sessionFor(peerAddr).FSM.Handle(EvHelloReceived, nil)
}

func (i *Instance) sessionFor(peerAddr string) *Session {
	if s, ok := i.sessions[peerAddr]; ok {
		return s
	}
	s := NewSession(PeerConfig{Address: peerAddr}, i.Loop.Timers, i.logger)
	i.sessions[peerAddr] = s
	return s
}

func (i *Instance) flushFEC(fec FEC) {
	ctx := context.Background()
	var anyLabel bool
	i.LIB.Each(func(peer string, m LabelMapping) {
		if m.FEC == fec {
			anyLabel = true
		}
	})
	if !anyLabel {
		i.FIB.WithdrawRoute(ctx, i.Name, "mpls", string(fec))
		return
	}
	i.FIB.AddRoute(ctx, i.Name, "mpls", string(fec), "", 0)
}

// Ready reports instance-level readiness: at least one session is
// Operational, or there are no sessions configured at all.
func (i *Instance) Ready() bool {
	if len(i.sessions) == 0 {
		return true
	}
	for _, s := range i.sessions {
		if s.Ready() {
			return true
		}
	}
	return false
}
