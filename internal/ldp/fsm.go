package ldp

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/holo-routing/routingd/internal/event"
	"github.com/holo-routing/routingd/internal/metrics"
	"github.com/holo-routing/routingd/internal/timer"
)

// State is one of the RFC 5036 §2.5.5 session states.
type State int

const (
	StateNonExistent State = iota
	StateInitialized
	StateOpenSent
	StateOpenRec
	StateOperational
)

func (s State) String() string {
	switch s {
	case StateNonExistent:
		return "NonExistent"
	case StateInitialized:
		return "Initialized"
	case StateOpenSent:
		return "OpenSent"
	case StateOpenRec:
		return "OpenRec"
	case StateOperational:
		return "Operational"
	default:
		return "Unknown"
	}
}

// EventKind names a session FSM input event (RFC 5036 §2.5.5).
type EventKind int

const (
	EvHelloReceived EventKind = iota
	EvTCPConnectionUp
	EvInitReceived
	EvInitSent
	EvKeepAliveReceived
	EvKeepAliveTimerExpires
	EvHoldTimerExpires
	EvSessionDown
	EvNotificationReceived
)

// Notification carries an LDP NOTIFICATION PDU's status TLV contents
// (RFC 5036 §3.5.2).
type Notification struct {
	StatusCode uint32
	Fatal      bool
}

// FSM drives one LDP peer session, following the same small-owned-
// struct plus shared-timer-scheduler shape as bgp.FSM and ospf.Neighbor.
// The active/passive role RFC 5036 assigns by comparing transport
// addresses during Init exchange is not tracked: neither the FSM nor
// engine.go records which side holds it.
type FSM struct {
	PeerAddr string
	State    State

	holdTime int

	timers *timer.Scheduler
	logger *zap.Logger
}

func NewFSM(peerAddr string, holdTime int, timers *timer.Scheduler, logger *zap.Logger) *FSM {
	return &FSM{
		PeerAddr: peerAddr,
		State:    StateNonExistent,
		holdTime: holdTime,
		timers:   timers,
		logger:   logger.Named("ldp-fsm").With(zap.String("peer", peerAddr)),
	}
}

func (f *FSM) transition(to State) {
	from := f.State
	if from == to {
		return
	}
	f.State = to
	metrics.FSMTransitionsTotal.WithLabelValues("ldp", from.String(), to.String()).Inc()
	f.logger.Info("fsm transition", zap.String("from", from.String()), zap.String("to", to.String()))
}

// Handle applies one input event and returns any events the rest of
// the instance must react to (e.g. tearing down the LIB's entries for
// this peer on session loss).
func (f *FSM) Handle(ev EventKind, notif *Notification) []event.Event {
	switch f.State {
	case StateNonExistent:
		return f.handleNonExistent(ev)
	case StateInitialized:
		return f.handleInitialized(ev)
	case StateOpenSent:
		return f.handleOpenSent(ev, notif)
	case StateOpenRec:
		return f.handleOpenRec(ev, notif)
	case StateOperational:
		return f.handleOperational(ev, notif)
	default:
		return nil
	}
}

func (f *FSM) handleNonExistent(ev EventKind) []event.Event {
	if ev == EvHelloReceived {
		f.timers.Reset(f.PeerAddr, timer.KindHold, holdDuration(f.holdTime))
		f.transition(StateInitialized)
	}
	return nil
}

func (f *FSM) handleInitialized(ev EventKind) []event.Event {
	switch ev {
	case EvTCPConnectionUp:
		f.sendInit()
		f.transition(StateOpenSent)
	case EvHoldTimerExpires:
		f.toNonExistent()
	}
	return nil
}

func (f *FSM) handleOpenSent(ev EventKind, notif *Notification) []event.Event {
	switch ev {
	case EvInitReceived:
		f.sendKeepAlive()
		f.transition(StateOpenRec)
	case EvNotificationReceived, EvSessionDown:
		f.sendNotificationIfFatal(ev, notif)
		f.toNonExistent()
	case EvHoldTimerExpires:
		f.toNonExistent()
	}
	return nil
}

func (f *FSM) handleOpenRec(ev EventKind, notif *Notification) []event.Event {
	switch ev {
	case EvKeepAliveReceived:
		f.timers.Reset(f.PeerAddr, timer.KindHold, holdDuration(f.holdTime))
		f.timers.Reset(f.PeerAddr, timer.KindKeepaliveLDP, keepAliveDuration(f.holdTime))
		f.transition(StateOperational)
		return []event.Event{{Kind: event.NeighborUpdate, Addr: f.PeerAddr, Protocol: "ldp"}}
	case EvNotificationReceived, EvSessionDown:
		f.sendNotificationIfFatal(ev, notif)
		f.toNonExistent()
	case EvHoldTimerExpires:
		f.toNonExistent()
	}
	return nil
}

func (f *FSM) handleOperational(ev EventKind, notif *Notification) []event.Event {
	switch ev {
	case EvKeepAliveReceived:
		f.timers.Reset(f.PeerAddr, timer.KindHold, holdDuration(f.holdTime))
		return nil
	case EvKeepAliveTimerExpires:
		f.sendKeepAlive()
		f.timers.Reset(f.PeerAddr, timer.KindKeepaliveLDP, keepAliveDuration(f.holdTime))
		return nil
	case EvHoldTimerExpires, EvNotificationReceived, EvSessionDown:
		f.sendNotificationIfFatal(ev, notif)
		f.toNonExistent()
		return []event.Event{{Kind: event.NeighborDelete, Addr: f.PeerAddr, Protocol: "ldp"}}
	}
	return nil
}

func (f *FSM) toNonExistent() {
	f.timers.CancelOwner(f.PeerAddr)
	f.transition(StateNonExistent)
}

func (f *FSM) sendInit()      { f.logger.Debug("sending Init") }
func (f *FSM) sendKeepAlive() { f.logger.Debug("sending KeepAlive") }

// sendNotificationIfFatal sends a NOTIFICATION when this instance is the
// one originating the teardown (ev == EvSessionDown with a fatal reason,
// e.g. the non-Hello-before-Operational rule); a received
// NOTIFICATION is never echoed back.
func (f *FSM) sendNotificationIfFatal(ev EventKind, notif *Notification) {
	if ev == EvSessionDown && notif != nil && notif.Fatal {
		f.sendNotification(notif.StatusCode)
	}
}

func (f *FSM) sendNotification(code uint32) {
	metrics.FSMNotificationsSentTotal.WithLabelValues("ldp", fmt.Sprintf("%d", code), "0").Inc()
	f.logger.Warn("sending notification", zap.Uint32("status_code", code))
}

func holdDuration(seconds int) time.Duration { return time.Duration(seconds) * time.Second }

// keepAliveDuration sends at a third of the negotiated hold time, the
// same ratio bgp.keepaliveDuration uses.
func keepAliveDuration(holdSeconds int) time.Duration {
	return time.Duration(holdSeconds) / 3 * time.Second
}
