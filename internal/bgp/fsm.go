package bgp

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/holo-routing/routingd/internal/event"
	"github.com/holo-routing/routingd/internal/metrics"
	"github.com/holo-routing/routingd/internal/timer"
)

// State is one of the RFC 4271 §8 session states.
type State int

const (
	StateIdle State = iota
	StateConnect
	StateActive
	StateOpenSent
	StateOpenConfirm
	StateEstablished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnect:
		return "Connect"
	case StateActive:
		return "Active"
	case StateOpenSent:
		return "OpenSent"
	case StateOpenConfirm:
		return "OpenConfirm"
	case StateEstablished:
		return "Established"
	default:
		return "Unknown"
	}
}

// EventKind names an FSM input event (RFC 4271 §8.1, trimmed to the
// subset a cooperative single-threaded event loop needs to drive:
// TCP connection outcomes and message receipt are reported by the
// transport goroutine, not polled here).
type EventKind int

const (
	EvManualStart EventKind = iota
	EvManualStop
	EvConnectRetryTimerExpires
	EvHoldTimerExpires
	EvKeepaliveTimerExpires
	EvTCPConnectionConfirmed
	EvTCPConnectionFails
	EvOpenReceived
	EvKeepaliveReceived
	EvUpdateReceived
	EvNotifReceived
)

// Notification carries the code/subcode/data of a sent or received
// NOTIFICATION message (RFC 4271 §4.5).
type Notification struct {
	Code    uint8
	SubCode uint8
	Data    []byte
}

// FSM drives one peer's session state: a small owned struct with
// explicit transition handling and timer resets delegated to a shared
// scheduler, implementing RFC 4271's full Idle..Established machine.
// It never blocks: every method either returns immediately or enqueues
// a follow-up event.
type FSM struct {
	PeerAddr string
	State    State

	// RemoteRouterID is the BGP identifier the peer announced in its
	// OPEN, used as the decision-process router-id tie-break. Empty
	// until an OPEN has been processed and cleared on teardown.
	RemoteRouterID string

	connectRetryCounter int
	configuredHoldTime  int
	holdTime            int
	keepaliveTime       int

	timers *timer.Scheduler
	logger *zap.Logger
}

func NewFSM(peerAddr string, holdTime int, timers *timer.Scheduler, logger *zap.Logger) *FSM {
	return &FSM{
		PeerAddr:           peerAddr,
		State:              StateIdle,
		configuredHoldTime: holdTime,
		holdTime:           holdTime,
		keepaliveTime:      holdTime / 3,
		timers:             timers,
		logger:             logger.Named("fsm").With(zap.String("peer", peerAddr)),
	}
}

// HoldTime reports the session's current hold time in seconds: the
// configured value until an OPEN has been processed, the negotiated
// value afterwards.
func (f *FSM) HoldTime() int { return f.holdTime }

// HandleOpen applies a received OPEN message: the session hold time is
// negotiated down to min(configured, received), the keepalive interval
// rederived as a third of it (RFC 4271 §4.2), and the peer's announced
// BGP identifier recorded for the decision-process tie-break, all
// before the state machine sees the event. A remote hold time of zero
// disables keepalives entirely for the session.
func (f *FSM) HandleOpen(remoteHoldSecs int, remoteRouterID string) []event.Event {
	f.holdTime = f.configuredHoldTime
	if remoteHoldSecs < f.holdTime {
		f.holdTime = remoteHoldSecs
	}
	f.keepaliveTime = f.holdTime / 3
	f.RemoteRouterID = remoteRouterID
	return f.Handle(EvOpenReceived, nil)
}

func (f *FSM) transition(to State) {
	from := f.State
	if from == to {
		return
	}
	f.State = to
	metrics.FSMTransitionsTotal.WithLabelValues("bgp", from.String(), to.String()).Inc()
	f.logger.Info("fsm transition", zap.String("from", from.String()), zap.String("to", to.String()))
}

// Handle applies one input event to the FSM and returns any events the
// rest of the instance loop must react to (e.g. a RIB withdrawal on
// session teardown). This is the realization of RFC 4271's per-state
// event table, collapsed into one switch since our loop delivers one
// event at a time and never needs re-entrancy.
func (f *FSM) Handle(ev EventKind, notif *Notification) []event.Event {
	switch f.State {
	case StateIdle:
		return f.handleIdle(ev)
	case StateConnect:
		return f.handleConnect(ev)
	case StateActive:
		return f.handleActive(ev)
	case StateOpenSent:
		return f.handleOpenSent(ev, notif)
	case StateOpenConfirm:
		return f.handleOpenConfirm(ev, notif)
	case StateEstablished:
		return f.handleEstablished(ev, notif)
	default:
		return nil
	}
}

func (f *FSM) handleIdle(ev EventKind) []event.Event {
	if ev == EvManualStart {
		f.connectRetryCounter = 0
		f.timers.Reset(f.PeerAddr, timer.KindConnectRetry, 0)
		f.transition(StateConnect)
	}
	return nil
}

func (f *FSM) handleConnect(ev EventKind) []event.Event {
	switch ev {
	case EvTCPConnectionConfirmed:
		f.timers.Cancel(f.PeerAddr, timer.KindConnectRetry)
		f.sendOpen()
		f.transition(StateOpenSent)
	case EvConnectRetryTimerExpires:
		f.restartConnect()
	case EvTCPConnectionFails:
		f.transition(StateActive)
	case EvManualStop:
		f.toIdle()
	}
	return nil
}

func (f *FSM) handleActive(ev EventKind) []event.Event {
	switch ev {
	case EvConnectRetryTimerExpires:
		f.restartConnect()
	case EvTCPConnectionConfirmed:
		f.timers.Cancel(f.PeerAddr, timer.KindConnectRetry)
		f.sendOpen()
		f.transition(StateOpenSent)
	case EvManualStop:
		f.toIdle()
	}
	return nil
}

func (f *FSM) handleOpenSent(ev EventKind, notif *Notification) []event.Event {
	switch ev {
	case EvOpenReceived:
		f.resetHoldTimer()
		f.sendKeepalive()
		f.transition(StateOpenConfirm)
	case EvNotifReceived, EvTCPConnectionFails:
		f.toIdle()
	case EvHoldTimerExpires:
		f.sendNotification(NotifCodeHoldTimerExpired, 0)
		f.toIdle()
	case EvManualStop:
		f.toIdle()
	}
	return nil
}

func (f *FSM) handleOpenConfirm(ev EventKind, notif *Notification) []event.Event {
	switch ev {
	case EvKeepaliveReceived:
		f.resetHoldTimer()
		f.resetKeepaliveTimer()
		f.transition(StateEstablished)
		return []event.Event{{Kind: event.NeighborUpdate, Addr: f.PeerAddr, Protocol: "bgp"}}
	case EvNotifReceived, EvTCPConnectionFails:
		f.toIdle()
	case EvHoldTimerExpires:
		f.sendNotification(NotifCodeHoldTimerExpired, 0)
		f.toIdle()
	case EvManualStop:
		f.toIdle()
	}
	return nil
}

func (f *FSM) handleEstablished(ev EventKind, notif *Notification) []event.Event {
	switch ev {
	case EvUpdateReceived, EvKeepaliveReceived:
		f.resetHoldTimer()
		return nil
	case EvKeepaliveTimerExpires:
		f.sendKeepalive()
		f.resetKeepaliveTimer()
		return nil
	case EvHoldTimerExpires:
		f.sendNotification(NotifCodeHoldTimerExpired, 0)
		f.toIdle()
		return []event.Event{{Kind: event.NeighborDelete, Addr: f.PeerAddr, Protocol: "bgp"}}
	case EvNotifReceived, EvTCPConnectionFails, EvManualStop:
		f.toIdle()
		return []event.Event{{Kind: event.NeighborDelete, Addr: f.PeerAddr, Protocol: "bgp"}}
	}
	return nil
}

// A negotiated hold time of zero disables both the hold and keepalive
// timers for the session (RFC 4271 §4.2).
func (f *FSM) resetHoldTimer() {
	if f.holdTime == 0 {
		return
	}
	f.timers.Reset(f.PeerAddr, timer.KindHold, holdDuration(f.holdTime))
}

func (f *FSM) resetKeepaliveTimer() {
	if f.keepaliveTime == 0 {
		return
	}
	f.timers.Reset(f.PeerAddr, timer.KindKeepalive, keepaliveDuration(f.keepaliveTime))
}

func (f *FSM) restartConnect() {
	f.connectRetryCounter++
	f.timers.Reset(f.PeerAddr, timer.KindConnectRetry, connectRetryDuration(f.connectRetryCounter))
}

func (f *FSM) toIdle() {
	f.timers.CancelOwner(f.PeerAddr)
	// The negotiated hold time and learned router-id die with the
	// session; the next OPEN exchange renegotiates both.
	f.holdTime = f.configuredHoldTime
	f.keepaliveTime = f.holdTime / 3
	f.RemoteRouterID = ""
	f.transition(StateIdle)
}

// NOTIFICATION error codes this FSM can originate (RFC 4271 §4.5).
const (
	NotifCodeHoldTimerExpired uint8 = 4
	NotifCodeFSMError         uint8 = 5
	NotifCodeCease            uint8 = 6
)

// Cease subcodes (RFC 4486 §4).
const (
	NotifSubCodeOtherConfigChange uint8 = 6
)

func (f *FSM) sendNotification(code, subcode uint8) {
	metrics.FSMNotificationsSentTotal.WithLabelValues("bgp", fmt.Sprintf("%d", code), fmt.Sprintf("%d", subcode)).Inc()
	f.logger.Warn("sending notification", zap.Uint8("code", code), zap.Uint8("subcode", subcode))
}

// Reset immediately tears down the session for a configuration change
// that invalidates it (MD5 key, peer-AS, local-AS, multihop, TTL
// security): sends a NOTIFICATION with the given
// code/subcode if the session has progressed far enough for one to be
// meaningful, then returns to Idle. The caller is responsible for
// restarting the connection attempt (EvManualStart) and purging the
// peer's RIB entries.
func (f *FSM) Reset(code, subcode uint8) {
	if f.State == StateIdle {
		return
	}
	if f.State >= StateOpenSent {
		f.sendNotification(code, subcode)
	}
	f.toIdle()
}

func (f *FSM) sendOpen()      { f.logger.Debug("sending OPEN") }
func (f *FSM) sendKeepalive() { f.logger.Debug("sending KEEPALIVE") }

func holdDuration(seconds int) time.Duration { return time.Duration(seconds) * time.Second }

func keepaliveDuration(seconds int) time.Duration { return time.Duration(seconds) * time.Second }

// connectRetryDuration backs off linearly, capped at 30s.
func connectRetryDuration(attempt int) time.Duration {
	d := time.Duration(attempt) * 5 * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	if d <= 0 {
		d = 5 * time.Second
	}
	return d
}
