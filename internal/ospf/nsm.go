package ospf

import (
	"time"

	"go.uber.org/zap"

	"github.com/holo-routing/routingd/internal/metrics"
	"github.com/holo-routing/routingd/internal/timer"
)

// NbrState is the OSPFv2 neighbor state machine (RFC 2328 §10.1).
type NbrState int

const (
	NbrDown NbrState = iota
	NbrAttempt
	NbrInit
	NbrTwoWay
	NbrExStart
	NbrExchange
	NbrLoading
	NbrFull
)

func (s NbrState) String() string {
	switch s {
	case NbrDown:
		return "Down"
	case NbrAttempt:
		return "Attempt"
	case NbrInit:
		return "Init"
	case NbrTwoWay:
		return "TwoWay"
	case NbrExStart:
		return "ExStart"
	case NbrExchange:
		return "Exchange"
	case NbrLoading:
		return "Loading"
	case NbrFull:
		return "Full"
	default:
		return "Unknown"
	}
}

// NbrEvent is an NSM input event (RFC 2328 §10.2).
type NbrEvent int

const (
	NbrEvHelloReceived NbrEvent = iota
	NbrEv2WayReceived
	NbrEvNegotiationDone
	NbrEvExchangeDone
	NbrEvLoadingDone
	NbrEvAdjOK
	NbrEvSeqNumberMismatch
	NbrEvInactivityTimer
	NbrEvKillNbr
	NbrEvGraceTimerExpired
)

// Neighbor tracks one OSPF adjacency, including the master/slave and
// DD sequence-number state RFC 2328 §10.8's Database Exchange needs.
type Neighbor struct {
	RouterID string
	IfName   string
	State    NbrState

	isMaster bool
	ddSeqNum uint32

	// GraceActive and GraceReason track an in-progress RFC 3623/5187
	// graceful restart: set by EnterGracefulRestart when a Grace-LSA
	// arrives for a Full neighbor, cleared by the grace-period timer
	// or by TerminateGracefulRestart when a topology change contradicts
	// it.
	GraceActive bool
	GraceReason uint8

	timers *timer.Scheduler
	logger *zap.Logger
}

func NewNeighbor(routerID, ifName string, timers *timer.Scheduler, logger *zap.Logger) *Neighbor {
	return &Neighbor{
		RouterID: routerID,
		IfName:   ifName,
		State:    NbrDown,
		timers:   timers,
		logger:   logger.Named("nsm").With(zap.String("neighbor", routerID)),
	}
}

func (n *Neighbor) transition(to NbrState) {
	from := n.State
	if from == to {
		return
	}
	n.State = to
	metrics.FSMTransitionsTotal.WithLabelValues("ospf-nsm", from.String(), to.String()).Inc()
	n.logger.Info("nsm transition", zap.String("from", from.String()), zap.String("to", to.String()))
}

func (n *Neighbor) Handle(ev NbrEvent) {
	switch ev {
	case NbrEvHelloReceived:
		n.timers.Reset(n.RouterID, timer.KindHelloHold, 0)
		if n.State == NbrDown {
			n.transition(NbrInit)
		}
	case NbrEv2WayReceived:
		if n.State == NbrInit {
			n.transition(NbrTwoWay)
		}
	case NbrEvNegotiationDone:
		if n.State == NbrExStart {
			n.transition(NbrExchange)
		}
	case NbrEvExchangeDone:
		if n.State == NbrExchange {
			n.transition(NbrLoading)
		}
	case NbrEvLoadingDone:
		if n.State == NbrLoading {
			n.transition(NbrFull)
		}
	case NbrEvAdjOK:
		n.maybeStartAdjacency()
	case NbrEvSeqNumberMismatch:
		if n.State >= NbrExchange {
			n.transition(NbrExStart)
		}
	case NbrEvInactivityTimer, NbrEvKillNbr:
		n.timers.CancelOwner(n.RouterID)
		n.GraceActive = false
		n.transition(NbrDown)
	case NbrEvGraceTimerExpired:
		n.GraceActive = false
		metrics.GraceActiveGauge.WithLabelValues(n.IfName, n.RouterID).Set(0)
		n.logger.Info("grace period expired, exiting helper mode")
	}
}

// EnterGracefulRestart retains a Full neighbor across a control-plane
// restart (RFC 3623 §3 / RFC 5187) once its Grace-LSA has been
// received: the adjacency is not torn down, and a timer bounds how
// long the grace flag can stay set. Only meaningful for a neighbor
// already in Full; a Grace-LSA for any other neighbor is ignored.
func (n *Neighbor) EnterGracefulRestart(periodSeconds int, reason uint8) {
	if n.State != NbrFull {
		return
	}
	n.GraceActive = true
	n.GraceReason = reason
	metrics.GraceActiveGauge.WithLabelValues(n.IfName, n.RouterID).Set(1)
	n.timers.Reset(n.RouterID, timer.KindGraceExpiry, time.Duration(periodSeconds)*time.Second)
	n.logger.Info("grace period started",
		zap.Int("period_seconds", periodSeconds), zap.Uint8("reason", reason))
}

// TerminateGracefulRestart ends an in-progress graceful restart
// immediately, used when a topology-changing LSA contradicts the
// neighbor's claimed quiescence.
func (n *Neighbor) TerminateGracefulRestart() {
	if !n.GraceActive {
		return
	}
	n.GraceActive = false
	n.timers.Cancel(n.RouterID, timer.KindGraceExpiry)
	metrics.GraceActiveGauge.WithLabelValues(n.IfName, n.RouterID).Set(0)
	n.logger.Info("grace period terminated by topology change")
}

// maybeStartAdjacency moves a 2-Way neighbor into ExStart once the
// caller decides an adjacency should be formed (DR/BDR/point-to-point
// rules live in the Interface, not here; RFC 2328 §10.4).
func (n *Neighbor) maybeStartAdjacency() {
	if n.State == NbrTwoWay {
		n.transition(NbrExStart)
	}
}

// MasterSlaveTiebreak decides DD exchange master/slave per RFC 2328
// §10.8: the neighbor with the higher router ID is master.
func MasterSlaveTiebreak(localRouterID, remoteRouterID string) (isMaster bool) {
	return localRouterID > remoteRouterID
}
