package ospf

import (
	"go.uber.org/zap"

	"github.com/holo-routing/routingd/internal/metrics"
	"github.com/holo-routing/routingd/internal/timer"
)

// IfState is the OSPFv2 interface state machine (RFC 2328 §9.1).
type IfState int

const (
	IfDown IfState = iota
	IfLoopback
	IfWaiting
	IfPointToPoint
	IfDROther
	IfBackup
	IfDR
)

func (s IfState) String() string {
	switch s {
	case IfDown:
		return "Down"
	case IfLoopback:
		return "Loopback"
	case IfWaiting:
		return "Waiting"
	case IfPointToPoint:
		return "PointToPoint"
	case IfDROther:
		return "DROther"
	case IfBackup:
		return "Backup"
	case IfDR:
		return "DR"
	default:
		return "Unknown"
	}
}

// IfEvent is an ISM input event (RFC 2328 §9.2).
type IfEvent int

const (
	IfEvInterfaceUp IfEvent = iota
	IfEvWaitTimer
	IfEvBackupSeen
	IfEvNeighborChange
	IfEvInterfaceDown
)

// Interface holds one OSPF-enabled interface's ISM state and DR/BDR
// election inputs, grounded on the same small-owned-struct +
// timer-scheduler pattern as bgp.FSM.
type Interface struct {
	Name      string
	AreaID    string
	Priority  int
	RouterID  string
	State     IfState
	DR, BDR   string // router IDs, "" if none elected

	timers *timer.Scheduler
	logger *zap.Logger
}

func NewInterface(name, areaID, routerID string, priority int, timers *timer.Scheduler, logger *zap.Logger) *Interface {
	return &Interface{
		Name:     name,
		AreaID:   areaID,
		Priority: priority,
		RouterID: routerID,
		State:    IfDown,
		timers:   timers,
		logger:   logger.Named("ism").With(zap.String("interface", name)),
	}
}

func (i *Interface) transition(to IfState) {
	from := i.State
	if from == to {
		return
	}
	i.State = to
	metrics.FSMTransitionsTotal.WithLabelValues("ospf-ism", from.String(), to.String()).Inc()
	i.logger.Info("ism transition", zap.String("from", from.String()), zap.String("to", to.String()))
}

// Handle applies one ISM event. DR/BDR election (RFC 2328 §9.4) is
// invoked whenever neighbor state changes or the wait timer fires,
// driven by the candidate list the caller passes in (the ISM itself
// doesn't track other routers' priorities; the neighbor table does).
func (i *Interface) Handle(ev IfEvent, candidates []DRCandidate) {
	switch ev {
	case IfEvInterfaceUp:
		if i.Priority == 0 {
			i.transition(IfDROther)
			return
		}
		i.timers.Reset(i.Name, timer.KindHelloHold, 0)
		i.transition(IfWaiting)
	case IfEvWaitTimer:
		if i.State == IfWaiting {
			i.electDR(candidates)
		}
	case IfEvBackupSeen:
		if i.State == IfWaiting {
			i.electDR(candidates)
		}
	case IfEvNeighborChange:
		if i.State != IfDown && i.State != IfLoopback && i.State != IfPointToPoint {
			i.electDR(candidates)
		}
	case IfEvInterfaceDown:
		i.timers.CancelOwner(i.Name)
		i.DR, i.BDR = "", ""
		i.transition(IfDown)
	}
}

// DRCandidate is one router's election-relevant state on this segment:
// its own view plus every neighbor's (RFC 2328 §9.4 step 2: "calculate
// the new DR and BDR ... using only those neighbors whose state is at
// least 2-Way").
type DRCandidate struct {
	RouterID  string
	Priority  int
	DR, BDR   string // the candidate's own claimed DR/BDR, for the
	                 // "routers declaring themselves DR/BDR" step
}

// electDR runs RFC 2328 §9.4's DR/BDR election: DR is elected first
// (a router already declaring itself DR wins, highest priority then
// highest router-id as tiebreaks; absent any self-declared DR, the
// highest-priority eligible router wins), then BDR is elected from the
// remaining candidates the same way, preferring one that already
// declares itself BDR. Electing DR before BDR and excluding the
// elected DR from BDR candidacy keeps the two roles distinct without
// needing RFC 2328's two-pass repeat-on-conflict exception.
func (i *Interface) electDR(candidates []DRCandidate) {
	self := DRCandidate{RouterID: i.RouterID, Priority: i.Priority, DR: i.DR, BDR: i.BDR}
	all := append([]DRCandidate{self}, candidates...)

	dr := electDR(all)
	bdr := electBDR(all, dr)

	i.DR = dr
	i.BDR = bdr

	switch {
	case dr == i.RouterID:
		i.transition(IfDR)
	case bdr == i.RouterID:
		i.transition(IfBackup)
	default:
		i.transition(IfDROther)
	}
}

func electDR(all []DRCandidate) string {
	var best *DRCandidate
	for idx := range all {
		c := &all[idx]
		if c.Priority == 0 || c.DR != c.RouterID {
			continue
		}
		if best == nil || c.Priority > best.Priority ||
			(c.Priority == best.Priority && c.RouterID > best.RouterID) {
			best = c
		}
	}
	if best != nil {
		return best.RouterID
	}
	for idx := range all {
		c := &all[idx]
		if c.Priority == 0 {
			continue
		}
		if best == nil || c.Priority > best.Priority ||
			(c.Priority == best.Priority && c.RouterID > best.RouterID) {
			best = c
		}
	}
	if best == nil {
		return ""
	}
	return best.RouterID
}

func electBDR(all []DRCandidate, dr string) string {
	var best *DRCandidate
	for idx := range all {
		c := &all[idx]
		if c.Priority == 0 || c.RouterID == dr {
			continue
		}
		if c.BDR == c.RouterID {
			if best == nil || c.Priority > best.Priority ||
				(c.Priority == best.Priority && c.RouterID > best.RouterID) {
				best = c
			}
		}
	}
	if best != nil {
		return best.RouterID
	}
	for idx := range all {
		c := &all[idx]
		if c.Priority == 0 || c.RouterID == dr {
			continue
		}
		if best == nil || c.Priority > best.Priority ||
			(c.Priority == best.Priority && c.RouterID > best.RouterID) {
			best = c
		}
	}
	if best == nil {
		return ""
	}
	return best.RouterID
}
