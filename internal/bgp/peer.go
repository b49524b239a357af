package bgp

import (
	"go.uber.org/zap"

	"github.com/holo-routing/routingd/internal/timer"
)

// NeighborConfig is the working-tree shape for one configured neighbor,
// mirrored from config.BGPNeighborConfig but owned by this package so
// the NB engine's clone function doesn't reach across package
// boundaries into the static startup config.
type NeighborConfig struct {
	Address      string
	PeerAS       uint32
	LocalAS      uint32
	EBGPMultihop int
	TTLSecurity  bool
	MD5Key       string
	HoldTime     int
	Passive      bool
}

// Peer bundles one neighbor's FSM with its configuration snapshot. The
// RIB is shared across all peers of an instance (it needs every peer's
// Adj-RIB-In to run the decision process), so it lives on the Instance,
// not here.
type Peer struct {
	Config NeighborConfig
	FSM    *FSM
}

func NewPeer(cfg NeighborConfig, timers *timer.Scheduler, logger *zap.Logger) *Peer {
	holdTime := cfg.HoldTime
	if holdTime == 0 {
		holdTime = 90 // RFC 4271 §4.2 suggested default
	}
	return &Peer{
		Config: cfg,
		FSM:    NewFSM(cfg.Address, holdTime, timers, logger),
	}
}

// Ready reports whether this peer's session is fully established,
// feeding the HTTP /readyz instance-level check.
func (p *Peer) Ready() bool { return p.FSM.State == StateEstablished }

func (p *Peer) PeerType(localAS uint32) string {
	if p.Config.PeerAS == localAS {
		return "ibgp"
	}
	return "ebgp"
}
