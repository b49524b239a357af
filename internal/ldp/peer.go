package ldp

import (
	"go.uber.org/zap"

	"github.com/holo-routing/routingd/internal/timer"
)

// PeerConfig is the working-tree shape for one LDP session, covering
// both link Hellos (Targeted false) and targeted Hellos to a configured
// TNBR (Targeted true).
type PeerConfig struct {
	Address     string
	Targeted    bool
	HelloAccept *bool // nil means defer to the instance-wide gate
	HoldTime    int
}

// Session bundles one peer's FSM with its configuration snapshot.
type Session struct {
	Config PeerConfig
	FSM    *FSM
}

func NewSession(cfg PeerConfig, timers *timer.Scheduler, logger *zap.Logger) *Session {
	holdTime := cfg.HoldTime
	if holdTime == 0 {
		holdTime = 15 // RFC 5036 §2.5.6 default Hello hold time, used when none is configured
	}
	return &Session{
		Config: cfg,
		FSM:    NewFSM(cfg.Address, holdTime, timers, logger),
	}
}

// Ready reports whether this session has reached Operational, feeding
// the HTTP /readyz instance-level check.
func (s *Session) Ready() bool { return s.FSM.State == StateOperational }
