package ospf

import (
	"testing"

	"go.uber.org/zap"

	"github.com/holo-routing/routingd/internal/timer"
)

func newTestNeighbor(routerID string) *Neighbor {
	return NewNeighbor(routerID, "eth0", timer.NewScheduler(8), zap.NewNop())
}

func TestNSMAdvancesDownToTwoWay(t *testing.T) {
	n := newTestNeighbor("10.0.0.2")
	n.Handle(NbrEvHelloReceived)
	if n.State != NbrInit {
		t.Fatalf("expected Init, got %s", n.State)
	}
	n.Handle(NbrEv2WayReceived)
	if n.State != NbrTwoWay {
		t.Fatalf("expected TwoWay, got %s", n.State)
	}
}

func TestNSMAdjOKStartsExStartOnlyFromTwoWay(t *testing.T) {
	n := newTestNeighbor("10.0.0.2")
	n.Handle(NbrEvAdjOK)
	if n.State != NbrDown {
		t.Fatalf("expected AdjOK to be a no-op before TwoWay, got %s", n.State)
	}

	n.Handle(NbrEvHelloReceived)
	n.Handle(NbrEv2WayReceived)
	n.Handle(NbrEvAdjOK)
	if n.State != NbrExStart {
		t.Fatalf("expected ExStart, got %s", n.State)
	}
}

func TestNSMFullExchangeSequence(t *testing.T) {
	n := newTestNeighbor("10.0.0.2")
	n.Handle(NbrEvHelloReceived)
	n.Handle(NbrEv2WayReceived)
	n.Handle(NbrEvAdjOK)
	n.Handle(NbrEvNegotiationDone)
	if n.State != NbrExchange {
		t.Fatalf("expected Exchange, got %s", n.State)
	}
	n.Handle(NbrEvExchangeDone)
	if n.State != NbrLoading {
		t.Fatalf("expected Loading, got %s", n.State)
	}
	n.Handle(NbrEvLoadingDone)
	if n.State != NbrFull {
		t.Fatalf("expected Full, got %s", n.State)
	}
}

func TestNSMSeqNumberMismatchDropsBackToExStart(t *testing.T) {
	n := newTestNeighbor("10.0.0.2")
	n.Handle(NbrEvHelloReceived)
	n.Handle(NbrEv2WayReceived)
	n.Handle(NbrEvAdjOK)
	n.Handle(NbrEvNegotiationDone)

	n.Handle(NbrEvSeqNumberMismatch)
	if n.State != NbrExStart {
		t.Fatalf("expected ExStart after seq number mismatch, got %s", n.State)
	}
}

func TestNSMSeqNumberMismatchBeforeExchangeIsNoOp(t *testing.T) {
	n := newTestNeighbor("10.0.0.2")
	n.Handle(NbrEvHelloReceived)
	n.Handle(NbrEvSeqNumberMismatch)
	if n.State != NbrInit {
		t.Fatalf("expected mismatch to be ignored below Exchange, got %s", n.State)
	}
}

func TestNSMInactivityTimerTearsDownFromAnyState(t *testing.T) {
	n := newTestNeighbor("10.0.0.2")
	n.Handle(NbrEvHelloReceived)
	n.Handle(NbrEv2WayReceived)
	n.Handle(NbrEvAdjOK)
	n.Handle(NbrEvNegotiationDone)
	n.Handle(NbrEvExchangeDone)
	n.Handle(NbrEvLoadingDone)

	n.Handle(NbrEvInactivityTimer)
	if n.State != NbrDown {
		t.Fatalf("expected Down after inactivity timer, got %s", n.State)
	}
}

func TestGracefulRestartOnlyEntersFromFull(t *testing.T) {
	n := newTestNeighbor("10.0.0.2")
	n.EnterGracefulRestart(120, 0)
	if n.GraceActive {
		t.Fatal("expected grace restart to be refused outside Full")
	}

	n.Handle(NbrEvHelloReceived)
	n.Handle(NbrEv2WayReceived)
	n.Handle(NbrEvAdjOK)
	n.Handle(NbrEvNegotiationDone)
	n.Handle(NbrEvExchangeDone)
	n.Handle(NbrEvLoadingDone)

	n.EnterGracefulRestart(120, 1)
	if !n.GraceActive {
		t.Fatal("expected grace restart to activate from Full")
	}
	if n.GraceReason != 1 {
		t.Fatalf("expected grace reason 1, got %d", n.GraceReason)
	}
	if n.State != NbrFull {
		t.Fatalf("expected adjacency to remain Full during grace period, got %s", n.State)
	}
}

func TestGracefulRestartTerminatedByTopologyChange(t *testing.T) {
	n := newTestNeighbor("10.0.0.2")
	n.Handle(NbrEvHelloReceived)
	n.Handle(NbrEv2WayReceived)
	n.Handle(NbrEvAdjOK)
	n.Handle(NbrEvNegotiationDone)
	n.Handle(NbrEvExchangeDone)
	n.Handle(NbrEvLoadingDone)

	n.EnterGracefulRestart(120, 0)
	n.TerminateGracefulRestart()
	if n.GraceActive {
		t.Fatal("expected grace period to be cleared by TerminateGracefulRestart")
	}
	if n.State != NbrFull {
		t.Fatalf("expected adjacency to stay up when grace is terminated, got %s", n.State)
	}

	// Idempotent: terminating an already-inactive grace period is a no-op.
	n.TerminateGracefulRestart()
	if n.GraceActive {
		t.Fatal("expected repeat terminate to remain a no-op")
	}
}

func TestGraceTimerExpiryClearsFlagWithoutTearingDownAdjacency(t *testing.T) {
	n := newTestNeighbor("10.0.0.2")
	n.Handle(NbrEvHelloReceived)
	n.Handle(NbrEv2WayReceived)
	n.Handle(NbrEvAdjOK)
	n.Handle(NbrEvNegotiationDone)
	n.Handle(NbrEvExchangeDone)
	n.Handle(NbrEvLoadingDone)

	n.EnterGracefulRestart(120, 0)
	n.Handle(NbrEvGraceTimerExpired)
	if n.GraceActive {
		t.Fatal("expected grace timer expiry to clear GraceActive")
	}
	if n.State != NbrFull {
		t.Fatalf("expected adjacency unaffected by grace timer expiry, got %s", n.State)
	}
}

func TestMasterSlaveTiebreakHigherRouterIDWins(t *testing.T) {
	if !MasterSlaveTiebreak("10.0.0.9", "10.0.0.2") {
		t.Fatal("expected higher router ID to be master")
	}
	if MasterSlaveTiebreak("10.0.0.2", "10.0.0.9") {
		t.Fatal("expected lower router ID to not be master")
	}
}
