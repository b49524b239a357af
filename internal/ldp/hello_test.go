package ldp

import "testing"

func boolPtr(b bool) *bool { return &b }

func TestAcceptTargetedHelloUsesInstanceGateByDefault(t *testing.T) {
	if !AcceptTargetedHello(true, nil) {
		t.Fatal("expected instance-wide accept to apply when no override")
	}
	if AcceptTargetedHello(false, nil) {
		t.Fatal("expected instance-wide deny to apply when no override")
	}
}

func TestAcceptTargetedHelloPeerOverrideWinsOverInstanceGate(t *testing.T) {
	if !AcceptTargetedHello(false, boolPtr(true)) {
		t.Fatal("expected per-peer accept override to win over instance-wide deny")
	}
	if AcceptTargetedHello(true, boolPtr(false)) {
		t.Fatal("expected per-peer deny override to win over instance-wide accept")
	}
}
