package ldp

// AcceptTargetedHello decides whether a unicast targeted Hello should
// be accepted, per the two-layer precedence rule: the instance's
// global hello_accept gate is the default, but a configured targeted
// peer's own hello_accept override always wins when present, letting
// an operator disable targeted Hellos instance-wide while still
// peering with a specific TNBR (or the reverse: accept globally but
// deny one untrusted peer).
func AcceptTargetedHello(instanceAccept bool, peerOverride *bool) bool {
	if peerOverride != nil {
		return *peerOverride
	}
	return instanceAccept
}
