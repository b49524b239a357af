package ldp

// LIB is the label information base (RFC 5036 §2.2.1): the per-peer
// label bindings this session has received, plus the
// labels this instance has advertised to each peer. Like ospf.LSDB,
// bindings are standalone mutable records rather than reference-
// counted shared values, so a plain map fits better than
// internal/attrstore's interning semantics.
type LIB struct {
	instance string

	// received[peer][fec] is a label this instance learned from peer.
	received map[string]map[FEC]uint32

	// advertised[peer][fec] is a label this instance has sent to peer
	// (the "local label" side of the binding); a wildcard
	// Label Release from peer clears its whole row here.
	advertised map[string]map[FEC]uint32
}

func NewLIB(instance string) *LIB {
	return &LIB{
		instance:   instance,
		received:   make(map[string]map[FEC]uint32),
		advertised: make(map[string]map[FEC]uint32),
	}
}

// Advertise records a label mapping this instance has sent to peer.
func (l *LIB) Advertise(peer string, m LabelMapping) {
	perPeer, ok := l.advertised[peer]
	if !ok {
		perPeer = make(map[FEC]uint32)
		l.advertised[peer] = perPeer
	}
	perPeer[m.FEC] = m.Label
}

// ReleaseLocal processes a Label Release from peer (RFC 5036 §3.5.10):
// fec == WildcardFEC removes every local label mapping advertised to
// peer; otherwise only the named FEC's mapping is removed. Returns the
// number of bindings removed, which feeds the operational counter.
func (l *LIB) ReleaseLocal(peer string, fec FEC) int {
	perPeer, ok := l.advertised[peer]
	if !ok {
		return 0
	}
	if fec == WildcardFEC {
		n := len(perPeer)
		delete(l.advertised, peer)
		return n
	}
	if _, ok := perPeer[fec]; ok {
		delete(perPeer, fec)
		return 1
	}
	return 0
}

// AdvertisedTo reports whether this instance has advertised fec to peer,
// and the label if so.
func (l *LIB) AdvertisedTo(peer string, fec FEC) (uint32, bool) {
	perPeer, ok := l.advertised[peer]
	if !ok {
		return 0, false
	}
	label, ok := perPeer[fec]
	return label, ok
}

// Learn records a label mapping received from peer, overwriting any
// prior binding for the same FEC (RFC 5036 §3.5.7: a new mapping for a
// known FEC replaces the old one).
func (l *LIB) Learn(peer string, m LabelMapping) {
	perPeer, ok := l.received[peer]
	if !ok {
		perPeer = make(map[FEC]uint32)
		l.received[peer] = perPeer
	}
	perPeer[m.FEC] = m.Label
}

// Withdraw removes one FEC's binding from peer, or every binding from
// peer when fec is WildcardFEC (RFC 5036 §3.5.9).
func (l *LIB) Withdraw(peer string, fec FEC) {
	perPeer, ok := l.received[peer]
	if !ok {
		return
	}
	if fec == WildcardFEC {
		delete(l.received, peer)
		return
	}
	delete(perPeer, fec)
}

// WithdrawPeer removes every binding learned from peer and every label
// advertised to peer, e.g. on session teardown.
func (l *LIB) WithdrawPeer(peer string) {
	delete(l.received, peer)
	delete(l.advertised, peer)
}

// Lookup returns the label peer has bound to fec, if any.
func (l *LIB) Lookup(peer string, fec FEC) (uint32, bool) {
	perPeer, ok := l.received[peer]
	if !ok {
		return 0, false
	}
	label, ok := perPeer[fec]
	return label, ok
}

// Each calls fn for every (peer, fec, label) binding learned from a
// peer; labels this instance advertised are not visited.
func (l *LIB) Each(fn func(peer string, m LabelMapping)) {
	for peer, perPeer := range l.received {
		for fec, label := range perPeer {
			fn(peer, LabelMapping{FEC: fec, Label: label})
		}
	}
}

func (l *LIB) Len() int {
	n := 0
	for _, perPeer := range l.received {
		n += len(perPeer)
	}
	return n
}
