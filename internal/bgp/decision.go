package bgp

import "strings"

// Path is one candidate route for a prefix: the NLRI plus the typed
// attributes that arrived with it and the session it arrived over.
// The decision process compares these typed fields directly; the
// interned attribute set of the announcement is held by the RIB entry
// (ribEntry.AttrIndex), not by the Path.
type Path struct {
	AFI       string // "ipv4" or "ipv6"; empty means ipv4
	Prefix    string
	PeerAddr  string
	LocalPref uint32
	ASPathLen int
	Origin    uint8 // 0=IGP 1=EGP 2=INCOMPLETE
	MED       uint32
	NextHop   string
	PeerType  string // "ibgp" or "ebgp"
	RouterID  string // peer router-id learned from its OPEN, tie-break step 7; empty until the OPEN is processed
	PeerAS    uint32 // the session's configured neighbor AS, scoping MED comparison
}

// DecisionConfig holds the decision process's optional knobs, grounded
// on the equivalent FRR/BIRD bgpd config options of the same name.
// The zero value is not meaningful on its own; use
// DefaultDecisionConfig for the decision process's historical fixed
// behavior.
type DecisionConfig struct {
	IgnoreASPathLength     bool // skip step 2 (AS_PATH length) entirely
	EnableMED              bool // compare MED at all (step 4)
	AlwaysCompareMED       bool // compare MED across different neighboring ASes too, not just within one
	IgnoreNextHopIGPMetric bool // step 6 is already a no-op without an IGP metric source; this just makes that explicit
	EBGPMaxPaths           int  // >1 enables eBGP multipath, installing up to this many equal-cost next hops
	IBGPMaxPaths           int  // >1 enables iBGP multipath
	EBGPAllowMultipleAS    bool // allow eBGP multipath across distinct neighboring ASes (normally disallowed)
}

// DefaultDecisionConfig reproduces the decision process's historical
// fixed behavior: MED compared only within the same neighboring AS,
// AS_PATH length always compared, and no multipath.
func DefaultDecisionConfig() DecisionConfig {
	return DecisionConfig{
		EnableMED:    true,
		EBGPMaxPaths: 1,
		IBGPMaxPaths: 1,
	}
}

// Best runs the RFC 4271 §9.1.2 decision process with
// DefaultDecisionConfig. Returns the index of the best path in
// candidates, or -1 if candidates is empty.
func Best(candidates []Path) int {
	return BestWithConfig(candidates, DefaultDecisionConfig())
}

// BestWithConfig is Best with the decision process's optional knobs
// applied. Ties after every step keep the existing best path (first in
// candidates) to avoid route flap on exact ties.
func BestWithConfig(candidates []Path, cfg DecisionConfig) int {
	if len(candidates) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(candidates); i++ {
		if better(candidates[i], candidates[best], cfg) {
			best = i
		}
	}
	return best
}

// MultipathGroup returns the indices of every candidate that is
// equal-cost with the best path under tie-break step 8 (RFC 4271
// itself leaves multipath unspecified; this mirrors the common
// eBGP/iBGP-max-paths implementations): same peer type as the best
// path, agreeing through MED, capped at the configured max-paths for
// that peer type. A non-multipath config (max-paths <= 1) returns just
// the best index.
func MultipathGroup(candidates []Path, cfg DecisionConfig) []int {
	if len(candidates) == 0 {
		return nil
	}
	bestIdx := BestWithConfig(candidates, cfg)
	best := candidates[bestIdx]

	maxPaths := cfg.EBGPMaxPaths
	if best.PeerType == "ibgp" {
		maxPaths = cfg.IBGPMaxPaths
	}
	if maxPaths <= 1 {
		return []int{bestIdx}
	}

	group := []int{bestIdx}
	for i, c := range candidates {
		if i == bestIdx || len(group) >= maxPaths {
			continue
		}
		if multipathEligible(c, best, cfg) {
			group = append(group, i)
		}
	}
	return group
}

func multipathEligible(c, best Path, cfg DecisionConfig) bool {
	if c.PeerType != best.PeerType {
		return false
	}
	if c.LocalPref != best.LocalPref {
		return false
	}
	if !cfg.IgnoreASPathLength && c.ASPathLen != best.ASPathLen {
		return false
	}
	if c.Origin != best.Origin {
		return false
	}
	if cfg.EnableMED && c.MED != best.MED {
		return false
	}
	if c.PeerType == "ebgp" && !cfg.EBGPAllowMultipleAS && c.PeerAS != best.PeerAS {
		return false
	}
	return true
}

// better reports whether a should replace b as the best path, applying
// the RFC 4271 §9.1.2.2 steps in order:
//  1. highest LOCAL_PREF
//  2. shortest AS_PATH, unless cfg.IgnoreASPathLength
//  3. lowest ORIGIN (IGP < EGP < INCOMPLETE)
//  4. lowest MED, if cfg.EnableMED, compared within the same
//     neighboring AS only unless cfg.AlwaysCompareMED (PeerAS stands in
//     for the true neighboring-AS grouping, which needs the whole
//     AS_PATH; the two agree in the common single-upstream-AS case)
//  5. prefer eBGP over iBGP
//  6. lowest IGP metric to next-hop: without an IGP metric source this
//     step is a no-op regardless of cfg.IgnoreNextHopIGPMetric and
//     falls through to step 7
//  7. lowest originating router-id
//  8. lowest peer address (multipath group membership, MultipathGroup,
//     is resolved separately once step 8 identifies the single best path)
func better(a, b Path, cfg DecisionConfig) bool {
	if a.LocalPref != b.LocalPref {
		return a.LocalPref > b.LocalPref
	}
	if !cfg.IgnoreASPathLength && a.ASPathLen != b.ASPathLen {
		return a.ASPathLen < b.ASPathLen
	}
	if a.Origin != b.Origin {
		return a.Origin < b.Origin
	}
	if cfg.EnableMED {
		medComparable := cfg.AlwaysCompareMED || a.PeerAS == b.PeerAS
		if medComparable && a.MED != b.MED {
			return a.MED < b.MED
		}
	}
	aEBGP := a.PeerType == "ebgp"
	bEBGP := b.PeerType == "ebgp"
	if aEBGP != bEBGP {
		return aEBGP
	}
	if a.RouterID != b.RouterID {
		return strings.Compare(a.RouterID, b.RouterID) < 0
	}
	return strings.Compare(a.PeerAddr, b.PeerAddr) < 0
}
