package bgp

import "testing"

func TestBestPrefersHighestLocalPref(t *testing.T) {
	candidates := []Path{
		{PeerAddr: "10.0.0.1", LocalPref: 100},
		{PeerAddr: "10.0.0.2", LocalPref: 200},
	}
	if got := Best(candidates); got != 1 {
		t.Fatalf("expected index 1 (higher local-pref), got %d", got)
	}
}

func TestBestPrefersShorterASPathWhenLocalPrefTies(t *testing.T) {
	candidates := []Path{
		{PeerAddr: "10.0.0.1", LocalPref: 100, ASPathLen: 3},
		{PeerAddr: "10.0.0.2", LocalPref: 100, ASPathLen: 1},
	}
	if got := Best(candidates); got != 1 {
		t.Fatalf("expected index 1 (shorter as-path), got %d", got)
	}
}

func TestBestPrefersLowerOriginWhenEarlierStepsTie(t *testing.T) {
	candidates := []Path{
		{PeerAddr: "10.0.0.1", LocalPref: 100, ASPathLen: 1, Origin: 2},
		{PeerAddr: "10.0.0.2", LocalPref: 100, ASPathLen: 1, Origin: 0},
	}
	if got := Best(candidates); got != 1 {
		t.Fatalf("expected index 1 (IGP origin), got %d", got)
	}
}

func TestBestPrefersLowerMEDWithinSamePeerAS(t *testing.T) {
	candidates := []Path{
		{PeerAddr: "10.0.0.1", LocalPref: 100, ASPathLen: 1, Origin: 0, PeerAS: 65001, MED: 50},
		{PeerAddr: "10.0.0.2", LocalPref: 100, ASPathLen: 1, Origin: 0, PeerAS: 65001, MED: 10},
	}
	if got := Best(candidates); got != 1 {
		t.Fatalf("expected index 1 (lower MED), got %d", got)
	}
}

func TestBestIgnoresMEDAcrossDifferentPeerAS(t *testing.T) {
	candidates := []Path{
		{PeerAddr: "10.0.0.1", LocalPref: 100, ASPathLen: 1, Origin: 0, PeerAS: 65001, MED: 50, RouterID: "1.1.1.1"},
		{PeerAddr: "10.0.0.2", LocalPref: 100, ASPathLen: 1, Origin: 0, PeerAS: 65002, MED: 10, RouterID: "2.2.2.2"},
	}
	// MED not comparable (different peer AS): falls through to eBGP>iBGP tie
	// (both "" so tie), then router-id: "1.1.1.1" < "2.2.2.2" wins.
	if got := Best(candidates); got != 0 {
		t.Fatalf("expected index 0 (MED skipped across AS, router-id tiebreak), got %d", got)
	}
}

func TestBestPrefersEBGPOverIBGP(t *testing.T) {
	candidates := []Path{
		{PeerAddr: "10.0.0.1", PeerType: "ibgp"},
		{PeerAddr: "10.0.0.2", PeerType: "ebgp"},
	}
	if got := Best(candidates); got != 1 {
		t.Fatalf("expected index 1 (eBGP preferred), got %d", got)
	}
}

func TestBestFinalTiebreakIsLowestPeerAddress(t *testing.T) {
	candidates := []Path{
		{PeerAddr: "10.0.0.9"},
		{PeerAddr: "10.0.0.2"},
	}
	if got := Best(candidates); got != 1 {
		t.Fatalf("expected index 1 (lowest peer address), got %d", got)
	}
}

func TestBestEmptyCandidatesReturnsNegativeOne(t *testing.T) {
	if got := Best(nil); got != -1 {
		t.Fatalf("expected -1 for no candidates, got %d", got)
	}
}

func TestBestWithConfigIgnoresASPathLengthWhenConfigured(t *testing.T) {
	cfg := DefaultDecisionConfig()
	cfg.IgnoreASPathLength = true
	candidates := []Path{
		{PeerAddr: "10.0.0.1", LocalPref: 100, ASPathLen: 3, RouterID: "9.9.9.9"},
		{PeerAddr: "10.0.0.2", LocalPref: 100, ASPathLen: 1, RouterID: "1.1.1.1"},
	}
	// AS_PATH length comparison disabled: falls through to router-id.
	if got := BestWithConfig(candidates, cfg); got != 1 {
		t.Fatalf("expected index 1 (lower router-id once as-path-length is ignored), got %d", got)
	}
}

func TestBestWithConfigDisablesMEDEntirely(t *testing.T) {
	cfg := DefaultDecisionConfig()
	cfg.EnableMED = false
	candidates := []Path{
		{PeerAddr: "10.0.0.1", LocalPref: 100, PeerAS: 65001, MED: 10, RouterID: "2.2.2.2"},
		{PeerAddr: "10.0.0.2", LocalPref: 100, PeerAS: 65001, MED: 50, RouterID: "1.1.1.1"},
	}
	// MED disabled: falls through to router-id, not the lower-MED candidate.
	if got := BestWithConfig(candidates, cfg); got != 1 {
		t.Fatalf("expected index 1 (router-id tiebreak with MED disabled), got %d", got)
	}
}

func TestBestWithConfigAlwaysCompareMEDCrossesPeerAS(t *testing.T) {
	cfg := DefaultDecisionConfig()
	cfg.AlwaysCompareMED = true
	candidates := []Path{
		{PeerAddr: "10.0.0.1", LocalPref: 100, PeerAS: 65001, MED: 50},
		{PeerAddr: "10.0.0.2", LocalPref: 100, PeerAS: 65002, MED: 10},
	}
	if got := BestWithConfig(candidates, cfg); got != 1 {
		t.Fatalf("expected index 1 (lower MED compared across peer AS), got %d", got)
	}
}

func TestMultipathGroupDisabledByDefaultReturnsOnlyBest(t *testing.T) {
	cfg := DefaultDecisionConfig()
	candidates := []Path{
		{PeerAddr: "10.0.0.1", PeerType: "ebgp", PeerAS: 65002, LocalPref: 100},
		{PeerAddr: "10.0.0.2", PeerType: "ebgp", PeerAS: 65002, LocalPref: 100},
	}
	group := MultipathGroup(candidates, cfg)
	if len(group) != 1 {
		t.Fatalf("expected exactly 1 path with default config, got %d", len(group))
	}
}

func TestMultipathGroupEBGPMaxPathsSelectsEqualCostPaths(t *testing.T) {
	cfg := DefaultDecisionConfig()
	cfg.EBGPMaxPaths = 2
	candidates := []Path{
		{PeerAddr: "10.0.0.1", PeerType: "ebgp", PeerAS: 65002, LocalPref: 100, MED: 10},
		{PeerAddr: "10.0.0.2", PeerType: "ebgp", PeerAS: 65002, LocalPref: 100, MED: 10},
		{PeerAddr: "10.0.0.3", PeerType: "ebgp", PeerAS: 65003, LocalPref: 50, MED: 10},
	}
	group := MultipathGroup(candidates, cfg)
	if len(group) != 2 {
		t.Fatalf("expected 2 equal-cost ebgp paths, got %d", len(group))
	}
	for _, idx := range group {
		if candidates[idx].LocalPref != 100 {
			t.Fatalf("expected only the local-pref-100 group selected, got index %d", idx)
		}
	}
}

func TestMultipathGroupRejectsDifferentASUnlessAllowed(t *testing.T) {
	cfg := DefaultDecisionConfig()
	cfg.EBGPMaxPaths = 4
	candidates := []Path{
		{PeerAddr: "10.0.0.1", PeerType: "ebgp", PeerAS: 65002, LocalPref: 100, MED: 10},
		{PeerAddr: "10.0.0.2", PeerType: "ebgp", PeerAS: 65003, LocalPref: 100, MED: 10},
	}
	if group := MultipathGroup(candidates, cfg); len(group) != 1 {
		t.Fatalf("expected different-AS ebgp paths excluded by default, got %d", len(group))
	}

	cfg.EBGPAllowMultipleAS = true
	if group := MultipathGroup(candidates, cfg); len(group) != 2 {
		t.Fatalf("expected different-AS ebgp paths included once allowed, got %d", len(group))
	}
}
