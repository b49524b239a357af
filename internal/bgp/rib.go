package bgp

import (
	"time"

	"github.com/holo-routing/routingd/internal/attrstore"
	"github.com/holo-routing/routingd/internal/metrics"
)

// Address families the RIB keeps separate prefix tables for. IPv4 NLRI
// and MP_REACH/MP_UNREACH IPv6 NLRI never share a table, and southbound
// writes carry the prefix's real family.
const (
	AFIPv4 = "ipv4"
	AFIPv6 = "ipv6"
)

// attrKey is the canonical, comparable key used to intern an attribute
// set: every field that participates in path comparison or could
// distinguish two otherwise-identical announcements. All three
// community kinds are part of the key, so two announcements differing
// only in their RT or large-community sets never share an index.
type attrKey struct {
	Origin         uint8
	ASPath         string
	NextHop        string
	MED            uint32
	LocalPref      uint32
	Community      string
	ExtCommunity   string
	LargeCommunity string
}

// PrefixRef names one prefix within an address family. RIB mutations
// report changed prefixes as PrefixRefs so callers flush each one
// southbound under its real family.
type PrefixRef struct {
	AFI    string
	Prefix string
}

type ribEntry struct {
	Path      Path
	AttrIndex attrstore.Index
	Received  time.Time
}

// ribTable is the per-family half of the RIB: one Adj-RIB-In per peer
// plus the Loc-RIB selection for prefixes of that family.
type ribTable struct {
	// adjIn[peer][prefix] = candidate path (attribute index already resolved).
	adjIn map[string]map[string]ribEntry
	// locRIB[prefix] = current best paths, best-first; len > 1 only
	// while multipath is active for that prefix's peer type.
	locRIB map[string][]Path
}

func newRIBTable() *ribTable {
	return &ribTable{
		adjIn:  make(map[string]map[string]ribEntry),
		locRIB: make(map[string][]Path),
	}
}

// RIB holds one instance's Adj-RIB-In (per peer) and Loc-RIB (best
// paths per prefix), one table per address family. Attribute sets are
// interned through attrstore so that N peers announcing the same
// community/AS-path/etc. share one allocation; the store is shared
// across families since the key carries no prefix.
type RIB struct {
	instance string
	attrs    *attrstore.Store[attrKey, attrKey]
	cfg      DecisionConfig
	tables   map[string]*ribTable

	onInvariant func(error)
}

func NewRIB(instance string) *RIB {
	return &RIB{
		instance: instance,
		attrs:    attrstore.New[attrKey, attrKey](),
		cfg:      DefaultDecisionConfig(),
		tables:   make(map[string]*ribTable),
	}
}

// SetInvariantHook installs the callback invoked when the attribute
// store reports an unbalanced release. The owning instance uses it to
// log and stop its event loop rather than continue with corrupted
// share counts; other instances in the process are unaffected.
func (r *RIB) SetInvariantHook(fn func(error)) { r.onInvariant = fn }

func (r *RIB) release(idx attrstore.Index) {
	if err := r.attrs.Release(idx); err != nil && r.onInvariant != nil {
		r.onInvariant(err)
	}
}

func (r *RIB) table(afi string) *ribTable {
	if afi == "" {
		afi = AFIPv4
	}
	t, ok := r.tables[afi]
	if !ok {
		t = newRIBTable()
		r.tables[afi] = t
	}
	return t
}

// SetDecisionConfig updates the knobs recompute applies on every
// subsequent call. It does not itself re-run the decision process for
// already-computed prefixes; call Recompute for that.
func (r *RIB) SetDecisionConfig(cfg DecisionConfig) {
	r.cfg = cfg
}

// Recompute re-runs the decision process for every prefix with at
// least one candidate path in any family, returning the prefixes whose
// Loc-RIB result changed. Used after a decision-config change, since
// that can move any prefix's best path or multipath set.
func (r *RIB) Recompute() []PrefixRef {
	var changed []PrefixRef
	for afi, t := range r.tables {
		prefixes := make(map[string]bool)
		for _, peerRIB := range t.adjIn {
			for prefix := range peerRIB {
				prefixes[prefix] = true
			}
		}
		for prefix := range t.locRIB {
			prefixes[prefix] = true
		}
		for prefix := range prefixes {
			if r.recompute(t, prefix) {
				changed = append(changed, PrefixRef{AFI: afi, Prefix: prefix})
			}
		}
	}
	return changed
}

// Update installs one peer's announcement for a prefix into the
// family's Adj-RIB-In and re-runs the decision process for that
// prefix, returning whether the Loc-RIB entry changed (i.e. whether
// the southbound/redistribution layer needs to be told). The family is
// taken from path.AFI; an empty AFI means IPv4.
func (r *RIB) Update(peer string, path Path, key attrKey) bool {
	if path.AFI == "" {
		path.AFI = AFIPv4
	}
	t := r.table(path.AFI)
	if _, ok := t.adjIn[peer]; !ok {
		t.adjIn[peer] = make(map[string]ribEntry)
	}

	if old, ok := t.adjIn[peer][path.Prefix]; ok {
		r.release(old.AttrIndex)
	}
	idx := r.attrs.Intern(key, key)
	t.adjIn[peer][path.Prefix] = ribEntry{Path: path, AttrIndex: idx, Received: time.Now()}

	r.refreshSizeMetrics()
	return r.recompute(t, path.Prefix)
}

// Withdraw removes one peer's candidate for a prefix and re-runs the
// decision process, returning whether Loc-RIB changed.
func (r *RIB) Withdraw(peer, afi, prefix string) bool {
	t := r.table(afi)
	peerRIB, ok := t.adjIn[peer]
	if !ok {
		return false
	}
	entry, ok := peerRIB[prefix]
	if !ok {
		return false
	}
	r.release(entry.AttrIndex)
	delete(peerRIB, prefix)

	r.refreshSizeMetrics()
	return r.recompute(t, prefix)
}

// WithdrawPeer removes every candidate path a peer has contributed in
// every family (session teardown), re-running the decision process for
// every affected prefix.
func (r *RIB) WithdrawPeer(peer string) []PrefixRef {
	var changed []PrefixRef
	for afi, t := range r.tables {
		peerRIB, ok := t.adjIn[peer]
		if !ok {
			continue
		}
		for prefix, entry := range peerRIB {
			r.release(entry.AttrIndex)
			delete(peerRIB, prefix)
			if r.recompute(t, prefix) {
				changed = append(changed, PrefixRef{AFI: afi, Prefix: prefix})
			}
		}
		delete(t.adjIn, peer)
	}
	r.refreshSizeMetrics()
	return changed
}

// recompute re-derives the Loc-RIB best path for prefix from every
// peer's Adj-RIB-In entry in the table by running the decision process.
func (r *RIB) recompute(t *ribTable, prefix string) bool {
	var candidates []Path
	for _, peerRIB := range t.adjIn {
		if e, ok := peerRIB[prefix]; ok {
			candidates = append(candidates, e.Path)
		}
	}

	old, hadOld := t.locRIB[prefix]

	if len(candidates) == 0 {
		if hadOld {
			delete(t.locRIB, prefix)
			return true
		}
		return false
	}

	group := MultipathGroup(candidates, r.cfg)
	paths := make([]Path, len(group))
	for i, ci := range group {
		paths[i] = candidates[ci]
	}
	t.locRIB[prefix] = paths

	if !hadOld || len(old) != len(paths) {
		return true
	}
	for i := range paths {
		if old[i] != paths[i] {
			return true
		}
	}
	return false
}

// Lookup returns the primary (first) best path for prefix in the given
// family.
func (r *RIB) Lookup(afi, prefix string) (Path, bool) {
	paths := r.LookupAll(afi, prefix)
	if len(paths) == 0 {
		return Path{}, false
	}
	return paths[0], true
}

// LookupAll returns every installed best path for prefix, best-first;
// more than one only when multipath (DecisionConfig.EBGPMaxPaths /
// IBGPMaxPaths > 1) selected more than one equal-cost candidate.
func (r *RIB) LookupAll(afi, prefix string) []Path {
	if afi == "" {
		afi = AFIPv4
	}
	t, ok := r.tables[afi]
	if !ok {
		return nil
	}
	return t.locRIB[prefix]
}

func (r *RIB) LocRIBSize() int {
	n := 0
	for _, t := range r.tables {
		n += len(t.locRIB)
	}
	return n
}

// Stats reports decision-process path counts: TotalPaths is every
// candidate path held across every peer's Adj-RIB-In in every family,
// EligiblePaths is the number of prefixes that currently resolve to a
// Loc-RIB best path.
type Stats struct {
	TotalPaths    int
	EligiblePaths int
}

func (r *RIB) Stats() Stats {
	var s Stats
	for _, t := range r.tables {
		for _, peerRIB := range t.adjIn {
			s.TotalPaths += len(peerRIB)
		}
		s.EligiblePaths += len(t.locRIB)
	}
	return s
}

func (r *RIB) refreshSizeMetrics() {
	for afi, t := range r.tables {
		metrics.RIBSizeGauge.WithLabelValues(r.instance, afi, "loc").Set(float64(len(t.locRIB)))
	}
	metrics.AttrStoreSizeGauge.WithLabelValues(r.instance, "bgp-path-attrs").Set(float64(r.attrs.Len()))
	stats := r.Stats()
	metrics.DecisionPathsGauge.WithLabelValues(r.instance, "total").Set(float64(stats.TotalPaths))
	metrics.DecisionPathsGauge.WithLabelValues(r.instance, "eligible").Set(float64(stats.EligiblePaths))
}
