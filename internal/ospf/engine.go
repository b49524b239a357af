package ospf

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/holo-routing/routingd/internal/event"
	"github.com/holo-routing/routingd/internal/ibus"
	"github.com/holo-routing/routingd/internal/instance"
	"github.com/holo-routing/routingd/internal/metrics"
	"github.com/holo-routing/routingd/internal/nbtxn"
	"github.com/holo-routing/routingd/internal/southbound"
	"github.com/holo-routing/routingd/internal/timer"
)

// InterfaceConfig is the northbound working-tree shape of one
// configured OSPF interface.
type InterfaceConfig struct {
	Name     string
	AreaID   string
	Priority int
	Cost     int
	HelloSecs int
	DeadSecs  int
}

// InstanceTree is the northbound working tree for one OSPF instance.
type InstanceTree struct {
	RouterID   string
	Version    int
	Interfaces map[string]InterfaceConfig
}

func cloneInstanceTree(t *InstanceTree) *InstanceTree {
	n := &InstanceTree{RouterID: t.RouterID, Version: t.Version, Interfaces: make(map[string]InterfaceConfig, len(t.Interfaces))}
	for k, v := range t.Interfaces {
		n.Interfaces[k] = v
	}
	return n
}

// Instance is one running OSPF routing instance, one per configured
// OSPF routing domain, owning one LSDB per
// area, one Interface ISM per configured interface, and the SPF timer.
// AdvanceDecision arms a zero-delay KindSPFDelay timer after an LSDB
// change, so LSAs handled before it fires share one SPF run; no
// configurable delay is applied and no KindSPFHoldDown timer is armed.
type Instance struct {
	Name   string
	Loop   *instance.Loop
	NB     *nbtxn.Engine[InstanceTree]
	FIB    southbound.FIBWriter
	logger *zap.Logger

	lsdbByArea map[string]*LSDB
	interfaces map[string]*Interface
	neighbors  map[string]*Neighbor // keyed by neighbor router ID, instance-wide
	spfDirty   bool
}

func NewInstance(name string, initial InstanceTree, fib southbound.FIBWriter, logger *zap.Logger) *Instance {
	named := logger.Named("ospf").With(zap.String("instance", name))
	loop := instance.NewLoop(64, named)

	inst := &Instance{
		Name:       name,
		Loop:       loop,
		FIB:        fib,
		logger:     named,
		lsdbByArea: make(map[string]*LSDB),
		interfaces: make(map[string]*Interface),
		neighbors:  make(map[string]*Neighbor),
	}

	nb := nbtxn.New(&initial, cloneInstanceTree)
	nb.Register("/interface/", nbtxn.Callback[InstanceTree]{
		Validate: func(working *InstanceTree, mod nbtxn.Modification) error {
			if mod.Op == nbtxn.OpDelete {
				return nil
			}
			cfg, ok := mod.Value.(InterfaceConfig)
			if !ok || cfg.Name == "" || cfg.AreaID == "" {
				return fmt.Errorf("ospf: interface config requires name and area-id")
			}
			if cfg.DeadSecs <= cfg.HelloSecs {
				return fmt.Errorf("ospf: dead interval must exceed hello interval")
			}
			return nil
		},
		Apply: func(working *InstanceTree, mod nbtxn.Modification, q *event.Queue) error {
			name := mod.Path[len("/interface/"):]
			switch mod.Op {
			case nbtxn.OpDelete:
				if _, exists := working.Interfaces[name]; !exists {
					return nil // idempotent: nothing to delete
				}
				delete(working.Interfaces, name)
			default:
				cfg := mod.Value.(InterfaceConfig)
				if prev, exists := working.Interfaces[name]; exists && prev == cfg {
					return nil // idempotent: re-applying an unchanged config is a no-op
				}
				working.Interfaces[name] = cfg
			}
			q.Push(event.Event{Kind: event.InstanceUpdate})
			return nil
		},
	})
	inst.NB = nb

	for _, cfg := range initial.Interfaces {
		inst.addInterface(cfg)
	}
	inst.ensureLSDB("") // AS-scope (type-5) database always exists

	inst.Loop.H = instance.Handlers{
		HandleNB: func(msg any) {
			mods, ok := msg.([]nbtxn.Modification)
			if !ok {
				return
			}
			events, err := inst.NB.Apply(mods)
			if err != nil {
				metrics.NBTransactionsTotal.WithLabelValues(inst.Name, "rejected").Inc()
				inst.logger.Warn("nb apply failed", zap.Error(err))
				return
			}
			metrics.NBTransactionsTotal.WithLabelValues(inst.Name, "applied").Inc()
			for _, ev := range events {
				inst.Loop.Queue.Push(ev)
			}
		},
		HandleProto: func(msg any) {
			lsa, ok := msg.(LSA)
			if !ok {
				return
			}
			if lsa.ID.Type == LSTypeGrace {
				inst.handleGraceLSA(lsa)
				return
			}
			lsdb := inst.ensureLSDB(lsa.AreaID)
			if lsdb.Install(lsa) {
				inst.spfDirty = true
				// A topology-changing LSA from a neighbor mid-graceful-restart
				// contradicts its grace period (RFC 3623 §3.1 bullet 3).
				if nbr, ok := inst.neighbors[lsa.ID.AdvRtr]; ok && nbr.GraceActive {
					nbr.TerminateGracefulRestart()
				}
			}
		},
		HandleTimer: func(tok timer.Token) {
			switch tok.Kind {
			case timer.KindSPFDelay, timer.KindSPFHoldDown:
				if inst.spfDirty {
					inst.runSPF()
					inst.spfDirty = false
				}
			case timer.KindHelloHold:
				if iface, ok := inst.interfaces[tok.Owner]; ok {
					iface.Handle(IfEvWaitTimer, nil)
				}
			case timer.KindGraceExpiry:
				if nbr, ok := inst.neighbors[tok.Owner]; ok {
					nbr.Handle(NbrEvGraceTimerExpired)
				}
			}
		},
		HandleIBus: func(msg any) {
			rec, ok := msg.(ibus.Record)
			if !ok {
				return
			}
			if rec.Class != ibus.ClassInterface {
				return
			}
			ie, err := ibus.UnmarshalInterface(rec.Payload)
			if err != nil {
				inst.logger.Warn("ibus interface decode failed", zap.Error(err))
				return
			}
			iface, ok := inst.interfaces[ie.Name]
			if !ok {
				return
			}
			if ie.Up {
				iface.Handle(IfEvInterfaceUp, nil)
			} else {
				iface.Handle(IfEvInterfaceDown, nil)
			}
		},
		HandleEvent: func(ev event.Event) {
			switch ev.Kind {
			case event.InstanceUpdate:
				tree := inst.NB.Lookup()
				for name, cfg := range tree.Interfaces {
					if _, exists := inst.interfaces[name]; !exists {
						inst.addInterface(cfg)
					}
				}
			}
		},
		AdvanceDecision: func() {
			if inst.spfDirty {
				// RFC 8405 SPF delay: debounce a burst of LSA changes into
				// one SPF run rather than running it per LSA.
				inst.Loop.Timers.Reset("spf", timer.KindSPFDelay, 0)
			}
		},
		FlushOutbound: func() {},
	}

	return inst
}

func (i *Instance) addInterface(cfg InterfaceConfig) {
	tree := i.NB.Lookup()
	iface := NewInterface(cfg.Name, cfg.AreaID, tree.RouterID, cfg.Priority, i.Loop.Timers, i.logger)
	i.interfaces[cfg.Name] = iface
	i.ensureLSDB(cfg.AreaID)
	iface.Handle(IfEvInterfaceUp, nil)
}

func (i *Instance) ensureLSDB(areaID string) *LSDB {
	if db, ok := i.lsdbByArea[areaID]; ok {
		return db
	}
	db := NewLSDB(i.Name, areaID)
	i.lsdbByArea[areaID] = db
	return db
}

const netVertexPrefix = "net:"

// buildGraph walks the installed Router-LSAs and Network-LSAs of one
// area and builds the SPF input graph (RFC 2328 §16.1 step 2): each
// router is a vertex; each transit network gets a pseudo-vertex (keyed
// by netVertexPrefix+designated-router-address) with zero-cost links
// back to its attached routers, matching the area's actual topology
// rather than a full router-to-router mesh.
func (i *Instance) buildGraph(areaID string) Graph {
	graph := make(Graph)
	lsdb := i.lsdbByArea[areaID]
	if lsdb == nil {
		return graph
	}

	lsdb.Each(func(lsa LSA) bool {
		switch lsa.ID.Type {
		case LSTypeRouter:
			links, err := parseRouterLSABody(lsa.Body)
			if err != nil {
				metrics.DecodeErrorsTotal.WithLabelValues("ospf", "router-lsa").Inc()
				i.logger.Warn("router-lsa body parse failed", zap.Error(err), zap.String("router", lsa.ID.AdvRtr))
				return true
			}
			for _, link := range links {
				switch link.Type {
				case RouterLinkPointToPoint, RouterLinkVirtual:
					graph[lsa.ID.AdvRtr] = append(graph[lsa.ID.AdvRtr], Link{ToRouterID: link.LinkID, Cost: link.Metric})
				case RouterLinkTransit:
					net := netVertexPrefix + link.LinkID
					graph[lsa.ID.AdvRtr] = append(graph[lsa.ID.AdvRtr], Link{ToRouterID: net, Cost: link.Metric})
				}
			}
		case LSTypeNetwork:
			_, attached, err := parseNetworkLSABody(lsa.Body)
			if err != nil {
				metrics.DecodeErrorsTotal.WithLabelValues("ospf", "network-lsa").Inc()
				i.logger.Warn("network-lsa body parse failed", zap.Error(err))
				return true
			}
			net := netVertexPrefix + lsa.ID.LinkID
			for _, rtr := range attached {
				graph[net] = append(graph[net], Link{ToRouterID: rtr, Cost: 0})
			}
		}
		return true
	})
	return graph
}

// runSPF recomputes best next hops for every area (RFC 2328 §16: intra-
// area via Dijkstra, then inter-area via Summary-LSAs, then AS-external
// routes) and installs changed routes southbound.
func (i *Instance) runSPF() {
	ctx := context.Background()
	tree := i.NB.Lookup()

	intraArea := make(map[string]map[string]SPFResult) // areaID -> routerID -> result
	for areaID := range i.lsdbByArea {
		if areaID == "" {
			continue // AS-scope pseudo-area holds only type-5 LSAs, not part of any area's SPF
		}
		results := RunSPF(i.Name, areaID, tree.RouterID, i.buildGraph(areaID))
		intraArea[areaID] = results
		i.installIntraAreaRoutes(ctx, results)
		i.installStubRoutes(ctx, areaID, results)
	}

	reachable := make(map[string]bool) // router IDs reachable intra-area, any area
	for _, results := range intraArea {
		for routerID := range results {
			reachable[routerID] = true
		}
	}
	reachable[tree.RouterID] = true

	i.installSummaryRoutes(ctx, reachable)
	i.installExternalRoutes(ctx, i.computeASBRReachability(reachable))
}

func (i *Instance) installIntraAreaRoutes(ctx context.Context, results map[string]SPFResult) {
	for routerID, res := range results {
		if strings.HasPrefix(routerID, netVertexPrefix) {
			continue // pseudo-vertex for a transit network, not a router
		}
		i.FIB.AddRoute(ctx, i.Name, "ipv4", routerID+"/32", res.NextHop, uint32(res.Cost))
	}
}

// installStubRoutes installs the stub-network links (RFC 2328 §16.1
// step 3) each reachable router's Router-LSA advertises, keyed off the
// SPF result's cost and next hop for that router.
func (i *Instance) installStubRoutes(ctx context.Context, areaID string, results map[string]SPFResult) {
	lsdb := i.lsdbByArea[areaID]
	if lsdb == nil {
		return
	}
	lsdb.Each(func(lsa LSA) bool {
		if lsa.ID.Type != LSTypeRouter {
			return true
		}
		res, ok := results[lsa.ID.AdvRtr]
		if !ok {
			return true
		}
		links, err := parseRouterLSABody(lsa.Body)
		if err != nil {
			return true
		}
		for _, link := range links {
			if link.Type != RouterLinkStub {
				continue
			}
			prefixLen := maskPrefixLen(link.Data)
			i.FIB.AddRoute(ctx, i.Name, "ipv4", fmt.Sprintf("%s/%d", link.LinkID, prefixLen), res.NextHop, uint32(res.Cost))
		}
		return true
	})
}

// installSummaryRoutes installs inter-area routes (RFC 2328 §16.2) from
// Type-3 Summary-LSAs originated by any ABR this router already has an
// intra-area route to.
func (i *Instance) installSummaryRoutes(ctx context.Context, reachable map[string]bool) {
	for areaID, lsdb := range i.lsdbByArea {
		if areaID == "" {
			continue
		}
		lsdb.Each(func(lsa LSA) bool {
			if lsa.ID.Type != LSTypeSummary || !reachable[lsa.ID.AdvRtr] {
				return true
			}
			body, err := parseSummaryLSABody(lsa.Body)
			if err != nil {
				return true
			}
			prefixLen := maskPrefixLen(body.Mask)
			i.FIB.AddRoute(ctx, i.Name, "ipv4", fmt.Sprintf("%s/%d", lsa.ID.LinkID, prefixLen), lsa.ID.AdvRtr, uint32(body.Metric))
			return true
		})
	}
}

// computeASBRReachability reports which ASBR router IDs this router can
// reach, either directly (an intra-area route already exists) or via a
// Type-4 ASBR-Summary-LSA originated by a reachable ABR (RFC 2328
// §16.3 step 1). The ASBR identity itself is taken from each Type-5
// LSA's own advertising router, sidestepping the Router-LSA E-bit this
// package doesn't otherwise decode.
func (i *Instance) computeASBRReachability(reachable map[string]bool) map[string]bool {
	asbrs := make(map[string]bool)
	asLSDB := i.lsdbByArea[""]
	if asLSDB == nil {
		return asbrs
	}
	asLSDB.Each(func(lsa LSA) bool {
		if lsa.ID.Type != LSTypeExternal {
			return true
		}
		if reachable[lsa.ID.AdvRtr] {
			asbrs[lsa.ID.AdvRtr] = true
			return true
		}
		for areaID, lsdb := range i.lsdbByArea {
			if areaID == "" {
				continue
			}
			lsdb.Each(func(summ LSA) bool {
				if summ.ID.Type == LSTypeASBRSumm && summ.ID.LinkID == lsa.ID.AdvRtr && reachable[summ.ID.AdvRtr] {
					asbrs[lsa.ID.AdvRtr] = true
					return false
				}
				return true
			})
		}
		return true
	})
	return asbrs
}

// installExternalRoutes installs AS-external routes (RFC 2328 §16.4)
// from Type-5 LSAs originated by a reachable ASBR, with the ASBR's
// router ID as next hop. Both external metric types are installed with
// the LSA's own metric as the cost: the cost to the ASBR is not added,
// and type-2 metrics are not compared separately from intra-AS cost.
func (i *Instance) installExternalRoutes(ctx context.Context, asbrs map[string]bool) {
	asLSDB := i.lsdbByArea[""]
	if asLSDB == nil {
		return
	}
	asLSDB.Each(func(lsa LSA) bool {
		if lsa.ID.Type != LSTypeExternal || !asbrs[lsa.ID.AdvRtr] {
			return true
		}
		body, err := parseASExternalLSABody(lsa.Body)
		if err != nil {
			return true
		}
		prefixLen := maskPrefixLen(body.Mask)
		i.FIB.AddRoute(ctx, i.Name, "ipv4", fmt.Sprintf("%s/%d", lsa.ID.LinkID, prefixLen), lsa.ID.AdvRtr, uint32(body.Metric))
		return true
	})
}

// RegisterNeighbor returns the tracked Neighbor for routerID, creating
// it (attached to ifName) if this is the first time it's been seen.
func (i *Instance) RegisterNeighbor(routerID, ifName string) *Neighbor {
	if nbr, ok := i.neighbors[routerID]; ok {
		return nbr
	}
	nbr := NewNeighbor(routerID, ifName, i.Loop.Timers, i.logger)
	i.neighbors[routerID] = nbr
	return nbr
}

// handleGraceLSA processes a received Grace-LSA (RFC 3623 §3.1): if the
// advertising router is a Full neighbor, it enters helper mode for the
// advertised grace period.
func (i *Instance) handleGraceLSA(lsa LSA) {
	nbr, ok := i.neighbors[lsa.ID.AdvRtr]
	if !ok {
		return
	}
	grace, err := parseGraceLSABody(lsa.Body)
	if err != nil {
		metrics.DecodeErrorsTotal.WithLabelValues("ospf", "grace-lsa").Inc()
		i.logger.Warn("grace-lsa body parse failed", zap.Error(err))
		return
	}
	nbr.EnterGracefulRestart(int(grace.Period), grace.Reason)
}

// Ready reports instance-level readiness: at least one interface's ISM
// is in DR, Backup, DROther or PointToPoint state, or there are no
// interfaces configured. Neighbor adjacency state is not consulted.
func (i *Instance) Ready() bool {
	if len(i.interfaces) == 0 {
		return true
	}
	for _, iface := range i.interfaces {
		if iface.State == IfDR || iface.State == IfBackup || iface.State == IfDROther || iface.State == IfPointToPoint {
			return true
		}
	}
	return false
}
