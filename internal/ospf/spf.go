package ospf

import (
	"container/heap"
	"time"

	"github.com/holo-routing/routingd/internal/metrics"
)

// Link is one directed edge out of a router-LSA: a point-to-point or
// transit-network link to another vertex, with its configured cost
// (RFC 2328 §16.1 step 2).
type Link struct {
	ToRouterID string
	Cost       int
}

// Graph is the per-area SPF input: every known router's outgoing
// links, built by the caller from the area's router-LSAs before
// calling RunSPF. Kept separate from LSDB so RunSPF has no dependency
// on the wire LSA body format.
type Graph map[string][]Link

// SPFResult is one router's computed distance and next hop from the
// root (RFC 2328 §16.1's Dijkstra variant, stopping at the first hop
// rather than reconstructing the whole shortest-path tree since only
// the next hop is needed for RIB installation).
type SPFResult struct {
	RouterID string
	Cost     int
	NextHop  string // the neighbor of root this path departs through
}

type spfItem struct {
	routerID string
	cost     int
	nextHop  string
	index    int
}

type spfHeap []*spfItem

func (h spfHeap) Len() int            { return len(h) }
func (h spfHeap) Less(i, j int) bool  { return h[i].cost < h[j].cost }
func (h spfHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *spfHeap) Push(x any)         { item := x.(*spfItem); item.index = len(*h); *h = append(*h, item) }
func (h *spfHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// RunSPF computes the shortest path from root to every other vertex in
// graph via Dijkstra, recording the next-hop as the first-hop neighbor
// the winning path departs through (RFC 2328 §16.1: "the next hop(s) to
// be used is inherited from the parent vertex").
func RunSPF(instance, area, root string, graph Graph) map[string]SPFResult {
	start := time.Now()
	defer func() {
		metrics.SPFDuration.WithLabelValues(instance, area).Observe(time.Since(start).Seconds())
	}()

	results := make(map[string]SPFResult)
	visited := make(map[string]bool)

	h := &spfHeap{}
	heap.Init(h)
	heap.Push(h, &spfItem{routerID: root, cost: 0, nextHop: ""})

	for h.Len() > 0 {
		item := heap.Pop(h).(*spfItem)
		if visited[item.routerID] {
			continue
		}
		visited[item.routerID] = true
		if item.routerID != root {
			results[item.routerID] = SPFResult{RouterID: item.routerID, Cost: item.cost, NextHop: item.nextHop}
		}

		for _, link := range graph[item.routerID] {
			if visited[link.ToRouterID] {
				continue
			}
			nextHop := item.nextHop
			if item.routerID == root {
				nextHop = link.ToRouterID
			}
			heap.Push(h, &spfItem{
				routerID: link.ToRouterID,
				cost:     item.cost + link.Cost,
				nextHop:  nextHop,
			})
		}
	}

	return results
}
