// Package loadbalancer implements the four connection-selection strategies
// (§4.3) over a Graph's weighted connection set, plus the opened-connection
// counters the least-connections strategies and the dispatcher share.
package loadbalancer

import (
	"errors"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/nulpointcorp/llmur-gateway/internal/graph"
)

// ErrNoConnectionsAvailable is returned by Pick when a Graph carries zero
// connections.
var ErrNoConnectionsAvailable = errors.New("load balancer: no connections available")

// Balancer holds the process-wide counter maps. Counter maps are members of
// a concrete instance, never globals (§9 design notes) — one Balancer is
// constructed at app startup and shared across requests.
type Balancer struct {
	mu sync.Mutex

	// rrIndex is the round-robin cursor, keyed by Deployment id.
	rrIndex map[uuid.UUID]uint64
	// wrrIndex is the weighted-round-robin cursor, keyed by Deployment id.
	wrrIndex map[uuid.UUID]uint64
	// opened is the live opened-connection count, keyed by Connection id.
	opened map[uuid.UUID]uint64
}

// New constructs an empty Balancer.
func New() *Balancer {
	return &Balancer{
		rrIndex:  make(map[uuid.UUID]uint64),
		wrrIndex: make(map[uuid.UUID]uint64),
		opened:   make(map[uuid.UUID]uint64),
	}
}

// Pick selects one connection from g according to g.Deployment.Strategy.
func (b *Balancer) Pick(g *graph.Graph) (*graph.ConnectionNode, error) {
	if len(g.Connections) == 0 {
		return nil, ErrNoConnectionsAvailable
	}

	switch g.Deployment.Strategy {
	case graph.StrategyWeightedRoundRobin:
		return b.weightedRoundRobin(g)
	case graph.StrategyLeastConnections:
		return b.leastConnections(g)
	case graph.StrategyWeightedLeastConnections:
		return b.weightedLeastConnections(g)
	default:
		return b.roundRobin(g)
	}
}

func (b *Balancer) roundRobin(g *graph.Graph) (*graph.ConnectionNode, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := uint64(len(g.Connections))
	idx := b.rrIndex[g.Deployment.ID] % n
	b.rrIndex[g.Deployment.ID] = (idx + 1) % n
	return &g.Connections[idx], nil
}

func (b *Balancer) weightedRoundRobin(g *graph.Graph) (*graph.ConnectionNode, error) {
	var total uint64
	for _, c := range g.Connections {
		total += uint64(c.Weight)
	}
	if total == 0 {
		// Degrade to plain round_robin when total weight is zero.
		return b.roundRobin(g)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	p := b.wrrIndex[g.Deployment.ID] % total
	b.wrrIndex[g.Deployment.ID] = (p + 1) % total

	var cumulative uint64
	for i := range g.Connections {
		cumulative += uint64(g.Connections[i].Weight)
		if p < cumulative {
			return &g.Connections[i], nil
		}
	}
	// Unreachable given p < total, but return the last connection as a
	// defensive fallback rather than panicking.
	return &g.Connections[len(g.Connections)-1], nil
}

func (b *Balancer) leastConnections(g *graph.Graph) (*graph.ConnectionNode, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	best := 0
	bestOpen := b.opened[g.Connections[0].ID]
	for i := 1; i < len(g.Connections); i++ {
		open := b.opened[g.Connections[i].ID]
		if open < bestOpen {
			best = i
			bestOpen = open
		}
	}
	return &g.Connections[best], nil
}

func (b *Balancer) weightedLeastConnections(g *graph.Graph) (*graph.ConnectionNode, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ratio := func(i int) float64 {
		w := g.Connections[i].Weight
		if w == 0 {
			w = 1
		}
		return float64(b.opened[g.Connections[i].ID]) / float64(w)
	}

	best := 0
	bestRatio := ratio(0)
	for i := 1; i < len(g.Connections); i++ {
		r := ratio(i)
		// NaN-safe comparison: treat NaN as equal to the current best,
		// never preferring it.
		if r < bestRatio && !math.IsNaN(r) {
			best = i
			bestRatio = r
		}
	}
	return &g.Connections[best], nil
}

// MarkOpened increments the opened-connection counter for a connection.
// Call before dispatching an attempt.
func (b *Balancer) MarkOpened(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opened[id]++
}

// MarkClosed decrements the opened-connection counter, saturating at zero.
// Call on every exit path after dispatching an attempt (success, failure,
// or cancellation) so the counter never leaks.
func (b *Balancer) MarkClosed(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.opened[id] > 0 {
		b.opened[id]--
	}
}

// OpenedCount exposes the current counter value, used by metrics export.
func (b *Balancer) OpenedCount(id uuid.UUID) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened[id]
}
