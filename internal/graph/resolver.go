package graph

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/nulpointcorp/llmur-gateway/internal/usage"
	"github.com/nulpointcorp/llmur-gateway/pkg/apierr"
)

// Loader performs the staged relational-store load described in §4.1 step
// 3. internal/store.Store satisfies this interface structurally — graph
// never imports store, avoiding an import cycle (store depends on graph for
// its row types).
type Loader interface {
	VirtualKeyByID(ctx context.Context, id uuid.UUID) (VirtualKey, error)
	DeploymentByName(ctx context.Context, name string) (Deployment, error)
	ProjectByID(ctx context.Context, id uuid.UUID) (Project, error)
	VirtualKeyDeployment(ctx context.Context, vkID, deploymentID uuid.UUID) (VirtualKeyDeployment, error)
	ConnectionDeploymentsByDeployment(ctx context.Context, deploymentID uuid.UUID) ([]ConnectionDeployment, error)
	ConnectionsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Connection, error)
	AggregateStats(ctx context.Context, resource string, id uuid.UUID, now time.Time) (budget, requests, tokens usage.PeriodStats, err error)
}

// VirtualKeyNamespace is the fixed, configuration-free UUID namespace used
// to derive a VirtualKey's id from its plaintext form (Open Question 3).
// This constant must never change once a gateway has issued virtual keys
// under it — changing it invalidates every previously derived id.
var VirtualKeyNamespace = uuid.MustParse("6f9cdfb2-3e21-4d1b-9d7e-6d4a2d9a0b62")

// DeriveVirtualKeyID computes the UUIDv5 id for a plaintext virtual key.
func DeriveVirtualKeyID(plaintextKey string) uuid.UUID {
	return uuid.NewSHA1(VirtualKeyNamespace, []byte(plaintextKey))
}

// Resolver resolves (plaintext virtual key, deployment name) pairs into a
// fully hydrated Graph.
type Resolver struct {
	loader      Loader
	usageEngine *usage.Engine
	cache       *LocalCache
	localTTL    time.Duration

	// sf coalesces concurrent DB loads for the same cache key. This is an
	// enrichment beyond §4.1 ("no single-flight required", not forbidden) —
	// it reduces duplicate joins under bursty traffic without changing the
	// last-writer-wins cache semantics the spec describes.
	sf singleflight.Group
}

// NewResolver constructs a Resolver. localTTL is LOCAL_GRAPH_TTL_MS from
// configuration.
func NewResolver(loader Loader, usageEngine *usage.Engine, cache *LocalCache, localTTL time.Duration) *Resolver {
	return &Resolver{loader: loader, usageEngine: usageEngine, cache: cache, localTTL: localTTL}
}

// Resolve implements resolveGraph(apiKey, modelName, skipLocalCache,
// localTtlMs, now) → Graph | GraphLoadError (§4.1).
func (r *Resolver) Resolve(ctx context.Context, plaintextKey, deploymentName string, skipLocalCache bool, now time.Time) (*Graph, error) {
	vkID := DeriveVirtualKeyID(plaintextKey)

	var g Graph
	if !skipLocalCache {
		if cached, ok := r.cache.Get(vkID.String(), deploymentName, r.localTTL, now); ok {
			g = cached
		} else {
			loaded, err := r.loadEntities(ctx, vkID, deploymentName)
			if err != nil {
				return nil, err
			}
			g = loaded
			r.cache.Put(vkID.String(), deploymentName, g, now)
		}
	} else {
		loaded, err := r.loadEntities(ctx, vkID, deploymentName)
		if err != nil {
			return nil, err
		}
		g = loaded
	}

	if err := r.hydrateUsage(ctx, &g, now); err != nil {
		return nil, err
	}
	g.ResolvedAt = now
	return &g, nil
}

// loadEntities performs §4.1 step 3: the staged join, coalesced via
// singleflight for concurrent misses on the same key.
func (r *Resolver) loadEntities(ctx context.Context, vkID uuid.UUID, deploymentName string) (Graph, error) {
	sfKey := vkID.String() + "::" + deploymentName
	v, err, _ := r.sf.Do(sfKey, func() (any, error) {
		vk, err := r.loader.VirtualKeyByID(ctx, vkID)
		if err != nil {
			return nil, err
		}
		if vk.Blocked {
			return nil, &apierr.AuthorizationError{Reason: "virtual key is blocked"}
		}

		dep, err := r.loader.DeploymentByName(ctx, deploymentName)
		if err != nil {
			return nil, err
		}

		proj, err := r.loader.ProjectByID(ctx, vk.ProjectID)
		if err != nil {
			return nil, &apierr.GraphLoadError{Kind: apierr.InconsistentProject, Cause: err}
		}

		if _, err := r.loader.VirtualKeyDeployment(ctx, vk.ID, dep.ID); err != nil {
			return nil, err
		}

		cds, err := r.loader.ConnectionDeploymentsByDeployment(ctx, dep.ID)
		if err != nil {
			return nil, err
		}

		ids := make([]uuid.UUID, len(cds))
		for i, cd := range cds {
			ids[i] = cd.ConnectionID
		}
		conns, err := r.loader.ConnectionsByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}

		nodes := make([]ConnectionNode, len(cds))
		for i, cd := range cds {
			nodes[i] = ConnectionNode{
				Connection:    conns[cd.ConnectionID],
				AssociationID: cd.ID,
				Weight:        cd.Weight,
			}
		}

		return Graph{
			VirtualKey:  VirtualKeyNode{VirtualKey: vk},
			Deployment:  DeploymentNode{Deployment: dep},
			Project:     ProjectNode{Project: proj},
			Connections: nodes,
		}, nil
	})
	if err != nil {
		return Graph{}, err
	}
	return v.(Graph), nil
}

// hydrateUsage performs §4.1 steps 5-6: multi-get the 12 counter keys per
// node from the external KV, falling back to the DB aggregator (with a
// cache writeback) wherever the cached bundle is incomplete. KV errors are
// swallowed here — they fall through to the DB path rather than failing the
// request.
func (r *Resolver) hydrateUsage(ctx context.Context, g *Graph, now time.Time) error {
	load := func(resource Resource, id uuid.UUID) (usage.Stats, error) {
		stats, _ := r.usageEngine.Load(ctx, string(resource), id.String(), now)
		if stats.Complete() {
			return stats, nil
		}
		budget, requests, tokens, err := r.loader.AggregateStats(ctx, string(resource), id, now)
		if err != nil {
			return usage.Stats{}, &apierr.DataAccessError{Op: "aggregate_stats", Cause: err}
		}
		_ = r.usageEngine.SetAll(ctx, string(resource), id.String(), now, budget, requests, tokens)
		return usage.Stats{Budget: budget, Requests: requests, Tokens: tokens}, nil
	}

	vkStats, err := load(ResourceVirtualKey, g.VirtualKey.ID)
	if err != nil {
		return err
	}
	g.VirtualKey.Stats = vkStats

	depStats, err := load(ResourceDeployment, g.Deployment.ID)
	if err != nil {
		return err
	}
	g.Deployment.Stats = depStats

	projStats, err := load(ResourceProject, g.Project.ID)
	if err != nil {
		return err
	}
	g.Project.Stats = projStats

	for i := range g.Connections {
		connStats, err := load(ResourceConnection, g.Connections[i].ID)
		if err != nil {
			return err
		}
		g.Connections[i].Stats = connStats
	}
	return nil
}
