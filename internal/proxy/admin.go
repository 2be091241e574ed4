package proxy

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/llmur-gateway/internal/graph"
	"github.com/nulpointcorp/llmur-gateway/internal/secret"
	"github.com/nulpointcorp/llmur-gateway/internal/store"
	"github.com/nulpointcorp/llmur-gateway/pkg/apierr"
)

// AdminAPI serves the CRUD surface over the six persisted entities
// (Connection, Deployment, ConnectionDeployment, VirtualKey,
// VirtualKeyDeployment, Project) that the graph resolver and dispatcher
// consume. It replaces the original implementation's
// default_access_fns!/default_database_access_fns! macro expansion with one
// generic Repository per entity kind.
type AdminAPI struct {
	connections     *store.Repository[*store.ConnectionEntity]
	connDeployments *store.Repository[*store.ConnectionDeploymentEntity]
	deployments     *store.Repository[*store.DeploymentEntity]
	vkDeployments   *store.Repository[*store.VirtualKeyDeploymentEntity]
	virtualKeys     *store.Repository[*store.VirtualKeyEntity]
	projects        *store.Repository[*store.ProjectEntity]
	envelope        *secret.Envelope
}

func NewAdminAPI(s *store.Store, envelope *secret.Envelope) *AdminAPI {
	return &AdminAPI{
		connections:     store.NewRepository[*store.ConnectionEntity](s, store.ConnectionDescriptor, func() *store.ConnectionEntity { return &store.ConnectionEntity{} }),
		connDeployments: store.NewRepository[*store.ConnectionDeploymentEntity](s, store.ConnectionDeploymentDescriptor, func() *store.ConnectionDeploymentEntity { return &store.ConnectionDeploymentEntity{} }),
		deployments:     store.NewRepository[*store.DeploymentEntity](s, store.DeploymentDescriptor, func() *store.DeploymentEntity { return &store.DeploymentEntity{} }),
		vkDeployments:   store.NewRepository[*store.VirtualKeyDeploymentEntity](s, store.VirtualKeyDeploymentDescriptor, func() *store.VirtualKeyDeploymentEntity { return &store.VirtualKeyDeploymentEntity{} }),
		virtualKeys:     store.NewRepository[*store.VirtualKeyEntity](s, store.VirtualKeyDescriptor, func() *store.VirtualKeyEntity { return &store.VirtualKeyEntity{} }),
		projects:        store.NewRepository[*store.ProjectEntity](s, store.ProjectDescriptor, func() *store.ProjectEntity { return &store.ProjectEntity{} }),
		envelope:        envelope,
	}
}

func pathID(ctx *fasthttp.RequestCtx) (uuid.UUID, error) {
	raw, _ := ctx.UserValue("id").(string)
	return uuid.Parse(raw)
}

// ── Projects ─────────────────────────────────────────────────────────────

func (a *AdminAPI) listProjects(ctx *fasthttp.RequestCtx) {
	out, err := a.projects.List(ctx)
	if err != nil {
		apierr.WriteError(ctx, err)
		return
	}
	writeJSON(ctx, out)
}

func (a *AdminAPI) getProject(ctx *fasthttp.RequestCtx) {
	id, err := pathID(ctx)
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest, "invalid id", apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	out, err := a.projects.Get(ctx, id)
	if err != nil {
		apierr.WriteError(ctx, err)
		return
	}
	writeJSON(ctx, out)
}

func (a *AdminAPI) putProject(ctx *fasthttp.RequestCtx) {
	var e store.ProjectEntity
	if err := json.Unmarshal(ctx.PostBody(), &e.Project); err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest, "malformed body", apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if err := a.projects.Upsert(ctx, &e); err != nil {
		apierr.WriteError(ctx, err)
		return
	}
	writeJSON(ctx, e.Project)
}

func (a *AdminAPI) deleteProject(ctx *fasthttp.RequestCtx) {
	id, err := pathID(ctx)
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest, "invalid id", apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	if err := a.projects.Delete(ctx, id); err != nil {
		apierr.WriteError(ctx, err)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

// ── Virtual keys ─────────────────────────────────────────────────────────

func (a *AdminAPI) listVirtualKeys(ctx *fasthttp.RequestCtx) {
	out, err := a.virtualKeys.List(ctx)
	if err != nil {
		apierr.WriteError(ctx, err)
		return
	}
	writeJSON(ctx, out)
}

func (a *AdminAPI) getVirtualKey(ctx *fasthttp.RequestCtx) {
	id, err := pathID(ctx)
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest, "invalid id", apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	out, err := a.virtualKeys.Get(ctx, id)
	if err != nil {
		apierr.WriteError(ctx, err)
		return
	}
	writeJSON(ctx, out)
}

func (a *AdminAPI) putVirtualKey(ctx *fasthttp.RequestCtx) {
	var e store.VirtualKeyEntity
	if err := json.Unmarshal(ctx.PostBody(), &e.VirtualKey); err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest, "malformed body", apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if err := a.virtualKeys.Upsert(ctx, &e); err != nil {
		apierr.WriteError(ctx, err)
		return
	}
	writeJSON(ctx, e.VirtualKey)
}

func (a *AdminAPI) deleteVirtualKey(ctx *fasthttp.RequestCtx) {
	id, err := pathID(ctx)
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest, "invalid id", apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	if err := a.virtualKeys.Delete(ctx, id); err != nil {
		apierr.WriteError(ctx, err)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

// ── Deployments ──────────────────────────────────────────────────────────

func (a *AdminAPI) listDeployments(ctx *fasthttp.RequestCtx) {
	out, err := a.deployments.List(ctx)
	if err != nil {
		apierr.WriteError(ctx, err)
		return
	}
	writeJSON(ctx, out)
}

func (a *AdminAPI) putDeployment(ctx *fasthttp.RequestCtx) {
	var e store.DeploymentEntity
	if err := json.Unmarshal(ctx.PostBody(), &e.Deployment); err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest, "malformed body", apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Strategy == "" {
		e.Strategy = graph.StrategyRoundRobin
	}
	if err := a.deployments.Upsert(ctx, &e); err != nil {
		apierr.WriteError(ctx, err)
		return
	}
	writeJSON(ctx, e.Deployment)
}

func (a *AdminAPI) deleteDeployment(ctx *fasthttp.RequestCtx) {
	id, err := pathID(ctx)
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest, "invalid id", apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	if err := a.deployments.Delete(ctx, id); err != nil {
		apierr.WriteError(ctx, err)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

// ── Connections ──────────────────────────────────────────────────────────

// connectionCreateRequest carries a plaintext API key on the wire only on
// CREATE/UPDATE; it is sealed via the secret envelope before the row ever
// reaches the repository, and is never returned on GET/LIST.
type connectionCreateRequest struct {
	ID       uuid.UUID           `json:"id"`
	Variant  graph.ProviderVariant `json:"variant"`
	Endpoint string              `json:"endpoint"`
	APIKey   string              `json:"api_key"`
	Limits   graph.Limits        `json:"limits"`
}

func (a *AdminAPI) listConnections(ctx *fasthttp.RequestCtx) {
	out, err := a.connections.List(ctx)
	if err != nil {
		apierr.WriteError(ctx, err)
		return
	}
	writeJSON(ctx, redactConnections(out))
}

func (a *AdminAPI) getConnection(ctx *fasthttp.RequestCtx) {
	id, err := pathID(ctx)
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest, "invalid id", apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	out, err := a.connections.Get(ctx, id)
	if err != nil {
		apierr.WriteError(ctx, err)
		return
	}
	c := *out
	c.EncryptedAPIKey, c.Salt = nil, uuid.Nil
	writeJSON(ctx, c)
}

func redactConnections(in []*store.ConnectionEntity) []graph.Connection {
	out := make([]graph.Connection, len(in))
	for i, c := range in {
		out[i] = c.Connection
		out[i].EncryptedAPIKey, out[i].Salt = nil, uuid.Nil
	}
	return out
}

func (a *AdminAPI) putConnection(ctx *fasthttp.RequestCtx) {
	var req connectionCreateRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest, "malformed body", apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	if req.APIKey == "" {
		apierr.Write(ctx, fasthttp.StatusBadRequest, "api_key is required", apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}

	salt, err := secret.NewSalt()
	if err != nil {
		apierr.WriteError(ctx, &secret.FailedToCreateKeyError{Cause: err})
		return
	}
	sealed, err := a.envelope.Seal(req.APIKey, salt)
	if err != nil {
		apierr.WriteError(ctx, &secret.FailedToCreateKeyError{Cause: err})
		return
	}

	e := store.ConnectionEntity{Connection: graph.Connection{
		ID: req.ID, Variant: req.Variant, Endpoint: req.Endpoint,
		EncryptedAPIKey: sealed, Salt: salt, Limits: req.Limits,
	}}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if err := a.connections.Upsert(ctx, &e); err != nil {
		apierr.WriteError(ctx, err)
		return
	}
	c := e.Connection
	c.EncryptedAPIKey, c.Salt = nil, uuid.Nil
	writeJSON(ctx, c)
}

func (a *AdminAPI) deleteConnection(ctx *fasthttp.RequestCtx) {
	id, err := pathID(ctx)
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest, "invalid id", apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	if err := a.connections.Delete(ctx, id); err != nil {
		apierr.WriteError(ctx, err)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

// ── Join tables ──────────────────────────────────────────────────────────

func (a *AdminAPI) putConnectionDeployment(ctx *fasthttp.RequestCtx) {
	var e store.ConnectionDeploymentEntity
	if err := json.Unmarshal(ctx.PostBody(), &e.ConnectionDeployment); err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest, "malformed body", apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if err := a.connDeployments.Upsert(ctx, &e); err != nil {
		apierr.WriteError(ctx, err)
		return
	}
	writeJSON(ctx, e.ConnectionDeployment)
}

func (a *AdminAPI) deleteConnectionDeployment(ctx *fasthttp.RequestCtx) {
	id, err := pathID(ctx)
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest, "invalid id", apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	if err := a.connDeployments.Delete(ctx, id); err != nil {
		apierr.WriteError(ctx, err)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (a *AdminAPI) putVirtualKeyDeployment(ctx *fasthttp.RequestCtx) {
	var e store.VirtualKeyDeploymentEntity
	if err := json.Unmarshal(ctx.PostBody(), &e.VirtualKeyDeployment); err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest, "malformed body", apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if err := a.vkDeployments.Upsert(ctx, &e); err != nil {
		apierr.WriteError(ctx, err)
		return
	}
	writeJSON(ctx, e.VirtualKeyDeployment)
}

func (a *AdminAPI) deleteVirtualKeyDeployment(ctx *fasthttp.RequestCtx) {
	id, err := pathID(ctx)
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest, "invalid id", apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	if err := a.vkDeployments.Delete(ctx, id); err != nil {
		apierr.WriteError(ctx, err)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}
