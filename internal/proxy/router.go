package proxy

import (
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
)

// RouteHandler is a fasthttp handler function.
type RouteHandler = fasthttp.RequestHandler

// ManagementRoutes holds optional management API handler functions
// registered alongside the call surface.
type ManagementRoutes struct {
	Metrics RouteHandler
}

// Start starts the HTTP server on addr (e.g. ":8080").
func (g *Gateway) Start(addr string) error {
	return g.StartWithRoutes(addr, nil)
}

// StartWithRoutes starts the HTTP server with optional management routes.
func (g *Gateway) StartWithRoutes(addr string, mgmt *ManagementRoutes) error {
	r := router.New()

	r.POST("/v1/chat/completions", g.handleChatCompletions)
	r.POST("/v1/responses", g.handleResponses)
	r.POST("/v1/embeddings", g.handleEmbeddings)
	r.GET("/healthz", g.handleHealth)
	r.GET("/readyz", g.handleReadiness)

	if mgmt != nil && mgmt.Metrics != nil {
		r.GET("/metrics", mgmt.Metrics)
	}

	if g.admin != nil {
		g.registerAdminRoutes(r)
	}

	handler := applyMiddleware(r.Handler,
		recovery,
		requestID,
		timing,
		corsHandler(g.corsOrigins),
		securityHeaders,
	)

	srv := &fasthttp.Server{
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	return srv.ListenAndServe(addr)
}

// registerAdminRoutes wires the CRUD surface over the six persisted
// entities. Not exposed on the public internet in a real deployment — the
// teacher's applyMiddleware chain covers recovery/CORS/security headers
// uniformly, but authentication for this surface is left to a reverse proxy
// or VPN boundary in front of the gateway, per the admin design note.
func (g *Gateway) registerAdminRoutes(r *router.Router) {
	r.GET("/admin/projects", g.admin.listProjects)
	r.GET("/admin/projects/{id}", g.admin.getProject)
	r.PUT("/admin/projects", g.admin.putProject)
	r.DELETE("/admin/projects/{id}", g.admin.deleteProject)

	r.GET("/admin/virtual-keys", g.admin.listVirtualKeys)
	r.GET("/admin/virtual-keys/{id}", g.admin.getVirtualKey)
	r.PUT("/admin/virtual-keys", g.admin.putVirtualKey)
	r.DELETE("/admin/virtual-keys/{id}", g.admin.deleteVirtualKey)

	r.GET("/admin/deployments", g.admin.listDeployments)
	r.PUT("/admin/deployments", g.admin.putDeployment)
	r.DELETE("/admin/deployments/{id}", g.admin.deleteDeployment)

	r.GET("/admin/connections", g.admin.listConnections)
	r.GET("/admin/connections/{id}", g.admin.getConnection)
	r.PUT("/admin/connections", g.admin.putConnection)
	r.DELETE("/admin/connections/{id}", g.admin.deleteConnection)

	r.PUT("/admin/connection-deployments", g.admin.putConnectionDeployment)
	r.DELETE("/admin/connection-deployments/{id}", g.admin.deleteConnectionDeployment)

	r.PUT("/admin/virtual-key-deployments", g.admin.putVirtualKeyDeployment)
	r.DELETE("/admin/virtual-key-deployments/{id}", g.admin.deleteVirtualKeyDeployment)
}
