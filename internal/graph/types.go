// Package graph implements the per-request authorization bundle: resolving a
// virtual key and a deployment name into a hydrated Graph of VirtualKey,
// Deployment, Project, and Connection nodes, each carrying live usage
// counters and limit ceilings.
package graph

import (
	"time"

	"github.com/google/uuid"

	"github.com/nulpointcorp/llmur-gateway/internal/usage"
)

// ProviderVariant tags a Connection's upstream dialect and addressing
// scheme. It is a closed set: openai/v1, azure/openai@<version>, or
// gemini/v1beta.
type ProviderVariant struct {
	Provider string // "openai" | "azure" | "gemini"
	// APIVersion is only meaningful for Azure: one of "2024-02-01",
	// "2024-06-01" (chat completions/responses), "2024-10-21" (embeddings).
	APIVersion string
	// Model or DeploymentName is the provider-side identifier substituted
	// for the gateway's public Deployment.Name before dispatch.
	Model string
}

// LBStrategy is the deployment's connection-selection algorithm.
type LBStrategy string

const (
	StrategyRoundRobin               LBStrategy = "round_robin"
	StrategyWeightedRoundRobin       LBStrategy = "weighted_round_robin"
	StrategyLeastConnections         LBStrategy = "least_connections"
	StrategyWeightedLeastConnections LBStrategy = "weighted_least_connections"
)

// Limits is the ceiling bundle shared by every node type. A nil pointer at
// any level means "no check" (Open Question 1: absent Project quota ⇒
// unlimited). Aliased onto usage.Limits so internal/usage's CheckAdmission
// can consume a node's limits directly.
type Limits = usage.Limits

// PeriodLimits holds the four window ceilings for one metric. A nil field
// means that window is unconstrained.
type PeriodLimits = usage.PeriodLimits

// Connection is one upstream credential/endpoint.
type Connection struct {
	ID       uuid.UUID
	Variant  ProviderVariant
	Endpoint string
	// EncryptedAPIKey and Salt are the AEAD envelope (internal/secret).
	EncryptedAPIKey []byte
	Salt            uuid.UUID
	Limits          Limits
}

// ConnectionDeployment is the weighted join between a Deployment and one of
// its Connections.
type ConnectionDeployment struct {
	ID           uuid.UUID
	DeploymentID uuid.UUID
	ConnectionID uuid.UUID
	Weight       uint16
}

// Deployment is a logical, client-visible model name routed over a weighted
// set of Connections.
type Deployment struct {
	ID       uuid.UUID
	Name     string
	Access   string // "private" | "public"
	Strategy LBStrategy
	Limits   Limits
}

// VirtualKey is a client-presented bearer credential.
type VirtualKey struct {
	ID        uuid.UUID
	Alias     string
	Blocked   bool
	ProjectID uuid.UUID
	Limits    Limits
}

// VirtualKeyDeployment is the authorization edge between a VirtualKey and a
// Deployment it may call.
type VirtualKeyDeployment struct {
	ID           uuid.UUID
	VirtualKeyID uuid.UUID
	DeploymentID uuid.UUID
}

// Project is the top-level quota container a VirtualKey belongs to.
type Project struct {
	ID     uuid.UUID
	Name   string
	Limits Limits
}

// ConnectionNode is a Connection enriched with its live UsageStats and the
// weight/association id it carries within this Graph's Deployment.
type ConnectionNode struct {
	Connection
	AssociationID uuid.UUID // ConnectionDeployment.ID
	Weight        uint16
	Stats         usage.Stats
}

// DeploymentNode is a Deployment enriched with live UsageStats.
type DeploymentNode struct {
	Deployment
	Stats usage.Stats
}

// VirtualKeyNode is a VirtualKey enriched with live UsageStats.
type VirtualKeyNode struct {
	VirtualKey
	Stats usage.Stats
}

// ProjectNode is a Project enriched with live UsageStats.
type ProjectNode struct {
	Project
	Stats usage.Stats
}

// Graph is the fully hydrated, short-lived authorization bundle assembled
// once per request. It is never persisted — every field is an owned copy.
type Graph struct {
	VirtualKey  VirtualKeyNode
	Deployment  DeploymentNode
	Project     ProjectNode
	Connections []ConnectionNode

	// ResolvedAt is when this Graph's entity shape (not its usage counters)
	// was last loaded, either from the local cache or freshly from the
	// relational store. Used only for diagnostics.
	ResolvedAt time.Time
}

// Resource names the four entity kinds that carry usage counters, matching
// the wire key scheme's {resource} segment exactly (internal/usage).
type Resource string

const (
	ResourceVirtualKey Resource = "virtualkey"
	ResourceDeployment Resource = "deployment"
	ResourceConnection Resource = "connection"
	ResourceProject    Resource = "project"
)
