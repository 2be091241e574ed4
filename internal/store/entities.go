package store

import (
	"github.com/google/uuid"

	"github.com/nulpointcorp/llmur-gateway/internal/graph"
)

// This file adapts the four quota-bearing domain types into store.Entity so
// the admin CRUD surface (§"Supplemented features") can use the generic
// Repository instead of one hand-written CRUD set per entity, replacing the
// original implementation's default_access_fns! macro expansion.

var (
	limitColumns = []string{
		"budget_per_minute", "budget_per_hour", "budget_per_day", "budget_per_month",
		"requests_per_minute", "requests_per_hour", "requests_per_day", "requests_per_month",
		"tokens_per_minute", "tokens_per_hour", "tokens_per_day", "tokens_per_month",
	}
)

func limitValues(l graph.Limits) []any {
	var lr limitRow
	if l.Budget != nil {
		lr.budgetMin, lr.budgetHour, lr.budgetDay, lr.budgetMonth = l.Budget.PerMinute, l.Budget.PerHour, l.Budget.PerDay, l.Budget.PerMonth
	}
	if l.Requests != nil {
		lr.reqMin, lr.reqHour, lr.reqDay, lr.reqMonth = l.Requests.PerMinute, l.Requests.PerHour, l.Requests.PerDay, l.Requests.PerMonth
	}
	if l.Tokens != nil {
		lr.tokMin, lr.tokHour, lr.tokDay, lr.tokMonth = l.Tokens.PerMinute, l.Tokens.PerHour, l.Tokens.PerDay, l.Tokens.PerMonth
	}
	return []any{
		lr.budgetMin, lr.budgetHour, lr.budgetDay, lr.budgetMonth,
		lr.reqMin, lr.reqHour, lr.reqDay, lr.reqMonth,
		lr.tokMin, lr.tokHour, lr.tokDay, lr.tokMonth,
	}
}

func limitScanTargets(lr *limitRow) []any {
	return []any{
		&lr.budgetMin, &lr.budgetHour, &lr.budgetDay, &lr.budgetMonth,
		&lr.reqMin, &lr.reqHour, &lr.reqDay, &lr.reqMonth,
		&lr.tokMin, &lr.tokHour, &lr.tokDay, &lr.tokMonth,
	}
}

// VirtualKeyEntity adapts graph.VirtualKey to store.Entity.
type VirtualKeyEntity struct{ graph.VirtualKey }

func (e *VirtualKeyEntity) Scan(row RowScanner) error {
	var lr limitRow
	targets := append([]any{&e.ID, &e.Alias, &e.Blocked, &e.ProjectID}, limitScanTargets(&lr)...)
	if err := row.Scan(targets...); err != nil {
		return err
	}
	e.Limits = lr.toLimits()
	return nil
}

func (e *VirtualKeyEntity) Values() []any {
	return append([]any{e.ID, e.Alias, e.Blocked, e.ProjectID}, limitValues(e.Limits)...)
}

// VirtualKeyDescriptor describes the virtual_keys table for a generic
// Repository[*VirtualKeyEntity].
var VirtualKeyDescriptor = EntityDescriptor{
	Table:   "virtual_keys",
	IDCol:   "id",
	Columns: append([]string{"id", "alias", "blocked", "project_id"}, limitColumns...),
}

// DeploymentEntity adapts graph.Deployment to store.Entity.
type DeploymentEntity struct{ graph.Deployment }

func (e *DeploymentEntity) Scan(row RowScanner) error {
	var lr limitRow
	var strategy string
	targets := append([]any{&e.ID, &e.Name, &e.Access, &strategy}, limitScanTargets(&lr)...)
	if err := row.Scan(targets...); err != nil {
		return err
	}
	e.Strategy = graph.LBStrategy(strategy)
	e.Limits = lr.toLimits()
	return nil
}

func (e *DeploymentEntity) Values() []any {
	return append([]any{e.ID, e.Name, e.Access, string(e.Strategy)}, limitValues(e.Limits)...)
}

var DeploymentDescriptor = EntityDescriptor{
	Table:   "deployments",
	IDCol:   "id",
	Columns: append([]string{"id", "name", "access", "strategy"}, limitColumns...),
}

// ProjectEntity adapts graph.Project to store.Entity.
type ProjectEntity struct{ graph.Project }

func (e *ProjectEntity) Scan(row RowScanner) error {
	var lr limitRow
	targets := append([]any{&e.ID, &e.Name}, limitScanTargets(&lr)...)
	if err := row.Scan(targets...); err != nil {
		return err
	}
	e.Limits = lr.toLimits()
	return nil
}

func (e *ProjectEntity) Values() []any {
	return append([]any{e.ID, e.Name}, limitValues(e.Limits)...)
}

var ProjectDescriptor = EntityDescriptor{
	Table:   "projects",
	IDCol:   "id",
	Columns: append([]string{"id", "name"}, limitColumns...),
}

// ConnectionEntity adapts graph.Connection to store.Entity. EncryptedAPIKey
// and Salt are already sealed (internal/secret) by the time a caller builds
// one for Upsert — the admin handler never sees plaintext.
type ConnectionEntity struct{ graph.Connection }

func (e *ConnectionEntity) Scan(row RowScanner) error {
	var lr limitRow
	var provider, apiVersion, model string
	targets := append([]any{&e.ID, &provider, &apiVersion, &model, &e.Endpoint, &e.EncryptedAPIKey, &e.Salt}, limitScanTargets(&lr)...)
	if err := row.Scan(targets...); err != nil {
		return err
	}
	e.Variant = graph.ProviderVariant{Provider: provider, APIVersion: apiVersion, Model: model}
	e.Limits = lr.toLimits()
	return nil
}

func (e *ConnectionEntity) Values() []any {
	return append([]any{e.ID, e.Variant.Provider, e.Variant.APIVersion, e.Variant.Model, e.Endpoint, e.EncryptedAPIKey, e.Salt}, limitValues(e.Limits)...)
}

var ConnectionDescriptor = EntityDescriptor{
	Table:   "connections",
	IDCol:   "id",
	Columns: append([]string{"id", "provider", "api_version", "model", "endpoint", "encrypted_api_key", "salt"}, limitColumns...),
}

// ConnectionDeploymentEntity adapts graph.ConnectionDeployment to
// store.Entity (the weighted join table; it carries no quota limits).
type ConnectionDeploymentEntity struct{ graph.ConnectionDeployment }

func (e *ConnectionDeploymentEntity) Scan(row RowScanner) error {
	return row.Scan(&e.ID, &e.DeploymentID, &e.ConnectionID, &e.Weight)
}

func (e *ConnectionDeploymentEntity) Values() []any {
	return []any{e.ID, e.DeploymentID, e.ConnectionID, e.Weight}
}

var ConnectionDeploymentDescriptor = EntityDescriptor{
	Table:   "deployments_connections_map",
	IDCol:   "id",
	Columns: []string{"id", "deployment_id", "connection_id", "weight"},
}

// VirtualKeyDeploymentEntity adapts graph.VirtualKeyDeployment to
// store.Entity (the authorization edge; no quota limits of its own).
type VirtualKeyDeploymentEntity struct{ graph.VirtualKeyDeployment }

func (e *VirtualKeyDeploymentEntity) Scan(row RowScanner) error {
	return row.Scan(&e.ID, &e.VirtualKeyID, &e.DeploymentID)
}

func (e *VirtualKeyDeploymentEntity) Values() []any {
	return []any{e.ID, e.VirtualKeyID, e.DeploymentID}
}

var VirtualKeyDeploymentDescriptor = EntityDescriptor{
	Table:   "virtual_keys_deployments_map",
	IDCol:   "id",
	Columns: []string{"id", "virtual_key_id", "deployment_id"},
}

func uuidOrNil(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}
