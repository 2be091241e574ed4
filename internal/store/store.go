// Package store is the relational persistence layer: a generic repository
// abstraction (replacing the macro-generated CRUD of the original
// implementation, per the design notes) plus the staged entity loads the
// graph resolver needs, backed by Postgres via pgx.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nulpointcorp/llmur-gateway/internal/graph"
	"github.com/nulpointcorp/llmur-gateway/pkg/apierr"
)

// EntityDescriptor names a table, its columns and its id column for the
// generic repository.
type EntityDescriptor struct {
	Table   string
	Columns []string
	IDCol   string
}

// Store wraps a pgx connection pool and exposes the staged loads the graph
// resolver performs, plus bulk fetches for the admin CRUD surface.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-connected pool. Connecting/pinging happens in
// internal/app per the staged init pattern.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pool for health checks.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func wrapErr(op string, err error, clientAddressable bool) error {
	return &apierr.DataAccessError{Op: op, Cause: err, ClientAddressable: clientAddressable}
}

// VirtualKeyByID is step 1 of the staged graph load.
func (s *Store) VirtualKeyByID(ctx context.Context, id uuid.UUID) (graph.VirtualKey, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, alias, blocked, project_id,
		       budget_per_minute, budget_per_hour, budget_per_day, budget_per_month,
		       requests_per_minute, requests_per_hour, requests_per_day, requests_per_month,
		       tokens_per_minute, tokens_per_hour, tokens_per_day, tokens_per_month
		FROM virtual_keys WHERE id = $1`, id)

	var vk graph.VirtualKey
	var lim limitRow
	if err := row.Scan(&vk.ID, &vk.Alias, &vk.Blocked, &vk.ProjectID,
		&lim.budgetMin, &lim.budgetHour, &lim.budgetDay, &lim.budgetMonth,
		&lim.reqMin, &lim.reqHour, &lim.reqDay, &lim.reqMonth,
		&lim.tokMin, &lim.tokHour, &lim.tokDay, &lim.tokMonth,
	); err != nil {
		return graph.VirtualKey{}, &apierr.GraphLoadError{Kind: apierr.InvalidVirtualKey, Cause: err}
	}
	vk.Limits = lim.toLimits()
	return vk, nil
}

// DeploymentByName is step 2 of the staged graph load.
func (s *Store) DeploymentByName(ctx context.Context, name string) (graph.Deployment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, access, strategy,
		       budget_per_minute, budget_per_hour, budget_per_day, budget_per_month,
		       requests_per_minute, requests_per_hour, requests_per_day, requests_per_month,
		       tokens_per_minute, tokens_per_hour, tokens_per_day, tokens_per_month
		FROM deployments WHERE name = $1`, name)

	var d graph.Deployment
	var strategy string
	var lim limitRow
	if err := row.Scan(&d.ID, &d.Name, &d.Access, &strategy,
		&lim.budgetMin, &lim.budgetHour, &lim.budgetDay, &lim.budgetMonth,
		&lim.reqMin, &lim.reqHour, &lim.reqDay, &lim.reqMonth,
		&lim.tokMin, &lim.tokHour, &lim.tokDay, &lim.tokMonth,
	); err != nil {
		return graph.Deployment{}, &apierr.GraphLoadError{Kind: apierr.InvalidDeploymentName, Cause: err}
	}
	d.Strategy = graph.LBStrategy(strategy)
	d.Limits = lim.toLimits()
	return d, nil
}

// ProjectByID is step 3. A missing project for a valid VirtualKey is a
// referential-integrity gap, not a client error.
func (s *Store) ProjectByID(ctx context.Context, id uuid.UUID) (graph.Project, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name,
		       budget_per_minute, budget_per_hour, budget_per_day, budget_per_month,
		       requests_per_minute, requests_per_hour, requests_per_day, requests_per_month,
		       tokens_per_minute, tokens_per_hour, tokens_per_day, tokens_per_month
		FROM projects WHERE id = $1`, id)

	var p graph.Project
	var lim limitRow
	if err := row.Scan(&p.ID, &p.Name,
		&lim.budgetMin, &lim.budgetHour, &lim.budgetDay, &lim.budgetMonth,
		&lim.reqMin, &lim.reqHour, &lim.reqDay, &lim.reqMonth,
		&lim.tokMin, &lim.tokHour, &lim.tokDay, &lim.tokMonth,
	); err != nil {
		return graph.Project{}, &apierr.GraphLoadError{Kind: apierr.InconsistentProject, Cause: err}
	}
	p.Limits = lim.toLimits()
	return p, nil
}

// VirtualKeyDeployment is step 4: the authorization edge. Its absence is a
// client-addressable 404 (unknown/unauthorized deployment), not an
// inconsistency.
func (s *Store) VirtualKeyDeployment(ctx context.Context, vkID, deploymentID uuid.UUID) (graph.VirtualKeyDeployment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, virtual_key_id, deployment_id
		FROM virtual_keys_deployments_map
		WHERE virtual_key_id = $1 AND deployment_id = $2`, vkID, deploymentID)

	var vkd graph.VirtualKeyDeployment
	if err := row.Scan(&vkd.ID, &vkd.VirtualKeyID, &vkd.DeploymentID); err != nil {
		return graph.VirtualKeyDeployment{}, &apierr.GraphLoadError{Kind: apierr.InvalidVirtualKeyDeployment, Cause: err}
	}
	return vkd, nil
}

// ConnectionDeploymentsByDeployment is step 5: the bulk join for every
// connection wired to a deployment.
func (s *Store) ConnectionDeploymentsByDeployment(ctx context.Context, deploymentID uuid.UUID) ([]graph.ConnectionDeployment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, deployment_id, connection_id, weight
		FROM deployments_connections_map WHERE deployment_id = $1`, deploymentID)
	if err != nil {
		return nil, &apierr.GraphLoadError{Kind: apierr.InconsistentConnectionDeployments, Cause: err}
	}
	defer rows.Close()

	var out []graph.ConnectionDeployment
	for rows.Next() {
		var cd graph.ConnectionDeployment
		if err := rows.Scan(&cd.ID, &cd.DeploymentID, &cd.ConnectionID, &cd.Weight); err != nil {
			return nil, &apierr.GraphLoadError{Kind: apierr.InconsistentConnectionDeployments, Cause: err}
		}
		out = append(out, cd)
	}
	if len(out) == 0 {
		return nil, &apierr.GraphLoadError{Kind: apierr.InconsistentConnectionDeployments, Cause: fmt.Errorf("no connections wired to deployment %s", deploymentID)}
	}
	return out, rows.Err()
}

// ConnectionsByIDs is step 6: the bulk fetch of every referenced Connection.
// Every id requested MUST resolve — a partial result is an
// InconsistentGraph error (§3 invariant), never a silent skip.
func (s *Store) ConnectionsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]graph.Connection, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, provider, api_version, model, endpoint, encrypted_api_key, salt,
		       budget_per_minute, budget_per_hour, budget_per_day, budget_per_month,
		       requests_per_minute, requests_per_hour, requests_per_day, requests_per_month,
		       tokens_per_minute, tokens_per_hour, tokens_per_day, tokens_per_month
		FROM connections WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, &apierr.GraphLoadError{Kind: apierr.InconsistentConnection, Cause: err}
	}
	defer rows.Close()

	out := make(map[uuid.UUID]graph.Connection, len(ids))
	for rows.Next() {
		var c graph.Connection
		var provider, apiVersion, model string
		var lim limitRow
		if err := rows.Scan(&c.ID, &provider, &apiVersion, &model, &c.Endpoint, &c.EncryptedAPIKey, &c.Salt,
			&lim.budgetMin, &lim.budgetHour, &lim.budgetDay, &lim.budgetMonth,
			&lim.reqMin, &lim.reqHour, &lim.reqDay, &lim.reqMonth,
			&lim.tokMin, &lim.tokHour, &lim.tokDay, &lim.tokMonth,
		); err != nil {
			return nil, &apierr.GraphLoadError{Kind: apierr.InconsistentConnection, Cause: err}
		}
		c.Variant = graph.ProviderVariant{Provider: provider, APIVersion: apiVersion, Model: model}
		c.Limits = lim.toLimits()
		out[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, &apierr.GraphLoadError{Kind: apierr.InconsistentConnection, Cause: err}
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			return nil, &apierr.GraphLoadError{Kind: apierr.InconsistentConnection, Cause: fmt.Errorf("connection %s referenced but not found", id)}
		}
	}
	return out, nil
}

// limitRow is the flat scan target for the 12 limit columns every entity
// table carries. Nullable columns map to nil pointers (no ceiling).
type limitRow struct {
	budgetMin, budgetHour, budgetDay, budgetMonth *float64
	reqMin, reqHour, reqDay, reqMonth             *float64
	tokMin, tokHour, tokDay, tokMonth             *float64
}

func (l limitRow) toLimits() graph.Limits {
	return graph.Limits{
		Budget:   &graph.PeriodLimits{PerMinute: l.budgetMin, PerHour: l.budgetHour, PerDay: l.budgetDay, PerMonth: l.budgetMonth},
		Requests: &graph.PeriodLimits{PerMinute: l.reqMin, PerHour: l.reqHour, PerDay: l.reqDay, PerMonth: l.reqMonth},
		Tokens:   &graph.PeriodLimits{PerMinute: l.tokMin, PerHour: l.tokHour, PerDay: l.tokDay, PerMonth: l.tokMonth},
	}
}

// Connect opens a pgx pool against dsn and verifies connectivity with a
// Ping, mirroring the teacher's connectRedis helper.
func Connect(ctx context.Context, dsn string, minConns, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	if minConns > 0 {
		cfg.MinConns = minConns
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: new pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return pool, nil
}
