package graph

import "github.com/nulpointcorp/llmur-gateway/internal/usage"

// LimitCheckable is the single capability shared identically by all four
// node types (§9 design notes: usage-stats behavior inheritance via one
// capability plus a common stats bundle, distinguished only by the
// Resource tag — not four hand-duplicated implementations).
type LimitCheckable interface {
	ResourceID() string
	ResourceKind() Resource
	LimitsBundle() Limits
	StatsBundle() usage.Stats
}

func (n VirtualKeyNode) ResourceID() string        { return n.ID.String() }
func (n VirtualKeyNode) ResourceKind() Resource     { return ResourceVirtualKey }
func (n VirtualKeyNode) LimitsBundle() Limits       { return n.Limits }
func (n VirtualKeyNode) StatsBundle() usage.Stats   { return n.Stats }

func (n DeploymentNode) ResourceID() string       { return n.ID.String() }
func (n DeploymentNode) ResourceKind() Resource    { return ResourceDeployment }
func (n DeploymentNode) LimitsBundle() Limits      { return n.Limits }
func (n DeploymentNode) StatsBundle() usage.Stats  { return n.Stats }

func (n ProjectNode) ResourceID() string       { return n.ID.String() }
func (n ProjectNode) ResourceKind() Resource    { return ResourceProject }
func (n ProjectNode) LimitsBundle() Limits      { return n.Limits }
func (n ProjectNode) StatsBundle() usage.Stats  { return n.Stats }

func (n ConnectionNode) ResourceID() string       { return n.ID.String() }
func (n ConnectionNode) ResourceKind() Resource    { return ResourceConnection }
func (n ConnectionNode) LimitsBundle() Limits      { return n.Limits }
func (n ConnectionNode) StatsBundle() usage.Stats  { return n.Stats }

// CheckNode runs the admission check (§4.2.3) for a single node, returning
// a *usage.Violation describing the first breached metric/period, or nil.
func CheckNode(n LimitCheckable) *usage.Violation {
	return usage.CheckAdmission(n.StatsBundle(), n.LimitsBundle())
}

// CheckAll runs CheckNode across every node a Graph carries, in the order
// VirtualKey, Project, Deployment, then the picked Connection — matching
// §4.4 step 2 (virtual key/project/deployment limits validated once,
// per-connection limits validated per attempt).
func (g *Graph) CheckAll(conn *ConnectionNode) (LimitCheckable, *usage.Violation) {
	if v := CheckNode(g.VirtualKey); v != nil {
		return g.VirtualKey, v
	}
	if v := CheckNode(g.Project); v != nil {
		return g.Project, v
	}
	if v := CheckNode(g.Deployment); v != nil {
		return g.Deployment, v
	}
	if conn != nil {
		if v := CheckNode(*conn); v != nil {
			return *conn, v
		}
	}
	return nil, nil
}
