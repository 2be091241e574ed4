package store

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/google/uuid"

	"github.com/nulpointcorp/llmur-gateway/internal/graph"
)

// fakeRow is a RowScanner that copies a fixed slice of column values into the
// destinations passed to Scan, mirroring what pgx.Row does without requiring
// a live connection.
type fakeRow struct {
	cols []any
}

func (r *fakeRow) Scan(dest ...any) error {
	if len(dest) != len(r.cols) {
		return fmt.Errorf("fakeRow: got %d destinations, have %d columns", len(dest), len(r.cols))
	}
	for i, d := range dest {
		if err := assign(d, r.cols[i]); err != nil {
			return err
		}
	}
	return nil
}

// assign copies src into the pointer dst points to. Only the concrete types
// Entity.Scan targets in this package are supported.
func assign(dst, src any) error {
	switch d := dst.(type) {
	case *uuid.UUID:
		*d = src.(uuid.UUID)
	case *string:
		*d = src.(string)
	case *bool:
		*d = src.(bool)
	case *uint16:
		*d = src.(uint16)
	case *[]byte:
		*d = src.([]byte)
	case **float64:
		*d = src.(*float64)
	default:
		return fmt.Errorf("assign: unsupported destination type %T", dst)
	}
	return nil
}

func f(v float64) *float64 { return &v }

func fullLimits() graph.Limits {
	return graph.Limits{
		Budget:   &graph.PeriodLimits{PerMinute: f(1), PerHour: f(2), PerDay: f(3), PerMonth: f(4)},
		Requests: &graph.PeriodLimits{PerMinute: f(5), PerHour: f(6), PerDay: f(7), PerMonth: f(8)},
		Tokens:   &graph.PeriodLimits{PerMinute: f(9), PerHour: f(10), PerDay: f(11), PerMonth: f(12)},
	}
}

func TestVirtualKeyEntity_RoundTrip(t *testing.T) {
	orig := VirtualKeyEntity{graph.VirtualKey{
		ID:        uuid.New(),
		Alias:     "ci-pipeline",
		Blocked:   false,
		ProjectID: uuid.New(),
		Limits:    fullLimits(),
	}}

	var got VirtualKeyEntity
	if err := got.Scan(&fakeRow{cols: orig.Values()}); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !reflect.DeepEqual(orig.VirtualKey, got.VirtualKey) {
		t.Errorf("round trip mismatch:\norig=%+v\ngot =%+v", orig.VirtualKey, got.VirtualKey)
	}
}

func TestDeploymentEntity_RoundTrip(t *testing.T) {
	orig := DeploymentEntity{graph.Deployment{
		ID:       uuid.New(),
		Name:     "gpt-4o-prod",
		Access:   "public",
		Strategy: graph.StrategyWeightedRoundRobin,
		Limits:   fullLimits(),
	}}

	var got DeploymentEntity
	if err := got.Scan(&fakeRow{cols: orig.Values()}); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !reflect.DeepEqual(orig.Deployment, got.Deployment) {
		t.Errorf("round trip mismatch:\norig=%+v\ngot =%+v", orig.Deployment, got.Deployment)
	}
}

func TestProjectEntity_RoundTrip(t *testing.T) {
	orig := ProjectEntity{graph.Project{
		ID:     uuid.New(),
		Name:   "acme-corp",
		Limits: fullLimits(),
	}}

	var got ProjectEntity
	if err := got.Scan(&fakeRow{cols: orig.Values()}); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !reflect.DeepEqual(orig.Project, got.Project) {
		t.Errorf("round trip mismatch:\norig=%+v\ngot =%+v", orig.Project, got.Project)
	}
}

func TestConnectionEntity_RoundTrip(t *testing.T) {
	orig := ConnectionEntity{graph.Connection{
		ID: uuid.New(),
		Variant: graph.ProviderVariant{
			Provider:   "azure",
			APIVersion: "2024-06-01",
			Model:      "gpt-4o-deployment-1",
		},
		Endpoint:        "https://acme.openai.azure.com",
		EncryptedAPIKey: []byte{0x01, 0x02, 0x03, 0x04},
		Salt:            uuid.New(),
		Limits:          fullLimits(),
	}}

	var got ConnectionEntity
	if err := got.Scan(&fakeRow{cols: orig.Values()}); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !reflect.DeepEqual(orig.Connection, got.Connection) {
		t.Errorf("round trip mismatch:\norig=%+v\ngot =%+v", orig.Connection, got.Connection)
	}
}

func TestConnectionDeploymentEntity_RoundTrip(t *testing.T) {
	orig := ConnectionDeploymentEntity{graph.ConnectionDeployment{
		ID:           uuid.New(),
		DeploymentID: uuid.New(),
		ConnectionID: uuid.New(),
		Weight:       75,
	}}

	var got ConnectionDeploymentEntity
	if err := got.Scan(&fakeRow{cols: orig.Values()}); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !reflect.DeepEqual(orig.ConnectionDeployment, got.ConnectionDeployment) {
		t.Errorf("round trip mismatch:\norig=%+v\ngot =%+v", orig.ConnectionDeployment, got.ConnectionDeployment)
	}
}

func TestVirtualKeyDeploymentEntity_RoundTrip(t *testing.T) {
	orig := VirtualKeyDeploymentEntity{graph.VirtualKeyDeployment{
		ID:           uuid.New(),
		VirtualKeyID: uuid.New(),
		DeploymentID: uuid.New(),
	}}

	var got VirtualKeyDeploymentEntity
	if err := got.Scan(&fakeRow{cols: orig.Values()}); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !reflect.DeepEqual(orig.VirtualKeyDeployment, got.VirtualKeyDeployment) {
		t.Errorf("round trip mismatch:\norig=%+v\ngot =%+v", orig.VirtualKeyDeployment, got.VirtualKeyDeployment)
	}
}

func TestDescriptors_ColumnCountMatchesValues(t *testing.T) {
	cases := []struct {
		name string
		desc EntityDescriptor
		vals []any
	}{
		{"virtual_key", VirtualKeyDescriptor, (&VirtualKeyEntity{graph.VirtualKey{Limits: fullLimits()}}).Values()},
		{"deployment", DeploymentDescriptor, (&DeploymentEntity{graph.Deployment{Limits: fullLimits()}}).Values()},
		{"project", ProjectDescriptor, (&ProjectEntity{graph.Project{Limits: fullLimits()}}).Values()},
		{"connection", ConnectionDescriptor, (&ConnectionEntity{graph.Connection{Limits: fullLimits()}}).Values()},
		{"connection_deployment", ConnectionDeploymentDescriptor, (&ConnectionDeploymentEntity{}).Values()},
		{"virtual_key_deployment", VirtualKeyDeploymentDescriptor, (&VirtualKeyDeploymentEntity{}).Values()},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if len(c.desc.Columns) != len(c.vals) {
				t.Errorf("%s: %d columns declared but Values() returns %d", c.name, len(c.desc.Columns), len(c.vals))
			}
		})
	}
}
