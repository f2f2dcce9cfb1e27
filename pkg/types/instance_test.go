package types

import "testing"

func TestContainerName(t *testing.T) {
	if got := ContainerName("abc123", ServiceDB); got != "supabase-db-abc123" {
		t.Errorf("ContainerName = %q", got)
	}
}

func TestExpectedContainers(t *testing.T) {
	names := ExpectedContainers("xyz")
	if len(names) != 7 {
		t.Fatalf("expected 7 containers, got %d", len(names))
	}
	if names[0] != "supabase-db-xyz" {
		t.Errorf("database must come first, got %q", names[0])
	}
	seen := make(map[string]bool)
	for _, n := range names {
		if seen[n] {
			t.Errorf("duplicate container name %q", n)
		}
		seen[n] = true
	}
}

func TestPortSetOverlaps(t *testing.T) {
	a := PortSet{GatewayHTTP: 8100, GatewayHTTPS: 8400, DatabaseExternal: 5500, Analytics: 4100}
	b := PortSet{GatewayHTTP: 8101, GatewayHTTPS: 8401, DatabaseExternal: 5501, Analytics: 4101}
	if a.Overlaps(b) {
		t.Error("disjoint sets must not overlap")
	}

	c := PortSet{GatewayHTTP: 8102, DatabaseExternal: 5500}
	if !a.Overlaps(c) {
		t.Error("shared database port must overlap")
	}

	// Zero values are unallocated, never a collision.
	empty := PortSet{}
	if a.Overlaps(empty) {
		t.Error("empty set must not overlap")
	}
}

func TestDiagnosticCriticalCount(t *testing.T) {
	d := &Diagnostic{CriticalIssues: []Issue{
		{Severity: SeverityCritical},
		{Severity: SeverityWarning},
		{Severity: SeverityCritical},
	}}
	if got := d.CriticalCount(); got != 2 {
		t.Errorf("CriticalCount = %d, want 2", got)
	}
}

func TestBackupValid(t *testing.T) {
	b := &Backup{Components: map[string]ComponentResult{
		BackupComponentConfig:      {Success: true},
		BackupComponentEnvironment: {Success: true},
		BackupComponentVolumes:     {Success: false},
	}}
	if !b.Valid() {
		t.Error("backup with config and environment captured must be valid")
	}

	b.Components[BackupComponentEnvironment] = ComponentResult{Success: false}
	if b.Valid() {
		t.Error("backup missing the environment component must be invalid")
	}
}
