package partition

import (
	"testing"

	"github.com/assetcache/assetcache/pkg/types"
)

func TestName(t *testing.T) {
	tests := []struct {
		kind    types.PartitionKind
		version string
		want    string
	}{
		{types.KindModels, "v1", "models-v1"},
		{types.KindStatic, "v1", "static-v1"},
		{types.KindRuntime, "v1", "runtime-v1"},
		{types.KindModels, "2024-06-01", "models-2024-06-01"},
	}

	for _, tt := range tests {
		if got := Name(tt.kind, tt.version); got != tt.want {
			t.Errorf("Name(%s, %s) = %s, want %s", tt.kind, tt.version, got, tt.want)
		}
	}
}

func TestParseName(t *testing.T) {
	tests := []struct {
		name        string
		wantKind    types.PartitionKind
		wantVersion string
		wantOK      bool
	}{
		{"models-v1", types.KindModels, "v1", true},
		{"static-v2", types.KindStatic, "v2", true},
		{"runtime-2024-06-01", types.KindRuntime, "2024-06-01", true},
		{"sessions-v1", "", "", false},
		{"models", "", "", false},
	}

	for _, tt := range tests {
		kind, version, ok := ParseName(tt.name)
		if ok != tt.wantOK || kind != tt.wantKind || version != tt.wantVersion {
			t.Errorf("ParseName(%s) = (%s, %s, %v), want (%s, %s, %v)",
				tt.name, kind, version, ok, tt.wantKind, tt.wantVersion, tt.wantOK)
		}
	}
}

func TestTable(t *testing.T) {
	table := NewTable("v3")

	if table.Version() != "v3" {
		t.Errorf("Version() = %s", table.Version())
	}
	if got := table.NameFor(types.KindModels); got != "models-v3" {
		t.Errorf("NameFor(models) = %s", got)
	}

	current := table.Current()
	if len(current) != 3 {
		t.Fatalf("Current() returned %d names, want 3", len(current))
	}

	for _, name := range []string{"models-v3", "static-v3", "runtime-v3"} {
		if !table.IsCurrent(name) {
			t.Errorf("IsCurrent(%s) = false", name)
		}
	}
	for _, name := range []string{"models-v2", "static-v1", "runtime-v4", "other"} {
		if table.IsCurrent(name) {
			t.Errorf("IsCurrent(%s) = true", name)
		}
	}
}
