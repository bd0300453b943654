package partition

import (
	"fmt"
	"strings"

	"github.com/assetcache/assetcache/pkg/types"
)

// Name returns the storage name for a partition kind under a cache version.
// It is the single source of the naming convention shared by the engine and
// the preloader; both sides must produce identical names to share a
// partition.
func Name(kind types.PartitionKind, version string) string {
	return fmt.Sprintf("%s-%s", kind, version)
}

// ParseName splits a storage name back into kind and version. The version
// itself may contain '-', so the split happens at the first separator after
// a known kind prefix.
func ParseName(name string) (types.PartitionKind, string, bool) {
	for _, kind := range types.Kinds() {
		prefix := string(kind) + "-"
		if strings.HasPrefix(name, prefix) {
			return kind, name[len(prefix):], true
		}
	}
	return "", "", false
}

// Table maps the three partition kinds to their storage names for one cache
// version. Exactly one version is current at a time; the table is immutable
// once built.
type Table struct {
	version string
	names   map[types.PartitionKind]string
}

// NewTable builds the partition table for the given version.
func NewTable(version string) *Table {
	names := make(map[types.PartitionKind]string, 3)
	for _, kind := range types.Kinds() {
		names[kind] = Name(kind, version)
	}
	return &Table{version: version, names: names}
}

// Version returns the cache version the table was built for.
func (t *Table) Version() string {
	return t.version
}

// NameFor returns the storage name for a partition kind.
func (t *Table) NameFor(kind types.PartitionKind) string {
	return t.names[kind]
}

// Current returns the storage names of all current-version partitions.
func (t *Table) Current() []string {
	names := make([]string, 0, len(t.names))
	for _, kind := range types.Kinds() {
		names = append(names, t.names[kind])
	}
	return names
}

// IsCurrent reports whether name belongs to the current version. Activation
// garbage-collects every partition for which this is false.
func (t *Table) IsCurrent(name string) bool {
	for _, current := range t.names {
		if name == current {
			return true
		}
	}
	return false
}
