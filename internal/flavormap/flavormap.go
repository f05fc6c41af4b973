// Package flavormap holds the bidirectional table between flavors and native
// format names.
//
// Each direction is an ordered list, most preferred first. Mappings may be
// asymmetric: a native can import into a flavor that never exports to it and
// vice versa. Object and remote flavors that appear in no explicit mapping
// are carried through a synthesized "encoded flavor" native whose name embeds
// the flavor itself, so any two processes sharing this package agree on it
// without configuration.
package flavormap

import (
	"slices"
	"strings"
	"sync"

	"go.klb.dev/clipxfer/internal/flavor"
)

// EncodedFlavorPrefix starts the name of natives that encode a flavor.
const EncodedFlavorPrefix = "GO_FLAVOR:"

// Table is the lookup surface the resolver and clipboard consume.
type Table interface {
	// NativesForFlavor returns the natives f exports to, most preferred first.
	NativesForFlavor(f flavor.Flavor) []string
	// FlavorsForNative returns the flavors a native imports into, most
	// preferred first.
	FlavorsForNative(name string) []flavor.Flavor
}

// Map is the standard Table implementation.
type Map struct {
	mu      sync.RWMutex
	natives map[flavor.Flavor][]string
	flavors map[string][]flavor.Flavor
}

// New returns an empty Map.
func New() *Map {
	return &Map{
		natives: make(map[flavor.Flavor][]string),
		flavors: make(map[string][]flavor.Flavor),
	}
}

// Add maps native and f to each other in both directions.
func (m *Map) Add(native string, f flavor.Flavor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addExportLocked(f, native)
	m.addImportLocked(native, f)
}

// AddImport maps native to f only in the native → flavor direction.
func (m *Map) AddImport(native string, f flavor.Flavor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addImportLocked(native, f)
}

// AddExport maps f to native only in the flavor → native direction.
func (m *Map) AddExport(f flavor.Flavor, native string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addExportLocked(f, native)
}

func (m *Map) addExportLocked(f flavor.Flavor, native string) {
	if !slices.Contains(m.natives[f], native) {
		m.natives[f] = append(m.natives[f], native)
	}
}

func (m *Map) addImportLocked(native string, f flavor.Flavor) {
	if !slices.Contains(m.flavors[native], f) {
		m.flavors[native] = append(m.flavors[native], f)
	}
}

// NativesForFlavor implements Table.
func (m *Map) NativesForFlavor(f flavor.Flavor) []string {
	m.mu.RLock()
	out := slices.Clone(m.natives[f])
	m.mu.RUnlock()
	if len(out) == 0 && isEncodable(f) {
		out = []string{EncodeFlavor(f)}
	}
	return out
}

// FlavorsForNative implements Table.
func (m *Map) FlavorsForNative(name string) []flavor.Flavor {
	m.mu.RLock()
	out := slices.Clone(m.flavors[name])
	m.mu.RUnlock()
	if len(out) == 0 {
		if f, ok := DecodeFlavor(name); ok {
			out = []flavor.Flavor{f}
		}
	}
	return out
}

// Natives returns every native with an import mapping, sorted.
func (m *Map) Natives() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.flavors))
	for n := range m.flavors {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

func isEncodable(f flavor.Flavor) bool {
	return f.Repr() == flavor.Object || f.Repr() == flavor.Remote
}

// EncodeFlavor returns the native name that carries f.
func EncodeFlavor(f flavor.Flavor) string {
	return EncodedFlavorPrefix + f.String()
}

// DecodeFlavor recovers the flavor carried by an encoded-flavor native.
func DecodeFlavor(name string) (flavor.Flavor, bool) {
	s, ok := strings.CutPrefix(name, EncodedFlavorPrefix)
	if !ok {
		return flavor.Flavor{}, false
	}
	f, err := flavor.Parse(s)
	if err != nil {
		return flavor.Flavor{}, false
	}
	return f, true
}
