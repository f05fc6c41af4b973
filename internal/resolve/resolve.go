// Package resolve ranks native formats for a set of flavors and flavors for a
// set of native formats.
//
// Both directions consult a flavormap.Table for candidate mappings and a
// format.Registry to turn native names into format identifiers. Neither
// direction fails: unknown or ineligible inputs simply drop out of the
// result. Passing a nil table or registry is a programming error.
package resolve

import (
	"slices"

	"go.klb.dev/clipxfer/internal/flavor"
	"go.klb.dev/clipxfer/internal/flavormap"
	"go.klb.dev/clipxfer/internal/format"
)

// Eligible reports whether f has a representation the codec can build.
// Text flavors qualify with any representation; other flavors qualify unless
// they ask for character readers or rune buffers, which only exist for text.
func Eligible(f flavor.Flavor) bool {
	if f.IsText() {
		return true
	}
	switch f.Repr() {
	case flavor.FileList, flavor.Image, flavor.Object, flavor.Remote,
		flavor.Stream, flavor.Bytes, flavor.String:
		return true
	}
	return false
}

// isPlainTextSource reports whether f wins ties for natives shared by several
// text flavors.
func isPlainTextSource(f flavor.Flavor) bool {
	return f == flavor.PlainString || f.IsPlainText()
}

// FormatMap is an ordered mapping from native formats to the flavor each one
// is rendered from, most preferred format first.
type FormatMap struct {
	formats []format.Native
	flavors map[format.Native]flavor.Flavor
}

// Formats returns the formats, most preferred first.
func (m *FormatMap) Formats() []format.Native { return slices.Clone(m.formats) }

// Flavor returns the flavor rendering n.
func (m *FormatMap) Flavor(n format.Native) (flavor.Flavor, bool) {
	f, ok := m.flavors[n]
	return f, ok
}

// Len returns the number of formats.
func (m *FormatMap) Len() int { return len(m.formats) }

// FormatsForFlavors returns the native formats a source offering flavors can
// render, each paired with the flavor it is rendered from. flavors is ordered
// most preferred first.
func FormatsForFlavors(flavors []flavor.Flavor, table flavormap.Table, reg *format.Registry) *FormatMap {
	if table == nil || reg == nil {
		panic("resolve: nil table or registry")
	}

	formatMap := make(map[format.Native]flavor.Flavor)
	indexMap := make(map[format.Native]int)
	plainMap := make(map[format.Native]flavor.Flavor)
	plainIndex := make(map[format.Native]int)

	// Walk from least to most preferred so that later (more preferred)
	// flavors overwrite earlier ones and collect higher indices.
	index := 0
	for i := len(flavors) - 1; i >= 0; i-- {
		f := flavors[i]
		if !Eligible(f) {
			continue
		}
		natives := table.NativesForFlavor(f)
		for j := len(natives) - 1; j >= 0; j-- {
			n := reg.FormatFor(natives[j])
			formatMap[n] = f
			indexMap[n] = index
			if isPlainTextSource(f) {
				plainMap[n] = f
				plainIndex[n] = index
			}
			index++
		}
	}

	for n, f := range plainMap {
		formatMap[n] = f
		indexMap[n] = plainIndex[n]
	}

	out := &FormatMap{
		formats: make([]format.Native, 0, len(formatMap)),
		flavors: formatMap,
	}
	for n := range formatMap {
		out.formats = append(out.formats, n)
	}
	slices.SortFunc(out.formats, func(a, b format.Native) int {
		return indexMap[b] - indexMap[a]
	})
	return out
}

type pairing struct {
	format format.Native
	flavor flavor.Flavor
}

// FlavorsForFormats returns every eligible flavor obtainable from formats,
// each mapped to the single best format to decode it from.
func FlavorsForFormats(formats []format.Native, table flavormap.Table, reg *format.Registry) map[flavor.Flavor]format.Native {
	if table == nil || reg == nil {
		panic("resolve: nil table or registry")
	}

	observed := make(map[pairing]bool)
	fallback := make(map[flavor.Flavor]format.Native)
	var order []flavor.Flavor

	for _, n := range formats {
		name, err := reg.NameFor(n)
		if err != nil {
			continue
		}
		for _, f := range table.FlavorsForNative(name) {
			if !Eligible(f) {
				continue
			}
			observed[pairing{n, f}] = true
			if _, seen := fallback[f]; !seen {
				fallback[f] = n
				order = append(order, f)
			}
		}
	}

	out := make(map[flavor.Flavor]format.Native, len(order))
	for _, f := range order {
		best := fallback[f]
		for _, name := range table.NativesForFlavor(f) {
			n, ok := reg.Lookup(name)
			if ok && observed[pairing{n, f}] {
				best = n
				break
			}
		}
		out[f] = best
	}
	return out
}

// FlavorsForFormatsAsSet returns the flavors of FlavorsForFormats as a set.
func FlavorsForFormatsAsSet(formats []format.Native, table flavormap.Table, reg *format.Registry) map[flavor.Flavor]struct{} {
	m := FlavorsForFormats(formats, table, reg)
	out := make(map[flavor.Flavor]struct{}, len(m))
	for f := range m {
		out[f] = struct{}{}
	}
	return out
}

// FlavorsForFormatsAsSlice returns the flavors of FlavorsForFormats sorted
// by flavor.Compare.
func FlavorsForFormatsAsSlice(formats []format.Native, table flavormap.Table, reg *format.Registry) []flavor.Flavor {
	m := FlavorsForFormats(formats, table, reg)
	out := make([]flavor.Flavor, 0, len(m))
	for f := range m {
		out = append(out, f)
	}
	slices.SortFunc(out, flavor.Compare)
	return out
}
