// Package transfer holds the consumer and producer sides of a clipboard
// transfer: Cached, the snapshot a consumer takes of a medium, and Values,
// the set of typed values a producer offers. Proxy wraps either one to break
// object identity between producer and consumer in the same process.
package transfer

import (
	"fmt"
	"slices"

	"go.klb.dev/clipxfer/internal/flavor"
	"go.klb.dev/clipxfer/internal/xferr"
)

// Transferable is a set of flavors and the values they yield.
type Transferable interface {
	// Flavors returns the supported flavors in flavor.Compare order.
	Flavors() []flavor.Flavor
	IsSupported(f flavor.Flavor) bool
	// Get returns the value of f. It fails with xferr.ErrUnsupportedFlavor
	// for flavors outside Flavors.
	Get(f flavor.Flavor) (any, error)
}

// Values is a producer-side Transferable over values supplied up front.
// Flavors are kept in the order they were added, which is the producer's
// preference order.
type Values struct {
	order  []flavor.Flavor
	values map[flavor.Flavor]any
}

func NewValues() *Values {
	return &Values{values: make(map[flavor.Flavor]any)}
}

// Add offers v as flavor f. Adding a flavor twice replaces its value but
// keeps its position.
func (v *Values) Add(f flavor.Flavor, value any) *Values {
	if _, ok := v.values[f]; !ok {
		v.order = append(v.order, f)
	}
	v.values[f] = value
	return v
}

// Text offers s as plain text.
func Text(s string) *Values { return NewValues().Add(flavor.PlainString, s) }

// Files offers a list of paths.
func Files(paths []string) *Values { return NewValues().Add(flavor.Files, slices.Clone(paths)) }

// Object offers v as an object of the named class.
func Object(class string, v any) *Values { return NewValues().Add(flavor.ObjectFlavor(class), v) }

// Preferred returns the flavors in preference order.
func (v *Values) Preferred() []flavor.Flavor { return slices.Clone(v.order) }

func (v *Values) Flavors() []flavor.Flavor {
	out := slices.Clone(v.order)
	slices.SortFunc(out, flavor.Compare)
	return out
}

func (v *Values) IsSupported(f flavor.Flavor) bool {
	_, ok := v.values[f]
	return ok
}

func (v *Values) Get(f flavor.Flavor) (any, error) {
	val, ok := v.values[f]
	if !ok {
		return nil, xferr.Unsupported(f.String())
	}
	return val, nil
}

// Copier deep-copies object values.
type Copier interface {
	Copy(v any, f flavor.Flavor) (any, error)
}

// Proxy wraps a Transferable. When local, every Object flavor value is
// deep-copied on retrieval so that callers never share an object graph with
// the producer or with each other.
type Proxy struct {
	inner  Transferable
	local  bool
	copier Copier
}

// NewProxy wraps inner. copier may be nil when local is false.
func NewProxy(inner Transferable, local bool, copier Copier) *Proxy {
	return &Proxy{inner: inner, local: local, copier: copier}
}

// Inner returns the wrapped Transferable.
func (p *Proxy) Inner() Transferable { return p.inner }

func (p *Proxy) Flavors() []flavor.Flavor         { return p.inner.Flavors() }
func (p *Proxy) IsSupported(f flavor.Flavor) bool { return p.inner.IsSupported(f) }

func (p *Proxy) Get(f flavor.Flavor) (any, error) {
	v, err := p.inner.Get(f)
	if err != nil || !p.local || f.Repr() != flavor.Object {
		return v, err
	}
	if p.copier == nil {
		return nil, fmt.Errorf("transfer: copy %s: no copier configured", f)
	}
	cp, err := p.copier.Copy(v, f)
	if err != nil {
		return nil, fmt.Errorf("transfer: copy %s: %w", f, err)
	}
	return cp, nil
}
