package clipboard

import (
	"context"
	"fmt"

	"go.klb.dev/clipxfer/internal/medium"
	"go.klb.dev/clipxfer/internal/owner"
	"go.klb.dev/clipxfer/internal/resolve"
	"go.klb.dev/clipxfer/internal/transfer"
	"go.klb.dev/clipxfer/internal/xferr"
)

// lazyRenderer encodes published contents when the medium asks for a
// format. Encoding runs on the producer's queue so the producer's values are
// only ever touched from its own context.
type lazyRenderer struct {
	producer *owner.Context
	src      transfer.Transferable
	fm       *resolve.FormatMap
	deps     transfer.Deps
}

func (r *lazyRenderer) Formats() []string {
	formats := r.fm.Formats()
	out := make([]string, 0, len(formats))
	for _, n := range formats {
		if name, err := r.deps.Registry.NameFor(n); err == nil {
			out = append(out, name)
		}
	}
	return out
}

func (r *lazyRenderer) Render(ctx context.Context, name string) ([]byte, error) {
	n, ok := r.deps.Registry.Lookup(name)
	if !ok {
		return nil, &xferr.Error{Kind: xferr.ErrUnknownFormat, Format: name}
	}
	f, ok := r.fm.Flavor(n)
	if !ok {
		return nil, fmt.Errorf("format %s not offered", name)
	}
	return owner.RenderOn(ctx, r.producer, func(context.Context) ([]byte, error) {
		return r.deps.Codec.EncodeFrom(r.src, f, n)
	})
}

var _ medium.Renderer = (*lazyRenderer)(nil)
