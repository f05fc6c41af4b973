// Package codec translates between native clipboard payloads and typed
// values.
//
// Encoding turns a value offered under some flavor into the bytes of a native
// format; decoding turns native bytes back into the value a flavor promises.
// The branch taken depends on the flavor's representation:
//
//	String, Reader, Runes   text with charset, EOL and terminator rewriting
//	Bytes, Stream           pass-through, or re-encoded when the flavor is charset text
//	FileList                platform path lists or text/uri-list
//	Image                   ImageService, falling back to the standard decoders
//	Object, Remote          ObjectService
//
// A Codec holds no mutable state; it is safe for concurrent use.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"reflect"
	"strings"

	"go.klb.dev/clipxfer/internal/flavor"
	"go.klb.dev/clipxfer/internal/format"
	"go.klb.dev/clipxfer/internal/xferr"
)

var (
	// ErrNilResult reports a translation that produced no value.
	ErrNilResult = errors.New("translation produced no value")

	errUnmatched = errors.New("no translation between flavor and format")
)

// Source is a transfer the codec can query for companion data: the value to
// encode, or the text-encoding hint of locale-dependent natives.
type Source interface {
	IsSupported(f flavor.Flavor) bool
	Get(f flavor.Flavor) (any, error)
}

// ObjectService serializes Object and Remote flavor values.
type ObjectService interface {
	Serialize(v any, f flavor.Flavor) ([]byte, error)
	Deserialize(data []byte, f flavor.Flavor) (any, error)
}

// Codec is the translation engine.
type Codec struct {
	reg          *format.Registry
	images       ImageService
	standard     *StandardImages
	objects      ObjectService
	paths        PathListCodec
	access       AccessCheck
	constructors *Constructors
}

// Option configures a Codec.
type Option func(*Codec)

// WithImageService installs a platform image service tried before the
// standard encoders and decoders.
func WithImageService(s ImageService) Option { return func(c *Codec) { c.images = s } }

// WithObjectService installs the serializer for Object and Remote flavors.
func WithObjectService(s ObjectService) Option { return func(c *Codec) { c.objects = s } }

// WithPathListCodec replaces the platform path-list layout.
func WithPathListCodec(p PathListCodec) Option { return func(c *Codec) { c.paths = p } }

// WithAccessCheck installs the predicate filtering file-list entries.
func WithAccessCheck(a AccessCheck) Option { return func(c *Codec) { c.access = a } }

// WithConstructors installs factories for custom stream representations.
func WithConstructors(cs *Constructors) Option { return func(c *Codec) { c.constructors = cs } }

// New returns a Codec reading text metadata from reg.
func New(reg *format.Registry, opts ...Option) *Codec {
	c := &Codec{
		reg:          reg,
		standard:     NewStandardImages(),
		paths:        NULPathList{},
		access:       AllowAll,
		constructors: NewConstructors(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Registry returns the format registry the codec consults.
func (c *Codec) Registry() *format.Registry { return c.reg }

func (c *Codec) fail(f flavor.Flavor, n format.Native, err error) error {
	if errors.Is(err, xferr.ErrTranslationFailed) {
		return err
	}
	return xferr.Translation(f.String(), c.reg.Describe(n), err)
}

// Encode converts value, offered as flavor f, into the bytes of format n.
func (c *Codec) Encode(value any, f flavor.Flavor, n format.Native) ([]byte, error) {
	return c.encodeWith(value, f, n, nil)
}

// EncodeFrom fetches flavor f from src and encodes it into format n. The
// legacy PlainText flavor is re-requested from src as PlainString; its own
// representation is never trusted. src also supplies the text-encoding hint
// for locale-dependent formats.
func (c *Codec) EncodeFrom(src Source, f flavor.Flavor, n format.Native) ([]byte, error) {
	if f == flavor.PlainText {
		f = flavor.PlainString
	}
	v, err := src.Get(f)
	if err != nil {
		return nil, err
	}
	return c.encodeWith(v, f, n, src)
}

func (c *Codec) encodeWith(value any, f flavor.Flavor, n format.Native, locale Source) ([]byte, error) {
	out, err := c.encode(value, f, n, locale)
	if err != nil {
		return nil, c.fail(f, n, err)
	}
	if out == nil {
		out = []byte{}
	}
	return out, nil
}

func (c *Codec) encode(value any, f flavor.Flavor, n format.Native, locale Source) ([]byte, error) {
	switch f.Repr() {
	case flavor.String, flavor.Reader, flavor.Runes:
		s, err := textOf(value)
		if err != nil {
			return nil, err
		}
		return c.encodeText(s, n, locale)

	case flavor.Bytes, flavor.Stream:
		b, err := bytesOf(value)
		if err != nil {
			return nil, err
		}
		if f.IsCharsetText() && c.reg.IsTextFormat(n) {
			s, err := decodeCharset(b, flavorCharset(f))
			if err != nil {
				return nil, err
			}
			return c.encodeText(s, n, locale)
		}
		return b, nil

	case flavor.Image:
		mt, ok := c.reg.ImageMIME(n)
		if !ok {
			return nil, fmt.Errorf("%s is not an image format", c.reg.Describe(n))
		}
		img, ok := value.(image.Image)
		if !ok || isNil(img) {
			return nil, fmt.Errorf("value %T is not an image", value)
		}
		return c.encodeImage(img, mt)

	case flavor.FileList:
		paths, ok := value.([]string)
		if !ok {
			return nil, fmt.Errorf("value %T is not a path list", value)
		}
		return c.encodeFileList(paths, n, locale)

	case flavor.Object, flavor.Remote:
		if c.objects == nil {
			return nil, errors.New("no object service configured")
		}
		return c.objects.Serialize(value, f)
	}
	return nil, errUnmatched
}

// Decode converts the bytes of format n into the value flavor f promises.
// locale may be nil; when non-nil it is consulted for the charset of
// locale-dependent text formats.
func (c *Codec) Decode(data []byte, f flavor.Flavor, n format.Native, locale Source) (any, error) {
	v, err := c.decode(data, f, n, locale)
	if err != nil {
		return nil, c.fail(f, n, err)
	}
	if isNil(v) {
		return nil, c.fail(f, n, ErrNilResult)
	}
	return v, nil
}

func (c *Codec) decode(data []byte, f flavor.Flavor, n format.Native, locale Source) (any, error) {
	switch f.Repr() {
	case flavor.FileList:
		switch {
		case c.reg.IsFileListFormat(n):
			paths, err := c.paths.DecodePaths(data)
			if err != nil {
				return nil, err
			}
			return cleanPaths(paths), nil
		case c.reg.IsURIListFormat(n):
			return c.decodeURIList(data, n, locale)
		}
		return nil, errUnmatched

	case flavor.String:
		return c.decodeText(data, n, locale)

	case flavor.Reader:
		s, err := c.decodeText(data, n, locale)
		if err != nil {
			return nil, err
		}
		return c.construct(f, strings.NewReader(s))

	case flavor.Runes:
		s, err := c.decodeText(data, n, locale)
		if err != nil {
			return nil, err
		}
		return []rune(s), nil

	case flavor.Bytes:
		if f.IsCharsetText() && c.reg.IsTextFormat(n) {
			s, err := c.decodeText(data, n, locale)
			if err != nil {
				return nil, err
			}
			return encodeCharset(s, flavorCharset(f))
		}
		return append([]byte{}, data...), nil

	case flavor.Stream:
		return c.decodeStream(bytes.NewReader(data), f, n, locale)

	case flavor.Image:
		mt, ok := c.reg.ImageMIME(n)
		if !ok {
			return nil, fmt.Errorf("%s is not an image format", c.reg.Describe(n))
		}
		return c.decodeImage(data, mt)

	case flavor.Object, flavor.Remote:
		if c.objects == nil {
			return nil, errors.New("no object service configured")
		}
		return c.objects.Deserialize(data, f)
	}
	return nil, errUnmatched
}

// DecodeStream is like Decode but reads the payload from r. Stream flavors
// wrap r without draining it; every other flavor reads r to the end first.
func (c *Codec) DecodeStream(r io.Reader, f flavor.Flavor, n format.Native, locale Source) (any, error) {
	if f.Repr() == flavor.Stream {
		v, err := c.decodeStream(r, f, n, locale)
		if err != nil {
			return nil, c.fail(f, n, err)
		}
		return v, nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, c.fail(f, n, err)
	}
	return c.Decode(data, f, n, locale)
}

func (c *Codec) decodeStream(r io.Reader, f flavor.Flavor, n format.Native, locale Source) (any, error) {
	if f.IsCharsetText() && c.reg.IsTextFormat(n) {
		tp := c.reg.TextProperties(n)
		rr, err := NewReencodingReader(r, c.bestCharset(n, locale), tp.EOL, tp.Terminators, flavorCharset(f))
		if err != nil {
			return nil, err
		}
		return c.construct(f, rr)
	}
	return c.construct(f, r)
}

// construct hands r to the constructor registered for f's class, if any.
func (c *Codec) construct(f flavor.Flavor, r io.Reader) (any, error) {
	if f.Class() != "" {
		if ctor, ok := c.constructors.Lookup(f.Class()); ok {
			return ctor(r)
		}
	}
	return r, nil
}

// textOf accepts the Go forms of character data.
func textOf(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []rune:
		return string(t), nil
	case io.Reader:
		b, err := io.ReadAll(t)
		if err != nil {
			return "", fmt.Errorf("read text: %w", err)
		}
		return string(b), nil
	case fmt.Stringer:
		return t.String(), nil
	}
	return "", fmt.Errorf("value %T is not text", v)
}

// bytesOf accepts byte slices and drains byte streams.
func bytesOf(v any) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case io.Reader:
		b, err := io.ReadAll(t)
		if err != nil {
			return nil, fmt.Errorf("read stream: %w", err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("value %T is not bytes", v)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
