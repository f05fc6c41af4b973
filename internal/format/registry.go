// Package format maps native clipboard format names to process-stable
// identifiers and records the text metadata of each native format.
//
// Registration happens rarely (when a flavor table is loaded) while lookups
// happen on every transfer, so the registry is guarded by a RWMutex and every
// query is a map lookup.
package format

import (
	"fmt"
	"sync"

	"go.klb.dev/clipxfer/internal/xferr"
)

// DefaultCharset is used for text natives that declare no charset.
const DefaultCharset = "utf-8"

// Native identifies a platform clipboard format for the lifetime of the process.
type Native int64

// TextProperties describes how text is laid out in a native format.
type TextProperties struct {
	// Charset names the byte encoding; empty means DefaultCharset.
	Charset string
	// EOL is the native end-of-line marker; "\n" means no rewrite.
	EOL string
	// Terminators is the number of zero bytes terminating the text.
	Terminators int
}

type kind uint8

const (
	kindText kind = 1 << iota
	kindFileList
	kindURIList
	kindImage
	kindLocaleText
)

// Registry is a bidirectional native-name table with per-format metadata.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Native
	names  map[Native]string
	kinds  map[Native]kind
	text   map[Native]TextProperties
	images map[Native]string // format → image MIME type
	next   Native
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]Native),
		names:  make(map[Native]string),
		kinds:  make(map[Native]kind),
		text:   make(map[Native]TextProperties),
		images: make(map[Native]string),
		next:   1,
	}
}

// Default returns the process-wide registry, created on first use and never
// torn down. Components receive it explicitly; tests build their own with
// NewRegistry.
var Default = sync.OnceValue(NewRegistry)

// FormatFor returns the format registered for name, registering it first if
// it is new.
func (r *Registry) FormatFor(name string) Native {
	r.mu.RLock()
	n, ok := r.byName[name]
	r.mu.RUnlock()
	if ok {
		return n
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.formatForLocked(name)
}

func (r *Registry) formatForLocked(name string) Native {
	if n, ok := r.byName[name]; ok {
		return n
	}
	n := r.next
	r.next++
	r.byName[name] = n
	r.names[n] = name
	return n
}

// Lookup returns the format registered for name without registering it.
func (r *Registry) Lookup(name string) (Native, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.byName[name]
	return n, ok
}

// NameFor returns the symbolic name of n.
func (r *Registry) NameFor(n Native) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.names[n]
	if !ok {
		return "", &xferr.Error{Kind: xferr.ErrUnknownFormat, Format: fmt.Sprintf("#%d", n)}
	}
	return name, nil
}

// Describe returns the name of n, or a placeholder for unknown formats.
// Meant for logs and error messages.
func (r *Registry) Describe(n Native) string {
	if name, err := r.NameFor(n); err == nil {
		return name
	}
	return fmt.Sprintf("#%d", n)
}

// RegisterTextProperties marks name as a text format and records its
// metadata. Each property is only overwritten by a non-default value: an
// empty charset, an EOL of "" or "\n", and terminators <= 0 leave the
// previous setting in place.
func (r *Registry) RegisterTextProperties(name, charset, eol string, terminators int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.formatForLocked(name)
	r.kinds[n] |= kindText
	tp := r.text[n]
	if charset != "" {
		tp.Charset = charset
	}
	if eol != "" && eol != "\n" {
		tp.EOL = eol
	}
	if terminators > 0 {
		tp.Terminators = terminators
	}
	r.text[n] = tp
}

// MarkFileList marks name as a platform path-list format.
func (r *Registry) MarkFileList(name string) { r.mark(name, kindFileList) }

// MarkURIList marks name as a text/uri-list format. URI lists are text.
func (r *Registry) MarkURIList(name string) { r.mark(name, kindURIList|kindText) }

// MarkLocaleDependent marks name as text whose charset may be overridden by
// a TextEncoding payload on the same transfer.
func (r *Registry) MarkLocaleDependent(name string) { r.mark(name, kindLocaleText|kindText) }

// MarkImage marks name as an image format encoded as mimeType.
func (r *Registry) MarkImage(name, mimeType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.formatForLocked(name)
	r.kinds[n] |= kindImage
	r.images[n] = mimeType
}

func (r *Registry) mark(name string, k kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.formatForLocked(name)
	r.kinds[n] |= k
}

func (r *Registry) is(n Native, k kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.kinds[n]&k != 0
}

// IsTextFormat reports whether n carries text.
func (r *Registry) IsTextFormat(n Native) bool { return r.is(n, kindText) }

// IsFileListFormat reports whether n is a platform path list.
func (r *Registry) IsFileListFormat(n Native) bool { return r.is(n, kindFileList) }

// IsURIListFormat reports whether n is a text/uri-list format.
func (r *Registry) IsURIListFormat(n Native) bool { return r.is(n, kindURIList) }

// IsLocaleDependent reports whether n is locale-dependent text.
func (r *Registry) IsLocaleDependent(n Native) bool { return r.is(n, kindLocaleText) }

// ImageMIME returns the image MIME type of n when n is an image format.
func (r *Registry) ImageMIME(n Native) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.kinds[n]&kindImage == 0 {
		return "", false
	}
	return r.images[n], true
}

// CharsetFor returns the charset registered for a text format. ok is false
// for non-text formats and text formats without an explicit charset.
func (r *Registry) CharsetFor(n Native) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.kinds[n]&kindText == 0 {
		return "", false
	}
	cs := r.text[n].Charset
	return cs, cs != ""
}

// TextProperties returns the text metadata of n with defaults filled in.
func (r *Registry) TextProperties(n Native) TextProperties {
	r.mu.RLock()
	tp := r.text[n]
	r.mu.RUnlock()
	if tp.Charset == "" {
		tp.Charset = DefaultCharset
	}
	if tp.EOL == "" {
		tp.EOL = "\n"
	}
	return tp
}
