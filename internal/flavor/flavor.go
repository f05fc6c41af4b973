// Package flavor describes application-level data representations.
//
// A Flavor pairs a MIME-like type with the Go representation a consumer
// receives for it. Flavors are comparable values: two flavors are equal when
// their primary type, subtype, charset, class and representation match, so
// they can be used directly as map keys.
package flavor

import (
	"cmp"
	"fmt"
	"mime"
	"strings"
)

// Representation is the in-process form of a transferred value.
type Representation uint8

const (
	// String values are Go strings.
	String Representation = iota + 1
	// Reader values are io.Reader streams of UTF-8 text.
	Reader
	// Stream values are io.Reader byte streams.
	Stream
	// Bytes values are []byte.
	Bytes
	// Runes values are []rune.
	Runes
	// FileList values are []string absolute paths.
	FileList
	// Image values are image.Image.
	Image
	// Remote values are references to objects living in another process.
	Remote
	// Object values are arbitrary serializable Go values.
	Object
)

var reprNames = map[Representation]string{
	String:   "string",
	Reader:   "reader",
	Stream:   "stream",
	Bytes:    "bytes",
	Runes:    "runes",
	FileList: "files",
	Image:    "image",
	Remote:   "remote",
	Object:   "object",
}

func (r Representation) String() string {
	if n, ok := reprNames[r]; ok {
		return n
	}
	return fmt.Sprintf("repr(%d)", uint8(r))
}

// ParseRepresentation converts a repr parameter value to a Representation.
func ParseRepresentation(s string) (Representation, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for r, n := range reprNames {
		if n == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown representation %q", s)
}

// Flavor is an immutable descriptor of a transferable data representation.
type Flavor struct {
	primary string
	subtype string
	charset string
	class   string
	repr    Representation
}

// New returns a flavor for mimeType (e.g. "text/html; charset=utf-8")
// delivered as repr. Parameters other than charset and class are dropped.
func New(mimeType string, repr Representation) (Flavor, error) {
	mt, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return Flavor{}, fmt.Errorf("flavor: parse %q: %w", mimeType, err)
	}
	primary, subtype, ok := strings.Cut(mt, "/")
	if !ok || primary == "" || subtype == "" {
		return Flavor{}, fmt.Errorf("flavor: %q is not a type/subtype pair", mimeType)
	}
	if reprNames[repr] == "" {
		return Flavor{}, fmt.Errorf("flavor: invalid representation %d", repr)
	}
	return Flavor{
		primary: primary,
		subtype: subtype,
		charset: strings.ToLower(params["charset"]),
		class:   params["class"],
		repr:    repr,
	}, nil
}

// MustNew is like New but panics on error. Intended for package-level flavors.
func MustNew(mimeType string, repr Representation) Flavor {
	f, err := New(mimeType, repr)
	if err != nil {
		panic(err)
	}
	return f
}

// Parse reads the String form of a flavor. A missing repr parameter defaults
// to String for text types and Bytes otherwise.
func Parse(s string) (Flavor, error) {
	mt, params, err := mime.ParseMediaType(s)
	if err != nil {
		return Flavor{}, fmt.Errorf("flavor: parse %q: %w", s, err)
	}
	var repr Representation
	if r, ok := params["repr"]; ok {
		if repr, err = ParseRepresentation(r); err != nil {
			return Flavor{}, fmt.Errorf("flavor: parse %q: %w", s, err)
		}
	} else if strings.HasPrefix(mt, "text/") {
		repr = String
	} else {
		repr = Bytes
	}
	delete(params, "repr")
	return New(mime.FormatMediaType(mt, params), repr)
}

// IsZero reports whether f is the zero Flavor.
func (f Flavor) IsZero() bool { return f == Flavor{} }

// Primary returns the MIME primary type.
func (f Flavor) Primary() string { return f.primary }

// Subtype returns the MIME subtype.
func (f Flavor) Subtype() string { return f.subtype }

// Charset returns the charset parameter, or "".
func (f Flavor) Charset() string { return f.charset }

// Class returns the class parameter naming an object flavor's Go type.
func (f Flavor) Class() string { return f.class }

// Repr returns the representation category.
func (f Flavor) Repr() Representation { return f.repr }

// WithRepr returns a copy of f with a different representation.
func (f Flavor) WithRepr(r Representation) Flavor {
	f.repr = r
	return f
}

// WithCharset returns a copy of f with a different charset parameter.
func (f Flavor) WithCharset(cs string) Flavor {
	f.charset = strings.ToLower(cs)
	return f
}

// MIMEType returns the MIME type including charset and class parameters.
func (f Flavor) MIMEType() string {
	params := map[string]string{}
	if f.charset != "" {
		params["charset"] = f.charset
	}
	if f.class != "" {
		params["class"] = f.class
	}
	return mime.FormatMediaType(f.primary+"/"+f.subtype, params)
}

// String returns a form accepted by Parse.
func (f Flavor) String() string {
	if f.IsZero() {
		return "<none>"
	}
	return f.MIMEType() + "; repr=" + f.repr.String()
}

// IsText reports whether f has the MIME primary type "text".
func (f Flavor) IsText() bool { return f.primary == "text" }

// IsPlainText reports whether f is text/plain.
func (f Flavor) IsPlainText() bool { return f.primary == "text" && f.subtype == "plain" }

// noCharsetSubtypes are text subtypes whose byte form is not defined by a
// charset parameter.
var noCharsetSubtypes = map[string]bool{
	"rtf":                  true,
	"tab-separated-values": true,
	"t140":                 true,
	"rfc822-headers":       true,
	"parityfec":            true,
}

// IsCharsetText reports whether f is text whose bytes are interpreted
// through a charset. Character representations always are.
func (f Flavor) IsCharsetText() bool {
	if !f.IsText() {
		return false
	}
	switch f.repr {
	case String, Reader, Runes:
		return true
	}
	return !noCharsetSubtypes[f.subtype]
}

// Compare orders flavors totally: by primary type, subtype, charset, class
// and representation.
func Compare(a, b Flavor) int {
	if c := cmp.Compare(a.primary, b.primary); c != 0 {
		return c
	}
	if c := cmp.Compare(a.subtype, b.subtype); c != 0 {
		return c
	}
	if c := cmp.Compare(a.charset, b.charset); c != 0 {
		return c
	}
	if c := cmp.Compare(a.class, b.class); c != 0 {
		return c
	}
	return cmp.Compare(a.repr, b.repr)
}
