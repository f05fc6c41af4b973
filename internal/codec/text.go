package codec

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/encoding/unicode/utf32"

	"go.klb.dev/clipxfer/internal/flavor"
	"go.klb.dev/clipxfer/internal/format"
)

// LookupCharset resolves a charset name to an encoding. The unicode family is
// matched first so that byte-order handling is predictable: "utf-16" reads a
// BOM when present and defaults to big endian, the explicit-endian forms
// ignore BOMs. Everything else goes through the IANA registry and then the
// WHATWG labels.
func LookupCharset(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return unicode.UTF8, nil
	case "utf-16":
		return unicode.UTF16(unicode.BigEndian, unicode.UseBOM), nil
	case "utf-16be":
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM), nil
	case "utf-16le":
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM), nil
	case "utf-32", "utf-32be":
		return utf32.UTF32(utf32.BigEndian, utf32.UseBOM), nil
	case "utf-32le":
		return utf32.UTF32(utf32.LittleEndian, utf32.IgnoreBOM), nil
	}
	if e, err := ianaindex.IANA.Encoding(name); err == nil && e != nil {
		return e, nil
	}
	if e, err := htmlindex.Get(name); err == nil {
		return e, nil
	}
	return nil, fmt.Errorf("unsupported charset %q", name)
}

func flavorCharset(f flavor.Flavor) string {
	if cs := f.Charset(); cs != "" {
		return cs
	}
	return format.DefaultCharset
}

func decodeCharset(b []byte, charset string) (string, error) {
	enc, err := LookupCharset(charset)
	if err != nil {
		return "", err
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", charset, err)
	}
	return string(out), nil
}

func encodeCharset(s, charset string) ([]byte, error) {
	enc, err := LookupCharset(charset)
	if err != nil {
		return nil, err
	}
	out, err := encoding.ReplaceUnsupported(enc.NewEncoder()).Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", charset, err)
	}
	return out, nil
}

// bestCharset picks the charset of text format n. Locale-dependent formats
// take it from the source's text-encoding hint when one is offered.
func (c *Codec) bestCharset(n format.Native, locale Source) string {
	if locale != nil && c.reg.IsLocaleDependent(n) && locale.IsSupported(flavor.TextEncoding) {
		if v, err := locale.Get(flavor.TextEncoding); err == nil {
			if b, ok := v.([]byte); ok {
				if cs := strings.TrimRight(string(b), "\x00"); cs != "" {
					return cs
				}
			}
		}
	}
	if cs, ok := c.reg.CharsetFor(n); ok {
		return cs
	}
	return format.DefaultCharset
}

func (c *Codec) encodeText(s string, n format.Native, locale Source) ([]byte, error) {
	tp := c.reg.TextProperties(n)
	s = toNativeEOL(s, tp.EOL)
	out, err := encodeCharset(s, c.bestCharset(n, locale))
	if err != nil {
		return nil, err
	}
	if tp.Terminators > 0 {
		out = append(out, make([]byte, tp.Terminators)...)
	}
	return out, nil
}

func (c *Codec) decodeText(data []byte, n format.Native, locale Source) (string, error) {
	tp := c.reg.TextProperties(n)
	if tp.Terminators > 0 {
		data = data[:terminatorCut(data, tp.Terminators)]
	}
	s, err := decodeCharset(data, c.bestCharset(n, locale))
	if err != nil {
		return "", err
	}
	return fromNativeEOL(s, tp.EOL), nil
}

// terminatorCut returns the length of data before the first run of width
// zero bytes aligned to width. Data without a terminator is kept whole.
//
// The scan treats each width-byte unit as one code unit. That is exact for
// the fixed-width encodings natives declare terminators for; a multi-byte
// variable-width charset could in principle hide an aligned zero run inside
// a character, which is accepted.
func terminatorCut(data []byte, width int) int {
	zero := make([]byte, width)
	for i := 0; i+width <= len(data); i += width {
		if bytes.Equal(data[i:i+width], zero) {
			return i
		}
	}
	return len(data)
}

// toNativeEOL replaces every "\n" with eol. A "\n" that already ends an eol
// sequence is left alone, so text carrying native line endings is not
// expanded twice.
func toNativeEOL(s, eol string) string {
	if eol == "" || eol == "\n" || !strings.Contains(s, "\n") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + strings.Count(s, "\n")*(len(eol)-1))
	for i := 0; i < len(s); {
		if strings.HasPrefix(s[i:], eol) {
			b.WriteString(eol)
			i += len(eol)
			continue
		}
		if s[i] == '\n' {
			b.WriteString(eol)
		} else {
			b.WriteByte(s[i])
		}
		i++
	}
	return b.String()
}

// fromNativeEOL replaces every eol sequence with "\n".
func fromNativeEOL(s, eol string) string {
	if eol == "" || eol == "\n" {
		return s
	}
	return strings.ReplaceAll(s, eol, "\n")
}
