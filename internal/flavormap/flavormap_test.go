package flavormap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipxfer/internal/flavor"
	"go.klb.dev/clipxfer/internal/format"
)

func TestMap_BothDirectionsOrdered(t *testing.T) {
	m := New()
	html := flavor.MustNew("text/html; charset=utf-8", flavor.String)
	m.Add("UTF8_STRING", flavor.PlainString)
	m.Add("STRING", flavor.PlainString)
	m.Add("UTF8_STRING", html)
	m.Add("UTF8_STRING", flavor.PlainString)

	assert.Equal(t, []string{"UTF8_STRING", "STRING"}, m.NativesForFlavor(flavor.PlainString))
	assert.Equal(t, []flavor.Flavor{flavor.PlainString, html}, m.FlavorsForNative("UTF8_STRING"))
}

func TestMap_Asymmetric(t *testing.T) {
	m := New()
	m.AddImport("image/jpeg", flavor.Picture)
	m.AddExport(flavor.Picture, "image/png")

	assert.Equal(t, []flavor.Flavor{flavor.Picture}, m.FlavorsForNative("image/jpeg"))
	assert.Empty(t, m.FlavorsForNative("image/png"))
	assert.Equal(t, []string{"image/png"}, m.NativesForFlavor(flavor.Picture))
}

func TestMap_EncodedFlavorNatives(t *testing.T) {
	m := New()
	obj := flavor.ObjectFlavor("demo.Point")

	natives := m.NativesForFlavor(obj)
	require.Len(t, natives, 1)
	assert.Equal(t, EncodedFlavorPrefix+obj.String(), natives[0])
	assert.Equal(t, []flavor.Flavor{obj}, m.FlavorsForNative(natives[0]))

	assert.Empty(t, m.NativesForFlavor(flavor.PlainString))
	assert.Empty(t, m.FlavorsForNative(EncodedFlavorPrefix+"garbage"))
}

func TestLoadDefault(t *testing.T) {
	reg := format.NewRegistry()
	m, err := LoadDefault(reg)
	require.NoError(t, err)

	unicode := reg.FormatFor("CF_UNICODETEXT")
	assert.Equal(t, format.TextProperties{Charset: "utf-16le", EOL: "\r\n", Terminators: 2}, reg.TextProperties(unicode))
	assert.True(t, reg.IsURIListFormat(reg.FormatFor("text/uri-list")))
	assert.True(t, reg.IsFileListFormat(reg.FormatFor("CF_HDROP")))
	assert.True(t, reg.IsLocaleDependent(reg.FormatFor("CF_TEXT")))
	mt, ok := reg.ImageMIME(reg.FormatFor("image/png"))
	assert.True(t, ok)
	assert.Equal(t, "image/png", mt)

	// Text flavors without repr= expand into every text representation.
	got := m.FlavorsForNative("UTF8_STRING")
	assert.Contains(t, got, flavor.PlainString)
	assert.Contains(t, got, flavor.PlainString.WithRepr(flavor.Reader))
	assert.Contains(t, got, flavor.PlainString.WithRepr(flavor.Bytes))
	assert.Contains(t, got, flavor.PlainText)
	assert.Equal(t, flavor.PlainString, got[0])

	// import_only entries never export.
	assert.NotContains(t, m.NativesForFlavor(flavor.PlainString), "CF_TEXT")
	assert.Contains(t, m.NativesForFlavor(flavor.PlainString), "CF_UNICODETEXT")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "map.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[native]]
name = "X-CUSTOM"
kind = "text"
charset = "iso-8859-1"
eol = "\r"
terminators = 1
flavors = ["text/plain; charset=utf-8; repr=string"]
`), 0o600))

	reg := format.NewRegistry()
	m, err := LoadFile(path, reg)
	require.NoError(t, err)

	assert.Equal(t, []flavor.Flavor{flavor.PlainString}, m.FlavorsForNative("X-CUSTOM"))
	assert.Equal(t,
		format.TextProperties{Charset: "iso-8859-1", EOL: "\r", Terminators: 1},
		reg.TextProperties(reg.FormatFor("X-CUSTOM")))
}

func TestLoadFile_BadKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "map.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[native]]
name = "X"
kind = "sparkles"
`), 0o600))

	_, err := LoadFile(path, format.NewRegistry())
	assert.ErrorContains(t, err, "unknown kind")
}
