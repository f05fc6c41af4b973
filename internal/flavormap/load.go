package flavormap

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"go.klb.dev/clipxfer/internal/flavor"
	"go.klb.dev/clipxfer/internal/format"
)

//go:embed defaults.toml
var defaultTable []byte

// NativeEntry is one [[native]] table of a flavor-map file.
type NativeEntry struct {
	Name            string   `mapstructure:"name"`
	Kind            string   `mapstructure:"kind"`
	Charset         string   `mapstructure:"charset"`
	EOL             string   `mapstructure:"eol"`
	Terminators     int      `mapstructure:"terminators"`
	ImageMIME       string   `mapstructure:"image_mime"`
	LocaleDependent bool     `mapstructure:"locale_dependent"`
	Flavors         []string `mapstructure:"flavors"`
	ImportOnly      []string `mapstructure:"import_only"`
	ExportOnly      []string `mapstructure:"export_only"`
}

// textReprs is the order text flavors without an explicit repr expand into.
var textReprs = []flavor.Representation{
	flavor.String,
	flavor.Reader,
	flavor.Runes,
	flavor.Bytes,
	flavor.Stream,
}

// Load builds a Map from the "native" key of v and registers every native's
// metadata with reg.
//
//	[[native]]
//	name = "CF_UNICODETEXT"
//	kind = "text"            # text | uri-list | file-list | image | data
//	charset = "utf-16le"
//	eol = "\r\n"
//	terminators = 2
//	flavors = ["text/plain"] # text flavors without repr= expand to every text representation
func Load(v *viper.Viper, reg *format.Registry) (*Map, error) {
	var entries []NativeEntry
	if err := v.UnmarshalKey("native", &entries); err != nil {
		return nil, fmt.Errorf("flavormap: decode: %w", err)
	}
	m := New()
	for i, e := range entries {
		if err := m.apply(e, reg); err != nil {
			return nil, fmt.Errorf("flavormap: native #%d (%s): %w", i, e.Name, err)
		}
	}
	return m, nil
}

// LoadFile reads a TOML flavor-map file.
func LoadFile(path string, reg *format.Registry) (*Map, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("flavormap: read %s: %w", path, err)
	}
	return Load(v, reg)
}

// LoadDefault returns the built-in table.
func LoadDefault(reg *format.Registry) (*Map, error) {
	v := viper.New()
	v.SetConfigType("toml")
	if err := v.ReadConfig(bytes.NewReader(defaultTable)); err != nil {
		return nil, fmt.Errorf("flavormap: built-in table: %w", err)
	}
	return Load(v, reg)
}

func (m *Map) apply(e NativeEntry, reg *format.Registry) error {
	if e.Name == "" {
		return fmt.Errorf("missing name")
	}

	switch strings.ToLower(e.Kind) {
	case "text", "":
		reg.RegisterTextProperties(e.Name, e.Charset, e.EOL, e.Terminators)
	case "uri-list":
		reg.RegisterTextProperties(e.Name, e.Charset, e.EOL, e.Terminators)
		reg.MarkURIList(e.Name)
	case "file-list":
		reg.MarkFileList(e.Name)
	case "image":
		if e.ImageMIME == "" {
			return fmt.Errorf("image native without image_mime")
		}
		reg.MarkImage(e.Name, e.ImageMIME)
	case "data":
		reg.FormatFor(e.Name)
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.LocaleDependent {
		reg.MarkLocaleDependent(e.Name)
	}

	for _, group := range []struct {
		specs []string
		add   func(flavor.Flavor)
	}{
		{e.Flavors, func(f flavor.Flavor) { m.Add(e.Name, f) }},
		{e.ImportOnly, func(f flavor.Flavor) { m.AddImport(e.Name, f) }},
		{e.ExportOnly, func(f flavor.Flavor) { m.AddExport(f, e.Name) }},
	} {
		for _, spec := range group.specs {
			fs, err := expand(spec)
			if err != nil {
				return err
			}
			for _, f := range fs {
				group.add(f)
			}
		}
	}
	return nil
}

// expand parses spec, fanning text flavors without an explicit repr out to
// every text representation.
func expand(spec string) ([]flavor.Flavor, error) {
	f, err := flavor.Parse(spec)
	if err != nil {
		return nil, err
	}
	if !f.IsText() || strings.Contains(spec, "repr=") {
		return []flavor.Flavor{f}, nil
	}
	out := make([]flavor.Flavor, 0, len(textReprs))
	for _, r := range textReprs {
		out = append(out, f.WithRepr(r))
	}
	return out, nil
}
