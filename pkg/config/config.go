// Package config builds a named registry of tileloader.TileLoader stacks
// from the Config YAML document described in spec.md §6: a shared HTTP
// header set plus one or more named loaders, each resolved to an
// Http/Disk/DiskCached/WithDefault composition.
package config

import (
	"fmt"
	"net/http"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brannongeo/terratile/pkg/layout"
	"github.com/brannongeo/terratile/pkg/raster"
	"github.com/brannongeo/terratile/pkg/terrors"
	"github.com/brannongeo/terratile/pkg/tileloader"
)

// loaderDoc is one entry under tileloaders.<name> in the Config YAML.
type loaderDoc struct {
	URI        string `yaml:"uri"`
	Path       string `yaml:"path"`
	Zoom       int    `yaml:"zoom"`
	LoadZoomUp *int   `yaml:"load_zoom_up"`
	Default    *[3]int `yaml:"default"`
}

// configDoc mirrors the Config YAML's top-level shape.
type configDoc struct {
	HTTPHeader map[string]string    `yaml:"http-header"`
	Loaders    map[string]loaderDoc `yaml:"tileloaders"`
}

// Entry is one resolved named loader: its default query zoom alongside the
// constructed TileLoader stack.
type Entry struct {
	Loader tileloader.TileLoader
	Zoom   int
}

// Registry is a named set of resolved tileloader stacks, built once at
// construction time so configuration mistakes surface immediately rather
// than on first render.
type Registry struct {
	Entries map[string]Entry
}

// PresetResolver resolves a named remote preset (e.g. "bingmaps") to its
// HTTP URL template, Layout, and zoom bounds. The registry builder calls
// this when a tileloaders.<name>.uri value names a preset rather than a
// literal URL. Named presets that need a network round trip to obtain
// their template (spec.md §6) implement this instead of being hardcoded.
type PresetResolver interface {
	ResolvePreset(name string) (urlTemplate string, l *layout.Layout, minZoom, maxZoom int, err error)
}

// Build parses a Config YAML document and constructs every named loader.
// presets may be nil if no tileloaders.<name>.uri refers to a named preset.
func Build(data []byte, defaultLayout *layout.Layout, minZoom, maxZoom int, presets PresetResolver) (*Registry, error) {
	var doc configDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parsing yaml: %w", err)
	}

	reg := &Registry{Entries: make(map[string]Entry, len(doc.Loaders))}
	for name, ld := range doc.Loaders {
		entry, err := buildLoader(name, ld, doc.HTTPHeader, defaultLayout, minZoom, maxZoom, presets)
		if err != nil {
			return nil, fmt.Errorf("config: building tileloader %q: %w", name, err)
		}
		reg.Entries[name] = entry
	}
	return reg, nil
}

func buildLoader(name string, ld loaderDoc, headers map[string]string, defaultLayout *layout.Layout, minZoom, maxZoom int, presets PresetResolver) (Entry, error) {
	var base tileloader.TileLoader
	l := defaultLayout

	switch {
	case ld.URI != "" && looksLikeTemplateURL(ld.URI):
		base = tileloader.NewHTTP(ld.URI, l, minZoom, maxZoom,
			tileloader.WithHeaders(headers), tileloader.WithHTTPClient(&http.Client{Timeout: defaultRequestTimeout}))

	case ld.URI != "":
		if presets == nil {
			return Entry{}, &terrors.InvalidArgument{Message: fmt.Sprintf("%q names preset %q but no PresetResolver was supplied", name, ld.URI)}
		}
		urlTemplate, presetLayout, presetMin, presetMax, err := presets.ResolvePreset(ld.URI)
		if err != nil {
			return Entry{}, err
		}
		l = presetLayout
		minZoom, maxZoom = presetMin, presetMax
		base = tileloader.NewHTTP(urlTemplate, l, minZoom, maxZoom,
			tileloader.WithHeaders(headers), tileloader.WithHTTPClient(&http.Client{Timeout: defaultRequestTimeout}))

	case ld.Path != "":
		base = tileloader.NewDisk(ld.Path, "", l, minZoom, maxZoom, 0)

	default:
		return Entry{}, &terrors.InvalidArgument{Message: fmt.Sprintf("tileloader %q needs a uri or a path", name)}
	}

	if ld.Path != "" && ld.URI != "" {
		loadZoomUp := 0
		if ld.LoadZoomUp != nil {
			loadZoomUp = *ld.LoadZoomUp
		}
		base = tileloader.NewDiskCached(base, ld.Path, loadZoomUp, raster.PNGEncoder{}, raster.StdDecoder{}, raster.DrawResizer{})
	}

	if ld.Default != nil {
		rgb := ld.Default
		color := [3]uint8{uint8(rgb[0]), uint8(rgb[1]), uint8(rgb[2])}
		base = tileloader.NewWithDefault(base, color)
	}

	zoom := ld.Zoom
	if zoom == 0 {
		zoom = maxZoom
	}
	return Entry{Loader: base, Zoom: zoom}, nil
}

// looksLikeTemplateURL reports whether uri is a literal URL template
// (recognized by a scheme prefix) rather than a named preset identifier.
func looksLikeTemplateURL(uri string) bool {
	for i := 0; i < len(uri); i++ {
		switch uri[i] {
		case ':':
			return i+2 < len(uri) && uri[i+1] == '/' && uri[i+2] == '/'
		case '/', ' ':
			return false
		}
	}
	return false
}

// defaultRequestTimeout is the per-request HTTP timeout spec.md §5
// documents (10s) for loaders built without an explicit client override.
const defaultRequestTimeout = 10 * time.Second
