package layout

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// yamlDoc mirrors the on-disk Layout YAML shape from spec.md §6. Field
// presence is the only versioning this format has, so every optional field
// is a pointer or has a documented default.
type yamlDoc struct {
	Crs          string     `yaml:"crs"`
	TileAxes     [2]string  `yaml:"tile_axes"`
	TileShapePx  [2]int64   `yaml:"tile_shape_px"`
	TileShapeCrs [2]float64 `yaml:"tile_shape_crs"`
	OriginCrs    *[2]float64 `yaml:"origin_crs,omitempty"`
	SizeCrs      *[2]float64 `yaml:"size_crs,omitempty"`
	Path         string     `yaml:"path,omitempty"`
	MinZoom      int        `yaml:"min_zoom"`
	MaxZoom      int        `yaml:"max_zoom"`
	URL          string     `yaml:"url,omitempty"`
	Preset       string     `yaml:"preset,omitempty"`
}

// DefaultPathTemplate is the Disk/DiskCached path template used when a
// Layout YAML document omits "path".
const DefaultPathTemplate = "{zoom}/{x}/{y}.jpg"

// Doc is the parsed, pre-construction form of a Layout YAML document: it
// keeps the path/url/preset hints a TileLoader registry needs alongside the
// pure geometry that becomes a *Layout.
type Doc struct {
	Layout *Layout
	Path   string
	URL    string
	Preset string
}

// ParseYAML decodes a Layout YAML document (spec.md §6) into a Doc.
func ParseYAML(data []byte) (*Doc, error) {
	var doc yamlDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("layout: parsing yaml: %w", err)
	}

	if doc.Preset != "" {
		if doc.Crs != "" || doc.TileAxes != [2]string{} {
			return nil, fmt.Errorf("layout: preset %q is exclusive with explicit crs/tile_axes", doc.Preset)
		}
		switch doc.Preset {
		case "XYZ":
			maxZoom := doc.MaxZoom
			if maxZoom == 0 {
				maxZoom = 22
			}
			shape := doc.TileShapePx
			if shape == [2]int64{} {
				shape = [2]int64{256, 256}
			}
			l, err := XYZ(shape, maxZoom)
			if err != nil {
				return nil, err
			}
			return &Doc{Layout: l, Path: orDefault(doc.Path, DefaultPathTemplate), URL: doc.URL, Preset: doc.Preset}, nil
		default:
			return nil, fmt.Errorf("layout: unknown preset %q", doc.Preset)
		}
	}

	axes := Pair{Axis(doc.TileAxes[0]), Axis(doc.TileAxes[1])}
	origin := Vec2{}
	if doc.OriginCrs != nil {
		origin = Vec2{X: doc.OriginCrs[0], Y: doc.OriginCrs[1]}
	}
	var size *Vec2
	if doc.SizeCrs != nil {
		size = &Vec2{X: doc.SizeCrs[0], Y: doc.SizeCrs[1]}
	}

	l, err := New(
		doc.Crs,
		axes,
		doc.TileShapePx,
		Vec2{X: doc.TileShapeCrs[0], Y: doc.TileShapeCrs[1]},
		origin,
		size,
		doc.MinZoom,
		doc.MaxZoom,
	)
	if err != nil {
		return nil, err
	}

	return &Doc{
		Layout: l,
		Path:   orDefault(doc.Path, DefaultPathTemplate),
		URL:    doc.URL,
	}, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
