package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/brannongeo/terratile/pkg/config"
	"github.com/brannongeo/terratile/pkg/geo"
	"github.com/brannongeo/terratile/pkg/layout"
	"github.com/brannongeo/terratile/pkg/raster"
	"github.com/brannongeo/terratile/pkg/stitcher"
	"github.com/brannongeo/terratile/pkg/tileloader"
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render an arbitrary-view image around a point",
	RunE:  runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().String("layout", "", "path to the Layout YAML describing the tile source's geometry (required)")
	renderCmd.Flags().String("tileloaders", "", "path to a Config YAML naming one or more tileloaders (optional; defaults to the layout's own url/path hint)")
	renderCmd.Flags().String("source", "", "named tileloader to use from --tileloaders (defaults to the only entry, if there is exactly one)")

	renderCmd.Flags().Float64("lat", 0, "center latitude (required)")
	renderCmd.Flags().Float64("lon", 0, "center longitude (required)")
	renderCmd.Flags().Float64("bearing", 0, "view bearing in degrees clockwise from north")
	renderCmd.Flags().Float64("mpp", 0, "ground resolution in meters per output pixel (required)")
	renderCmd.Flags().Int("zoom", 0, "source zoom level to render from (default: the source's own default zoom)")
	renderCmd.Flags().Int("width", 0, "output width in pixels (required)")
	renderCmd.Flags().Int("height", 0, "output height in pixels (required)")
	renderCmd.Flags().Int("workers", 8, "max concurrent tile loads")

	renderCmd.Flags().StringP("output", "o", "", "output PNG path (default: stdout)")
	renderCmd.Flags().BoolP("worldfile", "w", false, "write a .pnw world file alongside the output")

	for _, name := range []string{"layout", "tileloaders", "source", "lat", "lon", "bearing", "mpp", "zoom", "width", "height", "workers", "output", "worldfile"} {
		viper.BindPFlag(name, renderCmd.Flags().Lookup(name))
	}
}

func runRender(cmd *cobra.Command, args []string) error {
	layoutPath := viper.GetString("layout")
	if layoutPath == "" {
		return fmt.Errorf("--layout is required")
	}
	zoom := viper.GetInt("zoom")
	mpp := viper.GetFloat64("mpp")
	if mpp <= 0 {
		return fmt.Errorf("--mpp must be a positive number of meters per pixel")
	}
	width := viper.GetInt("width")
	height := viper.GetInt("height")
	if width <= 0 || height <= 0 {
		return fmt.Errorf("--width and --height must both be positive")
	}

	layoutData, err := os.ReadFile(layoutPath)
	if err != nil {
		return fmt.Errorf("reading --layout: %w", err)
	}
	doc, err := layout.ParseYAML(layoutData)
	if err != nil {
		return fmt.Errorf("parsing --layout: %w", err)
	}

	loader, sourceZoom, err := resolveLoader(doc)
	if err != nil {
		return err
	}
	if zoom == 0 {
		zoom = sourceZoom
	}

	s := stitcher.New(loader, viper.GetInt("workers"))
	req := stitcher.Request{
		LatLon:         geo.LatLon{Lat: viper.GetFloat64("lat"), Lon: viper.GetFloat64("lon")},
		BearingDeg:     viper.GetFloat64("bearing"),
		MetersPerPixel: mpp,
		OutputWidth:    width,
		OutputHeight:   height,
		Zoom:           zoom,
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	out, err := s.Render(ctx, req)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}

	png, err := (raster.PNGEncoder{}).Encode(out)
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}

	outputPath := viper.GetString("output")
	if outputPath == "" {
		_, err = os.Stdout.Write(png)
		return err
	}
	if err := os.WriteFile(outputPath, png, 0o644); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	if viper.GetBool("worldfile") {
		if err := writeWorldFile(outputPath, mpp, req); err != nil {
			return fmt.Errorf("writing world file: %w", err)
		}
	}
	return nil
}

// resolveLoader builds the TileLoader a render uses, either from a named
// --tileloaders registry entry or, absent one, directly from the layout
// document's own url/path hint — the same HTTP-vs-Disk choice
// pkg/config makes for a registry entry, but for exactly one source.
func resolveLoader(doc *layout.Doc) (tileloader.TileLoader, int, error) {
	tileloadersPath := viper.GetString("tileloaders")
	if tileloadersPath != "" {
		data, err := os.ReadFile(tileloadersPath)
		if err != nil {
			return nil, 0, fmt.Errorf("reading --tileloaders: %w", err)
		}
		reg, err := config.Build(data, doc.Layout, doc.Layout.MinZoom, doc.Layout.MaxZoom, nil)
		if err != nil {
			return nil, 0, err
		}
		source := viper.GetString("source")
		if source == "" {
			if len(reg.Entries) != 1 {
				return nil, 0, fmt.Errorf("--source is required when --tileloaders names more than one entry")
			}
			for name := range reg.Entries {
				source = name
			}
		}
		entry, ok := reg.Entries[source]
		if !ok {
			return nil, 0, fmt.Errorf("--tileloaders has no entry named %q", source)
		}
		return entry.Loader, entry.Zoom, nil
	}

	switch {
	case doc.URL != "":
		return tileloader.NewHTTP(doc.URL, doc.Layout, doc.Layout.MinZoom, doc.Layout.MaxZoom), doc.Layout.MaxZoom, nil
	case doc.Path != "":
		root := filepath.Dir(viper.GetString("layout"))
		return tileloader.NewDisk(root, doc.Path, doc.Layout, doc.Layout.MinZoom, doc.Layout.MaxZoom, 0), doc.Layout.MaxZoom, nil
	default:
		return nil, 0, fmt.Errorf("--layout has neither a url nor a path, and no --tileloaders was given")
	}
}

// writeWorldFile writes the georeferencing sidecar the teacher's
// tile.WriteWorldFile produces: pixel size, rotation, and the top-left
// corner's coordinates, one value per line.
func writeWorldFile(outputPath string, mpp float64, req stitcher.Request) error {
	worldPath := outputPath
	if idx := strings.LastIndex(worldPath, "."); idx != -1 {
		worldPath = worldPath[:idx] + ".pnw"
	} else {
		worldPath += ".pnw"
	}

	topLeftLat, topLeftLon := topLeftCorner(req)

	f, err := os.Create(worldPath)
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprintf(f, "%24.10f\n", mpp)
	fmt.Fprintf(f, "%24.10f\n", 0.0)
	fmt.Fprintf(f, "%24.10f\n", 0.0)
	fmt.Fprintf(f, "%24.10f\n", -mpp)
	fmt.Fprintf(f, "%24.10f\n", topLeftLon)
	fmt.Fprintf(f, "%24.10f\n", topLeftLat)

	fmt.Fprintf(os.Stderr, "World file written to %q.\n", worldPath)
	return nil
}

// topLeftCorner walks half the output's width and height out from the
// render's center, against the view's bearing, to locate the rendered
// image's top-left pixel in lat/lon — the world file's anchor point.
func topLeftCorner(req stitcher.Request) (lat, lon float64) {
	halfW := float64(req.OutputWidth) / 2 * req.MetersPerPixel
	halfH := float64(req.OutputHeight) / 2 * req.MetersPerPixel

	left := geo.Move(req.LatLon, req.BearingDeg-90, halfW)
	topLeft := geo.Move(left, req.BearingDeg, halfH)
	return topLeft.Lat, topLeft.Lon
}
