package cmd

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/kiesman99/geostream/internal/elevation"
	"github.com/kiesman99/geostream/internal/geodesy"
	"github.com/kiesman99/geostream/internal/groundtransform"
	"github.com/kiesman99/geostream/internal/sensor"
	"github.com/kiesman99/geostream/pkg/tile"
)

var transformCmd = &cobra.Command{
	Use:   "transform",
	Short: "Map sensor image positions to the ground and back",
	Long: `Map positions between a sensor image and a map projection.

The sensor model is read from a keyword list ('key: value' lines) whose 'type'
keyword is 'rpc' or 'pushbroom'. Terrain heights come from a directory of SRTM
.hgt cells plus a constant geoid offset; without one the ellipsoid is used.

Examples:
  # Ground position of one pixel, on the terrain
  geostream transform forward --geom scene.geom --dem-dir srtm --geoid-offset 47.5 --line 1200 --sample 800

  # UTM positions of a 10x10 grid of pixels at 300 m
  geostream transform forward --geom scene.geom --epsg 32632 --grid 10 --height 300

  # Pixel seen at a ground position
  geostream transform inverse --geom scene.geom --lon 6.52 --lat 45.41 --height 812

  # Check a sub-image model against the full image
  geostream transform check --geom scene.geom --offset 2048,1024`,
}

var forwardCmd = &cobra.Command{
	Use:   "forward",
	Short: "Map image positions to the ground",
	RunE:  runForward,
}

var inverseCmd = &cobra.Command{
	Use:   "inverse",
	Short: "Map a ground position to the image",
	RunE:  runInverse,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Compare a sub-image model with the full image model",
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(transformCmd)
	transformCmd.AddCommand(forwardCmd, inverseCmd, checkCmd)
	addModelFlags(transformCmd.PersistentFlags())

	forwardCmd.Flags().Float64("line", 0, "image line")
	forwardCmd.Flags().Float64("sample", 0, "image sample")
	forwardCmd.Flags().Float64("height", math.NaN(), "height above the ellipsoid (default: terrain)")
	forwardCmd.Flags().Int("grid", 0, "transform an NxN grid of pixels spanning the image instead")
	forwardCmd.Flags().Int("workers", 0, "goroutines for --grid (default: number of CPUs)")

	inverseCmd.Flags().Float64("lon", 0, "longitude, or easting with --epsg")
	inverseCmd.Flags().Float64("lat", 0, "latitude, or northing with --epsg")
	inverseCmd.Flags().Float64("height", math.NaN(), "height above the ellipsoid (default: terrain)")

	checkCmd.Flags().String("offset", "", "sub-image offset in the full image as 'x,y' (required)")
	checkCmd.Flags().Int("grid", 5, "check an NxN grid of sub-image pixels")
	checkCmd.Flags().Float64("threshold", groundtransform.DefaultThreshold, "largest accepted ground distance in metres")
}

// addModelFlags declares the flags that select a sensor model, terrain and
// output projection.
func addModelFlags(flags *pflag.FlagSet) {
	flags.String("geom", "", "sensor model keyword list (required)")
	flags.String("dem-dir", "", "directory of SRTM .hgt cells")
	flags.Float64("default-height", 0, "height above the ellipsoid where there is no DEM data")
	flags.Float64("geoid-offset", 0, "geoid height added to DEM heights")
	flags.Int("dem-cache", 16, "number of DEM cells kept in memory")
	flags.Int("epsg", 4326, "EPSG code of the map projection")
}

// bindModelFlags binds the model flags of the running command. Binding
// happens at run time since serve and transform declare the same keys.
func bindModelFlags(cmd *cobra.Command) {
	for _, name := range []string{"geom", "dem-dir", "default-height", "geoid-offset", "dem-cache", "epsg"} {
		viper.BindPFlag("model."+name, cmd.Flags().Lookup(name))
	}
}

// loadTransform builds the ground transform the model flags describe. The
// returned closer releases the DEM.
func loadTransform(logger *zap.SugaredLogger) (*groundtransform.Transform, func() error, error) {
	fs := afero.NewOsFs()
	geom := viper.GetString("model.geom")
	if geom == "" {
		return nil, nil, errors.New("a sensor model is required (use --geom)")
	}
	md, err := sensor.LoadMetadata(fs, geom)
	if err != nil {
		return nil, nil, err
	}
	model, err := sensor.Build(md)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "building model from %s", geom)
	}

	proj := geodesy.ForEPSG(viper.GetInt("model.epsg"))
	if proj == nil {
		return nil, nil, errors.Wrapf(tile.ErrConfiguration, "unsupported EPSG code %d", viper.GetInt("model.epsg"))
	}

	options := []elevation.HandlerOption{
		elevation.WithCacheSize(viper.GetInt("model.dem-cache")),
		elevation.WithDefaultHeight(viper.GetFloat64("model.default-height")),
		elevation.WithLogger(logger),
	}
	if viper.IsSet("model.geoid-offset") {
		options = append(options, elevation.WithGeoidOffset(viper.GetFloat64("model.geoid-offset")))
	}
	dem, err := elevation.Open(fs, viper.GetString("model.dem-dir"), options...)
	if err != nil {
		return nil, nil, err
	}

	tr, err := groundtransform.New(model, dem, groundtransform.WithProjection(proj), groundtransform.WithLogger(logger))
	if err != nil {
		dem.Close()
		return nil, nil, err
	}
	logger.Infow("sensor model loaded", "geom", geom, "kind", model.Kind(), "size", model.ImageSize().String(),
		"epsg", proj.EPSG(), "demCells", dem.Cells())
	return tr, dem.Close, nil
}

// gridPixels spans an n x n grid over an image of size.
func gridPixels(size tile.Size, n int) []sensor.PixelPoint {
	if n < 2 {
		return []sensor.PixelPoint{{Line: float64(size.Height-1) / 2, Sample: float64(size.Width-1) / 2}}
	}
	pxs := make([]sensor.PixelPoint, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			pxs = append(pxs, sensor.PixelPoint{
				Line:   float64(i) * float64(size.Height-1) / float64(n-1),
				Sample: float64(j) * float64(size.Width-1) / float64(n-1),
			})
		}
	}
	return pxs
}

func runForward(cmd *cobra.Command, args []string) error {
	bindModelFlags(cmd)
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	tr, closeDEM, err := loadTransform(logger)
	if err != nil {
		return err
	}
	defer closeDEM()

	flags := cmd.Flags()
	height, _ := flags.GetFloat64("height")
	grid, _ := flags.GetInt("grid")

	var pxs []sensor.PixelPoint
	if grid > 0 {
		pxs = gridPixels(tr.Model().ImageSize(), grid)
	} else {
		line, _ := flags.GetFloat64("line")
		sample, _ := flags.GetFloat64("sample")
		pxs = []sensor.PixelPoint{{Line: line, Sample: sample}}
	}

	var points []groundtransform.Point
	if math.IsNaN(height) {
		workers, _ := flags.GetInt("workers")
		if points, err = tr.TransformPoints(cmd.Context(), pxs, workers); err != nil {
			return err
		}
	} else {
		for _, px := range pxs {
			p, err := tr.TransformPointAtHeight(px, height)
			if err != nil {
				return err
			}
			points = append(points, p)
		}
	}

	out := cmd.OutOrStdout()
	for i, p := range points {
		fmt.Fprintf(out, "%s -> %.9f %.9f %.3f\n", pxs[i], p.X, p.Y, p.Height)
	}
	return nil
}

func runInverse(cmd *cobra.Command, args []string) error {
	bindModelFlags(cmd)
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	tr, closeDEM, err := loadTransform(logger)
	if err != nil {
		return err
	}
	defer closeDEM()

	flags := cmd.Flags()
	var p groundtransform.Point
	p.X, _ = flags.GetFloat64("lon")
	p.Y, _ = flags.GetFloat64("lat")
	p.Height, _ = flags.GetFloat64("height")

	px, err := tr.InverseTransformPoint(cmd.Context(), p)
	if err != nil {
		return err
	}
	return json.NewEncoder(cmd.OutOrStdout()).Encode(px)
}

func runCheck(cmd *cobra.Command, args []string) error {
	bindModelFlags(cmd)
	flags := cmd.Flags()
	offsetFlag, _ := flags.GetString("offset")
	if offsetFlag == "" {
		return errors.New("a sub-image offset is required (use --offset)")
	}
	v, err := parseInts(offsetFlag, 2, "offset")
	if err != nil {
		return err
	}
	offset := tile.Index{X: v[0], Y: v[1]}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	full, closeDEM, err := loadTransform(logger)
	if err != nil {
		return err
	}
	defer closeDEM()

	subModel, err := full.Model().SubImage(offset)
	if err != nil {
		return err
	}
	sub, err := groundtransform.New(subModel, full.Elevation(), groundtransform.WithProjection(full.Projection()))
	if err != nil {
		return err
	}

	grid, _ := flags.GetInt("grid")
	threshold, _ := flags.GetFloat64("threshold")
	points := gridPixels(subModel.ImageSize(), grid)
	if err := groundtransform.CheckConsistency(cmd.Context(), full, sub, offset, points, threshold); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d point(s) consistent within %g m\n", len(points), threshold)
	return nil
}
