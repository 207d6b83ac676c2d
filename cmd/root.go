package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kiesman99/geostream/internal/stitch"
	"github.com/kiesman99/geostream/pkg/tile"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "geostream",
	Short: "Mosaic image tiles region by region and geocode sensor images",
	Long: `geostream assembles a grid of image tiles into one mosaic without holding
the mosaic in memory, and maps sensor image positions to the ground and back.

Tiles are PNG, JPEG, TIFF or WebP files or http(s) URLs, given in row-major
order. A world file (.pnw, .pgw, .jgw, .tfw or .wld) next to a tile file
georeferences it. The output is PNG or raw band-interleaved samples with an
ENVI header. Optionally, a world file with georeferencing data can be written.

Examples:
  # Mosaic a 2x2 grid of tiles into a PNG
  geostream --tile nw.png --tile ne.png --tile sw.png --tile se.png --columns 2 --rows 2 -o mosaic.png

  # Stream part of a mosaic as raw samples, 256 rows at a time, with a world file
  geostream --tile a.png --tile b.png --columns 2 --rows 1 --region 100,0,800,600 \
    --format raw --strip-height 256 -w -o part.raw

  # Map an image position to the ground
  geostream transform forward --geom scene.geom --dem-dir srtm --line 1200 --sample 800

  # Start HTTP server
  geostream serve --port 8080 --geom scene.geom`,
	// If no subcommand is specified and we have tiles, run the mosaic
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(viper.GetStringSlice("tile")) == 0 {
			return cmd.Help()
		}
		return runMosaic(cmd, args)
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.geostream.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log debug output")

	// Output options
	rootCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	rootCmd.Flags().StringP("format", "f", "png", "output format (png|raw)")
	rootCmd.Flags().BoolP("worldfile", "w", false, "write world file")
	rootCmd.Flags().String("region", "", "part of the mosaic to write as 'x,y,width,height' (default: all of it)")

	// Tile options
	rootCmd.Flags().StringSliceP("tile", "t", []string{}, "tile file or URL, repeated in row-major order (required)")
	rootCmd.Flags().Int("columns", 1, "number of tile columns")
	rootCmd.Flags().Int("rows", 1, "number of tile rows")

	// Streaming options
	rootCmd.Flags().Int("workers", 0, "goroutines per region (default: number of CPUs)")
	rootCmd.Flags().Int("strip-height", 0, "rows per streamed strip for raw output (default: whole region)")

	// HTTP options
	rootCmd.Flags().String("user-agent", stitch.DefaultUserAgent, "HTTP User-Agent header")

	// Bind flags to viper for root command
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("output", rootCmd.Flags().Lookup("output"))
	viper.BindPFlag("format", rootCmd.Flags().Lookup("format"))
	viper.BindPFlag("worldfile", rootCmd.Flags().Lookup("worldfile"))
	viper.BindPFlag("region", rootCmd.Flags().Lookup("region"))
	viper.BindPFlag("tile", rootCmd.Flags().Lookup("tile"))
	viper.BindPFlag("columns", rootCmd.Flags().Lookup("columns"))
	viper.BindPFlag("rows", rootCmd.Flags().Lookup("rows"))
	viper.BindPFlag("workers", rootCmd.Flags().Lookup("workers"))
	viper.BindPFlag("strip-height", rootCmd.Flags().Lookup("strip-height"))
	viper.BindPFlag("user-agent", rootCmd.Flags().Lookup("user-agent"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".geostream" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".geostream")
	}

	viper.SetEnvPrefix("geostream")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newLogger builds the development logger the commands log to, at debug
// level with --verbose.
func newLogger() (*zap.SugaredLogger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if viper.GetBool("verbose") {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.DisableStacktrace = true
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

func parseFormat(s string) (int, error) {
	switch s {
	case "png":
		return tile.OUTFMT_PNG, nil
	case "raw":
		return tile.OUTFMT_RAW, nil
	}
	return 0, errors.Errorf("unknown format: %s", s)
}

// parseInts splits a comma separated list of exactly n integers.
func parseInts(s string, n int, what string) ([]int, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, errors.Errorf("%s must have %d comma separated values, got %q", what, n, s)
	}
	v := make([]int, n)
	for i, p := range parts {
		var err error
		if v[i], err = strconv.Atoi(strings.TrimSpace(p)); err != nil {
			return nil, errors.Wrapf(err, "invalid %s", what)
		}
	}
	return v, nil
}

// parseRegion parses "x,y,width,height". An empty string means nil.
func parseRegion(s string) (*tile.Region, error) {
	if s == "" {
		return nil, nil
	}
	v, err := parseInts(s, 4, "region")
	if err != nil {
		return nil, err
	}
	r := tile.NewRegion(v[0], v[1], v[2], v[3])
	return &r, nil
}

func runMosaic(cmd *cobra.Command, args []string) error {
	format, err := parseFormat(viper.GetString("format"))
	if err != nil {
		return err
	}
	region, err := parseRegion(viper.GetString("region"))
	if err != nil {
		return err
	}

	output := viper.GetString("output")
	if output == "" {
		if stat, _ := os.Stdout.Stat(); (stat.Mode() & os.ModeCharDevice) != 0 {
			return errors.New("didn't specify output file and standard output is a terminal")
		}
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	opts := &stitch.Options{
		Tiles:          viper.GetStringSlice("tile"),
		Columns:        viper.GetInt("columns"),
		Rows:           viper.GetInt("rows"),
		Output:         output,
		Format:         format,
		Region:         region,
		Workers:        viper.GetInt("workers"),
		StripHeight:    viper.GetInt("strip-height"),
		WriteWorldFile: viper.GetBool("worldfile"),
		UserAgent:      viper.GetString("user-agent"),
	}
	return stitch.NewStitcher(opts, logger).Run(cmd.Context())
}
