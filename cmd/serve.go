package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kiesman99/geostream/internal/server"
	"github.com/kiesman99/geostream/internal/stitch"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for mosaic regions and sensor transforms",
	Long: `Start an HTTP server that serves regions of a tile mosaic and transforms
between sensor image positions and map coordinates.

Both parts are optional: give --tile for the mosaic endpoints and --geom for
the transform endpoints. Prometheus metrics are served at /metrics.

Examples:
  # Serve a 2x1 mosaic on default port 8080
  geostream serve --tile west.png --tile east.png --columns 2

  # Serve transforms for a sensor model on a custom port
  geostream serve --port 3000 --geom scene.geom --dem-dir srtm --epsg 32632

  # Start server with custom bind address
  geostream serve --bind 0.0.0.0 --port 8080 --geom scene.geom`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server configuration
	serveCmd.Flags().StringP("bind", "b", "localhost", "bind address")
	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	serveCmd.Flags().Duration("timeout", 30*time.Second, "request timeout")

	// Mosaic configuration
	serveCmd.Flags().StringSliceP("tile", "t", []string{}, "tile file or URL, repeated in row-major order")
	serveCmd.Flags().Int("columns", 1, "number of tile columns")
	serveCmd.Flags().Int("rows", 1, "number of tile rows")
	serveCmd.Flags().Int("workers", 0, "default goroutines per region (default: number of CPUs)")

	addModelFlags(serveCmd.Flags())

	// Bind flags to viper
	viper.BindPFlag("server.bind", serveCmd.Flags().Lookup("bind"))
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.timeout", serveCmd.Flags().Lookup("timeout"))
	viper.BindPFlag("server.tile", serveCmd.Flags().Lookup("tile"))
	viper.BindPFlag("server.columns", serveCmd.Flags().Lookup("columns"))
	viper.BindPFlag("server.rows", serveCmd.Flags().Lookup("rows"))
	viper.BindPFlag("server.workers", serveCmd.Flags().Lookup("workers"))
}

func runServe(cmd *cobra.Command, args []string) error {
	bindModelFlags(cmd)
	bind := viper.GetString("server.bind")
	port := viper.GetInt("server.port")
	timeout := viper.GetDuration("server.timeout")

	addr := fmt.Sprintf("%s:%d", bind, port)

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	options := []server.Option{server.WithLogger(logger)}

	if tiles := viper.GetStringSlice("server.tile"); len(tiles) > 0 {
		st := stitch.NewStitcher(&stitch.Options{
			Tiles:   tiles,
			Columns: viper.GetInt("server.columns"),
			Rows:    viper.GetInt("server.rows"),
			Workers: viper.GetInt("server.workers"),
		}, logger)
		sources, err := st.OpenSources(cmd.Context())
		if err != nil {
			return err
		}
		filter, err := st.Filter(sources)
		if err != nil {
			return err
		}
		options = append(options, server.WithMosaic(filter))
	}

	if viper.GetString("model.geom") != "" {
		tr, closeDEM, err := loadTransform(logger)
		if err != nil {
			return err
		}
		defer closeDEM()
		options = append(options, server.WithTransform(tr))
	}

	apiServer := server.NewServer(Version, options...)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      apiServer.Router(timeout),
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}

	// Graceful shutdown
	go func() {
		<-cmd.Context().Done()

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Errorw("server shutdown error", "error", err)
		}
	}()

	logger.Infow("starting geostream server", "addr", addr)
	logger.Infof("Health check: http://%s/api/v1/health", addr)
	logger.Infof("Mosaic endpoint: http://%s/api/v1/mosaic/region", addr)
	logger.Infof("Transform endpoints: http://%s/api/v1/transform/{forward,inverse}", addr)

	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server error")
	}

	return nil
}
