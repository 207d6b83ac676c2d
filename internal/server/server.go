package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kiesman99/geostream/internal/groundtransform"
	"github.com/kiesman99/geostream/internal/sensor"
	"github.com/kiesman99/geostream/internal/stitcher"
	"github.com/kiesman99/geostream/pkg/tile"
)

// errBadRequest marks malformed query parameters.
var errBadRequest = errors.New("bad request")

// Server serves a configured mosaic and ground transform over HTTP. Either
// may be absent; its endpoints then answer 409.
type Server struct {
	startTime time.Time
	version   string
	logger    *zap.SugaredLogger

	filter    *stitcher.Filter
	transform *groundtransform.Transform
}

type Option func(*Server)

func WithMosaic(f *stitcher.Filter) Option {
	return func(s *Server) {
		s.filter = f
	}
}

func WithTransform(t *groundtransform.Transform) Option {
	return func(s *Server) {
		s.transform = t
	}
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new server instance
func NewServer(version string, options ...Option) *Server {
	s := &Server{
		startTime: time.Now(),
		version:   version,
		logger:    zap.NewNop().Sugar(),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Router returns the HTTP routes of s with the usual middleware stack.
func (s *Server) Router(timeout time.Duration) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(timeout))

	// CORS middleware for API access
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.GetHealth)
		r.Get("/mosaic", s.GetMosaic)
		r.Get("/mosaic/region", s.GetMosaicRegion)
		r.Get("/transform/forward", s.GetForward)
		r.Get("/transform/inverse", s.GetInverse)
	})

	// Legacy health endpoint (without /api/v1 prefix for backward compatibility)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/api/v1/health", http.StatusMovedPermanently)
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// GetHealth implements the health check endpoint
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	uptime := int(time.Since(s.startTime).Seconds())

	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    Healthy,
		Timestamp: time.Now(),
		Uptime:    &uptime,
		Version:   &s.version,
		Mosaic:    s.filter != nil,
		Transform: s.transform != nil,
	})
}

// GetMosaic describes the mosaic.
func (s *Server) GetMosaic(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFor(r)
	if s.filter == nil {
		s.writeErrorResponse(w, http.StatusConflict, CodeNotConfigured, "no mosaic is configured", &requestID)
		return
	}
	info, err := s.filter.GenerateOutputInformation()
	if err != nil {
		s.handleError(w, err, &requestID)
		return
	}
	layout := s.filter.Mapper().Layout()
	s.writeJSON(w, http.StatusOK, MosaicResponse{
		Width:     info.Size.Width,
		Height:    info.Size.Height,
		Bands:     info.Bands,
		PixelType: info.PixelType.String(),
		Origin:    info.Origin,
		Spacing:   info.Spacing,
		Columns:   layout.Columns,
		Rows:      layout.Rows,
	})
}

// GetMosaicRegion streams one region of the mosaic: PNG for 8-bit mosaics
// with 1, 3 or 4 bands, raw band-interleaved samples otherwise.
func (s *Server) GetMosaicRegion(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFor(r)
	if s.filter == nil {
		s.writeErrorResponse(w, http.StatusConflict, CodeNotConfigured, "no mosaic is configured", &requestID)
		return
	}

	var x, y, width, height int
	var workers *int
	query := r.URL.Query()
	for _, p := range []struct {
		name string
		dest *int
	}{{"x", &x}, {"y", &y}, {"width", &width}, {"height", &height}} {
		if err := runtime.BindQueryParameter("form", true, true, p.name, query, p.dest); err != nil {
			s.handleError(w, errors.Wrap(errBadRequest, err.Error()), &requestID)
			return
		}
	}
	if err := runtime.BindQueryParameter("form", true, false, "workers", query, &workers); err != nil {
		s.handleError(w, errors.Wrap(errBadRequest, err.Error()), &requestID)
		return
	}

	if _, err := s.filter.GenerateOutputInformation(); err != nil {
		s.handleError(w, err, &requestID)
		return
	}
	n := s.filter.Workers()
	if workers != nil {
		if *workers < 1 {
			s.handleError(w, errors.Wrapf(errBadRequest, "workers must be positive, got %d", *workers), &requestID)
			return
		}
		n = *workers
	}

	buf, err := s.filter.GenerateRegionWithWorkers(r.Context(), tile.NewRegion(x, y, width, height), n)
	if err != nil {
		s.handleError(w, err, &requestID)
		return
	}

	w.Header().Set("X-Request-ID", requestID)
	if buf.PixelType == tile.Uint8 && (buf.Bands == 1 || buf.Bands == 3 || buf.Bands == 4) {
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		if err := tile.EncodePNG(w, buf); err != nil {
			s.logger.Errorw("error encoding region", "requestID", requestID, "error", err)
		}
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(buf.Data)))
	w.Header().Set("X-Bands", strconv.Itoa(buf.Bands))
	w.Header().Set("X-Pixel-Type", buf.PixelType.String())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Data); err != nil {
		s.logger.Errorw("error writing response", "requestID", requestID, "error", err)
	}
}

// GetForward maps an image position to the output projection. Without a
// height the terrain is used.
func (s *Server) GetForward(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFor(r)
	if s.transform == nil {
		s.writeErrorResponse(w, http.StatusConflict, CodeNotConfigured, "no sensor model is configured", &requestID)
		return
	}

	var px sensor.PixelPoint
	var height *float64
	query := r.URL.Query()
	if err := bindAll(query, map[string]*float64{"line": &px.Line, "sample": &px.Sample}); err != nil {
		s.handleError(w, err, &requestID)
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "height", query, &height); err != nil {
		s.handleError(w, errors.Wrap(errBadRequest, err.Error()), &requestID)
		return
	}

	var p groundtransform.Point
	var err error
	if height != nil {
		p, err = s.transform.TransformPointAtHeight(px, *height)
	} else {
		p, err = s.transform.TransformPoint(r.Context(), px)
	}
	if err != nil {
		s.handleError(w, err, &requestID)
		return
	}
	s.writeJSON(w, http.StatusOK, ForwardResponse{
		Line:   px.Line,
		Sample: px.Sample,
		X:      p.X,
		Y:      p.Y,
		Height: p.Height,
		EPSG:   s.transform.Projection().EPSG(),
	})
}

// GetInverse maps a position in the output projection to the image.
// Without a height the terrain height under the position is used.
func (s *Server) GetInverse(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFor(r)
	if s.transform == nil {
		s.writeErrorResponse(w, http.StatusConflict, CodeNotConfigured, "no sensor model is configured", &requestID)
		return
	}

	var p groundtransform.Point
	var height *float64
	query := r.URL.Query()
	if err := bindAll(query, map[string]*float64{"x": &p.X, "y": &p.Y}); err != nil {
		s.handleError(w, err, &requestID)
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "height", query, &height); err != nil {
		s.handleError(w, errors.Wrap(errBadRequest, err.Error()), &requestID)
		return
	}

	if height != nil {
		p.Height = *height
	} else {
		lon, lat := s.transform.Projection().ToWGS84(p.X, p.Y)
		h, err := s.transform.Elevation().HeightAboveEllipsoid(r.Context(), lon, lat)
		if err != nil {
			s.handleError(w, err, &requestID)
			return
		}
		p.Height = h
	}

	px, err := s.transform.InverseTransformPoint(r.Context(), p)
	if err != nil {
		s.handleError(w, err, &requestID)
		return
	}
	s.writeJSON(w, http.StatusOK, InverseResponse{X: p.X, Y: p.Y, Height: p.Height, Line: px.Line, Sample: px.Sample})
}

func bindAll(query url.Values, params map[string]*float64) error {
	for name, dest := range params {
		if err := runtime.BindQueryParameter("form", true, true, name, query, dest); err != nil {
			return errors.Wrap(errBadRequest, err.Error())
		}
	}
	return nil
}

// statusFor maps an error to its HTTP status and error code.
func statusFor(err error) (int, string) {
	var inconsistent *stitcher.InconsistentTileError
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, tile.ErrConfiguration),
		errors.Is(err, tile.ErrRegionOutsideMosaic):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, tile.ErrInvalidState):
		return http.StatusConflict, CodeInvalidState
	case errors.Is(err, sensor.ErrConvergence):
		return http.StatusUnprocessableEntity, CodeNoConvergence
	case errors.As(err, &inconsistent), errors.Is(err, tile.ErrInconsistentTile):
		return http.StatusBadGateway, CodeInconsistentTile
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, CodeTimeout
	}
	return http.StatusInternalServerError, CodeInternal
}

func (s *Server) handleError(w http.ResponseWriter, err error, requestID *string) {
	status, code := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Errorw("request failed", "requestID", *requestID, "error", err)
		message = "Internal server error"
	}
	s.writeErrorResponse(w, status, code, message, requestID)
}

// writeErrorResponse writes a standard error response
func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string, requestID *string) {
	s.writeJSON(w, statusCode, ErrorResponse{
		Error:     errorCode,
		Message:   message,
		RequestId: requestID,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Errorw("error encoding response", "error", err)
	}
}

// requestIDFor returns the ID the RequestID middleware assigned, or a fresh
// one when the handler runs without it.
func requestIDFor(r *http.Request) string {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return "req_" + uuid.NewString()
}
