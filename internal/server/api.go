package server

import "time"

// Values of HealthResponse.Status.
const (
	Healthy   HealthResponseStatus = "healthy"
	Unhealthy HealthResponseStatus = "unhealthy"
)

// Error codes returned in ErrorResponse.Error.
const (
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeNotConfigured    = "NOT_CONFIGURED"
	CodeInvalidState     = "INVALID_STATE"
	CodeNoConvergence    = "NO_CONVERGENCE"
	CodeInconsistentTile = "INCONSISTENT_TILE"
	CodeTimeout          = "TIMEOUT"
	CodeInternal         = "INTERNAL_ERROR"
)

// HealthResponseStatus reports whether the server can answer requests.
type HealthResponseStatus string

// HealthResponse reports uptime and which parts of the API are configured.
type HealthResponse struct {
	Status    HealthResponseStatus `json:"status"`
	Timestamp time.Time            `json:"timestamp"`
	Uptime    *int                 `json:"uptime,omitempty"`
	Version   *string              `json:"version,omitempty"`
	Mosaic    bool                 `json:"mosaic"`
	Transform bool                 `json:"transform"`
}

// MosaicResponse describes the configured mosaic.
type MosaicResponse struct {
	Width     int        `json:"width"`
	Height    int        `json:"height"`
	Bands     int        `json:"bands"`
	PixelType string     `json:"pixel_type"`
	Origin    [2]float64 `json:"origin"`
	Spacing   [2]float64 `json:"spacing"`
	Columns   int        `json:"columns"`
	Rows      int        `json:"rows"`
}

// ForwardResponse is the map position seen at a pixel.
type ForwardResponse struct {
	Line   float64 `json:"line"`
	Sample float64 `json:"sample"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Height float64 `json:"height"`
	EPSG   int     `json:"epsg"`
}

// InverseResponse is the pixel at which a map position is seen.
type InverseResponse struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Height float64 `json:"height"`
	Line   float64 `json:"line"`
	Sample float64 `json:"sample"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string  `json:"error"`
	Message   string  `json:"message"`
	RequestId *string `json:"request_id,omitempty"`
}
