package api

import "math"

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State         string `json:"state"`
	ShotCount     int    `json:"shot_count"`
	CompleteCount int    `json:"complete_count"`
	PartialCount  int    `json:"partial_count"`
	FailedCount   int    `json:"failed_count"`
	AlertCount    int    `json:"alert_count"`

	// MaxGreenwaldFraction is the highest fraction across live shots.
	MaxGreenwaldFraction *float64 `json:"max_greenwald_fraction"`
}

// ShotResponse is one shot in GET /api/v1/shots or GET /api/v1/shots/{shot}.
type ShotResponse struct {
	Shot        int      `json:"shot"`
	State       string   `json:"state"`
	WindowStart *float64 `json:"window_start"`
	WindowEnd   *float64 `json:"window_end"`
	MinorRadius float64  `json:"minor_radius_m"`

	PlasmaCurrentMA       *float64 `json:"plasma_current_ma"`
	FieldDirection        int      `json:"field_direction"`
	LineAveragedDensity   *float64 `json:"line_averaged_density_1e20"`
	LineIntegratedDensity *float64 `json:"line_integrated_density_1e20"`
	ToroidalField         *float64 `json:"toroidal_field_t"`
	GreenwaldLimit        *float64 `json:"greenwald_limit_1e20"`
	GreenwaldFraction     *float64 `json:"greenwald_fraction"`

	Samples         map[string]int    `json:"samples"`
	AvailabilityPct float64           `json:"availability_pct"`
	Errors          map[string]string `json:"errors,omitempty"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	Diagnostics     []DiagnosticHint  `json:"diagnostics"`
	LastSeen        string            `json:"last_seen"` // RFC3339
}

// SnapshotResponse is the payload for GET /api/v1/snapshot and the data of
// every WebSocket broadcast.
type SnapshotResponse struct {
	Shots       []ShotResponse `json:"shots"`
	GeneratedAt string         `json:"generated_at"` // RFC3339
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}

// num returns nil for NaN and ±Inf, which encoding/json cannot represent.
func num(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
