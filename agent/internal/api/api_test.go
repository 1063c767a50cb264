package api_test

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cmodtools/cmodparams/agent/internal/alerts"
	"github.com/cmodtools/cmodparams/agent/internal/api"
	"github.com/cmodtools/cmodparams/agent/internal/compute"
	"github.com/cmodtools/cmodparams/agent/internal/config"
	"github.com/cmodtools/cmodparams/agent/internal/scraper"
	"github.com/cmodtools/cmodparams/agent/internal/store"
	"github.com/cmodtools/cmodparams/pkg/cmod"
	"github.com/cmodtools/cmodparams/pkg/plasma"
)

// --- test helpers -----------------------------------------------------------

func newStore(results ...*compute.Result) *store.Store {
	st := store.New(5 * time.Minute)
	for _, r := range results {
		st.Put(r)
	}
	return st
}

func flat(v float64) plasma.Signal {
	t := []float64{0, 0.25, 0.5, 0.75, 1}
	d := make([]float64, len(t))
	for i := range d {
		d[i] = v
	}
	return plasma.Signal{Time: t, Data: d}
}

// result runs a synthetic scrape through the engine. density 0 leaves the
// line-averaged density missing.
func result(shot int, currentKA, density float64) *compute.Result {
	sr := &scraper.ScrapeResult{
		Shot: shot,
		Signals: map[string]plasma.Signal{
			cmod.SignalPlasmaCurrent: flat(currentKA),
			cmod.SignalToroidalField: flat(5.4),
		},
		Errors: map[string]error{},
	}
	if density > 0 {
		sr.Signals[cmod.SignalLineAveragedDensity] = flat(density)
	} else {
		sr.Errors[cmod.SignalLineAveragedDensity] = errors.New("node not found")
	}
	return compute.NewEngine().Process(sr, plasma.FullWindow(), 0.22, time.Now())
}

func failed(shot int) *compute.Result {
	err := errors.New("connection refused")
	return compute.NewEngine().Process(&scraper.ScrapeResult{
		Shot:   shot,
		Errors: map[string]error{cmod.SignalPlasmaCurrent: err},
		Err:    err,
	}, plasma.FullWindow(), 0, time.Now())
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

// --- /api/v1/health ---------------------------------------------------------

func TestHealth_EmptyStore(t *testing.T) {
	h := api.New(newStore(), nil)
	rr := get(t, h, "/api/v1/health")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp map[string]interface{}
	decode(t, rr, &resp)

	if resp["state"] != "unknown" {
		t.Errorf("state: got %v, want unknown", resp["state"])
	}
	if resp["shot_count"].(float64) != 0 {
		t.Errorf("shot_count: got %v, want 0", resp["shot_count"])
	}
	if resp["max_greenwald_fraction"] != nil {
		t.Errorf("max_greenwald_fraction: got %v, want null", resp["max_greenwald_fraction"])
	}
}

func TestHealth_Counts(t *testing.T) {
	st := newStore(
		result(1, -1000, 1.5e20),
		result(2, -800, 0),
		failed(3),
	)
	rr := get(t, api.New(st, nil), "/api/v1/health")

	var resp api.HealthResponse
	decode(t, rr, &resp)

	if resp.State != "degraded" {
		t.Errorf("state: got %q, want degraded", resp.State)
	}
	if resp.ShotCount != 3 || resp.CompleteCount != 1 || resp.PartialCount != 1 || resp.FailedCount != 1 {
		t.Errorf("counts: got %+v", resp)
	}
	if resp.MaxGreenwaldFraction == nil {
		t.Fatal("max_greenwald_fraction is null")
	}
	want := 1.5 / (1 / (math.Pi * 0.22 * 0.22))
	if math.Abs(*resp.MaxGreenwaldFraction-want) > 1e-9 {
		t.Errorf("max_greenwald_fraction: got %v, want %v", *resp.MaxGreenwaldFraction, want)
	}
}

func TestHealth_AllComplete(t *testing.T) {
	rr := get(t, api.New(newStore(result(1, -1000, 1e20)), nil), "/api/v1/health")
	var resp api.HealthResponse
	decode(t, rr, &resp)
	if resp.State != "ok" {
		t.Errorf("state: got %q, want ok", resp.State)
	}
}

// --- /api/v1/shots ----------------------------------------------------------

func TestListShots(t *testing.T) {
	st := newStore(result(20, -1000, 1e20), result(10, -1000, 1e20))
	rr := get(t, api.New(st, nil), "/api/v1/shots")

	var shots []api.ShotResponse
	decode(t, rr, &shots)
	if len(shots) != 2 {
		t.Fatalf("len: got %d, want 2", len(shots))
	}
	if shots[0].Shot != 10 || shots[1].Shot != 20 {
		t.Errorf("order: got [%d %d], want [10 20]", shots[0].Shot, shots[1].Shot)
	}
}

func TestGetShot(t *testing.T) {
	st := newStore(result(1160930033, -1000, 1.5e20))
	rr := get(t, api.New(st, nil), "/api/v1/shots/1160930033")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q", ct)
	}
	var s api.ShotResponse
	decode(t, rr, &s)

	if s.State != compute.StateComplete {
		t.Errorf("state: got %q", s.State)
	}
	if s.PlasmaCurrentMA == nil || math.Abs(*s.PlasmaCurrentMA-1) > 1e-9 {
		t.Errorf("plasma_current_ma: got %v, want 1", s.PlasmaCurrentMA)
	}
	if s.FieldDirection != -1 {
		t.Errorf("field_direction: got %d, want -1", s.FieldDirection)
	}
	if s.WindowStart != nil || s.WindowEnd != nil {
		t.Errorf("full window rendered as bounds: %v %v", s.WindowStart, s.WindowEnd)
	}
	if s.Samples[cmod.SignalPlasmaCurrent] != 3 {
		t.Errorf("samples[ip]: got %d, want 3", s.Samples[cmod.SignalPlasmaCurrent])
	}
	if len(s.Diagnostics) == 0 || s.Diagnostics[0].Key != "greenwald_ok" {
		t.Errorf("diagnostics: got %+v", s.Diagnostics)
	}
}

func TestGetShot_NaNIsNull(t *testing.T) {
	st := newStore(result(5, -1000, 0))
	rr := get(t, api.New(st, nil), "/api/v1/shots/5")

	body := rr.Body.String()
	if !strings.Contains(body, `"greenwald_fraction":null`) {
		t.Errorf("body does not render NaN fraction as null: %s", body)
	}
	if !strings.Contains(body, `"line_averaged_density_1e20":null`) {
		t.Errorf("body does not render missing density as null: %s", body)
	}
	if strings.Contains(body, "NaN") {
		t.Errorf("body contains NaN: %s", body)
	}

	var s api.ShotResponse
	if err := json.Unmarshal([]byte(body), &s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.State != compute.StatePartial {
		t.Errorf("state: got %q, want partial", s.State)
	}
	if _, ok := s.Errors[cmod.SignalLineAveragedDensity]; !ok {
		t.Errorf("errors: got %v, want nebar entry", s.Errors)
	}
}

func TestGetShot_Failed(t *testing.T) {
	st := newStore(failed(9))
	rr := get(t, api.New(st, nil), "/api/v1/shots/9")

	var s api.ShotResponse
	decode(t, rr, &s)
	if s.ErrorMessage == "" {
		t.Error("error_message is empty")
	}
	if len(s.Diagnostics) != 1 || s.Diagnostics[0].Level != "critical" {
		t.Errorf("diagnostics: got %+v", s.Diagnostics)
	}
}

func TestGetShot_NotFound(t *testing.T) {
	rr := get(t, api.New(newStore(), nil), "/api/v1/shots/42")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rr.Code)
	}
}

func TestGetShot_BadNumber(t *testing.T) {
	rr := get(t, api.New(newStore(), nil), "/api/v1/shots/abc")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rr.Code)
	}
}

func TestGetShot_TrailingSlashLists(t *testing.T) {
	rr := get(t, api.New(newStore(result(1, -1000, 1e20)), nil), "/api/v1/shots/")
	var shots []api.ShotResponse
	decode(t, rr, &shots)
	if len(shots) != 1 {
		t.Errorf("len: got %d, want 1", len(shots))
	}
}

// --- /api/v1/alerts ---------------------------------------------------------

func TestAlerts_NoEngine(t *testing.T) {
	rr := get(t, api.New(newStore(), nil), "/api/v1/alerts")
	if body := strings.TrimSpace(rr.Body.String()); body != "[]" {
		t.Errorf("body: got %s, want []", body)
	}
}

func TestAlerts_Firing(t *testing.T) {
	ae := alerts.New(config.AlertsConfig{Rules: []config.AlertRule{
		{Name: "failed", Condition: "state == failed", Severity: "critical"},
	}})
	r := failed(3)
	ae.Evaluate(r)

	h := api.New(newStore(r), ae)

	var list []alerts.Alert
	decode(t, get(t, h, "/api/v1/alerts"), &list)
	if len(list) != 1 || list[0].Shot != 3 || list[0].RuleName != "failed" {
		t.Errorf("alerts: got %+v", list)
	}

	var health api.HealthResponse
	decode(t, get(t, h, "/api/v1/health"), &health)
	if health.AlertCount != 1 {
		t.Errorf("alert_count: got %d, want 1", health.AlertCount)
	}
	if health.State != "failed" {
		t.Errorf("state: got %q, want failed", health.State)
	}
}

// --- /api/v1/snapshot -------------------------------------------------------

func TestSnapshot(t *testing.T) {
	st := newStore(result(1, -1000, 1e20), result(2, -500, 1e20))
	rr := get(t, api.New(st, nil), "/api/v1/snapshot")

	var snap api.SnapshotResponse
	decode(t, rr, &snap)
	if len(snap.Shots) != 2 {
		t.Errorf("shots: got %d, want 2", len(snap.Shots))
	}
	if _, err := time.Parse(time.RFC3339, snap.GeneratedAt); err != nil {
		t.Errorf("generated_at: %v", err)
	}
}

// --- method handling --------------------------------------------------------

func TestMethodNotAllowed(t *testing.T) {
	h := api.New(newStore(), nil)
	for _, path := range []string{"/api/v1/health", "/api/v1/shots", "/api/v1/shots/1", "/api/v1/alerts", "/api/v1/snapshot"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, nil))
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s: got %d, want 405", path, rr.Code)
		}
	}
}
