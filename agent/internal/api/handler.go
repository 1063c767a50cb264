package api

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cmodtools/cmodparams/agent/internal/alerts"
	"github.com/cmodtools/cmodparams/agent/internal/compute"
	"github.com/cmodtools/cmodparams/agent/internal/store"
)

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	store  *store.Store
	alerts *alerts.Engine
	mux    *http.ServeMux
}

// New creates a Handler over st and registers all routes. ae may be nil, in
// which case /api/v1/alerts always returns an empty list.
func New(st *store.Store, ae *alerts.Engine) http.Handler {
	h := &Handler{store: st, alerts: ae, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/shots", h.listShots)
	h.mux.HandleFunc("/api/v1/shots/", h.getShot)
	h.mux.HandleFunc("/api/v1/alerts", h.listAlerts)
	h.mux.HandleFunc("/api/v1/snapshot", h.snapshot)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	entries := h.store.List()
	resp := HealthResponse{ShotCount: len(entries)}
	if h.alerts != nil {
		resp.AlertCount = h.alerts.Firing()
	}

	maxFraction := math.NaN()
	for _, e := range entries {
		switch e.Result.State {
		case compute.StateComplete:
			resp.CompleteCount++
		case compute.StatePartial:
			resp.PartialCount++
		default:
			resp.FailedCount++
		}
		if f := e.Result.GreenwaldFraction; compute.Defined(f) && (math.IsNaN(maxFraction) || f > maxFraction) {
			maxFraction = f
		}
	}
	resp.MaxGreenwaldFraction = num(maxFraction)

	switch {
	case len(entries) == 0:
		resp.State = "unknown"
	case resp.FailedCount == len(entries):
		resp.State = "failed"
	case resp.FailedCount > 0 || resp.PartialCount > 0:
		resp.State = "degraded"
	default:
		resp.State = "ok"
	}
	jsonResp(w, http.StatusOK, resp)
}

func (h *Handler) listShots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, toShotResponses(h.store.List()))
}

func (h *Handler) getShot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	raw := strings.TrimPrefix(r.URL.Path, "/api/v1/shots/")
	if raw == "" {
		h.listShots(w, r)
		return
	}
	shot, err := strconv.Atoi(raw)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, "shot must be an integer")
		return
	}

	e, ok := h.store.Get(shot)
	if !ok || time.Since(e.UpdatedAt) > h.store.TTL() {
		jsonErr(w, http.StatusNotFound, "shot not found")
		return
	}
	jsonResp(w, http.StatusOK, toShotResponse(e))
}

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.alerts == nil {
		jsonResp(w, http.StatusOK, []struct{}{})
		return
	}
	jsonResp(w, http.StatusOK, h.alerts.Active())
}

func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, BuildSnapshot(h.store))
}

// BuildSnapshot renders every live shot in st. The WebSocket hub broadcasts
// the same structure.
func BuildSnapshot(st *store.Store) SnapshotResponse {
	return SnapshotResponse{
		Shots:       toShotResponses(st.List()),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// BuildShots renders the live entries among shots, in shot order. Shots
// missing from st are skipped.
func BuildShots(st *store.Store, shots []int) SnapshotResponse {
	sorted := append([]int(nil), shots...)
	sort.Ints(sorted)
	entries := make([]*store.Entry, 0, len(sorted))
	for _, shot := range sorted {
		if e, ok := st.Get(shot); ok && time.Since(e.UpdatedAt) <= st.TTL() {
			entries = append(entries, e)
		}
	}
	return SnapshotResponse{
		Shots:       toShotResponses(entries),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func toShotResponses(entries []*store.Entry) []ShotResponse {
	out := make([]ShotResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toShotResponse(e))
	}
	return out
}

// toShotResponse maps a store.Entry to its JSON representation.
func toShotResponse(e *store.Entry) ShotResponse {
	res := e.Result
	return ShotResponse{
		Shot:                  res.Shot,
		State:                 res.State,
		WindowStart:           res.Window.Start,
		WindowEnd:             res.Window.End,
		MinorRadius:           res.MinorRadius,
		PlasmaCurrentMA:       num(res.PlasmaCurrentMA),
		FieldDirection:        res.FieldDirection,
		LineAveragedDensity:   num(res.LineAveragedDensity),
		LineIntegratedDensity: num(res.LineIntegratedDensity),
		ToroidalField:         num(res.ToroidalField),
		GreenwaldLimit:        num(res.GreenwaldLimit),
		GreenwaldFraction:     num(res.GreenwaldFraction),
		Samples:               res.Samples,
		AvailabilityPct:       res.AvailabilityPct,
		Errors:                res.Errors,
		ErrorMessage:          res.ErrorMessage,
		Diagnostics:           computeDiagnostics(res),
		LastSeen:              e.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
