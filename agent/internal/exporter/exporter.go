package exporter

import (
	"math"
	"net/http"
	"strconv"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/cmodtools/cmodparams/agent/internal/compute"
	"github.com/cmodtools/cmodparams/agent/internal/store"
)

const namespace = "cmodparams_"

type gauge struct {
	name  string
	help  string
	value func(*compute.Result) float64
}

var gauges = []gauge{
	{"greenwald_fraction", "Window-averaged line-averaged density over the Greenwald limit.",
		func(r *compute.Result) float64 { return r.GreenwaldFraction }},
	{"greenwald_limit_1e20_m3", "Greenwald density limit in 10^20 m^-3.",
		func(r *compute.Result) float64 { return r.GreenwaldLimit }},
	{"plasma_current_megaamperes", "Window-averaged plasma current magnitude.",
		func(r *compute.Result) float64 { return r.PlasmaCurrentMA }},
	{"line_averaged_density_1e20_m3", "Window-averaged line-averaged electron density.",
		func(r *compute.Result) float64 { return r.LineAveragedDensity }},
	{"line_integrated_density_1e20_m2", "Window-averaged line-integrated electron density.",
		func(r *compute.Result) float64 { return r.LineIntegratedDensity }},
	{"toroidal_field_tesla", "Window-averaged toroidal magnetic field.",
		func(r *compute.Result) float64 { return r.ToroidalField }},
	{"availability_ratio", "Share of the last 20 fetches of the shot that returned a plasma current.",
		func(r *compute.Result) float64 { return r.AvailabilityPct / 100 }},
}

var states = []string{compute.StateComplete, compute.StatePartial, compute.StateFailed}

// Families builds one MetricFamily per exported quantity from the live
// entries of st. Families with no defined sample are left out.
func Families(st *store.Store) []*dto.MetricFamily {
	entries := st.List()
	out := make([]*dto.MetricFamily, 0, len(gauges)+2)

	for _, g := range gauges {
		mf := newFamily(g.name, g.help)
		for _, e := range entries {
			v := g.value(e.Result)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			mf.Metric = append(mf.Metric, sample(v, shotLabel(e.Result.Shot)))
		}
		if len(mf.Metric) > 0 {
			out = append(out, mf)
		}
	}

	stateFamily := newFamily("state", "1 for the shot's current result state, 0 otherwise.")
	for _, e := range entries {
		for _, s := range states {
			var v float64
			if e.Result.State == s {
				v = 1
			}
			stateFamily.Metric = append(stateFamily.Metric,
				sample(v, shotLabel(e.Result.Shot), label("state", s)))
		}
	}
	if len(stateFamily.Metric) > 0 {
		out = append(out, stateFamily)
	}

	updated := newFamily("last_update_timestamp_seconds", "Unix time the shot's result was stored.")
	for _, e := range entries {
		updated.Metric = append(updated.Metric,
			sample(float64(e.UpdatedAt.UnixNano())/1e9, shotLabel(e.Result.Shot)))
	}
	if len(updated.Metric) > 0 {
		out = append(out, updated)
	}

	count := newFamily("shots", "Number of shots with a live result.")
	count.Metric = append(count.Metric, sample(float64(len(entries))))
	return append(out, count)
}

// Handler serves Families(st) in the format negotiated from the request's
// Accept header.
func Handler(st *store.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		format := expfmt.Negotiate(r.Header)
		w.Header().Set("Content-Type", string(format))
		enc := expfmt.NewEncoder(w, format)
		for _, mf := range Families(st) {
			if err := enc.Encode(mf); err != nil {
				return
			}
		}
		if c, ok := enc.(expfmt.Closer); ok {
			c.Close() //nolint:errcheck
		}
	})
}

func newFamily(name, help string) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(namespace + name),
		Help: proto.String(help),
		Type: dto.MetricType_GAUGE.Enum(),
	}
}

func sample(v float64, labels ...*dto.LabelPair) *dto.Metric {
	return &dto.Metric{
		Label: labels,
		Gauge: &dto.Gauge{Value: proto.Float64(v)},
	}
}

func shotLabel(shot int) *dto.LabelPair {
	return label("shot", strconv.Itoa(shot))
}

func label(name, value string) *dto.LabelPair {
	return &dto.LabelPair{Name: proto.String(name), Value: proto.String(value)}
}
