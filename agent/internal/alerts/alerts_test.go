package alerts

import (
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cmodtools/cmodparams/agent/internal/compute"
	"github.com/cmodtools/cmodparams/agent/internal/config"
)

func res(shot int, fraction float64, state string) *compute.Result {
	return &compute.Result{
		Shot:                shot,
		State:               state,
		GreenwaldFraction:   fraction,
		GreenwaldLimit:      6.58,
		PlasmaCurrentMA:     1,
		LineAveragedDensity: fraction * 6.58,
		ToroidalField:       5.4,
		AvailabilityPct:     100,
	}
}

func TestEvalCondition(t *testing.T) {
	r := res(1, 0.9, compute.StateComplete)
	tests := []struct {
		cond      string
		wantFires bool
		wantValue float64
	}{
		{"greenwald_fraction > 0.8", true, 0.9},
		{"greenwald_fraction > 0.95", false, 0.9},
		{"greenwald_fraction >= 0.9", true, 0.9},
		{"greenwald_limit < 7", true, 6.58},
		{"plasma_current_ma <= 1", true, 1},
		{"toroidal_field < 4", false, 5.4},
		{"availability_pct < 90", false, 100},
		{"state == complete", true, 0},
		{"state == failed", false, 0},
		{"state != failed", true, 0},
		{"state > failed", false, 0},
		{"unknown_field > 1", false, 0},
		{"greenwald_fraction > abc", false, 0},
		{"greenwald_fraction ~ 0.5", false, 0.9},
		{"malformed", false, 0},
	}
	for _, tc := range tests {
		t.Run(tc.cond, func(t *testing.T) {
			fires, v := evalCondition(tc.cond, r)
			if fires != tc.wantFires {
				t.Errorf("fires = %v, want %v", fires, tc.wantFires)
			}
			if tc.wantFires && v != tc.wantValue {
				t.Errorf("value = %v, want %v", v, tc.wantValue)
			}
		})
	}
}

func TestEvalCondition_NaNNeverFires(t *testing.T) {
	r := res(1, math.NaN(), compute.StatePartial)
	for _, cond := range []string{"greenwald_fraction > 0", "greenwald_fraction < 1", "greenwald_fraction != 0"} {
		if fires, _ := evalCondition(cond, r); fires {
			t.Errorf("%q fired on NaN", cond)
		}
	}
}

func newEngine(rules []config.AlertRule, webhooks ...config.WebhookConfig) (*Engine, *time.Time) {
	e := New(config.AlertsConfig{Rules: rules, Webhooks: webhooks})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }
	return e, &now
}

func TestEngine_FireAndResolve(t *testing.T) {
	e, now := newEngine([]config.AlertRule{
		{Name: "near-limit", Condition: "greenwald_fraction > 0.8", Severity: "critical"},
	})

	e.Evaluate(res(7, 0.9, compute.StateComplete))
	active := e.Active()
	if len(active) != 1 {
		t.Fatalf("Active len = %d, want 1", len(active))
	}
	a := active[0]
	if a.State != StateFiring || a.Shot != 7 || a.Severity != "critical" || a.Value != 0.9 {
		t.Errorf("alert = %+v", a)
	}
	if !strings.Contains(a.Message, "shot 7") {
		t.Errorf("Message = %q, want shot number", a.Message)
	}
	if e.Firing() != 1 {
		t.Errorf("Firing = %d, want 1", e.Firing())
	}

	*now = now.Add(time.Minute)
	e.Evaluate(res(7, 0.5, compute.StateComplete))
	active = e.Active()
	if len(active) != 1 || active[0].State != StateResolved || active[0].ResolvedAt == nil {
		t.Fatalf("after resolve: %+v", active)
	}
	if e.Firing() != 0 {
		t.Errorf("Firing = %d, want 0", e.Firing())
	}

	// Resolved alerts drop out of Active after an hour.
	*now = now.Add(2 * time.Hour)
	if got := e.Active(); len(got) != 0 {
		t.Errorf("Active after an hour = %d, want 0", len(got))
	}
}

func TestEngine_Cooldown(t *testing.T) {
	e, now := newEngine([]config.AlertRule{
		{Name: "failed", Condition: "state == failed", Cooldown: 10 * time.Minute},
	})

	e.Evaluate(res(1, math.NaN(), compute.StateFailed))
	first := e.Active()[0].ID

	*now = now.Add(5 * time.Minute)
	e.Evaluate(res(1, math.NaN(), compute.StateFailed))
	if got := e.Active()[0].ID; got != first {
		t.Errorf("re-fired inside cooldown: %q != %q", got, first)
	}

	*now = now.Add(6 * time.Minute)
	e.Evaluate(res(1, math.NaN(), compute.StateFailed))
	if got := e.Active()[0].ID; got == first {
		t.Error("did not re-fire after cooldown")
	}
}

func TestEngine_DefaultSeverity(t *testing.T) {
	e, _ := newEngine([]config.AlertRule{{Name: "r", Condition: "state == failed"}})
	e.Evaluate(res(1, 0, compute.StateFailed))
	if got := e.Active()[0].Severity; got != "warning" {
		t.Errorf("Severity = %q, want warning", got)
	}
}

func TestEngine_PerShot(t *testing.T) {
	e, _ := newEngine([]config.AlertRule{{Name: "r", Condition: "greenwald_fraction > 0.8"}})
	e.Evaluate(res(1, 0.9, compute.StateComplete))
	e.Evaluate(res(2, 0.9, compute.StateComplete))
	e.Evaluate(res(3, 0.1, compute.StateComplete))
	if e.Firing() != 2 {
		t.Errorf("Firing = %d, want 2", e.Firing())
	}
}

func TestEngine_NoRules(t *testing.T) {
	e := New(config.AlertsConfig{})
	e.Evaluate(res(1, 5, compute.StateFailed))
	if len(e.Active()) != 0 {
		t.Error("engine without rules produced alerts")
	}
}

func TestEngine_WebhookDelivery(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies = map[string][]byte{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies[r.URL.Path] = b
		mu.Unlock()
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
	}))
	defer srv.Close()

	t.Setenv("WH_SLACK", srv.URL+"/slack")
	t.Setenv("WH_TEAMS", srv.URL+"/teams")
	t.Setenv("WH_HTTP", srv.URL+"/http")

	e, _ := newEngine(
		[]config.AlertRule{{Name: "near-limit", Condition: "greenwald_fraction > 0.8", Severity: "critical"}},
		config.WebhookConfig{Type: "slack", URLEnv: "WH_SLACK"},
		config.WebhookConfig{Type: "teams", URLEnv: "WH_TEAMS"},
		config.WebhookConfig{Type: "http", URLEnv: "WH_HTTP"},
		config.WebhookConfig{Type: "http", URLEnv: "WH_UNSET"},
	)
	e.Evaluate(res(9, 1.2, compute.StateComplete))
	e.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 3 {
		t.Fatalf("deliveries = %d, want 3", len(bodies))
	}

	var slack struct {
		Text        string `json:"text"`
		Attachments []struct {
			Color  string `json:"color"`
			Fields []struct {
				Title string `json:"title"`
				Value string `json:"value"`
			} `json:"fields"`
		} `json:"attachments"`
	}
	if err := json.Unmarshal(bodies["/slack"], &slack); err != nil {
		t.Fatalf("slack body: %v", err)
	}
	if !strings.HasPrefix(slack.Text, "*[CRITICAL]* near-limit on shot 9") {
		t.Errorf("slack text = %q", slack.Text)
	}
	if len(slack.Attachments) != 1 {
		t.Fatalf("slack attachments = %d, want 1", len(slack.Attachments))
	}
	fields := map[string]string{}
	for _, f := range slack.Attachments[0].Fields {
		fields[f.Title] = f.Value
	}
	if fields["Greenwald fraction"] != "1.2" {
		t.Errorf("slack fraction field = %q, want 1.2", fields["Greenwald fraction"])
	}
	if fields["Greenwald limit"] != "6.58 1e20 m^-3" {
		t.Errorf("slack limit field = %q", fields["Greenwald limit"])
	}

	var teams struct {
		ThemeColor string `json:"themeColor"`
		Sections   []struct {
			Facts []struct {
				Name  string `json:"name"`
				Value string `json:"value"`
			} `json:"facts"`
		} `json:"sections"`
	}
	if err := json.Unmarshal(bodies["/teams"], &teams); err != nil {
		t.Fatalf("teams body: %v", err)
	}
	if teams.ThemeColor != "FF4F6A" {
		t.Errorf("teams themeColor = %q", teams.ThemeColor)
	}
	if len(teams.Sections) != 1 || len(teams.Sections[0].Facts) == 0 || teams.Sections[0].Facts[0].Value != "9" {
		t.Errorf("teams facts = %+v, want shot first", teams.Sections)
	}

	var generic struct {
		Alert Alert `json:"alert"`
	}
	if err := json.Unmarshal(bodies["/http"], &generic); err != nil {
		t.Fatalf("http body: %v", err)
	}
	if generic.Alert.Shot != 9 || generic.Alert.State != StateFiring {
		t.Errorf("http alert = %+v", generic.Alert)
	}
	if f := generic.Alert.Facts.GreenwaldFraction; f == nil || *f != 1.2 {
		t.Errorf("http facts fraction = %v, want 1.2", f)
	}
}

func TestWebhook_ResolvedAndUndefinedFacts(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies [][]byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, b)
		mu.Unlock()
	}))
	defer srv.Close()
	t.Setenv("WH_SLACK", srv.URL)

	e, _ := newEngine(
		[]config.AlertRule{{Name: "fetch-failed", Condition: "state == failed"}},
		config.WebhookConfig{Type: "slack", URLEnv: "WH_SLACK"},
	)
	e.Evaluate(res(4, math.NaN(), compute.StateFailed))
	e.Wait()
	e.Evaluate(res(4, 0.5, compute.StateComplete))
	e.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 2 {
		t.Fatalf("deliveries = %d, want fire and resolve", len(bodies))
	}
	if !strings.Contains(string(bodies[0]), `"n/a"`) {
		t.Errorf("fire payload should show undefined fraction as n/a: %s", bodies[0])
	}
	if !strings.Contains(string(bodies[1]), "[RESOLVED]* fetch-failed resolved on shot 4") {
		t.Errorf("resolve payload = %s", bodies[1])
	}
	if !strings.Contains(string(bodies[1]), "#2EB67D") {
		t.Errorf("resolve payload color = %s", bodies[1])
	}
}

func TestPost_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	e := New(config.AlertsConfig{})
	if err := e.post(srv.URL, []byte(`{}`)); err == nil {
		t.Error("post to 502 endpoint: expected error")
	}
}
