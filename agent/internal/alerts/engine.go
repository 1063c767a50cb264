package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cmodtools/cmodparams/agent/internal/compute"
	"github.com/cmodtools/cmodparams/agent/internal/config"
)

const (
	defaultCooldown = 15 * time.Minute
	maxHistoryLen   = 200
	recentWindow    = time.Hour
)

// Alert states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert represents a single alert event produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	Shot       int        `json:"shot"`
	Condition  string     `json:"condition"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"`

	// Facts is the shot as last evaluated: at fire time, then refreshed when
	// the alert resolves.
	Facts ShotFacts `json:"facts"`
}

// ShotFacts are the derived quantities of a shot carried with an alert.
// Undefined values are null.
type ShotFacts struct {
	State               string   `json:"state"`
	Window              string   `json:"window"`
	GreenwaldFraction   *float64 `json:"greenwald_fraction"`
	GreenwaldLimit      *float64 `json:"greenwald_limit"`
	PlasmaCurrentMA     *float64 `json:"plasma_current_ma"`
	LineAveragedDensity *float64 `json:"line_averaged_density"`
}

func factsOf(res *compute.Result) ShotFacts {
	return ShotFacts{
		State:               res.State,
		Window:              res.Window.String(),
		GreenwaldFraction:   defined(res.GreenwaldFraction),
		GreenwaldLimit:      defined(res.GreenwaldLimit),
		PlasmaCurrentMA:     defined(res.PlasmaCurrentMA),
		LineAveragedDensity: defined(res.LineAveragedDensity),
	}
}

func defined(v float64) *float64 {
	if !compute.Defined(v) {
		return nil
	}
	return &v
}

// Engine evaluates alert rules against incoming Results and delivers webhook
// notifications when rules fire or resolve.
//
// Engine is safe for concurrent use.
type Engine struct {
	rules    []config.AlertRule
	webhooks []config.WebhookConfig

	mu       sync.Mutex
	active   map[string]*Alert    // key: "ruleName:shot"
	lastFire map[string]time.Time // for cooldown
	history  []*Alert             // recently resolved alerts
	client   *http.Client
	now      func() time.Time
	wg       sync.WaitGroup
}

// New creates an Engine from the alert configuration.
// An Engine with no rules is valid; Evaluate becomes a no-op.
func New(cfg config.AlertsConfig) *Engine {
	return &Engine{
		rules:    cfg.Rules,
		webhooks: cfg.Webhooks,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
}

// Evaluate tests all configured rules against res.
// Alerts that fire are stored and webhook delivery runs asynchronously.
// Alerts that were firing but whose condition is now false are resolved.
func (e *Engine) Evaluate(res *compute.Result) {
	if len(e.rules) == 0 {
		return
	}

	now := e.now()
	for _, rule := range e.rules {
		key := fmt.Sprintf("%s:%d", rule.Name, res.Shot)
		fires, value := evalCondition(rule.Condition, res)

		e.mu.Lock()
		if fires {
			a := e.fire(key, rule, res, value, now)
			e.mu.Unlock()
			if a != nil {
				slog.Warn("alerts: fired",
					"rule", rule.Name,
					"shot", res.Shot,
					"value", value,
					"severity", a.Severity,
				)
				e.dispatch(a)
			}
			continue
		}

		a := e.resolve(key, res, now)
		e.mu.Unlock()
		if a != nil {
			slog.Info("alerts: resolved", "rule", rule.Name, "shot", res.Shot)
			e.dispatch(a)
		}
	}
}

// fire records a firing alert unless the rule is cooling down. It returns a
// copy for delivery, or nil. e.mu must be held.
func (e *Engine) fire(key string, rule config.AlertRule, res *compute.Result, value float64, now time.Time) *Alert {
	shot := res.Shot
	cooldown := rule.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	if last, ok := e.lastFire[key]; ok && now.Sub(last) <= cooldown {
		return nil
	}
	sev := rule.Severity
	if sev == "" {
		sev = "warning"
	}
	a := &Alert{
		ID:        fmt.Sprintf("%s:%d:%d", rule.Name, shot, now.UnixNano()),
		RuleName:  rule.Name,
		Shot:      shot,
		Condition: rule.Condition,
		Severity:  sev,
		Value:     value,
		Message: fmt.Sprintf("[%s] %s fired on shot %d: %s (value %.3g)",
			sev, rule.Name, shot, rule.Condition, value),
		FiredAt: now,
		State:   StateFiring,
		Facts:   factsOf(res),
	}
	e.active[key] = a
	e.lastFire[key] = now
	cp := *a
	return &cp
}

// resolve moves a firing alert to history and returns a copy, or nil if
// nothing was firing under key. e.mu must be held.
func (e *Engine) resolve(key string, res *compute.Result, now time.Time) *Alert {
	a, ok := e.active[key]
	if !ok {
		return nil
	}
	resolved := now
	a.State = StateResolved
	a.ResolvedAt = &resolved
	a.Facts = factsOf(res)
	delete(e.active, key)

	e.history = append(e.history, a)
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}
	cp := *a
	return &cp
}

func (e *Engine) dispatch(a *Alert) {
	if len(e.webhooks) == 0 {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.deliver(a)
	}()
}

// Wait blocks until every in-flight webhook delivery has returned.
func (e *Engine) Wait() { e.wg.Wait() }

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour, newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindow)
	out := make([]*Alert, 0, len(e.active))

	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}

// Firing returns the number of currently firing alerts.
func (e *Engine) Firing() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}
