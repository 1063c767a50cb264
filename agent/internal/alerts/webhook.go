package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// payloadFunc renders an alert as the JSON body a webhook type expects.
type payloadFunc func(a *Alert) ([]byte, error)

var payloads = map[string]payloadFunc{
	"slack": slackPayload,
	"teams": teamsPayload,
	"http":  httpPayload,
}

// deliver posts a to every configured target. Failures are logged only.
func (e *Engine) deliver(a *Alert) {
	for _, wh := range e.webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}
		render, ok := payloads[wh.Type]
		if !ok {
			slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}
		body, err := render(a)
		if err == nil {
			err = e.post(url, body)
		}
		if err != nil {
			slog.Error("alerts: webhook delivery failed",
				"type", wh.Type, "rule", a.RuleName, "shot", a.Shot, "err", err)
			continue
		}
		slog.Debug("alerts: webhook delivered",
			"type", wh.Type, "rule", a.RuleName, "shot", a.Shot, "state", a.State)
	}
}

// headline is the one-line summary shown by chat clients.
func headline(a *Alert) string {
	if a.State == StateResolved {
		return fmt.Sprintf("%s resolved on shot %d", a.RuleName, a.Shot)
	}
	if strings.HasPrefix(a.Condition, "state ") {
		return fmt.Sprintf("%s on shot %d: %s", a.RuleName, a.Shot, a.Condition)
	}
	return fmt.Sprintf("%s on shot %d: %s (%s)", a.RuleName, a.Shot, a.Condition, strconv.FormatFloat(a.Value, 'g', 4, 64))
}

type fact struct {
	Name  string
	Value string
}

// shotFacts lists the shot quantities shown in chat notifications.
func shotFacts(a *Alert) []fact {
	f := a.Facts
	return []fact{
		{"Shot", strconv.Itoa(a.Shot)},
		{"State", f.State},
		{"Window", f.Window},
		{"Greenwald fraction", quantity(f.GreenwaldFraction, "")},
		{"Greenwald limit", quantity(f.GreenwaldLimit, "1e20 m^-3")},
		{"Plasma current", quantity(f.PlasmaCurrentMA, "MA")},
		{"Line-averaged density", quantity(f.LineAveragedDensity, "1e20 m^-3")},
	}
}

func quantity(v *float64, units string) string {
	if v == nil {
		return "n/a"
	}
	s := strconv.FormatFloat(*v, 'g', 4, 64)
	if units != "" {
		s += " " + units
	}
	return s
}

func slackPayload(a *Alert) ([]byte, error) {
	type field struct {
		Title string `json:"title"`
		Value string `json:"value"`
		Short bool   `json:"short"`
	}
	facts := shotFacts(a)
	fields := make([]field, len(facts))
	for i, f := range facts {
		fields[i] = field{Title: f.Name, Value: f.Value, Short: true}
	}
	return json.Marshal(map[string]any{
		"text": fmt.Sprintf("*%s* %s", severityLabel(a), headline(a)),
		"attachments": []map[string]any{{
			"color":  "#" + severityColor(a),
			"fields": fields,
		}},
	})
}

func teamsPayload(a *Alert) ([]byte, error) {
	type teamsFact struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	facts := shotFacts(a)
	tf := make([]teamsFact, len(facts))
	for i, f := range facts {
		tf[i] = teamsFact(f)
	}
	return json.Marshal(map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": severityColor(a),
		"summary":    headline(a),
		"title":      fmt.Sprintf("cmodparams: %s", headline(a)),
		"sections":   []map[string]any{{"facts": tf}},
	})
}

func httpPayload(a *Alert) ([]byte, error) {
	return json.Marshal(map[string]any{"alert": a})
}

func (e *Engine) post(url string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func severityLabel(a *Alert) string {
	if a.State == StateResolved {
		return "[RESOLVED]"
	}
	switch a.Severity {
	case "critical":
		return "[CRITICAL]"
	case "warning":
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func severityColor(a *Alert) string {
	if a.State == StateResolved {
		return "2EB67D"
	}
	switch a.Severity {
	case "critical":
		return "FF4F6A"
	case "warning":
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
