package usecase

import (
	"fmt"
	"strings"

	"farm-advisory-agent/internal/domain"
)

// buildPromptMessages flattens the session window into the role/content
// sequence the provider expects. The pinned system message is extended with
// the freshly built farm context so the provider always sees current
// telemetry, not whatever was live when the session started.
func buildPromptMessages(window []domain.ChatMessage, snap *domain.TelemetrySnapshot) []domain.PromptMessage {
	out := make([]domain.PromptMessage, 0, len(window))
	for _, m := range window {
		content := m.Content
		if m.Role == domain.RoleSystem {
			content = content + "\n\n" + buildFarmContext(snap)
		}
		out = append(out, domain.PromptMessage{Role: string(m.Role), Content: content})
	}
	return out
}

// buildFarmContext renders the snapshot as a compact context block.
func buildFarmContext(snap *domain.TelemetrySnapshot) string {
	if snap == nil {
		return "Farm Context:\nNo farm data is available for this conversation."
	}

	var b strings.Builder
	b.WriteString("Farm Context:\n")
	fmt.Fprintf(&b, "Farm: %s", snap.FarmName)
	if snap.Location != "" {
		fmt.Fprintf(&b, " (%s)", snap.Location)
	}
	b.WriteString("\n")
	if snap.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", snap.Notes)
	}

	if len(snap.Sensors) == 0 {
		b.WriteString("Sensors: none reporting\n")
	} else {
		b.WriteString("Sensors:\n")
		for _, s := range snap.Sensors {
			fmt.Fprintf(&b, "- %s (%s): %v %s, observed %s\n",
				s.Name, s.Type, s.Value, s.Unit, s.ObservedAt.UTC().Format("2006-01-02 15:04"))
		}
	}

	if w := snap.Weather; w != nil {
		fmt.Fprintf(&b, "Weather: %.0f°C, %.0f%% humidity, wind %.0f",
			w.Current.TemperatureC, w.Current.Humidity, w.Current.WindSpeed)
		if w.Current.Condition != "" {
			fmt.Fprintf(&b, ", %s", w.Current.Condition)
		}
		b.WriteString("\n")
		if len(w.Forecast) > 0 {
			f := w.Forecast[0]
			fmt.Fprintf(&b, "Next forecast: %s, %.0f°C, %.0f%% chance of rain\n",
				f.Day, f.TemperatureC, f.RainChance)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
