package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/siyamsarker/argus/pkg/config"
	"github.com/siyamsarker/argus/pkg/track"
	"github.com/siyamsarker/argus/pkg/version"
)

// Discord caps embed field values at 1024 characters.
const maxReasonLen = 1024

const timestampLayout = "2006-01-02 15:04:05 UTC"

// AlertMessage renders an unhealthy transition as a notification payload.
func AlertMessage(event track.Event, host string) Message {
	reason := event.Reason
	if len(reason) > maxReasonLen {
		reason = reason[:maxReasonLen]
	}
	return Message{
		Kind:  KindAlert,
		Title: fmt.Sprintf("\u26a0\ufe0f %s is DOWN", event.Instance),
		Description: fmt.Sprintf("%s has failed %d consecutive health checks.",
			event.Instance, event.Failures),
		Fields: []Field{
			{Name: "Service", Value: event.Instance, Inline: true},
			{Name: "Status", Value: "UNHEALTHY", Inline: true},
			{Name: "Timestamp", Value: event.Timestamp.UTC().Format(timestampLayout)},
			{Name: "Reason", Value: reason},
			{Name: "Host", Value: host, Inline: true},
		},
		Timestamp: event.Timestamp,
	}
}

// RecoveryMessage renders a healthy transition as a notification payload.
func RecoveryMessage(event track.Event, host string) Message {
	return Message{
		Kind:        KindRecovery,
		Title:       fmt.Sprintf("\u2705 %s has RECOVERED", event.Instance),
		Description: fmt.Sprintf("%s is back online and healthy.", event.Instance),
		Fields: []Field{
			{Name: "Service", Value: event.Instance, Inline: true},
			{Name: "Status", Value: "HEALTHY", Inline: true},
			{Name: "Timestamp", Value: event.Timestamp.UTC().Format(timestampLayout)},
			{Name: "Host", Value: host, Inline: true},
		},
		Timestamp: event.Timestamp,
	}
}

// StartupMessage renders the one-time "now watching" notification.
func StartupMessage(cfg *config.Config, host string, now time.Time) Message {
	byKind := make(map[string][]string)
	order := make([]string, 0, 2)
	for _, inst := range cfg.Instances {
		if _, seen := byKind[inst.Kind]; !seen {
			order = append(order, inst.Kind)
		}
		byKind[inst.Kind] = append(byKind[inst.Kind], inst.URL)
	}

	fields := []Field{
		{Name: "Host", Value: host, Inline: true},
		{Name: "Interval", Value: fmt.Sprintf("%ds", cfg.CheckIntervalSec), Inline: true},
		{Name: "Failure Threshold", Value: fmt.Sprintf("%d", cfg.FailureThreshold), Inline: true},
	}
	for _, kind := range order {
		fields = append(fields, Field{
			Name:  kindTitle(kind),
			Value: strings.Join(byKind[kind], ", "),
		})
	}
	fields = append(fields, Field{Name: "Started At", Value: now.UTC().Format(timestampLayout)})

	return Message{
		Kind:        KindStartup,
		Title:       "\U0001f441\ufe0f Argus is now watching",
		Description: version.Banner(),
		Fields:      fields,
		Timestamp:   now,
	}
}

// DefaultFooter returns the footer text rendered under every embed.
func DefaultFooter(host string) string {
	return fmt.Sprintf("Argus v%s \u2022 %s", version.Version, host)
}

func kindTitle(kind string) string {
	switch kind {
	case config.KindLoki:
		return "Loki"
	case config.KindGrafana:
		return "Grafana"
	default:
		return kind
	}
}
