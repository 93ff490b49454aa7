// Package alert delivers monitoring notifications through one or more
// channels. Channels implement the single Notifier interface and are
// combined with Multi; delivery failure is logged, never propagated.
package alert

import (
	"log/slog"

	"sitewatch/internal/config"
)

// Severity classifies how urgent a notification is.
type Severity string

const (
	Info    Severity = "info"
	Warning Severity = "warning"
	Error   Severity = "error"
)

// Category routes a notification: site alerts come from target health
// checks, process alerts from the watchdog.
type Category string

const (
	Site    Category = "site"
	Process Category = "process"
	General Category = "general"
)

// Notifier delivers one message. Send reports whether delivery succeeded;
// it must never panic or block past its own transport timeout.
type Notifier interface {
	Send(message string, severity Severity, category Category) bool
}

// Multi fans a message out to every channel. Send succeeds when at least
// one channel succeeded.
type Multi []Notifier

func (m Multi) Send(message string, severity Severity, category Category) bool {
	ok := false
	for _, n := range m {
		if n.Send(message, severity, category) {
			ok = true
		}
	}
	return ok
}

// Discard swallows every message. Used when alerts are toggled off.
type Discard struct{}

func (Discard) Send(string, Severity, Category) bool { return true }

// FromConfig assembles the notifier set the configuration asks for. With
// alerts disabled, or nothing configured, notifications are dropped.
func FromConfig(cfg config.Config, log *slog.Logger) Notifier {
	if !cfg.Bool("alerts_enabled", true) {
		return Discard{}
	}
	var multi Multi
	if url := cfg.String("webhook_url", ""); url != "" {
		multi = append(multi, NewWebhook(url, log))
	}
	if cfg.String("smtp_server", "") != "" {
		multi = append(multi, NewEmail(cfg, log))
	}
	if len(multi) == 0 {
		return Discard{}
	}
	return multi
}

// ForWatchdog builds the watchdog's notifier set. The watchdog may route to
// its own webhook and recipients; when the override keys are present they
// shadow the shared ones.
func ForWatchdog(cfg config.Config, log *slog.Logger) Notifier {
	overlaid := config.Merge(cfg, nil)
	if url := cfg.String("watchdog_webhook_url", ""); url != "" {
		overlaid["webhook_url"] = url
	}
	if recv := cfg.Strings("watchdog_receiver_email"); len(recv) > 0 {
		overlaid["receiver_email"] = recv
	}
	return FromConfig(overlaid, log)
}
