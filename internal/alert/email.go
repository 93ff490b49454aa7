package alert

import (
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"sitewatch/internal/config"
)

// Email delivers notifications over SMTP. Site and process alerts may be
// routed to dedicated recipient lists; anything without a dedicated list
// falls back to the general recipients.
type Email struct {
	server   string
	port     int
	sender   string
	password string

	receivers        []string
	siteReceivers    []string
	processReceivers []string

	log *slog.Logger
}

func NewEmail(cfg config.Config, log *slog.Logger) *Email {
	e := &Email{
		server:    cfg.String("smtp_server", ""),
		port:      cfg.Int("smtp_port", 25),
		sender:    cfg.String("sender_email", ""),
		password:  cfg.String("sender_password", ""),
		receivers: cfg.Strings("receiver_email"),
		log:       log,
	}
	e.siteReceivers = cfg.Strings("site_receiver_email")
	if len(e.siteReceivers) == 0 {
		e.siteReceivers = e.receivers
	}
	e.processReceivers = cfg.Strings("process_receiver_email")
	if len(e.processReceivers) == 0 {
		e.processReceivers = e.receivers
	}
	return e
}

func (e *Email) recipients(category Category) []string {
	switch category {
	case Site:
		return e.siteReceivers
	case Process:
		return e.processReceivers
	}
	return e.receivers
}

func (e *Email) Send(message string, severity Severity, category Category) bool {
	to := e.recipients(category)
	if len(to) == 0 {
		e.log.Warn("email alert skipped, no recipients", slog.String("category", string(category)))
		return false
	}
	subject := fmt.Sprintf("[sitewatch][%s] %s alert", strings.ToUpper(string(severity)), category)
	body := strings.Join([]string{
		"From: " + e.sender,
		"To: " + strings.Join(to, ", "),
		"Subject: " + subject,
		"Content-Type: text/plain; charset=UTF-8",
		"",
		message,
	}, "\r\n")

	addr := fmt.Sprintf("%s:%d", e.server, e.port)
	var auth smtp.Auth
	if e.password != "" {
		auth = smtp.PlainAuth("", e.sender, e.password, e.server)
	}
	if err := smtp.SendMail(addr, auth, e.sender, to, []byte(body)); err != nil {
		e.log.Error("email delivery failed",
			slog.String("server", addr), slog.String("err", err.Error()))
		return false
	}
	e.log.Info("email alert delivered",
		slog.String("severity", string(severity)), slog.Int("recipients", len(to)))
	return true
}
