package alert

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Webhook posts markdown messages to a chat-robot webhook endpoint.
type Webhook struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

func NewWebhook(url string, log *slog.Logger) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
		log:    log,
	}
}

type webhookPayload struct {
	MsgType  string          `json:"msgtype"`
	Markdown webhookMarkdown `json:"markdown"`
}

type webhookMarkdown struct {
	Content string `json:"content"`
}

type webhookResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

func severityPrefix(severity Severity) string {
	switch severity {
	case Error:
		return "🔴 CRITICAL"
	case Warning:
		return "🟠 WARNING"
	default:
		return "ℹ️ NOTICE"
	}
}

func (w *Webhook) Send(message string, severity Severity, _ Category) bool {
	payload := webhookPayload{
		MsgType:  "markdown",
		Markdown: webhookMarkdown{Content: severityPrefix(severity) + "\n" + message},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		w.log.Error("webhook payload marshal failed", slog.String("err", err.Error()))
		return false
	}
	resp, err := w.client.Post(w.url, "application/json", bytes.NewReader(body))
	if err != nil {
		w.log.Error("webhook delivery failed", slog.String("err", err.Error()))
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		w.log.Error("webhook delivery rejected", slog.Int("status", resp.StatusCode))
		return false
	}
	var wr webhookResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil || wr.ErrCode != 0 {
		w.log.Error("webhook endpoint reported failure",
			slog.Int("errcode", wr.ErrCode), slog.String("errmsg", wr.ErrMsg))
		return false
	}
	w.log.Info("webhook alert delivered", slog.String("severity", string(severity)))
	return true
}
