package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// AlertInterval is the minimum gap between two posted alerts.
const AlertInterval = 30 * time.Second

// PostTimeout bounds a single chat.postMessage call.
const PostTimeout = 10 * time.Second

// Alerter posts pipeline alerts to a Slack channel via chat.postMessage.
// Alerts beyond one per AlertInterval are dropped.
type Alerter struct {
	token   string
	channel string
	client  *http.Client
	apiURL  string
	limiter *rate.Limiter
}

func NewAlerter(token, channel string) *Alerter {
	return &Alerter{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: PostTimeout},
		apiURL:  "https://slack.com/api/chat.postMessage",
		limiter: rate.NewLimiter(rate.Every(AlertInterval), 1),
	}
}

// PostRejectedAlert reports a gift event that could not be normalized.
func (a *Alerter) PostRejectedAlert(ctx context.Context, subject, reason string) error {
	return a.post(ctx, "Rejected Gift Event", []field{
		{"Subject", subject},
		{"Reason", orUnknown(reason)},
	}, fmt.Sprintf("Rejected gift event on %s: %s", subject, orUnknown(reason)))
}

// PostSinkFailureAlert reports a normalized record that a sink failed to take.
func (a *Alerter) PostSinkFailureAlert(ctx context.Context, sink, eventID string, cause error) error {
	msg := "unknown"
	if cause != nil {
		msg = cause.Error()
	}
	return a.post(ctx, "Gift Sink Failure", []field{
		{"Sink", sink},
		{"Event", eventID},
		{"Error", msg},
	}, fmt.Sprintf("Gift sink %s failed: %s", sink, msg))
}

type field struct {
	label string
	value string
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func (a *Alerter) post(ctx context.Context, title string, fields []field, fallback string) error {
	if !a.limiter.Allow() {
		slog.Debug("slack alert rate limited", "title", title)
		return nil
	}

	sectionFields := make([]map[string]any, 0, len(fields))
	for _, f := range fields {
		sectionFields = append(sectionFields, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*%s:*\n%s", f.label, f.value),
		})
	}

	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{
				"type": "plain_text",
				"text": title,
			},
		},
		{
			"type":   "section",
			"fields": sectionFields,
		},
		{
			"type": "context",
			"elements": []map[string]any{
				{"type": "mrkdwn", "text": fmt.Sprintf("Sent at %s", time.Now().UTC().Format(time.RFC3339))},
			},
		},
	}

	body, err := json.Marshal(map[string]any{
		"channel": a.channel,
		"blocks":  blocks,
		"text":    fallback,
	})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned %d", resp.StatusCode)
	}

	slog.Info("alert posted to Slack", "channel", a.channel, "title", title)
	return nil
}
