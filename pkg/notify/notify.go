// Package notify pushes a short text message to a webhook whenever a
// new feed record is committed.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"activityd/pkg/fetch"
	"activityd/pkg/logger"
	"activityd/pkg/metrics"
	"activityd/pkg/models"
)

// Notifier delivers one message per newly ingested record. Delivery is
// best effort with bounded retry; a lost notification is never a reason
// to fail ingestion.
type Notifier struct {
	client      *fetch.Client
	url         string
	chatID      string
	maxAttempts int
	backoffBase time.Duration
}

// New builds a Notifier. url empty disables delivery.
func New(url, chatID string, timeout time.Duration, maxAttempts int) *Notifier {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Notifier{
		client:      fetch.NewClient(timeout),
		url:         url,
		chatID:      chatID,
		maxAttempts: maxAttempts,
		backoffBase: 200 * time.Millisecond,
	}
}

// Enabled reports whether the notifier has a destination.
func (n *Notifier) Enabled() bool { return n != nil && n.url != "" }

type payloadFields struct {
	Title           string  `json:"title"`
	Type            string  `json:"type"`
	Side            string  `json:"side"`
	Outcome         string  `json:"outcome"`
	Price           float64 `json:"price"`
	Size            float64 `json:"size"`
	UsdcSize        float64 `json:"usdcSize"`
	TransactionHash string  `json:"transactionHash"`
	Timestamp       int64   `json:"timestamp"`
}

// FormatMessage renders the record payload as the human-readable text
// sent to the webhook. Unknown payload shapes fall back to the id.
func FormatMessage(rec *models.Record) string {
	var f payloadFields
	if err := json.Unmarshal(rec.Payload, &f); err != nil || f.Title == "" {
		return fmt.Sprintf("new activity %s", rec.ID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", strings.ToUpper(f.Type), f.Title)
	if f.Side != "" {
		fmt.Fprintf(&b, "\nside: %s", f.Side)
	}
	if f.Outcome != "" {
		fmt.Fprintf(&b, " outcome: %s", f.Outcome)
	}
	if f.Size > 0 {
		fmt.Fprintf(&b, "\nsize: %.2f @ %.3f ($%.2f)", f.Size, f.Price, f.UsdcSize)
	}
	if f.Timestamp > 0 {
		fmt.Fprintf(&b, "\n%s", time.Unix(f.Timestamp, 0).UTC().Format(time.RFC3339))
	}
	if f.TransactionHash != "" {
		fmt.Fprintf(&b, "\ntx: %s", f.TransactionHash)
	}
	return b.String()
}

type webhookBody struct {
	ChatID                string `json:"chat_id,omitempty"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// Notify sends one message for rec, retrying transient failures with
// backoff. Returns the last error when every attempt fails.
func (n *Notifier) Notify(ctx context.Context, rec *models.Record) error {
	if !n.Enabled() {
		return nil
	}
	body, err := json.Marshal(webhookBody{
		ChatID:                n.chatID,
		Text:                  FormatMessage(rec),
		DisableWebPagePreview: true,
	})
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= n.maxAttempts; attempt++ {
		_, err := n.client.Post(ctx, n.url, body)
		if err == nil {
			metrics.NotificationsSent.Inc()
			logger.Debug("notify_sent", "record", rec.ID, "attempt", attempt)
			return nil
		}
		lastErr = err
		if !fetch.IsRetryable(err) {
			break
		}
		if attempt == n.maxAttempts {
			break
		}
		select {
		case <-time.After(fetch.Backoff(attempt-1, n.backoffBase, 5*time.Second)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	logger.Warn("notify_failed", "record", rec.ID, "err", lastErr)
	return lastErr
}
