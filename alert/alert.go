// Package alert delivers operational notifications when a sync routine
// degrades. Delivery is best effort; a failed alert is logged, never
// propagated into the routine that triggered it.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Notifier receives alerts about degraded sync routines.
type Notifier interface {
	Notify(ctx context.Context, routine, message string) error
}

// NoopNotifier discards alerts. Used when no alert webhook is configured.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, string, string) error { return nil }

// WebhookNotifier posts alerts as JSON to a configured endpoint, compatible
// with Slack-style incoming webhooks.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, routine, message string) error {
	payload, err := json.Marshal(map[string]string{
		"text": fmt.Sprintf("[staysync] %s: %s", routine, message),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", n.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode)
	}
	return nil
}
