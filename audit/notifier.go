package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
)

// WebhookNotifier posts security alerts to an external notification
// endpoint. Only replay-detection and revocation events are forwarded; the
// full audit stream stays with the other sinks.
type WebhookNotifier struct {
	url    string
	client *retryablehttp.Client
}

var _ Sink = (*WebhookNotifier)(nil)

// NewWebhookNotifier creates a notifier targeting url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil
	return &WebhookNotifier{url: url, client: client}
}

func (n *WebhookNotifier) Deliver(ctx context.Context, event *Event) error {
	switch event.Type {
	case EventReplayDetected, EventSessionRevoked:
	default:
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (n *WebhookNotifier) Close() error {
	n.client.HTTPClient.CloseIdleConnections()
	return nil
}
