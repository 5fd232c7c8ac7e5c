// Package notify delivers milestone messages over an outbound webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Message is one rendered notification addressed to a user.
type Message struct {
	UserID     string `json:"user_id"`
	DeadlineID int64  `json:"deadline_id"`
	Milestone  string `json:"milestone"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
}

// SendError marks a transport-level rejection. The scheduler treats it as
// terminal for the single item, never for the batch.
type SendError struct {
	Status int
	Reason string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("notify: send rejected: status=%d reason=%s", e.Status, e.Reason)
}

// Notifier sends one message to its addressee.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// WebhookNotifier posts messages as JSON to a configured endpoint.
type WebhookNotifier struct {
	endpoint   string
	httpClient *http.Client
}

// NewWebhookNotifier constructs the default Notifier.
func NewWebhookNotifier(endpoint string, client *http.Client) *WebhookNotifier {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &WebhookNotifier{endpoint: endpoint, httpClient: client}
}

var _ Notifier = (*WebhookNotifier)(nil)

// Send posts the message. Any non-2xx response is a SendError.
func (n *WebhookNotifier) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build notify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &SendError{Status: resp.StatusCode, Reason: string(body)}
	}
	return nil
}
