// Package events notifies an external endpoint when a harness run finishes.
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"snapshot-harness/internal/status"
)

// WebhookPayload represents the structure of the JSON payload for the webhook.
type WebhookPayload struct {
	Object    string         `json:"object"`
	NodeID    string         `json:"node_id"`
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp"`
}

// Notifier posts payloads to a webhook URL.
type Notifier struct {
	url    string
	nodeID string
	client *http.Client
	log    logrus.FieldLogger
}

// NewNotifier returns a Notifier posting to url, or to $WEBHOOK_URL when url
// is empty. It returns nil when neither is set.
func NewNotifier(url string, log logrus.FieldLogger) *Notifier {
	if url == "" {
		url = os.Getenv("WEBHOOK_URL")
	}
	if url == "" {
		return nil
	}
	node, _ := os.Hostname()
	return &Notifier{
		url:    url,
		nodeID: node,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

// RunFinished builds the payload reporting run. result is "pass" or the kind
// of failure.
func (n *Notifier) RunFinished(run status.Run, result string) WebhookPayload {
	data := map[string]any{
		"scenario":          run.Scenario,
		"domain":            run.Domain,
		"result":            result,
		"snapshots_created": run.Created,
		"snapshots_target":  run.Target,
		"started_at":        run.StartedAt.UTC().Format(time.RFC3339),
	}
	if run.Error != "" {
		data["error"] = run.Error
	}
	var node string
	if n != nil {
		node = n.nodeID
	}
	ts := time.Now()
	if run.FinishedAt != nil {
		ts = *run.FinishedAt
	}
	return WebhookPayload{
		Object:    "snapshot_run",
		NodeID:    node,
		ID:        run.ID,
		Type:      "run.finished",
		Data:      data,
		Timestamp: ts.UTC().Format(time.RFC3339),
	}
}

// Send posts payload as JSON. A nil Notifier sends nothing.
func (n *Notifier) Send(ctx context.Context, payload WebhookPayload) error {
	if n == nil {
		return nil
	}
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(jsonPayload))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("webhook returned non-2xx status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	n.log.WithFields(logrus.Fields{"url": n.url, "status": resp.Status}).Info("webhook sent")
	return nil
}
