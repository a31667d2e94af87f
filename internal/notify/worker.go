package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
)

// NotificationJobArgs is one queued notification delivery.
type NotificationJobArgs struct {
	UserID  uuid.UUID       `json:"user_id"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func (NotificationJobArgs) Kind() string { return "deliver_notification" }

// NotificationWorker delivers queued notifications to the configured webhook.
// Delivery failures surface to River for retry; they never touch ledger state.
type NotificationWorker struct {
	river.WorkerDefaults[NotificationJobArgs]
	webhookURL string
	httpClient *http.Client
}

func NewNotificationWorker(webhookURL string) *NotificationWorker {
	return &NotificationWorker{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (w *NotificationWorker) Work(ctx context.Context, job *river.Job[NotificationJobArgs]) error {
	if w.webhookURL == "" {
		// No sink configured; drop silently rather than retry forever.
		return nil
	}
	body, err := json.Marshal(map[string]any{
		"user_id": job.Args.UserID,
		"event":   job.Args.Event,
		"payload": job.Args.Payload,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notification webhook call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification webhook returned status %d", resp.StatusCode)
	}
	return nil
}
