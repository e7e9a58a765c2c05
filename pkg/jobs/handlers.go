package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/relayd/relay/pkg/models"
)

const deliveryTimeout = 30 * time.Second

// WebhookDeliveryHandler posts a job's body to its target URL. Payload keys:
// targetId, url, body.
func WebhookDeliveryHandler(client *http.Client, logger *slog.Logger) Handler {
	if client == nil {
		client = &http.Client{Timeout: deliveryTimeout}
	}

	log := logger.With("module", "webhook_delivery")

	return func(ctx context.Context, job *models.Job) error {
		targetID, _ := job.Payload["targetId"].(string)

		targetURL, _ := job.Payload["url"].(string)
		if targetURL == "" {
			return fmt.Errorf("webhook delivery job %s has no url", job.ID)
		}

		body, err := json.Marshal(job.Payload["body"])
		if err != nil {
			return fmt.Errorf("failed to encode delivery body: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to build delivery request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("delivery to %s failed: %w", targetURL, err)
		}

		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("delivery to %s returned status %d", targetURL, resp.StatusCode)
		}

		log.InfoContext(ctx, "Webhook delivered",
			"target_id", targetID, "url", targetURL,
			"status", resp.StatusCode, "attempt", job.Attempts)

		return nil
	}
}
