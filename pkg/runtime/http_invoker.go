package runtime

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/relayd/relay/pkg/models"
)

// HTTPInvoker delivers invocations to a runner service over HTTP. The
// request deadline is the execution budget; a deadline exceeded is reported
// as a timeout outcome, not an error.
type HTTPInvoker struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

func NewHTTPInvoker(endpoint string, logger *slog.Logger) *HTTPInvoker {
	return &HTTPInvoker{
		endpoint: endpoint,
		client:   &http.Client{},
		logger:   logger.With("module", "http_invoker"),
	}
}

type invokeRequest struct {
	Image   string   `json:"image"`
	Bundle  string   `json:"bundle"`
	Payload *Payload `json:"payload"`
}

func (i *HTTPInvoker) Invoke(ctx context.Context, deployment *models.Deployment, rt *models.Runtime, payload *Payload) (*Result, error) {
	body, err := json.Marshal(invokeRequest{
		Image:   rt.Image,
		Bundle:  base64.StdEncoding.EncodeToString(deployment.Bundle),
		Payload: payload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal invocation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint+"/invoke", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build invocation request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	started := time.Now()

	resp, err := i.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return &Result{
				Status:     ResultTimeout,
				DurationMS: time.Since(started).Milliseconds(),
			}, nil
		}

		return nil, fmt.Errorf("runtime invocation failed: %w", err)
	}

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			i.logger.Error("Failed to close invocation response body", "error", err)
		}
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		return &Result{
			Status:       ResultFailure,
			ErrorMessage: fmt.Sprintf("runtime returned status %d", resp.StatusCode),
			DurationMS:   time.Since(started).Milliseconds(),
		}, nil
	}

	var result Result

	err = json.NewDecoder(resp.Body).Decode(&result)
	if err != nil {
		return nil, fmt.Errorf("failed to decode invocation result: %w", err)
	}

	if result.DurationMS == 0 {
		result.DurationMS = time.Since(started).Milliseconds()
	}

	return &result, nil
}
