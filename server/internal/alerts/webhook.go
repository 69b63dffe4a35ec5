package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"
)

const (
	deliveryTimeout = 10 * time.Second

	// maxAttempts bounds retries of one webhook post within deliveryTimeout.
	maxAttempts       = 3
	backoffInitial    = 500 * time.Millisecond
	backoffMultiplier = 2.0
)

// errPermanent marks a webhook response that retrying cannot fix (4xx).
var errPermanent = errors.New("permanent failure")

// deliver posts a to every configured webhook whose URL resolves. Failures
// are logged and never reach the sampler that triggered the evaluation.
func (e *Engine) deliver(a *Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	for _, wh := range e.webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}

		var payload any
		switch wh.Type {
		case "slack":
			payload = map[string]string{
				"text": fmt.Sprintf("*%s* %s", headline(a), a.Message),
			}
		case "teams":
			payload = map[string]any{
				"@type":      "MessageCard",
				"@context":   "http://schema.org/extensions",
				"themeColor": severityColor(a),
				"summary":    a.RuleName,
				"title":      fmt.Sprintf("%s alert: %s", e.appName, a.RuleName),
				"text":       fmt.Sprintf("%s %s", headline(a), a.Message),
			}
		case "http":
			payload = map[string]any{"service": e.appName, "alert": a}
		default:
			slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		if err := e.postWithRetry(ctx, url, payload); err != nil {
			slog.Error("alerts: webhook delivery failed",
				"type", wh.Type,
				"rule", a.RuleName,
				"err", err,
			)
			continue
		}
		slog.Debug("alerts: webhook delivered",
			"type", wh.Type,
			"rule", a.RuleName,
			"state", a.State,
		)
	}
}

func (e *Engine) post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("webhook returned HTTP %d: %w", resp.StatusCode, errPermanent)
	}
	return nil
}

// postWithRetry retries transport errors, 429 and 5xx with exponential
// backoff and jitter until maxAttempts or ctx expires.
func (e *Engine) postWithRetry(ctx context.Context, url string, payload any) error {
	wait := e.retryBase
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = e.post(ctx, url, payload); err == nil || errors.Is(err, errPermanent) {
			return err
		}
		if attempt == maxAttempts {
			break
		}
		d := wait + time.Duration(float64(wait)*0.25*(rand.Float64()*2-1)) //nolint:gosec // not crypto
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (gave up: %v)", err, ctx.Err())
		case <-time.After(d):
		}
		wait = time.Duration(float64(wait) * backoffMultiplier)
	}
	return fmt.Errorf("after %d attempts: %w", maxAttempts, err)
}

// headline is the bracketed prefix shown in chat messages.
func headline(a *Alert) string {
	if a.State == StateResolved {
		return "[RESOLVED]"
	}
	switch a.Severity {
	case "critical":
		return "[CRITICAL]"
	case "warning":
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func severityColor(a *Alert) string {
	if a.State == StateResolved {
		return "2EB67D"
	}
	switch a.Severity {
	case "critical":
		return "FF4F6A"
	case "warning":
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
