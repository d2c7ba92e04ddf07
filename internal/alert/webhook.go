package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/sentinel/internal/resilience"
)

// WebhookNotifier posts notifications to a Discord-compatible webhook. The
// rate limiter keeps bursts of freshly-promoted events under the webhook's
// request budget.
type WebhookNotifier struct {
	url     string
	mention string
	client  *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

func NewWebhookNotifier(url, mention string, sendsPerSec float64) *WebhookNotifier {
	if sendsPerSec <= 0 {
		sendsPerSec = 1
	}
	return &WebhookNotifier{
		url:     url,
		mention: mention,
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(sendsPerSec), 2),
		retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			MaxBackoff:     10 * time.Second,
		},
	}
}

type webhookPayload struct {
	Content string `json:"content"`
}

func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "webhook: rate limit wait")
	}

	body, err := json.Marshal(webhookPayload{Content: w.formatContent(n)})
	if err != nil {
		return eris.Wrap(err, "webhook: marshal payload")
	}

	_, err = resilience.Retry(ctx, w.retry, "webhook notify", func(ctx context.Context) (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, eris.Wrap(err, "webhook: create request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			return struct{}{}, resilience.Transient(eris.Wrap(err, "webhook: post"), 0)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body) //nolint:errcheck

		if resp.StatusCode >= 300 {
			err := eris.Errorf("webhook: status %d", resp.StatusCode)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return struct{}{}, resilience.Transient(err, resp.StatusCode)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
	return err
}

func (w *WebhookNotifier) formatContent(n Notification) string {
	var b strings.Builder
	if w.mention != "" {
		fmt.Fprintf(&b, "%s ", w.mention)
	}
	fmt.Fprintf(&b, "signal: %d | id: %s\nsummary: %s", n.Signal, n.EventID, n.Summary)
	if len(n.SourceURLs) > 0 {
		fmt.Fprintf(&b, "\nsources: %s", strings.Join(n.SourceURLs, "\n"))
	}
	return b.String()
}
