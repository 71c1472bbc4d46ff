package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// WebhookNotifier posts notifications to an HTTP endpoint, signing each
// payload with HMAC-SHA256 when a secret is configured. Delivery happens in
// the background; Notify never blocks on the network.
type WebhookNotifier struct {
	url    string
	secret string
	client *http.Client
	wg     sync.WaitGroup

	// onError receives delivery failures for logging; may be nil.
	onError func(n Notification, err error)
}

// NewWebhookNotifier creates a webhook sink for the given endpoint.
func NewWebhookNotifier(url, secret string, onError func(Notification, error)) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		secret: secret,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		onError: onError,
	}
}

// Notify queues the notification for background delivery.
func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		deliveryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := w.deliver(deliveryCtx, n); err != nil && w.onError != nil {
			w.onError(n, err)
		}
	}()
	return nil
}

// Wait blocks until all queued deliveries finish. Used by tests and on
// shutdown.
func (w *WebhookNotifier) Wait() {
	w.wg.Wait()
}

func (w *WebhookNotifier) deliver(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Guichet-Event", string(n.Event))
	if w.secret != "" {
		req.Header.Set("X-Guichet-Signature", sign(payload, w.secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("notification delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
