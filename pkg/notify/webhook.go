package notify

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/vortexdata/vortex/pkg/errors"
)

// WebhookNotifier posts the event as JSON to every configured URL. The
// channel reports success only when every URL accepted the payload.
type WebhookNotifier struct {
	urls   []string
	client *http.Client
}

// NewWebhookNotifier builds the webhook channel. A nil client uses a
// default with a 10 second timeout.
func NewWebhookNotifier(urls []string, client *http.Client) *WebhookNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookNotifier{urls: urls, client: client}
}

// Notify posts the event to each URL in order.
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if len(n.urls) == 0 {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "cannot encode notification payload")
	}

	for _, url := range n.urls {
		if err := n.post(ctx, url, payload); err != nil {
			return err
		}
	}
	return nil
}

func (n *WebhookNotifier) post(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeValidation, "invalid webhook URL %s", url)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeConnection, "webhook %s unreachable", url)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Newf(errors.ErrorTypeConnection, "webhook %s rejected the payload with status %d", url, resp.StatusCode)
	}
	return nil
}
