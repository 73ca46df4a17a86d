package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/neuroweave/internal/store"
)

// maxWebhookConcurrency bounds parallel callback requests per event.
const maxWebhookConcurrency = 8

// WebhookSink POSTs the receipt to every subscriber that registered a callback.
type WebhookSink struct {
	subs   store.SubscriberStore
	client *http.Client
}

// NewWebhookSink creates a sink reading callbacks from subs. Each request is
// bounded by timeout.
func NewWebhookSink(subs store.SubscriberStore, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookSink{subs: subs, client: &http.Client{Timeout: timeout}}
}

func (w *WebhookSink) Name() string { return "webhook" }

// Publish implements Sink.
func (w *WebhookSink) Publish(ctx context.Context, ev Event) error {
	subs, err := w.subs.ListSubscribers(ctx)
	if err != nil {
		return fmt.Errorf("list subscribers: %w", err)
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	errs := make([]error, len(subs))
	g := new(errgroup.Group)
	g.SetLimit(maxWebhookConcurrency)
	for i, sub := range subs {
		if sub.Callback == nil || *sub.Callback == "" {
			continue
		}
		g.Go(func() error {
			if err := w.post(ctx, *sub.Callback, body); err != nil {
				errs[i] = fmt.Errorf("%s: %w", sub.AgentID, err)
			}
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}

func (w *WebhookSink) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Neuroweave-Event", EventDeleted)

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned %s", resp.Status)
	}
	return nil
}
