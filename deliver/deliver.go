// Package deliver implements the API Client from section 4.6: a
// single-shot, retried POST of a ResultDocument to the downstream
// conversation-ingest service.
package deliver

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/gurre/convopipe/config"
	"github.com/gurre/convopipe/retry"
)

// Client is the API Client from section 4.6.
type Client struct {
	http     *resty.Client
	settings *config.Settings
}

// New builds a Client bound to the live Settings.
func New(settings *config.Settings) *Client {
	http := resty.New().SetTimeout(time.Duration(settings.APITimeoutSec) * time.Second)
	return &Client{http: http, settings: settings}
}

// Ping is a lightweight health probe used by GetStatus.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get(c.settings.APIEndpoint)
	if err != nil {
		return fmt.Errorf("downstream service unreachable: %w", err)
	}
	if resp.StatusCode() >= 500 {
		return fmt.Errorf("downstream service returned %d", resp.StatusCode())
	}
	return nil
}

// Deliver POSTs document as JSON with fname/fpath query parameters set to
// name (section 4.4 Deliver, section 9's Open Question resolution on
// fpath). It makes up to apiMaxRetries attempts in total, retrying on 5xx
// and transport errors with exponential backoff, per section 4.6; 4xx
// responses, and a 200 whose body has no id, are treated as permanent and
// returned immediately without retry.
func (c *Client) Deliver(ctx context.Context, name string, document map[string]any) (int64, error) {
	var lastErr error
	for attempt := 0; attempt < c.settings.APIMaxRetries; attempt++ {
		id, status, err := c.deliverOnce(ctx, name, document)
		if err == nil && status == 200 {
			return id, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("delivery returned status %d", status)
		}
		if status != 0 && retry.ClassifyHTTPStatus(status) == retry.Permanent {
			return 0, lastErr
		}
		if !retry.Wait(ctx, attempt, 60*time.Second) {
			return 0, ctx.Err()
		}
	}
	return 0, fmt.Errorf("delivery failed after %d attempts: %w", c.settings.APIMaxRetries, lastErr)
}

func (c *Client) deliverOnce(ctx context.Context, name string, document map[string]any) (int64, int, error) {
	var body struct {
		ID *int64 `json:"id"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("fname", name).
		SetQueryParam("fpath", name).
		SetBody(document).
		ForceContentType("application/json").
		SetResult(&body).
		Post(c.settings.APIEndpoint)
	if err != nil {
		return 0, 0, fmt.Errorf("delivery transport error: %w", err)
	}
	if body.ID == nil {
		if resp.StatusCode() == 200 {
			return 0, resp.StatusCode(), fmt.Errorf("delivery response has no id")
		}
		return 0, resp.StatusCode(), nil
	}
	return *body.ID, resp.StatusCode(), nil
}
