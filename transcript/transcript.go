// Package transcript implements the Transcription Client from section 4.5:
// authentication, multipart submission, and result polling against the
// remote recognition service. Built on go-resty/resty, the HTTP client
// library used across this codebase's outbound clients.
package transcript

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/gurre/convopipe/config"
	"github.com/gurre/convopipe/retry"
)

// mimeTypes is the fixed content-type-by-extension map from section 4.5.
var mimeTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
}

func mimeTypeFor(name string) string {
	for ext, mime := range mimeTypes {
		if strings.HasSuffix(strings.ToLower(name), ext) {
			return mime
		}
	}
	return "audio/mpeg"
}

// PollStatus is the pipeline-facing interpretation of a poll response
// (section 4.5's server-status to pipeline-status table).
type PollStatus string

const (
	PollReady    PollStatus = "ready"
	PollWaiting  PollStatus = "waiting"
	PollNotFound PollStatus = "not found"
	PollFailed   PollStatus = "failed"
	PollUnknown  PollStatus = "unknown"
)

// PollResult is the outcome of a single poll attempt. Document holds the
// full decoded response body when Status is PollReady; it becomes the
// ResultDocument.
type PollResult struct {
	Status   PollStatus
	Document map[string]any
}

// Client is the Transcription Client from section 4.5.
type Client struct {
	http     *resty.Client
	settings *config.Settings

	mu       sync.Mutex
	token    string
	hasToken bool
}

// New builds a Client bound to the live Settings. The HTTP timeout is
// settings.TranscriptionTimeoutSec; auth uses its own fixed 60s budget per
// section 4.5.
func New(settings *config.Settings) *Client {
	http := resty.New().SetTimeout(time.Duration(settings.TranscriptionTimeoutSec) * time.Second)
	return &Client{http: http, settings: settings}
}

// Ping is a lightweight health probe used by GetStatus, confirming the
// transcription endpoint is reachable without submitting audio.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get(c.settings.TranscriptionURL)
	if err != nil {
		return fmt.Errorf("transcription service unreachable: %w", err)
	}
	if resp.StatusCode() >= 500 {
		return fmt.Errorf("transcription service returned %d", resp.StatusCode())
	}
	return nil
}

// authenticate obtains and caches an access token, retrying up to
// authMaxRetries times with backoff capped at 60s on timeout/connection/5xx
// errors (section 4.5 Auth protocol). Concurrent callers serialize on mu so
// only one refresh happens at a time ("single cached value with a
// mutex-style guard", section 5).
func (c *Client) authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < c.settings.AuthMaxRetries; attempt++ {
		var body struct {
			AccessToken string `json:"x-access-token"`
		}
		authCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		resp, err := c.http.R().
			SetContext(authCtx).
			SetFormData(map[string]string{
				"username": c.settings.Login,
				"password": c.settings.Password,
			}).
			ForceContentType("application/json").
			SetResult(&body).
			Post(c.settings.AuthURL)
		cancel()

		if err == nil && resp.StatusCode() < 500 {
			if body.AccessToken == "" {
				return fmt.Errorf("auth failed with status %d and no access token", resp.StatusCode())
			}
			c.token = body.AccessToken
			c.hasToken = true
			return nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("auth failed with status %d", resp.StatusCode())
		}
		retry.Wait(ctx, attempt, 60*time.Second)
	}
	return fmt.Errorf("authentication failed after %d attempts: %w", c.settings.AuthMaxRetries, lastErr)
}

func (c *Client) cachedToken() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, c.hasToken
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hasToken = false
	c.token = ""
}

// Submit uploads audio bytes under the "wav" multipart field along with
// the fixed recognition parameter bag, returning the remote taskID
// (section 4.5 Submit). On a 401 while authorization is enabled, it
// invalidates the cached token, re-authenticates once, and retries the
// submit exactly once.
func (c *Client) Submit(ctx context.Context, filename string, data []byte) (string, error) {
	taskID, status, err := c.submitOnce(ctx, filename, data)
	if err != nil {
		return "", err
	}
	if status == 401 && c.settings.UseAuthorization {
		c.invalidateToken()
		taskID, status, err = c.submitOnce(ctx, filename, data)
		if err != nil {
			return "", err
		}
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("submit failed with status %d", status)
	}
	return taskID, nil
}

func (c *Client) submitOnce(ctx context.Context, filename string, data []byte) (string, int, error) {
	req := c.http.R().
		SetContext(ctx).
		SetMultipartFormData(c.settings.RecognitionParams).
		SetMultipartField("wav", filename, mimeTypeFor(filename), strings.NewReader(string(data)))

	if c.settings.UseAuthorization {
		if err := c.ensureToken(ctx); err != nil {
			return "", 0, err
		}
		token, _ := c.cachedToken()
		req.SetHeader("x-access-token", token)
	}

	var body struct {
		TaskID string `json:"taskID"`
	}
	req.ForceContentType("application/json").SetResult(&body)

	resp, err := req.Post(c.settings.TranscriptionURL)
	if err != nil {
		return "", 0, fmt.Errorf("submit transport error: %w", err)
	}
	return body.TaskID, resp.StatusCode(), nil
}

func (c *Client) ensureToken(ctx context.Context) error {
	if _, ok := c.cachedToken(); ok {
		return nil
	}
	return c.authenticate(ctx)
}

// Poll performs a single GET {resultUrl}/{taskID} and classifies the
// response per section 4.5's status table. On 401 while authorization is
// enabled, it invalidates the token, re-authenticates, and retries once.
func (c *Client) Poll(ctx context.Context, taskID string) (PollResult, error) {
	result, status, err := c.pollOnce(ctx, taskID)
	if err != nil {
		return PollResult{}, err
	}
	if status == 401 && c.settings.UseAuthorization {
		c.invalidateToken()
		result, status, err = c.pollOnce(ctx, taskID)
		if err != nil {
			return PollResult{}, err
		}
	}
	if status < 200 || status >= 300 {
		return PollResult{Status: PollUnknown}, nil
	}
	return result, nil
}

func (c *Client) pollOnce(ctx context.Context, taskID string) (PollResult, int, error) {
	req := c.http.R().SetContext(ctx)
	if c.settings.UseAuthorization {
		if err := c.ensureToken(ctx); err != nil {
			return PollResult{}, 0, err
		}
		token, _ := c.cachedToken()
		req.SetHeader("x-access-token", token)
	}

	var body map[string]any
	req.ForceContentType("application/json").SetResult(&body)

	resp, err := req.Get(strings.TrimRight(c.settings.ResultURL, "/") + "/" + taskID)
	if err != nil {
		return PollResult{}, 0, fmt.Errorf("poll transport error: %w", err)
	}
	if resp.StatusCode() == 401 {
		return PollResult{}, 401, nil
	}

	status, _ := body["status"].(string)
	switch status {
	case "ready":
		return PollResult{Status: PollReady, Document: body}, resp.StatusCode(), nil
	case "waiting":
		return PollResult{Status: PollWaiting}, resp.StatusCode(), nil
	case "not found":
		return PollResult{Status: PollNotFound}, resp.StatusCode(), nil
	case "failed":
		return PollResult{Status: PollFailed}, resp.StatusCode(), nil
	default:
		return PollResult{Status: PollUnknown}, resp.StatusCode(), nil
	}
}

// PollUntilTerminal drives Poll on the pollingInterval cadence up to
// maxPollingAttempts times, returning as soon as a terminal status is
// reached or the attempt budget is exhausted (section 4.4 step 4).
func (c *Client) PollUntilTerminal(ctx context.Context, taskID string) (PollResult, error) {
	interval := time.Duration(c.settings.PollingIntervalSec) * time.Second
	for attempt := 0; attempt < c.settings.MaxPollingAttempts; attempt++ {
		result, err := c.Poll(ctx, taskID)
		if err != nil {
			select {
			case <-ctx.Done():
				return PollResult{}, ctx.Err()
			case <-time.After(interval):
			}
			continue
		}
		switch result.Status {
		case PollReady, PollNotFound, PollFailed:
			return result, nil
		}
		select {
		case <-ctx.Done():
			return PollResult{}, ctx.Err()
		case <-time.After(interval):
		}
	}
	return PollResult{Status: PollUnknown}, fmt.Errorf("poll budget exhausted after %d attempts", c.settings.MaxPollingAttempts)
}
