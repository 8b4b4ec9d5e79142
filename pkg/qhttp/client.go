// Package qhttp provides the shared HTTP client used for REST calls to
// tracking servers and remote archive downloads. It implements the retry
// contract: rate-limit responses are retried with exponential backoff bounded
// by a maximum interval budget, other transient failures are retried up to a
// fixed count, and an exhausted budget surfaces the last observed status.
package qhttp

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quillml/quill/pkg/qerr"
)

// HostCreds identifies a host plus the credentials used to talk to it.
type HostCreds struct {
	Host     string // e.g. "http://localhost:5000", trailing slash tolerated
	Username string
	Password string
	Token    string
	Insecure bool // skip TLS verification
}

// Client issues requests with the retry policy applied.
type Client struct {
	Creds HostCreds

	// Retries is the number of attempts for non-rate-limit failures (5xx or
	// transport errors). Defaults to 3.
	Retries int

	// RetryInterval is the pause between those attempts. Defaults to 3s.
	RetryInterval time.Duration

	// MaxRateLimitInterval bounds the total time spent backing off on 429
	// responses within a single attempt. Backoff never exceeds this budget
	// even if that means fewer retries. Defaults to 60s.
	MaxRateLimitInterval time.Duration

	// RateLimitBackoff is the initial backoff on a 429 response; it doubles
	// until the budget runs out. Defaults to 1s.
	RateLimitBackoff time.Duration

	HTTPClient *http.Client

	// sleep is a test hook; nil means time.Sleep.
	sleep func(time.Duration)
}

// NewClient builds a Client with default retry settings.
func NewClient(creds HostCreds) *Client {
	return &Client{
		Creds:                creds,
		Retries:              3,
		RetryInterval:        3 * time.Second,
		MaxRateLimitInterval: 60 * time.Second,
		RateLimitBackoff:     time.Second,
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	if c.Creds.Insecure {
		return &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		}
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (c *Client) doSleep(d time.Duration) {
	if c.sleep != nil {
		c.sleep(d)
		return
	}
	time.Sleep(d)
}

func (c *Client) url(endpoint string) string {
	return strings.TrimSuffix(c.Creds.Host, "/") + endpoint
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(endpoint), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.Creds.Token != "":
		req.Header.Set("Authorization", "Bearer "+c.Creds.Token)
	case c.Creds.Username != "":
		basic := base64.StdEncoding.EncodeToString([]byte(c.Creds.Username + ":" + c.Creds.Password))
		req.Header.Set("Authorization", "Basic "+basic)
	}
	return req, nil
}

// requestWithRateLimitRetries performs one attempt, absorbing 429 responses
// with doubling backoff while the interval budget lasts.
func (c *Client) requestWithRateLimitRetries(ctx context.Context, method, endpoint string, body []byte) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, qerr.New(qerr.CodeNetwork, err)
	}

	timeLeft := c.MaxRateLimitInterval
	backoff := min(timeLeft, c.RateLimitBackoff)
	for resp.StatusCode == http.StatusTooManyRequests && timeLeft > 0 {
		resp.Body.Close()
		c.doSleep(backoff)
		timeLeft -= backoff
		backoff = min(timeLeft, 2*backoff)

		req, err = c.newRequest(ctx, method, endpoint, body)
		if err != nil {
			return nil, err
		}
		resp, err = c.httpClient().Do(req)
		if err != nil {
			return nil, qerr.New(qerr.CodeNetwork, err)
		}
	}
	return resp, nil
}

// Request issues an HTTP request under the full retry policy. Responses with
// status below 500 are returned as-is (including unresolved 429s once the
// rate-limit budget is spent); 5xx responses and transport errors are retried
// Retries times before escalating.
func (c *Client) Request(ctx context.Context, method, endpoint string, body []byte) (*http.Response, error) {
	var lastStatus int
	var lastErr error
	for i := 0; i < c.Retries; i++ {
		resp, err := c.requestWithRateLimitRetries(ctx, method, endpoint, body)
		if err != nil {
			lastErr = err
			lastStatus = 0
		} else if resp.StatusCode < http.StatusInternalServerError {
			return resp, nil
		} else {
			lastStatus = resp.StatusCode
			resp.Body.Close()
		}
		if i < c.Retries-1 {
			c.doSleep(c.RetryInterval)
		}
	}
	if lastErr != nil {
		return nil, qerr.Executionf("API request to %s failed after %d tries: %v", c.url(endpoint), c.Retries, lastErr)
	}
	return nil, qerr.Executionf("API request to %s failed to return code 200 after %d tries (last status %d)",
		c.url(endpoint), c.Retries, lastStatus)
}

// PostJSON marshals in, POSTs it, and decodes a 200 response into out (which
// may be nil). Non-200 responses become execution errors carrying the body.
func (c *Client) PostJSON(ctx context.Context, endpoint string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}
	resp, err := c.Request(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(resp.Body)
		return qerr.Executionf("API request to %s returned %d. Response body: '%s'",
			c.url(endpoint), resp.StatusCode, string(text))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
