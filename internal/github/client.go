// internal/github/client.go
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	custom_errors "repo-catalog/internal/errors"
	"repo-catalog/internal/model"
)

const (
	// Attempts per request for transport errors and 5xx responses.
	maxRetries = 3

	defaultTimeout = 30 * time.Second
	maxBodySize    = 32 << 20
)

// retryDelay is a variable so tests can shorten it.
var retryDelay = 500 * time.Millisecond

// Response is the outcome of a single GET: status, pagination hints and raw body.
// Non-2xx statuses are reported here rather than as errors.
type Response struct {
	StatusCode int
	LastPage   int
	NextPage   int
	Body       []byte
	// RateLimited is set when the status was caused by a primary or secondary rate
	// limit rather than by the resource itself.
	RateLimited bool
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client is a wrapper around the go-github client plus a plain client for web pages.
type Client struct {
	gh       *github.Client
	web      *http.Client
	logger   *slog.Logger
	hasToken bool
}

// NewClient creates and configures a new Client instance.
// The provided token is used to create an authenticated http.Client.
func NewClient(token string, logger *slog.Logger) *Client {
	httpClient := &http.Client{Timeout: defaultTimeout}
	if token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		httpClient = oauth2.NewClient(ctx, ts)
		httpClient.Timeout = defaultTimeout
	}

	return &Client{
		gh:       github.NewClient(httpClient),
		web:      &http.Client{Timeout: defaultTimeout},
		logger:   logger,
		hasToken: token != "",
	}
}

// WithEnterpriseURL points the API client at a GitHub Enterprise (or test) server.
func (c *Client) WithEnterpriseURL(baseURL string) error {
	gh, err := c.gh.WithEnterpriseURLs(baseURL, baseURL)
	if err != nil {
		return err
	}
	c.gh = gh
	return nil
}

// HasCredentials reports whether an API token was configured.
func (c *Client) HasCredentials() bool {
	return c.hasToken
}

// Fetch issues an authenticated GET against the API. Relative URLs resolve against the
// API base URL. Pagination values are parsed from the Link header.
func (c *Client) Fetch(ctx context.Context, url string, header http.Header) (*Response, error) {
	return c.withRetry(ctx, url, func() (*Response, error) {
		req, err := c.gh.NewRequest(http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		for k, v := range header {
			req.Header[k] = v
		}

		var buf bytes.Buffer
		resp, err := c.gh.Do(ctx, req, &buf)
		if resp != nil && resp.Response != nil {
			// go-github reports non-2xx as errors; here the status is the result.
			return &Response{
				StatusCode:  resp.StatusCode,
				LastPage:    resp.LastPage,
				NextPage:    resp.NextPage,
				Body:        buf.Bytes(),
				RateLimited: isRateLimited(resp.Response, err),
			}, nil
		}
		return nil, err
	})
}

// isRateLimited covers go-github's own pre-request check, which answers 403 without
// sending anything, as well as limits reported by the server.
func isRateLimited(resp *http.Response, err error) bool {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return true
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return true
	case http.StatusForbidden:
		return resp.Header.Get("X-RateLimit-Remaining") == "0" || resp.Header.Get("Retry-After") != ""
	}
	return false
}

// FetchPage issues an unauthenticated GET for a web (HTML) page.
func (c *Client) FetchPage(ctx context.Context, url string, header http.Header) (*Response, error) {
	return c.withRetry(ctx, url, func() (*Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		for k, v := range header {
			req.Header[k] = v
		}
		resp, err := c.web.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return nil, err
		}
		return &Response{StatusCode: resp.StatusCode, Body: body}, nil
	})
}

// withRetry retries transport errors and 5xx responses up to maxRetries attempts.
func (c *Client) withRetry(ctx context.Context, url string, do func() (*Response, error)) (*Response, error) {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		resp, err := do()
		if err == nil && (resp.StatusCode < 500 || attempt == maxRetries) {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			lastErr = err
			c.logger.Warn("Request failed, retrying", "url", url, "attempt", attempt, "error", err)
		} else {
			c.logger.Warn("Server error, retrying", "url", url, "attempt", attempt, "status", resp.StatusCode)
		}
		if attempt == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay * time.Duration(attempt)):
		}
	}
	return nil, &custom_errors.TransportError{URL: url, Err: lastErr}
}

type rateLimitResponse struct {
	Resources map[string]struct {
		Limit     int   `json:"limit"`
		Remaining int   `json:"remaining"`
		Reset     int64 `json:"reset"`
	} `json:"resources"`
}

// Quotas reads every resource reported by the rate_limit endpoint.
func (c *Client) Quotas(ctx context.Context) ([]model.Quota, error) {
	resp, err := c.Fetch(ctx, "rate_limit", nil)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("rate_limit: unexpected status %d", resp.StatusCode)
	}

	var rl rateLimitResponse
	if err := json.Unmarshal(resp.Body, &rl); err != nil {
		return nil, &custom_errors.DecodeError{What: "rate_limit response", Err: err}
	}
	quotas := make([]model.Quota, 0, len(rl.Resources))
	for name, r := range rl.Resources {
		quotas = append(quotas, model.Quota{
			Resource:  name,
			Limit:     r.Limit,
			Remaining: r.Remaining,
			Reset:     time.Unix(r.Reset, 0),
		})
	}
	return quotas, nil
}

// AuthenticatedUser returns the login of the token's owner.
func (c *Client) AuthenticatedUser(ctx context.Context) (string, error) {
	if !c.hasToken {
		return "", custom_errors.ErrMissingCredentials
	}
	user, _, err := c.gh.Users.Get(ctx, "")
	if err != nil {
		return "", err
	}
	return user.GetLogin(), nil
}
