package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync/atomic"
	"time"
)

const (
	// DefaultPageSize is the number of records requested per page.
	DefaultPageSize = 100

	// DefaultInterPageDelay is the fixed pause between consecutive page
	// fetches. The remote service enforces informal rate limits even
	// below the 429 threshold, so pagination is deliberately paced.
	DefaultInterPageDelay = 500 * time.Millisecond
)

// ListOptions controls a single page fetch of the conversations listing.
//
// StartDate is inclusive and EndDate exclusive, both YYYY-MM-DD. Server-side
// date filtering is always preferred over client-side filtering because it
// bounds the number of pages the sync engine has to walk.
type ListOptions struct {
	Limit     int
	Offset    int
	StartDate string
	EndDate   string
}

// Window bounds a paginated fetch by date. Either side may be empty.
type Window struct {
	StartDate string // inclusive, YYYY-MM-DD
	EndDate   string // exclusive, YYYY-MM-DD
}

// Client is a rate-limited client for the remote conversation API.
//
// All calls are strictly sequential: the client never issues concurrent
// requests, and paginated fetches pause between pages. HTTP 429 responses
// are retried with exponential backoff (honoring Retry-After); every other
// HTTP or transport error propagates immediately with no retry.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	backoff    backoffPolicy
	pageDelay  time.Duration
	logger     *log.Logger

	// requests counts every HTTP attempt, success or failure. Exposed
	// for run telemetry via RequestCount.
	requests atomic.Int64

	// sleep is replaceable in tests so backoff behavior can be observed
	// without waiting on real timers.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the client logger. If never set, a stderr logger is used.
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithInterPageDelay overrides the pause between page fetches.
// Used by tests; production callers should keep the default.
func WithInterPageDelay(d time.Duration) Option {
	return func(c *Client) { c.pageDelay = d }
}

// WithBackoff overrides the 429 retry policy.
func WithBackoff(base time.Duration, maxRetries int) Option {
	return func(c *Client) {
		c.backoff = backoffPolicy{Base: base, MaxRetries: maxRetries}
	}
}

// NewClient creates a Client for the given API base URL and bearer token.
//
// Example:
//
//	client := api.NewClient("https://api.example.com/v1", cfg.APIKey)
//	records, err := client.ListConversations(ctx, api.ListOptions{Limit: 100})
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		backoff:    defaultBackoff(),
		pageDelay:  DefaultInterPageDelay,
		logger:     log.New(os.Stderr, "[api] ", log.LstdFlags),
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestCount returns the number of HTTP attempts issued so far.
func (c *Client) RequestCount() int64 {
	return c.requests.Load()
}

// ListConversations fetches a single page of the conversations listing.
//
// The server returns records newest-first. A page shorter than opts.Limit
// signals end-of-stream to paginating callers.
func (c *Client) ListConversations(ctx context.Context, opts ListOptions) ([]ConversationRecord, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultPageSize
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(opts.Limit))
	query.Set("offset", strconv.Itoa(opts.Offset))
	if opts.StartDate != "" {
		query.Set("start_date", opts.StartDate)
	}
	if opts.EndDate != "" {
		query.Set("end_date", opts.EndDate)
	}

	var records []ConversationRecord
	if err := c.do(ctx, http.MethodGet, "/conversations?"+query.Encode(), nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// GetAllConversations walks the full conversations listing for a date
// window and returns every record, paced by the inter-page delay.
// Pagination stops on the first page shorter than the page size.
func (c *Client) GetAllConversations(ctx context.Context, window Window) ([]ConversationRecord, error) {
	var all []ConversationRecord
	err := c.ForEachPage(ctx, window, func(page []ConversationRecord) (bool, error) {
		all = append(all, page...)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return all, nil
}

// PageFunc receives one page of records. Returning false stops pagination
// without error.
type PageFunc func(page []ConversationRecord) (bool, error)

// ForEachPage fetches the listing page by page, invoking fn for each page.
//
// Pages are fetched strictly sequentially with the configured inter-page
// delay between them. Cancellation is checked before each page request, so
// an in-flight request is never interrupted mid-read.
func (c *Client) ForEachPage(ctx context.Context, window Window, fn PageFunc) error {
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := c.ListConversations(ctx, ListOptions{
			Limit:     DefaultPageSize,
			Offset:    offset,
			StartDate: window.StartDate,
			EndDate:   window.EndDate,
		})
		if err != nil {
			return err
		}

		if len(page) > 0 {
			cont, err := fn(page)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}

		// Short page means end of stream.
		if len(page) < DefaultPageSize {
			return nil
		}

		offset += DefaultPageSize
		if err := c.sleep(ctx, c.pageDelay); err != nil {
			return err
		}
	}
}

// Mutate issues a write call (POST, PATCH, DELETE) against the remote API
// and decodes the response into out when out is non-nil.
//
// This is the direct-write path for action items and memories. Writes are
// sent immediately and never queued; they share the client's backoff and
// request accounting with the read path.
func (c *Client) Mutate(ctx context.Context, method, endpoint string, body, out any) error {
	return c.do(ctx, method, endpoint, body, out)
}

// do executes one HTTP call with 429 backoff and JSON decoding.
func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	for retries := 0; ; retries++ {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		c.requests.Add(1)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := resp.Header.Get("Retry-After")
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()

			if retries >= c.backoff.MaxRetries {
				return fmt.Errorf("%s %s: %w after %d retries", method, endpoint, ErrRateLimited, retries)
			}

			delay := c.backoff.Delay(retries, retryAfter, time.Now())
			c.logger.Printf("Rate limited on %s %s, retrying in %v (attempt %d/%d)",
				method, endpoint, delay, retries+1, c.backoff.MaxRetries)

			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
			continue
		}

		if resp.StatusCode >= 400 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			_ = resp.Body.Close()
			return &StatusError{
				StatusCode: resp.StatusCode,
				Status:     resp.Status,
				Body:       string(bytes.TrimSpace(snippet)),
			}
		}

		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			return nil
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		_ = resp.Body.Close()
		if err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}
}

// sleepContext waits for d or until ctx is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
