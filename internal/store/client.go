// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

/*
Package store is the HTTP client of the Change Record Store API.

	GET  /sync?last_sync=<RFC3339>   changes newer than the cursor
	POST /mark_synced {ids}          acknowledge consumed records
	GET  /sync_stats                 pending count and newest change
	POST /clean_old_sync?dias=N      retention housekeeping

Client talks HTTP directly; BreakerClient wraps any API with a circuit
breaker so a dead store fails fast instead of tying up every poll for the
full timeout.
*/
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/syncrelay/internal/models"
)

// API is the set of store operations the agents use.
type API interface {
	Changes(ctx context.Context, since time.Time) (*models.SyncResponse, error)
	MarkSynced(ctx context.Context, ids []int64) error
	Stats(ctx context.Context) (*models.SyncStats, error)
	CleanOld(ctx context.Context, days int) (string, error)
}

var _ API = (*Client)(nil)

var (
	// ErrStatus matches any *StatusError.
	ErrStatus = errors.New("unexpected status")

	// ErrDecode wraps malformed response bodies.
	ErrDecode = errors.New("decode response")

	// ErrRejected is returned when the store answers success=false.
	ErrRejected = errors.New("store rejected request")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("store returned status %d", e.Code)
	}
	return fmt.Sprintf("store returned status %d: %s", e.Code, e.Body)
}

// Is makes errors.Is(err, ErrStatus) match.
func (e *StatusError) Is(target error) bool {
	return target == ErrStatus
}

// maxErrorBody bounds how much of an error body is kept.
const maxErrorBody = 512

// Client talks to the store over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit caps outbound requests per second. Zero or less disables.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewClient creates a store client for baseURL, e.g. http://host/api.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Changes fetches every change recorded after since.
func (c *Client) Changes(ctx context.Context, since time.Time) (*models.SyncResponse, error) {
	q := url.Values{}
	q.Set("last_sync", models.NewTimestamp(since).String())

	var resp models.SyncResponse
	if err := c.do(ctx, http.MethodGet, "/sync?"+q.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch changes: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("fetch changes: %w: %s", ErrRejected, firstNonEmpty(resp.Error, resp.Message))
	}
	return &resp, nil
}

// MarkSynced flags ids as consumed on the store.
func (c *Client) MarkSynced(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	var resp models.AckResponse
	if err := c.do(ctx, http.MethodPost, "/mark_synced", models.MarkSyncedRequest{IDs: ids}, &resp); err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("mark synced: %w: %s", ErrRejected, firstNonEmpty(resp.Error, resp.Message))
	}
	return nil
}

// Stats returns the change log summary.
func (c *Client) Stats(ctx context.Context) (*models.SyncStats, error) {
	var resp models.SyncStatsResponse
	if err := c.do(ctx, http.MethodGet, "/sync_stats", nil, &resp); err != nil {
		return nil, fmt.Errorf("sync stats: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("sync stats: %w: %s", ErrRejected, resp.Error)
	}
	return &resp.Stats, nil
}

// CleanOld asks the store to purge consumed records older than days and
// returns its message.
func (c *Client) CleanOld(ctx context.Context, days int) (string, error) {
	if days < 1 {
		return "", fmt.Errorf("clean old sync: days must be positive, got %d", days)
	}
	var resp models.AckResponse
	if err := c.do(ctx, http.MethodPost, "/clean_old_sync?dias="+strconv.Itoa(days), nil, &resp); err != nil {
		return "", fmt.Errorf("clean old sync: %w", err)
	}
	if !resp.Success {
		return "", fmt.Errorf("clean old sync: %w: %s", ErrRejected, firstNonEmpty(resp.Error, resp.Message))
	}
	return resp.Message, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	reqBody := io.Reader(http.NoBody)
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return "no message"
}
