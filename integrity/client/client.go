package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/integritydesk/integrity-assistant/integrity/snapshot"
)

// Sentinel errors surfaced to the user as-is.
var (
	// ErrSessionExpired is returned when the backend rejects the token.
	ErrSessionExpired = errors.New("session expired, please log in again")

	// ErrQuotaExceeded is returned when the daily query allowance is spent.
	ErrQuotaExceeded = errors.New("daily query limit reached (100 queries/day), resets at midnight UTC")

	// ErrEmptyQuery rejects blank queries before any network call.
	ErrEmptyQuery = errors.New("query must not be empty")
)

// TokenSource supplies a bearer token for API calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to the TokenSource interface.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// Options configures the backend client.
type Options struct {
	// BaseURL of the assistant backend. Required.
	BaseURL string

	// Tokens supplies bearer tokens. Required.
	Tokens TokenSource

	// QueryTimeout bounds POST /api/query. Defaults to 30s.
	QueryTimeout time.Duration

	// QuotaTimeout bounds GET /api/quota. Defaults to 10s.
	QuotaTimeout time.Duration

	Logger zerolog.Logger
}

// Client submits assistant queries to the backend API.
type Client struct {
	baseURL string
	tokens  TokenSource
	query   *http.Client
	quota   *http.Client
	log     zerolog.Logger
}

// New builds a Client from opts.
func New(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("client: base URL is required")
	}
	if opts.Tokens == nil {
		return nil, errors.New("client: token source is required")
	}
	queryTimeout := opts.QueryTimeout
	if queryTimeout <= 0 {
		queryTimeout = 30 * time.Second
	}
	quotaTimeout := opts.QuotaTimeout
	if quotaTimeout <= 0 {
		quotaTimeout = 10 * time.Second
	}

	return &Client{
		baseURL: baseURL,
		tokens:  opts.Tokens,
		query:   &http.Client{Timeout: queryTimeout},
		quota:   &http.Client{Timeout: quotaTimeout},
		log:     opts.Logger.With().Str("component", "client").Logger(),
	}, nil
}

// Answer is the backend's reply to one query.
type Answer struct {
	Response string

	// Status is the HTTP status of the exchange, zero when no response
	// was received.
	Status int
}

// Submit sends snap to the backend and returns the assistant's answer. The
// payload is validated against the wire schema before it leaves the
// process.
func (c *Client) Submit(ctx context.Context, snap snapshot.Snapshot) (Answer, error) {
	if strings.TrimSpace(snap.UserQuery) == "" {
		return Answer{}, ErrEmptyQuery
	}

	data, err := json.Marshal(buildPayload(snap))
	if err != nil {
		return Answer{}, fmt.Errorf("encode query payload: %w", err)
	}
	if err := validatePayload(data); err != nil {
		return Answer{}, fmt.Errorf("outgoing payload rejected: %w", err)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return Answer{}, fmt.Errorf("acquire token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/query", bytes.NewReader(data))
	if err != nil {
		return Answer{}, fmt.Errorf("build query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	started := time.Now()
	res, err := c.query.Do(req)
	if err != nil {
		return Answer{}, fmt.Errorf("submit query: %w", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		var body struct {
			Response string `json:"response"`
		}
		if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
			return Answer{Status: res.StatusCode}, fmt.Errorf("decode query response: %w", err)
		}
		c.log.Debug().
			Dur("latency", time.Since(started)).
			Int("screen_entries", len(snap.ScreenTexts)).
			Int("keystroke_entries", len(snap.RecentKeystrokes)).
			Msg("query answered")
		return Answer{Response: body.Response, Status: res.StatusCode}, nil

	case http.StatusUnauthorized:
		return Answer{Status: res.StatusCode}, ErrSessionExpired

	case http.StatusTooManyRequests:
		return Answer{Status: res.StatusCode}, ErrQuotaExceeded

	default:
		detail := readBody(res.Body)
		return Answer{Status: res.StatusCode}, fmt.Errorf("server error (%d): %s", res.StatusCode, detail)
	}
}

// Quota reports daily query usage.
type Quota struct {
	Used  int `json:"used"`
	Limit int `json:"limit"`
}

// Quota fetches the caller's daily usage from the backend.
func (c *Client) Quota(ctx context.Context) (Quota, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return Quota{}, fmt.Errorf("acquire token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/quota", nil)
	if err != nil {
		return Quota{}, fmt.Errorf("build quota request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := c.quota.Do(req)
	if err != nil {
		return Quota{}, fmt.Errorf("fetch quota: %w", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		var quota Quota
		if err := json.NewDecoder(res.Body).Decode(&quota); err != nil {
			return Quota{}, fmt.Errorf("decode quota response: %w", err)
		}
		return quota, nil

	case http.StatusUnauthorized:
		return Quota{}, ErrSessionExpired

	default:
		detail := readBody(res.Body)
		return Quota{}, fmt.Errorf("server error (%d): %s", res.StatusCode, detail)
	}
}

func readBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
