package auth

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
)

// ErrInvalidCredentials is returned when the identity provider rejects an
// email/password pair or a revoked token.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// DefaultSessionTTL is assumed when the provider omits expires_in.
const DefaultSessionTTL = time.Hour

// ClientOptions configures the GoTrue client.
type ClientOptions struct {
	// BaseURL is the Supabase project URL, e.g. https://xyz.supabase.co.
	BaseURL string

	// APIKey is the project's anon key, sent as the apikey header.
	APIKey string

	// Timeout per request. Defaults to 10s.
	Timeout time.Duration

	// SessionTTL is assumed when a token response omits expires_in.
	SessionTTL time.Duration

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time

	Logger zerolog.Logger
}

// Client talks to the GoTrue endpoints of a Supabase project.
type Client struct {
	baseURL    string
	apiKey     string
	http       *http.Client
	sessionTTL time.Duration
	clock      func() time.Time
	log        zerolog.Logger
}

// NewClient builds a GoTrue client from opts.
func NewClient(opts ClientOptions) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("auth: base URL is required")
	}
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("auth: API key is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ttl := opts.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     opts.APIKey,
		http:       &http.Client{Timeout: timeout},
		sessionTTL: ttl,
		clock:      clock,
		log:        opts.Logger.With().Str("component", "auth").Logger(),
	}, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	User         struct {
		ID string `json:"id"`
	} `json:"user"`
}

// SignIn exchanges email and password for a session.
func (c *Client) SignIn(ctx context.Context, email, password string) (Session, error) {
	body := map[string]string{"email": email, "password": password}
	var tok tokenResponse
	if err := c.post(ctx, "/auth/v1/token?grant_type=password", "", body, &tok); err != nil {
		return Session{}, err
	}
	return c.session(tok), nil
}

// Refresh exchanges a refresh token for a fresh session.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	body := map[string]string{"refresh_token": refreshToken}
	var tok tokenResponse
	if err := c.post(ctx, "/auth/v1/token?grant_type=refresh_token", "", body, &tok); err != nil {
		return Session{}, err
	}
	return c.session(tok), nil
}

// SignOut revokes the session server side.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	return c.post(ctx, "/auth/v1/logout", accessToken, nil, nil)
}

func (c *Client) session(tok tokenResponse) Session {
	ttl := c.sessionTTL
	if tok.ExpiresIn > 0 {
		ttl = time.Duration(tok.ExpiresIn) * time.Second
	}
	return Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		UserID:       tok.User.ID,
		ExpiresAt:    c.clock().Add(ttl),
	}
}

func (c *Client) post(ctx context.Context, path, bearer string, body, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode auth request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("build auth request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("auth request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusOK || res.StatusCode == http.StatusNoContent {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return fmt.Errorf("decode auth response: %w", err)
		}
		return nil
	}

	detail := readErrorDetail(res.Body)
	if res.StatusCode == http.StatusBadRequest || res.StatusCode == http.StatusUnauthorized {
		if detail != "" {
			return fmt.Errorf("%w: %s", ErrInvalidCredentials, detail)
		}
		return ErrInvalidCredentials
	}
	if detail == "" {
		detail = res.Status
	}
	return fmt.Errorf("auth request failed (%d): %s", res.StatusCode, detail)
}

// readErrorDetail extracts the human-readable message from a GoTrue error
// body, which uses error_description for token grants and msg elsewhere.
func readErrorDetail(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var payload struct {
		ErrorDescription string `json:"error_description"`
		Msg              string `json:"msg"`
		Error            string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	switch {
	case payload.ErrorDescription != "":
		return payload.ErrorDescription
	case payload.Msg != "":
		return payload.Msg
	default:
		return payload.Error
	}
}
