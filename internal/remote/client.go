// Package remote is the client for the document provider's HTTP API.
// Every call obtains its bearer token from the auth provider, so the client
// holds no credential state of its own.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/starford/loom/internal/apperr"
	"github.com/starford/loom/internal/auth"
	"github.com/starford/loom/internal/codec"
	"github.com/starford/loom/internal/models"
)

// Codec turns objects into document bodies and back.
type Codec interface {
	Encode(ctx context.Context, obj *models.Object) (string, error)
	Decode(body string) codec.Decoded
}

// Options configure a Client.
type Options struct {
	BaseURL    string
	RootFolder string
	// AssetURL is a format string with a single %s for the file id of an
	// uploaded asset.
	AssetURL   string
	HTTPClient *http.Client
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Logger     *slog.Logger
}

// Client talks to the document provider.
type Client struct {
	baseURL string
	auth    auth.Provider
	codec   Codec
	http    *http.Client
	opts    Options
	logger  *slog.Logger

	mu      sync.Mutex
	rootID  string
	folders map[string]string
}

// New creates a Client.
func New(p auth.Provider, c Codec, opts Options) *Client {
	opts.BaseURL = strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.RootFolder == "" {
		opts.RootFolder = "Loom"
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 200 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		baseURL: opts.BaseURL,
		auth:    p,
		codec:   c,
		http:    opts.HTTPClient,
		opts:    opts,
		logger:  opts.Logger,
		folders: make(map[string]string),
	}
}

type request struct {
	method      string
	path        string
	query       url.Values
	contentType string
	body        []byte
}

func jsonRequest(method, path string, v any) (request, error) {
	r := request{method: method, path: path}
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return r, err
		}
		r.body = b
		r.contentType = "application/json"
	}
	return r, nil
}

// call performs r with the current token. A 401 triggers exactly one token
// refresh and one retry; a second 401 surfaces as ErrAuthExpired.
func (c *Client) call(ctx context.Context, r request) ([]byte, error) {
	if c.auth.Offline() {
		return nil, apperr.ErrOffline
	}
	tok, err := c.auth.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("remote: access token: %w", err)
	}

	payload, err := c.send(ctx, r, tok)
	var he *HTTPError
	if !errors.As(err, &he) || he.StatusCode != http.StatusUnauthorized {
		return payload, err
	}

	c.logger.Info("remote: token rejected, refreshing", slog.String("path", r.path))
	tok, err = c.auth.RequestNewToken(ctx)
	if err != nil {
		return nil, errors.Join(apperr.ErrAuthExpired, fmt.Errorf("remote: refresh token: %w", err))
	}
	return c.send(ctx, r, tok)
}

func (c *Client) callJSON(ctx context.Context, r request, out any) error {
	payload, err := c.call(ctx, r)
	if err != nil {
		return err
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("remote: decode %s %s: %w", r.method, r.path, err)
	}
	return nil
}

// send retries 429, 5xx and transport errors with exponential backoff,
// honouring Retry-After.
func (c *Client) send(ctx context.Context, r request, token string) ([]byte, error) {
	target := c.baseURL + r.path
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}
	for attempt := 0; ; attempt++ {
		var body io.Reader
		if r.body != nil {
			body = bytes.NewReader(r.body)
		}
		req, err := http.NewRequestWithContext(ctx, r.method, target, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if r.contentType != "" {
			req.Header.Set("Content-Type", r.contentType)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt < c.opts.MaxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			return nil, unavailable(fmt.Errorf("remote: %s %s: %w", r.method, r.path, err))
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, unavailable(readErr)
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return payload, nil
		}

		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < c.opts.MaxRetries {
			c.logger.Debug("remote: retrying",
				slog.String("path", r.path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1))
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		var errPayload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Code,
			Message:    errPayload.Message,
		}
	}
}

func (c *Client) retryDelay(attempt int, retryAfter string) time.Duration {
	if d := parseRetryAfter(retryAfter); d > 0 {
		return min(d, c.opts.MaxDelay)
	}
	delay := c.opts.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.opts.MaxDelay {
			return c.opts.MaxDelay
		}
	}
	return min(delay, c.opts.MaxDelay)
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := http.ParseTime(header); err == nil {
		return max(time.Until(ts), 0)
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
