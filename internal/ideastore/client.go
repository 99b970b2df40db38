// Package ideastore is the HTTP client for the external idea registry API.
// Every response envelope is normalized into a domain.Result so callers
// never see transport details.
package ideastore

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
	"strings"
	"time"

	"github.com/alanyoungcy/ideapool/internal/crypto"
	"github.com/alanyoungcy/ideapool/internal/domain"
	"golang.org/x/time/rate"
)

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, e.g. "http://localhost:3001/api".
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	RatePerSec float64
	MaxRetries int
	// Signer, when non-nil, adds HMAC request signature headers.
	Signer *crypto.RequestSigner
}

// Client implements domain.IdeaStore over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	maxRetries int
	signer     *crypto.RequestSigner
	limiter    *rate.Limiter
	httpClient *http.Client
	logger     *slog.Logger
	backoff    func(attempt int) time.Duration
}

var _ domain.IdeaStore = (*Client)(nil)

// New creates a Client.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		maxRetries: cfg.MaxRetries,
		signer:     cfg.Signer,
		limiter:    rate.NewLimiter(limit, 1),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With(slog.String("component", "ideastore")),
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt) * 250 * time.Millisecond
		},
	}
}

// envelope is the response shape of the idea store. Some endpoints omit
// success and return only data.
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

func (e envelope) failure() string {
	if e.Error != "" {
		return e.Error
	}
	return e.Message
}

// GetIdea fetches one idea.
func (c *Client) GetIdea(ctx context.Context, ideaID string) domain.Result[domain.Idea] {
	return call(ctx, c, http.MethodGet, "/projects/"+url.PathEscape(ideaID), nil, decodeIdea)
}

// CreateIdeaPool records the pool mapping for an idea.
func (c *Client) CreateIdeaPool(ctx context.Context, ideaID string, mapping domain.PoolMapping) domain.Result[domain.Idea] {
	return call(ctx, c, http.MethodPost, "/projects/"+url.PathEscape(ideaID)+"/create-pool", mapping, decodeIdea)
}

// GetIdeaMarketStats fetches the market statistics projection.
func (c *Client) GetIdeaMarketStats(ctx context.Context, ideaID string) domain.Result[domain.MarketStats] {
	return call(ctx, c, http.MethodGet, "/projects/"+url.PathEscape(ideaID)+"/market-stats", nil, decodeStats)
}

// FinalizeIdea records the final decision for an idea.
func (c *Client) FinalizeIdea(ctx context.Context, ideaID string, rec domain.FinalizeRecord) domain.Result[domain.Idea] {
	return call(ctx, c, http.MethodPost, "/admin/ideas/"+url.PathEscape(ideaID)+"/finalize", rec, decodeIdea)
}

// call performs a request and normalizes the outcome. Transport errors,
// non-2xx statuses and explicit success=false all become Fail; status
// failures keep their kind so a 404 still matches domain.ErrNotFound.
func call[T any](ctx context.Context, c *Client, method, path string, body any, decode func(json.RawMessage) (T, error)) domain.Result[T] {
	raw, err := c.do(ctx, method, path, body)
	if err != nil {
		c.logger.WarnContext(ctx, "idea store request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return domain.FailErr[T](err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.Fail[T](fmt.Sprintf("decode response: %v", err))
	}
	if env.Success != nil && !*env.Success {
		return domain.Fail[T](env.failure())
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		if msg := env.failure(); msg != "" && env.Success == nil {
			return domain.Fail[T](msg)
		}
		return domain.Fail[T]("empty response")
	}
	v, err := decode(env.Data)
	if err != nil {
		return domain.Fail[T](fmt.Sprintf("decode data: %v", err))
	}
	return domain.Ok(v)
}

// do sends the request, retrying 429 and 5xx responses. The returned body
// belongs to a 2xx response; for other statuses the error carries the
// store's message when it sent one.
func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff(attempt)):
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		status, respBody, err := c.send(ctx, method, path, payload)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, err
			}
			continue
		}
		if status >= 200 && status < 300 {
			return respBody, nil
		}
		lastErr = statusError(status, respBody)
		if status != http.StatusTooManyRequests && status < 500 {
			return nil, lastErr
		}
		c.logger.DebugContext(ctx, "retrying idea store request",
			slog.String("path", path),
			slog.Int("status", status),
			slog.Int("attempt", attempt+1),
		)
	}
	return nil, lastErr
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.signer != nil {
		for k, v := range c.signer.Headers(method, req.URL.Path, string(payload)) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func statusError(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var env envelope
	if json.Unmarshal(body, &env) == nil && env.failure() != "" {
		msg = env.failure()
	}
	var kind error
	switch status {
	case http.StatusNotFound:
		kind = domain.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = domain.ErrUnauthorized
	case http.StatusTooManyRequests:
		kind = domain.ErrRateLimited
	case http.StatusConflict:
		kind = domain.ErrAlreadyExists
	default:
		kind = errors.New(http.StatusText(status))
	}
	return fmt.Errorf("%w (HTTP %d): %s", kind, status, msg)
}
