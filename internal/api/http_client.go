package api

// http_client.go = REST calls the chat screen makes against the backend.

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
	"sync"
	"time"

	"counselchat/internal/chat"

	"golang.org/x/time/rate"
)

const (
	DefaultTimeout   = 5 * time.Second
	DefaultRateLimit = 10 // requests per second
	DefaultRateBurst = 20

	// GETs are retried on network errors and 5xx; sends never are
	DefaultMaxRetries = 2
	initialDelay      = 200 * time.Millisecond
	maxDelay          = 2 * time.Second
)

var (
	ErrUnauthenticated = errors.New("no auth token set")
	ErrUnsuccessful    = errors.New("backend reported failure")
)

// StatusError is returned for any non-2xx response
type StatusError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("request failed with status %s: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("request failed with status %s", e.Status)
}

// Options configures a Client
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	RateLimit  float64
	RateBurst  int
	MaxRetries int
	Logger     *slog.Logger
}

// Client talks to the chat REST endpoints with a bearer token
type Client struct {
	baseURL     string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	maxRetries  int
	logger      *slog.Logger

	mu    sync.RWMutex
	token string
}

// NewClient creates a client for the backend at opts.BaseURL
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = DefaultRateLimit
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = DefaultRateBurst
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:     opts.BaseURL,
		rateLimiter: rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
		maxRetries:  opts.MaxRetries,
		logger:      logger,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
	}
}

// SetToken sets the bearer token sent with every request
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// FetchMessages loads one page of a room's history, newest page first
func (c *Client) FetchMessages(ctx context.Context, roomID int64, page, limit int) (*chat.Page, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("limit", strconv.Itoa(limit))

	var result MessagesResponse
	path := fmt.Sprintf("/chat/rooms/%d/messages", roomID)
	if err := c.doRequest(ctx, http.MethodGet, path, params, nil, &result, true); err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	if !result.Success {
		return nil, fmt.Errorf("failed to fetch messages: %w: %s", ErrUnsuccessful, result.Error)
	}

	p := result.Data.Pagination
	return &chat.Page{
		Messages: result.Data.Message,
		Page:     p.Page,
		Limit:    p.Limit,
		Total:    p.Total,
		HasMore:  p.HasMore,
	}, nil
}

// FetchOlderMessages loads the page strictly before beforeID
func (c *Client) FetchOlderMessages(ctx context.Context, roomID, beforeID int64, limit int) (*chat.Page, error) {
	params := url.Values{}
	params.Set("before", strconv.FormatInt(beforeID, 10))
	params.Set("limit", strconv.Itoa(limit))

	var result OlderMessagesResponse
	path := fmt.Sprintf("/chat/%d/messages", roomID)
	if err := c.doRequest(ctx, http.MethodGet, path, params, nil, &result, true); err != nil {
		return nil, fmt.Errorf("failed to fetch older messages: %w", err)
	}

	return &chat.Page{
		Messages: result.Data,
		Limit:    limit,
		HasMore:  result.Pagination.HasMore,
	}, nil
}

// SendMessage posts a message; the returned id is permanent
func (c *Client) SendMessage(ctx context.Context, req chat.SendRequest) (*chat.WireMessage, error) {
	var result SendMessageResponse
	path := fmt.Sprintf("/chat/%d/messages", req.RoomID)
	if err := c.doRequest(ctx, http.MethodPost, path, nil, req, &result, false); err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	if !result.Success {
		return nil, fmt.Errorf("failed to send message: %w: %s", ErrUnsuccessful, result.Error)
	}
	return &result.Data, nil
}

// doRequest performs an HTTP request with rate limiting; idempotent
// requests are retried with exponential backoff.
func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, body, result any, retry bool) error {
	token := c.currentToken()
	if token == "" {
		return ErrUnauthenticated
	}

	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		payload = data
	}

	attempts := 1
	if retry {
		attempts += c.maxRetries
	}

	var lastErr error
	delay := initialDelay
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			c.logger.Debug("http_retry", "method", method, "path", path, "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		}

		if err := c.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter error: %w", err)
		}

		lastErr = c.once(ctx, method, fullURL, token, payload, result)
		if lastErr == nil || !retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, method, fullURL, token string, payload []byte, result any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() // Ensure the response body is closed

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
		var body ErrorResponse
		if json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body) == nil {
			statusErr.Message = body.Error
			if statusErr.Message == "" {
				statusErr.Message = body.Message
			}
		}
		return statusErr
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}
	// decode failures come back wrapped; transport errors are worth a retry
	var urlErr *url.Error
	return errors.As(err, &urlErr) && !urlErr.Timeout()
}

var _ chat.API = (*Client)(nil)
