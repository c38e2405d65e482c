// Package client is a Go client for the installment API. Requests that fail
// on the network, with a 5xx or with 429 are retried with linear backoff;
// other errors come back at once as *APIError.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Dan9191/installment-service/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	DefaultAttempts   = 3
	DefaultRetryDelay = time.Second
)

// APIError is a non-success answer from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error %d", e.StatusCode)
	}
	return fmt.Sprintf("api error %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Retryable reports whether the request may succeed when sent again.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Client talks to one API server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
	attempts   int
	retryDelay time.Duration
	log        *logrus.Logger
}

// Option customizes a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithRetry sets the number of attempts and the base delay; attempt n waits
// n*delay before the next one.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(c *Client) {
		if attempts < 1 {
			attempts = 1
		}
		c.attempts = attempts
		c.retryDelay = delay
	}
}

func WithLogger(log *logrus.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New creates a client for baseURL, e.g. http://localhost:8080.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		attempts:   DefaultAttempts,
		retryDelay: DefaultRetryDelay,
		log:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token is the bearer token sent with every request.
func (c *Client) Token() string {
	return c.token
}

// Login exchanges credentials for a token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", body, nil, &resp); err != nil {
		return "", err
	}
	c.token = resp.Token
	return resp.Token, nil
}

// PaymentResult is the answer to ApplyPayment.
type PaymentResult struct {
	Customer models.Customer       `json:"customer"`
	Payment  models.PaymentOutcome `json:"payment"`
	Replayed bool                  `json:"replayed"`
}

// ApplyPayment posts a payment. Without an idempotency key one is generated,
// and the same key is sent on every attempt so a retried request is applied
// at most once.
func (c *Client) ApplyPayment(ctx context.Context, customerID int64, req models.PaymentRequest) (*PaymentResult, error) {
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}
	headers := http.Header{}
	headers.Set("Idempotency-Key", req.IdempotencyKey)

	var resp PaymentResult
	path := fmt.Sprintf("/api/customers/%d/payment", customerID)
	if err := c.do(ctx, http.MethodPost, path, req, headers, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Debtors lists one follow-up bucket; an empty bucket means all of them.
func (c *Client) Debtors(ctx context.Context, bucket string) ([]models.DebtorEntry, error) {
	path := "/api/customers/debtors"
	if bucket != "" {
		path += "?bucket=" + url.QueryEscape(bucket)
	}
	var resp struct {
		Customers []models.DebtorEntry `json:"customers"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Customers, nil
}

// Calculate previews a plan on the server.
func (c *Client) Calculate(ctx context.Context, req models.CalculatorRequest) (*models.CalculatorResult, error) {
	var resp models.CalculatorResult
	if err := c.do(ctx, http.MethodPost, "/api/calculator", req, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, headers http.Header, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			delay := time.Duration(attempt-1) * c.retryDelay
			c.log.WithFields(logrus.Fields{
				"method":  method,
				"path":    path,
				"attempt": attempt,
				"delay":   delay.String(),
			}).Warnf("Retrying request: %v", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := c.once(ctx, method, path, payload, headers, out)
		if err == nil {
			return nil
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("%s %s failed after %d attempts: %w", method, path, c.attempts, lastErr)
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, headers http.Header, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range headers {
		req.Header[k] = v
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope struct {
			Message   string `json:"message"`
			Code      string `json:"code"`
			RequestID string `json:"requestId"`
		}
		if json.Unmarshal(data, &envelope) == nil {
			apiErr.Message = envelope.Message
			apiErr.Code = envelope.Code
			apiErr.RequestID = envelope.RequestID
		}
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		if apiErr.Code == "" {
			apiErr.Code = strconv.Itoa(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
