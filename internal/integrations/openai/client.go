// Package openai is the gateway to the generative-language provider. It
// makes exactly one chat-completion attempt per call and tracks provider
// availability as a small state machine: unconfigured (no credential),
// available, or quota-exceeded with a fixed cool-down. Retry policy belongs
// to the caller, not here.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"farm-advisory-agent/internal/domain"
)

// quotaCoolDown is how long the gateway assumes the provider is rate-limited
// after a 429 before attempting another call.
const quotaCoolDown = 5 * time.Minute

var (
	// ErrUnconfigured means no API credential is present; no network call
	// was made.
	ErrUnconfigured = errors.New("openai: provider not configured")
	// ErrQuotaExceeded means a prior call hit the provider's rate limit and
	// the cool-down has not elapsed; no network call was made.
	ErrQuotaExceeded = errors.New("openai: provider quota exceeded")
)

// chatRequest is the minimal request shape for the chat-completion endpoint.
type chatRequest struct {
	Model       string                 `json:"model"`
	Messages    []domain.PromptMessage `json:"messages"`
	Temperature *float64               `json:"temperature,omitempty"`
}

// chatResponse is the minimal response shape returned by the endpoint.
type chatResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Choices []struct {
		Index   int                  `json:"index"`
		Message domain.PromptMessage `json:"message"`
	} `json:"choices"`
}

// tokenPayload is the expected JSON shape stored in the parameter store for
// the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

// Getter abstracts the credential source so this package does not depend on
// the concrete paramstore client.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is the provider gateway.
type Client struct {
	baseURL     string
	model       string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string
	now         func() time.Time

	mu            sync.Mutex
	keyLoaded     bool
	apiKey        string
	quotaExceeded bool
	quotaResetAt  time.Time
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

// WithClock overrides the wall clock, used by tests to step through the
// quota cool-down.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a gateway backed by the given credential source. The key
// is fetched on the first call; a missing or empty credential marks the
// gateway unconfigured rather than failing construction, so the advisory
// engine still works offline.
func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("openai: credential getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("openai: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     "https://api.openai.com/v1",
		model:       "gpt-4o-mini",
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Status reports the gateway's current availability. Reading the status also
// performs the lazy QuotaExceeded -> Available transition once the cool-down
// has elapsed.
func (c *Client) Status() domain.ProviderStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireQuotaLocked()

	st := domain.ProviderStatus{
		// Until the first call resolves the key we report configured; the
		// first Ask corrects this.
		Configured:    !c.keyLoaded || c.apiKey != "",
		QuotaExceeded: c.quotaExceeded,
	}
	if c.quotaExceeded {
		t := c.quotaResetAt
		st.QuotaResetAt = &t
	}
	return st
}

// Ask sends one chat-completion request and returns the completion text.
// Short-circuits with ErrUnconfigured or ErrQuotaExceeded without touching
// the network. A 429 response transitions the gateway to QuotaExceeded; any
// other failure leaves the state untouched so transient errors do not poison
// future attempts.
func (c *Client) Ask(ctx context.Context, messages []domain.PromptMessage) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("openai: messages must not be empty")
	}

	apiKey, err := c.checkAvailable(ctx)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("openai: marshal request: %w", err)
	}

	url := chatURL(c.baseURL)

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if reqErr != nil {
		return "", fmt.Errorf("openai: create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusTooManyRequests {
			c.enterQuotaCoolDown()
			return "", fmt.Errorf("openai: rate limited: %w", err)
		}
		return "", fmt.Errorf("openai: request failed: %w", err)
	}

	var payload chatResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return "", fmt.Errorf("openai: decode response: %w", decErr)
	}
	if len(payload.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}
	return payload.Choices[0].Message.Content, nil
}

// checkAvailable resolves the credential and enforces the state machine:
// unconfigured and cooling-down states short-circuit before any network I/O.
func (c *Client) checkAvailable(ctx context.Context) (string, error) {
	key, err := c.resolveAPIKey(ctx)
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", ErrUnconfigured
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireQuotaLocked()
	if c.quotaExceeded {
		return "", fmt.Errorf("%w until %s", ErrQuotaExceeded, c.quotaResetAt.Format(time.RFC3339))
	}
	return key, nil
}

// resolveAPIKey fetches the credential on first use. A missing parameter or
// empty token is remembered as "unconfigured"; a transport error to the
// parameter store is returned without caching so the next call retries.
func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.keyLoaded {
		key := c.apiKey
		c.mu.Unlock()
		return key, nil
	}
	c.mu.Unlock()

	raw, err := c.getter.GetParameter(ctx, c.tokenParameterName())
	if err != nil {
		if isNotFound(err) {
			c.storeKey("")
			return "", nil
		}
		return "", fmt.Errorf("openai: fetch token: %w", err)
	}

	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("openai: unmarshal token value as JSON: %w", err)
	}
	key := strings.TrimSpace(tp.Token)
	c.storeKey(key)
	return key, nil
}

func (c *Client) storeKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = key
	c.keyLoaded = true
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/provider-token"
}

func (c *Client) enterQuotaCoolDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotaExceeded = true
	c.quotaResetAt = c.now().Add(quotaCoolDown)
}

// expireQuotaLocked transitions QuotaExceeded back to Available once the
// cool-down has elapsed. Caller must hold c.mu.
func (c *Client) expireQuotaLocked() {
	if c.quotaExceeded && !c.now().Before(c.quotaResetAt) {
		c.quotaExceeded = false
		c.quotaResetAt = time.Time{}
	}
}

func chatURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	if strings.HasSuffix(base, "/v1") {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

// notFounder matches the parameter store's typed not-found error without
// importing the AWS SDK here.
type notFounder interface {
	NotFound() bool
}

func isNotFound(err error) bool {
	var nf notFounder
	return errors.As(err, &nf) && nf.NotFound()
}
