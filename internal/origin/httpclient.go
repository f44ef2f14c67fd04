package origin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultTimeout bounds a single origin request when no timeout is configured.
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize caps origin response bodies (64MB).
	MaxResponseSize = 64 * 1024 * 1024

	// UserAgent identifies vatdefs to the origins.
	UserAgent = "vatdefs/1.0"
)

// HTTPError reports a non-200 origin response.
type HTTPError struct {
	StatusCode int
	Message    string
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for URL %s: %s", e.StatusCode, e.URL, e.Message)
}

// RequestOption mutates an outgoing request before it is sent.
type RequestOption func(*http.Request)

// WithHeader sets a request header.
func WithHeader(name, value string) RequestOption {
	return func(request *http.Request) {
		request.Header.Set(name, value)
	}
}

// WithBearerToken sets the Authorization header when token is non-empty.
func WithBearerToken(token string) RequestOption {
	return func(request *http.Request) {
		if token != "" {
			request.Header.Set("Authorization", "Bearer "+token)
		}
	}
}

// HTTPClient performs size-limited GET requests against the origins.
type HTTPClient struct {
	client *http.Client
}

// NewHTTPClient creates a client with the given timeout. Zero uses DefaultTimeout.
func NewHTTPClient(timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{client: &http.Client{Timeout: timeout}}
}

// Get performs an HTTP GET and returns the response body.
func (c *HTTPClient) Get(ctx context.Context, url string, options ...RequestOption) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	request.Header.Set("User-Agent", UserAgent)
	request.Header.Set("Accept", "application/json")
	for _, option := range options {
		option(request)
	}

	response, err := c.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: response.StatusCode, URL: url, Message: response.Status}
	}
	if response.ContentLength > MaxResponseSize {
		return nil, fmt.Errorf("response size %d bytes exceeds maximum allowed size of %d bytes", response.ContentLength, MaxResponseSize)
	}

	body, err := io.ReadAll(io.LimitReader(response.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response size exceeds maximum allowed size of %d bytes", MaxResponseSize)
	}
	return body, nil
}
