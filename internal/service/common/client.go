//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oshokin/metadeploy/internal/config"
	"github.com/oshokin/metadeploy/internal/version"
)

const (
	contentTypeJSON = "application/json"
	contentTypeSOAP = "text/xml; charset=UTF-8"
	contentTypeForm = "application/x-www-form-urlencoded"

	// maxResponseSize caps how much of a response body is read into memory.
	maxResponseSize = 64 << 20
)

// Client wraps an HTTP client bound to one remote base URL with convenience helpers.
type Client struct {
	// httpClient performs the requests.
	httpClient *http.Client
	// baseURL is the scheme and host every request path is resolved against.
	baseURL string
	// accessToken is sent as a bearer token when set.
	accessToken string

	// callTimeout is the default timeout for individual calls.
	callTimeout time.Duration
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for service calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithAccessToken authenticates every request with the provided bearer token.
func WithAccessToken(token string) Option {
	return func(c *Client) {
		c.accessToken = token
	}
}

// Response is a fully read HTTP response.
type Response struct {
	// StatusCode is the HTTP status code.
	StatusCode int
	// Body is the response body.
	Body []byte
}

// IsSuccess reports whether the status code is in the 2xx range.
func (r *Response) IsSuccess() bool {
	return r != nil && r.StatusCode >= http.StatusOK && r.StatusCode < http.StatusMultipleChoices
}

// DecodeJSON unmarshals the response body into v.
func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

var (
	// errBaseURLRequired is returned when a required base URL value is missing.
	errBaseURLRequired = errors.New("base URL must be provided")
	// errBaseURLInvalid is returned when the base URL has no scheme or host.
	errBaseURLInvalid = errors.New("base URL must be absolute")
)

// NewClient creates a client sending requests to baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errBaseURLRequired
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("%w: %s", errBaseURLInvalid, baseURL)
	}

	client := &Client{
		httpClient:  http.DefaultClient,
		baseURL:     strings.TrimRight(baseURL, "/"),
		callTimeout: config.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// BaseURL returns the URL request paths are resolved against.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// AccessToken returns the bearer token of the client.
func (c *Client) AccessToken() string {
	return c.accessToken
}

// PostSOAP sends a SOAP envelope with the provided action.
func (c *Client) PostSOAP(ctx context.Context, path, action string, envelope []byte) (*Response, error) {
	header := http.Header{}
	header.Set("Content-Type", contentTypeSOAP)
	header.Set("SOAPAction", action)

	return c.do(ctx, http.MethodPost, path, header, bytes.NewReader(envelope))
}

// GetJSON performs a GET request expecting a JSON response.
func (c *Client) GetJSON(ctx context.Context, path string) (*Response, error) {
	header := http.Header{}
	header.Set("Accept", contentTypeJSON)

	return c.do(ctx, http.MethodGet, path, header, nil)
}

// PostJSON sends payload encoded as JSON.
func (c *Client) PostJSON(ctx context.Context, path string, payload any) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", contentTypeJSON)
	header.Set("Accept", contentTypeJSON)

	return c.do(ctx, http.MethodPost, path, header, bytes.NewReader(body))
}

// PostForm sends URL encoded form values.
func (c *Client) PostForm(ctx context.Context, path string, values url.Values) (*Response, error) {
	header := http.Header{}
	header.Set("Content-Type", contentTypeForm)
	header.Set("Accept", contentTypeJSON)

	return c.do(ctx, http.MethodPost, path, header, strings.NewReader(values.Encode()))
}

func (c *Client) do(
	ctx context.Context,
	method, path string,
	header http.Header,
	body io.Reader,
) (*Response, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	request, err := http.NewRequestWithContext(callCtx, method, c.baseURL+"/"+strings.TrimLeft(path, "/"), body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}

	for key, values := range header {
		for _, value := range values {
			request.Header.Add(key, value)
		}
	}

	request.Header.Set("User-Agent", version.UserAgent())

	if c.accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	contents, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read %s %s response: %w", method, path, err)
	}

	return &Response{
		StatusCode: response.StatusCode,
		Body:       contents,
	}, nil
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}
