package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"secsync/internal/config"
	"secsync/internal/models"

	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

// ErrMalformedItem marks items that cannot be turned into a request at all.
var ErrMalformedItem = errors.New("malformed sync item")

// StatusError is returned when the remote API answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// IsClientError reports whether err is a 4xx rejection from the remote API.
func IsClientError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500
}

// Client delivers sync items to the secretariat API.
type Client struct {
	baseURL    string
	healthPath string
	endpoints  map[models.TargetType]string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient builds a client from config. When OAuth is configured the
// underlying transport attaches client-credentials bearer tokens.
func NewClient(cfg config.RemoteConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	httpClient := &http.Client{Timeout: timeout}
	if cfg.OAuth.Enabled() {
		cc := &clientcredentials.Config{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			TokenURL:     cfg.OAuth.TokenURL,
			Scopes:       cfg.OAuth.Scopes,
		}
		httpClient = cc.Client(context.Background())
		httpClient.Timeout = timeout
	}

	endpoints := make(map[models.TargetType]string, len(cfg.Endpoints))
	for k, v := range cfg.Endpoints {
		endpoints[models.TargetType(k)] = v
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		healthPath: cfg.HealthPath,
		endpoints:  endpoints,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
	}
	if cfg.RateLimit.RPS > 0 {
		burst := cfg.RateLimit.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), burst)
	}
	return c
}

// Send writes the item's payload to the endpoint implied by its target type:
// create is POST <endpoint>, update is PUT <endpoint>/<payload id>.
func (c *Client) Send(ctx context.Context, item *models.SyncItem) error {
	method, endpoint, err := c.route(item)
	if err != nil {
		return err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(item.Payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Idempotency-Key", item.ID)
	c.addHeaders(req)

	return c.do(req)
}

// Ping checks that the remote API answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.healthPath, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	c.addHeaders(req)
	return c.do(req)
}

func (c *Client) route(item *models.SyncItem) (string, string, error) {
	path, ok := c.endpoints[item.TargetType]
	if !ok {
		return "", "", fmt.Errorf("%w: no endpoint for target %q", ErrMalformedItem, item.TargetType)
	}

	switch item.Operation {
	case models.OperationCreate:
		return http.MethodPost, c.baseURL + path, nil
	case models.OperationUpdate:
		id := item.EntityID()
		if id == "" {
			return "", "", fmt.Errorf("%w: update payload has no id", ErrMalformedItem)
		}
		return http.MethodPut, c.baseURL + path + "/" + url.PathEscape(id), nil
	default:
		return "", "", fmt.Errorf("%w: unknown operation %q", ErrMalformedItem, item.Operation)
	}
}

func (c *Client) do(req *http.Request) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) addHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
}
