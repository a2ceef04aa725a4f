//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/thelightscope/lightscope-updater/internal/config"
	"github.com/thelightscope/lightscope-updater/internal/domain/release"
)

// Client wraps an HTTP client for the update distribution endpoints with
// transport-security enforcement, per-call timeouts and bounded retries.
type Client struct {
	// httpClient performs the actual requests.
	httpClient *http.Client

	// callTimeout bounds one fetch including all retry attempts.
	callTimeout time.Duration

	// maxRetries bounds retry attempts for transient failures within a call.
	maxRetries uint64

	// allowedSchemes restricts which URL schemes the client will touch.
	allowedSchemes map[string]struct{}
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for endpoint fetches.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithHTTPClient substitutes the underlying HTTP client. Tests inject the
// client of an httptest TLS server so its certificate is trusted.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithMaxRetries overrides how many times a transient failure is retried
// within a single call.
func WithMaxRetries(retries uint64) Option {
	return func(c *Client) {
		c.maxRetries = retries
	}
}

var (
	// ErrInsecureTransport is returned before any I/O when an endpoint URL
	// does not use an encrypted scheme. Plaintext is a hard failure, not a
	// fallback path.
	ErrInsecureTransport = errors.New("insecure transport")

	// errBadHTTPStatus is returned for non-200 endpoint responses.
	errBadHTTPStatus = errors.New("unexpected http status")
)

const (
	// defaultMaxRetries bounds transient-failure retries within one call.
	defaultMaxRetries = 2

	// initialRetryInterval seeds the exponential backoff between attempts.
	initialRetryInterval = 500 * time.Millisecond

	// maxResponseBytes caps endpoint responses to keep a misbehaving server
	// from exhausting memory. Artifacts are a few hundred KB; 64 MiB is
	// far above any legitimate payload.
	maxResponseBytes = 64 << 20
)

// NewClient creates a distribution-endpoint client.
func NewClient(opts ...Option) *Client {
	client := &Client{
		httpClient:  http.DefaultClient,
		callTimeout: config.DefaultTimeout,
		maxRetries:  defaultMaxRetries,
		allowedSchemes: map[string]struct{}{
			"https": {},
		},
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// FetchManifest downloads and decodes the version endpoint.
func (c *Client) FetchManifest(ctx context.Context, manifestURL string) (*release.Manifest, error) {
	body, err := c.FetchBytes(ctx, manifestURL)
	if err != nil {
		return nil, err
	}

	var manifest release.Manifest
	if err = json.Unmarshal(body, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	if err = manifest.Validate(); err != nil {
		return nil, err
	}

	return &manifest, nil
}

// FetchBytes downloads raw bytes from an endpoint, retrying transient
// failures with exponential backoff inside the call timeout.
func (c *Client) FetchBytes(ctx context.Context, endpointURL string) ([]byte, error) {
	if err := c.checkTransport(endpointURL); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(initialRetryInterval),
		), c.maxRetries),
		callCtx,
	)

	var body []byte

	operation := func() error {
		var err error

		body, err = c.fetchOnce(callCtx, endpointURL)

		return err
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}

	return body, nil
}

// fetchOnce performs a single GET attempt.
func (c *Client) fetchOnce(ctx context.Context, endpointURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpointURL, http.NoBody)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	response, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		err = fmt.Errorf("%s, %s: %w", endpointURL, response.Status, errBadHTTPStatus)
		// Client errors will not heal on retry; server errors might.
		if response.StatusCode < http.StatusInternalServerError {
			return nil, backoff.Permanent(err)
		}

		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}

	return body, nil
}

// checkTransport rejects endpoint URLs whose scheme is not allowed,
// before any bytes move.
func (c *Client) checkTransport(endpointURL string) error {
	parsed, err := url.Parse(endpointURL)
	if err != nil {
		return fmt.Errorf("parse endpoint URL: %w", err)
	}

	if _, ok := c.allowedSchemes[parsed.Scheme]; !ok {
		return fmt.Errorf("%w: %s", ErrInsecureTransport, endpointURL)
	}

	return nil
}
