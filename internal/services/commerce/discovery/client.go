// Package discovery fetches and validates merchant discovery profiles.
package discovery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/louisbranch/ucp-hub/internal/platform/errors"
	"github.com/louisbranch/ucp-hub/internal/platform/otel"
	"github.com/louisbranch/ucp-hub/internal/platform/timeouts"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// WellKnownPath is where merchants publish their profile.
	WellKnownPath = "/.well-known/ucp"
	// DefaultAgentProfile is sent in the UCP-Agent header.
	DefaultAgentProfile = "default-hub-profile"

	maxProfileBytes = 4 << 20
)

// Client fetches discovery profiles over HTTP.
type Client struct {
	httpClient   *http.Client
	validator    Validator
	agentProfile string
	logger       *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

// WithValidator overrides the profile validator.
func WithValidator(validator Validator) Option {
	return func(c *Client) {
		if validator != nil {
			c.validator = validator
		}
	}
}

// WithAgentProfile sets the profile advertised in the UCP-Agent header.
func WithAgentProfile(profile string) Option {
	return func(c *Client) {
		if strings.TrimSpace(profile) != "" {
			c.agentProfile = profile
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient builds a discovery client with the schema validator.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		httpClient:   &http.Client{Timeout: timeouts.HTTPRequest},
		agentProfile: DefaultAgentProfile,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.validator == nil {
		validator, err := NewSchemaValidator()
		if err != nil {
			return nil, err
		}
		c.validator = validator
	}
	return c, nil
}

// URL returns the well-known profile URL for baseURL.
func URL(baseURL string) string {
	return strings.TrimRight(strings.TrimSpace(baseURL), "/") + WellKnownPath
}

// Discover fetches and validates the profile published under baseURL.
// Transport and HTTP failures carry CodeDiscoveryFailed; schema violations
// carry CodeConformanceViolation.
func (c *Client) Discover(ctx context.Context, baseURL string) (*Profile, error) {
	url := URL(baseURL)
	ctx, span := otel.Tracer().Start(ctx, "ucp.discover")
	defer span.End()
	span.SetAttributes(attribute.String("ucp.discovery_url", url))

	profile, err := c.discover(ctx, url)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("discovery failed", "url", url, "error", err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("ucp.capability_count", len(profile.UCP.Capabilities)))
	c.logger.Info("discovery fetched", "url", url, "capabilities", len(profile.UCP.Capabilities))
	return profile, nil
}

func (c *Client) discover(ctx context.Context, url string) (*Profile, error) {
	if strings.TrimSpace(url) == WellKnownPath {
		return nil, apperrors.New(apperrors.CodeDiscoveryFailed, "discovery base url is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDiscoveryFailed, fmt.Sprintf("failed to fetch discovery info from %s", url), err)
	}
	req.Header.Set("UCP-Agent", "profile="+c.agentProfile)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.WrapWithMetadata(apperrors.CodeDiscoveryFailed, fmt.Sprintf("failed to fetch discovery info from %s", url),
			map[string]string{"url": url}, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBytes))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDiscoveryFailed, fmt.Sprintf("failed to read discovery info from %s", url), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := fmt.Sprintf("failed to fetch discovery info from %s: %s", url, resp.Status)
		if strings.TrimSpace(string(body)) != "" {
			msg += " | Details: " + string(body)
		}
		return nil, apperrors.New(apperrors.CodeDiscoveryFailed, msg)
	}
	return c.validator.Validate(body)
}

// IsDiscoveryError reports whether err is a transport-level discovery failure.
func IsDiscoveryError(err error) bool {
	return apperrors.HasCode(err, apperrors.CodeDiscoveryFailed)
}

// IsConformanceError reports whether err is a schema violation.
func IsConformanceError(err error) bool {
	return apperrors.HasCode(err, apperrors.CodeConformanceViolation)
}
