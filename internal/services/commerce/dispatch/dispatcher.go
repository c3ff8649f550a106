// Package dispatch turns capability invocations into signed,
// replay-protected requests against a merchant server.
package dispatch

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/louisbranch/ucp-hub/internal/platform/errors"
	"github.com/louisbranch/ucp-hub/internal/platform/otel"
	"github.com/louisbranch/ucp-hub/internal/platform/timeouts"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultAgentProfile = "default-hub-profile"
	maxResponseBytes    = 4 << 20
)

// Config configures endpoint resolution and outbound requests.
type Config struct {
	// Endpoints maps capability names to endpoint paths.
	Endpoints map[string]string
	// Timeout caps each outbound request.
	Timeout time.Duration
	// AgentProfile is advertised in the UCP-Agent header.
	AgentProfile string
}

// Record is one dispatch attempt as seen by a Recorder.
type Record struct {
	RequestID      string
	IdempotencyKey string
	Tool           string
	Operation      string
	Method         string
	URL            string
	StatusCode     int
	Error          string
	CreatedAt      time.Time
}

// Recorder persists dispatch attempts.
type Recorder interface {
	Record(ctx context.Context, record Record) error
}

// Request is a fully prepared dispatch: resolved URL, verb, canonical body
// and conformance headers.
type Request struct {
	Tool      string
	Operation Operation
	Method    string
	URL       string
	Headers   http.Header
	Body      []byte
}

// Dispatcher resolves, signs and sends capability invocations. It holds no
// per-merchant state and is safe for concurrent use.
type Dispatcher struct {
	endpoints    map[string]string
	signer       Signer
	httpClient   *http.Client
	timeout      time.Duration
	agentProfile string
	recorder     Recorder
	logger       *slog.Logger
	now          func() time.Time
	random       io.Reader
	newID        func() string
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.httpClient = client
		}
	}
}

// WithRecorder attaches a dispatch journal.
func WithRecorder(recorder Recorder) Option {
	return func(d *Dispatcher) {
		d.recorder = recorder
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithRandom overrides the nonce source.
func WithRandom(random io.Reader) Option {
	return func(d *Dispatcher) {
		if random != nil {
			d.random = random
		}
	}
}

// WithIDGenerator overrides request id and idempotency key generation.
func WithIDGenerator(newID func() string) Option {
	return func(d *Dispatcher) {
		if newID != nil {
			d.newID = newID
		}
	}
}

// New builds a dispatcher that signs with signer.
func New(signer Signer, cfg Config, opts ...Option) *Dispatcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = timeouts.HTTPRequest
	}
	agentProfile := strings.TrimSpace(cfg.AgentProfile)
	if agentProfile == "" {
		agentProfile = defaultAgentProfile
	}
	endpoints := make(map[string]string, len(cfg.Endpoints))
	for name, path := range cfg.Endpoints {
		endpoints[name] = path
	}

	d := &Dispatcher{
		endpoints:    endpoints,
		signer:       signer,
		httpClient:   &http.Client{Timeout: timeout},
		timeout:      timeout,
		agentProfile: agentProfile,
		logger:       slog.Default(),
		now:          unixNow,
		random:       rand.Reader,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Endpoint returns the configured path for tool.
func (d *Dispatcher) Endpoint(tool string) (string, bool) {
	path, ok := d.endpoints[tool]
	return path, ok
}

// Prepare resolves tool against baseURL and builds the signed request.
func (d *Dispatcher) Prepare(baseURL, tool string, args map[string]any) (*Request, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, apperrors.New(apperrors.CodeDispatchDiscoveryRequired,
			"you must call ucp.discover(url) before calling capabilities")
	}
	endpoint, ok := d.endpoints[tool]
	if !ok {
		return nil, apperrors.WithMetadata(apperrors.CodeDispatchUnmappedTool,
			fmt.Sprintf("tool '%s' is not currently mapped to a supported endpoint", tool),
			map[string]string{"tool": tool})
	}

	op := ResolveOperation(args)
	body, err := Canonicalize(op.Payload)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDispatchInvalidPayload, "canonicalize payload", err)
	}
	headers, err := d.conformanceHeaders(body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "build conformance headers", err)
	}
	return &Request{
		Tool:      tool,
		Operation: op,
		Method:    op.Method(),
		URL:       op.URL(baseURL, endpoint),
		Headers:   headers,
		Body:      body,
	}, nil
}

// Dispatch prepares and sends one invocation. The result wraps the decoded
// response body as {"result": body}.
func (d *Dispatcher) Dispatch(ctx context.Context, baseURL, tool string, args map[string]any) (map[string]any, error) {
	req, err := d.Prepare(baseURL, tool, args)
	if err != nil {
		return nil, err
	}
	body, err := d.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": body}, nil
}

// Send issues a prepared request and decodes its JSON response.
func (d *Dispatcher) Send(ctx context.Context, req *Request) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	ctx, span := otel.Tracer().Start(ctx, "ucp.dispatch", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("ucp.tool", req.Tool),
		attribute.String("ucp.operation", req.Operation.Kind.String()),
		attribute.String("http.request.method", req.Method),
		attribute.String("url.full", req.URL),
	)

	status, result, err := d.send(ctx, req)
	span.SetAttributes(attribute.Int("http.response.status_code", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	d.record(ctx, req, status, err)
	d.logger.Info("dispatch issued",
		"tool", req.Tool,
		"method", req.Method,
		"url", req.URL,
		"request_id", req.Headers.Get(HeaderRequestID),
		"status", status,
	)
	return result, err
}

func (d *Dispatcher) send(ctx context.Context, req *Request) (int, any, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return 0, nil, apperrors.Wrap(apperrors.CodeDispatchRequestFailed, fmt.Sprintf("%s %s", req.Method, req.URL), err)
	}
	for name, values := range req.Headers {
		httpReq.Header[name] = append([]string(nil), values...)
	}

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, apperrors.WrapWithMetadata(apperrors.CodeDispatchRequestFailed, fmt.Sprintf("%s %s", req.Method, req.URL),
			map[string]string{"method": req.Method, "url": req.URL}, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, apperrors.Wrap(apperrors.CodeDispatchRequestFailed, fmt.Sprintf("%s %s: read response", req.Method, req.URL), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := fmt.Sprintf("%s %s: %s", req.Method, req.URL, resp.Status)
		if strings.TrimSpace(string(raw)) != "" {
			msg += " | Details: " + string(raw)
		}
		return resp.StatusCode, nil, apperrors.WithMetadata(apperrors.CodeDispatchRequestFailed, msg,
			map[string]string{"status": fmt.Sprint(resp.StatusCode)})
	}

	if len(strings.TrimSpace(string(raw))) == 0 {
		return resp.StatusCode, map[string]any{}, nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return resp.StatusCode, nil, apperrors.Wrap(apperrors.CodeDispatchRequestFailed,
			fmt.Sprintf("%s %s: decode response | Details: %s", req.Method, req.URL, raw), err)
	}
	return resp.StatusCode, decoded, nil
}

func (d *Dispatcher) record(ctx context.Context, req *Request, status int, dispatchErr error) {
	if d.recorder == nil {
		return
	}
	record := Record{
		RequestID:      req.Headers.Get(HeaderRequestID),
		IdempotencyKey: req.Headers.Get(HeaderIdempotencyKey),
		Tool:           req.Tool,
		Operation:      req.Operation.Kind.String(),
		Method:         req.Method,
		URL:            req.URL,
		StatusCode:     status,
		CreatedAt:      d.now(),
	}
	if dispatchErr != nil {
		record.Error = dispatchErr.Error()
	}
	if err := d.recorder.Record(context.WithoutCancel(ctx), record); err != nil {
		d.logger.Warn("journal dispatch failed", "request_id", record.RequestID, "error", err)
	}
}

// IsDispatchError reports whether err came from dispatch resolution or
// delivery.
func IsDispatchError(err error) bool {
	return apperrors.CodeOf(err).Kind() == apperrors.KindDispatch
}
