// Package forward implements the model-client forwarding engine: it builds
// outbound requests against a backend API, relays unary and streamed
// responses, computes token/cost/carbon usage on the way through, and records
// latency metrics asynchronously.
//
// Failure contract:
//   - transport timeouts        → *TimeoutError (504, fixed message)
//   - other transport failures  → *UnavailableError (500, failure kind)
//   - upstream non-2xx statuses → *UpstreamError (upstream status + message)
//   - usage or metric failures  → logged and swallowed, never surfaced
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nulpointcorp/inference-gateway/internal/carbon"
	"github.com/nulpointcorp/inference-gateway/internal/endpoint"
	"github.com/nulpointcorp/inference-gateway/internal/recorder"
	"github.com/nulpointcorp/inference-gateway/internal/tokenizer"
)

// Costs is the backend's price schedule, per million tokens.
type Costs struct {
	PromptTokens     float64
	CompletionTokens float64
}

// CarbonProfile describes the served model for footprint estimation.
// Parameter counts are in billions and optional — unknown sizes simply
// produce no carbon bounds.
type CarbonProfile struct {
	ActiveParams *float64
	TotalParams  *float64
	Zone         string
}

// Config identifies one backend/model pairing.
type Config struct {
	// Model is the backend-internal model identifier. Outbound bodies always
	// carry this name, whatever the caller asked for.
	Model   string
	Kind    endpoint.BackendKind
	APIURL  string
	APIKey  string
	Timeout time.Duration
	Costs   Costs
	Carbon  CarbonProfile
}

// Client forwards requests to a single backend/model pairing. The endpoint
// path table is fixed at construction and never mutated.
type Client struct {
	model   string
	kind    endpoint.BackendKind
	apiURL  *url.URL
	rawURL  string
	apiKey  string
	timeout time.Duration
	costs   Costs
	carbon  CarbonProfile
	paths   map[endpoint.Endpoint]string

	http *http.Client
	tok  tokenizer.Tokenizer
	est  carbon.Estimator
	rec  *recorder.Recorder
	log  *slog.Logger
}

const defaultTimeout = 120 * time.Second

// New builds a Client. Tokenizer and estimator are required; the recorder is
// optional and nil-safe (metrics are skipped when absent).
func New(cfg Config, tok tokenizer.Tokenizer, est carbon.Estimator, rec *recorder.Recorder, log *slog.Logger) (*Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("forward: model must not be empty")
	}
	if tok == nil || est == nil {
		return nil, fmt.Errorf("forward: tokenizer and carbon estimator are required")
	}
	if log == nil {
		log = slog.Default()
	}

	base, err := url.Parse(cfg.APIURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("forward: invalid api url %q", cfg.APIURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		model:   cfg.Model,
		kind:    cfg.Kind,
		apiURL:  base,
		rawURL:  cfg.APIURL,
		apiKey:  cfg.APIKey,
		timeout: timeout,
		costs:   cfg.Costs,
		carbon:  cfg.Carbon,
		paths:   endpoint.Paths(cfg.Kind),
		http:    &http.Client{Timeout: timeout},
		tok:     tok,
		est:     est,
		rec:     rec,
		log:     log,
	}, nil
}

// Model returns the backend-internal model identifier.
func (c *Client) Model() string { return c.model }

// APIURL returns the backend base URL as configured.
func (c *Client) APIURL() string { return c.rawURL }

// Kind returns the backend kind.
func (c *Client) Kind() endpoint.BackendKind { return c.kind }

// Costs returns the backend's price schedule.
func (c *Client) Costs() Costs { return c.costs }

// Supports reports whether the backend serves the endpoint.
func (c *Client) Supports(ep endpoint.Endpoint) bool {
	_, ok := c.paths[ep]
	return ok
}

// File is one multipart file payload.
type File struct {
	Field   string
	Name    string
	Content []byte
}

// Response is a normalized upstream response.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// outboundRequest is a fully formatted request ready for transport.
type outboundRequest struct {
	url         string
	contentType string
	body        []byte
}

// formatRequest resolves the backend path for ep, rewrites the body's model
// field to the backend-internal name, and serializes the payload. It fails
// with *UnsupportedEndpointError before any network I/O when the backend has
// no path for the endpoint.
func (c *Client) formatRequest(ep endpoint.Endpoint, body map[string]any, files []File, form map[string]string) (*outboundRequest, error) {
	path, ok := c.paths[ep]
	if !ok {
		return nil, &UnsupportedEndpointError{Model: c.model, Endpoint: ep}
	}

	target := c.apiURL.ResolveReference(&url.URL{Path: path}).String()

	if len(files) > 0 || (len(form) > 0 && body == nil) {
		payload, contentType, err := encodeMultipart(files, form)
		if err != nil {
			return nil, fmt.Errorf("forward: encode multipart: %w", err)
		}
		return &outboundRequest{url: target, contentType: contentType, body: payload}, nil
	}

	if body != nil {
		// The caller-visible model name may differ from the backend-internal
		// one; the rewrite is mandatory.
		if _, ok := body["model"]; ok {
			body["model"] = c.model
		}
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("forward: encode body: %w", err)
		}
		return &outboundRequest{url: target, contentType: "application/json", body: payload}, nil
	}

	return &outboundRequest{url: target}, nil
}

func encodeMultipart(files []File, form map[string]string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, f := range files {
		fw, err := w.CreateFormFile(f.Field, f.Name)
		if err != nil {
			return nil, "", err
		}
		if _, err := fw.Write(f.Content); err != nil {
			return nil, "", err
		}
	}
	for k, v := range form {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}

// ForwardRequest forwards one unary request and returns the formatted
// response. extra fields are overlaid onto the final JSON response, after the
// engine's own model/id/usage injection.
func (c *Client) ForwardRequest(
	ctx context.Context,
	call *CallContext,
	method string,
	ep endpoint.Endpoint,
	body map[string]any,
	files []File,
	form map[string]string,
	extra map[string]any,
) (*Response, error) {
	out, err := c.formatRequest(ep, body, files, form)
	if err != nil {
		return nil, err
	}

	req, err := c.newHTTPRequest(ctx, method, out)
	if err != nil {
		return nil, fmt.Errorf("forward: build request: %w", err)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.transportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	latency := time.Since(start)
	if err != nil {
		return nil, c.transportError(err)
	}

	if resp.StatusCode/100 != 2 {
		return nil, &UpstreamError{
			Status:  resp.StatusCode,
			Message: parseErrorMessage(raw),
		}
	}

	formatted := c.formatResponse(call, ep, body, resp, raw, extra, latency.Seconds())

	// Metric write is detached: the recorder's queue decouples it from the
	// response path entirely.
	if c.rec != nil {
		latencyMs := latency.Milliseconds()
		c.rec.Record(recorder.Sample{
			Timestamp: time.Now(),
			Model:     c.model,
			APIURL:    c.rawURL,
			LatencyMs: &latencyMs,
		})
	}

	return formatted, nil
}

func (c *Client) newHTTPRequest(ctx context.Context, method string, out *outboundRequest) (*http.Request, error) {
	var reader io.Reader
	if len(out.body) > 0 {
		reader = bytes.NewReader(out.body)
	}

	req, err := http.NewRequestWithContext(ctx, method, out.url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if out.contentType != "" {
		req.Header.Set("Content-Type", out.contentType)
	}
	return req, nil
}

// formatResponse merges usage, model and id into a JSON response body.
// Non-JSON content types pass through unmodified.
func (c *Client) formatResponse(
	call *CallContext,
	ep endpoint.Endpoint,
	body map[string]any,
	resp *http.Response,
	raw []byte,
	extra map[string]any,
	latency float64,
) *Response {
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "application/json") {
		return &Response{StatusCode: resp.StatusCode, ContentType: contentType, Body: raw}
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		c.log.Debug("response claims JSON but does not parse",
			slog.String("model", c.model),
			slog.String("error", err.Error()),
		)
		return &Response{StatusCode: resp.StatusCode, ContentType: contentType, Body: raw}
	}

	for k, v := range c.additionalData(call, ep, body, data, false, latency) {
		data[k] = v
	}
	for k, v := range extra {
		data[k] = v
	}

	merged, err := json.Marshal(data)
	if err != nil {
		return &Response{StatusCode: resp.StatusCode, ContentType: contentType, Body: raw}
	}

	return &Response{StatusCode: resp.StatusCode, ContentType: "application/json", Body: merged}
}

// parseErrorMessage extracts a structured error message from a non-2xx body.
// JSON bodies with a "message" field get one literal-decode attempt; anything
// unparseable falls back to the raw response text.
func parseErrorMessage(raw []byte) any {
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return string(raw)
	}

	if msg, ok := decoded["message"]; ok {
		if s, isString := msg.(string); isString {
			return decodeLiteral(s)
		}
		return msg
	}

	return decoded
}

// transportError maps a transport failure into the uniform error contract.
// Caller cancellation is propagated as-is so the surrounding request can
// unwind normally.
func (c *Client) transportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if isTimeout(err) {
		return &TimeoutError{}
	}

	c.log.Error("failed to forward request",
		slog.String("model", c.model),
		slog.String("url", c.rawURL),
		slog.String("error", err.Error()),
	)
	return &UnavailableError{Kind: errKind(err)}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// errKind returns the failure's bare type name, unwrapping url.Error so the
// detail names the cause rather than the wrapper.
func errKind(err error) string {
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Err != nil {
		err = uerr.Err
	}

	kind := fmt.Sprintf("%T", err)
	kind = strings.TrimPrefix(kind, "*")
	if i := strings.LastIndexByte(kind, '.'); i >= 0 {
		kind = kind[i+1:]
	}
	return kind
}
