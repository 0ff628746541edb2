// Package apierr provides the structured error envelope returned to clients
// and the mapping from forwarding-engine errors to HTTP responses.
package apierr

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

// ErrorType constants.
const (
	TypeUpstreamError  = "upstream_error"
	TypeRateLimitError = "rate_limit_error"
	TypeInvalidRequest = "invalid_request_error"
	TypeServerError    = "server_error"
)

// Code constants.
const (
	CodeRateLimitExceeded   = "rate_limit_exceeded"
	CodeInternalError       = "internal_error"
	CodeUpstreamError       = "upstream_error"
	CodeRequestTimeout      = "request_timeout"
	CodeInvalidRequest      = "invalid_request"
	CodeModelNotFound       = "model_not_found"
	CodeEndpointUnsupported = "endpoint_unsupported"
)

type (
	// APIError is the structured error returned to clients. Message may be a
	// plain string or the upstream's decoded error structure.
	APIError struct {
		Message any    `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	}
	envelope struct {
		Error APIError `json:"error"`
	}
)

// Write writes the error as JSON with the given HTTP status.
func Write(ctx *fasthttp.RequestCtx, status int, message any, errType, code string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: APIError{
		Message: message,
		Type:    errType,
		Code:    code,
	}})
	ctx.SetBody(body)
}

// detailer is implemented by forwarding errors that carry a client-visible
// detail payload distinct from their Go error string.
type detailer interface{ Detail() any }

// statusCoder is implemented by errors that know their HTTP status.
type statusCoder interface{ HTTPStatus() int }

// WriteForwardError maps a forwarding-engine error onto the envelope:
//
//	timeout        → 504, fixed message
//	unavailable    → 500, failure kind
//	upstream error → upstream's own status, parsed message
//	anything else  → 502
func WriteForwardError(ctx *fasthttp.RequestCtx, err error) {
	status := fasthttp.StatusBadGateway
	if sc, ok := err.(statusCoder); ok {
		status = sc.HTTPStatus()
	}

	var message any = err.Error()
	upstream := false
	if d, ok := err.(detailer); ok {
		message = d.Detail()
		upstream = true
	}

	switch {
	case status == fasthttp.StatusBadRequest && !upstream:
		// Endpoint rejected before any network I/O.
		Write(ctx, status, message, TypeInvalidRequest, CodeEndpointUnsupported)
	case status == fasthttp.StatusGatewayTimeout:
		Write(ctx, status, message, TypeUpstreamError, CodeRequestTimeout)
	case status == fasthttp.StatusTooManyRequests:
		ctx.Response.Header.Set("Retry-After", "60")
		Write(ctx, status, message, TypeRateLimitError, CodeRateLimitExceeded)
	default:
		Write(ctx, status, message, TypeUpstreamError, CodeUpstreamError)
	}
}

// WriteRateLimit writes the gateway's own 429.
func WriteRateLimit(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Retry-After", "60")
	Write(ctx, fasthttp.StatusTooManyRequests, "rate limit exceeded", TypeRateLimitError, CodeRateLimitExceeded)
}
