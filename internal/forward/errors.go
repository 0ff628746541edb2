package forward

import (
	"fmt"

	"github.com/nulpointcorp/inference-gateway/internal/endpoint"
)

// timeoutDetail is the fixed client-visible message for upstream timeouts.
const timeoutDetail = "Request timed out, model is too busy."

// UnsupportedEndpointError reports a request to an endpoint the backend has no
// path for. This is a configuration error and is raised before any network I/O.
type UnsupportedEndpointError struct {
	Model    string
	Endpoint endpoint.Endpoint
}

func (e *UnsupportedEndpointError) Error() string {
	return fmt.Sprintf("forward: model %s does not support endpoint %s", e.Model, e.Endpoint)
}

func (e *UnsupportedEndpointError) HTTPStatus() int { return 400 }

// TimeoutError reports an upstream transport timeout. The detail message is
// fixed regardless of which timeout variety fired.
type TimeoutError struct{}

func (e *TimeoutError) Error() string   { return timeoutDetail }
func (e *TimeoutError) HTTPStatus() int { return 504 }

// Detail returns the client-visible detail payload.
func (e *TimeoutError) Detail() any { return timeoutDetail }

// UnavailableError reports any non-timeout transport failure. Kind carries
// the failure's type name as the client-visible detail.
type UnavailableError struct {
	Kind string
}

func (e *UnavailableError) Error() string   { return fmt.Sprintf("forward: upstream unavailable: %s", e.Kind) }
func (e *UnavailableError) HTTPStatus() int { return 500 }
func (e *UnavailableError) Detail() any     { return e.Kind }

// UpstreamError reports a non-2xx upstream status. Message is the upstream's
// best-effort parsed error payload — a decoded structure when the body parses,
// otherwise the raw response text.
type UpstreamError struct {
	Status  int
	Message any
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("forward: upstream returned status %d: %v", e.Status, e.Message)
}

func (e *UpstreamError) HTTPStatus() int { return e.Status }
func (e *UpstreamError) Detail() any     { return e.Message }
