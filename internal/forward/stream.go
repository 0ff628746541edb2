package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nulpointcorp/inference-gateway/internal/endpoint"
	"github.com/nulpointcorp/inference-gateway/internal/recorder"
)

// doneMarker is the SSE end-of-stream sentinel, reproduced bit-exact on the
// way out.
var doneMarker = []byte("data: [DONE]")

// StreamPart is one forwarded unit of a streamed response. Status carries the
// upstream status code alongside the bytes so the consumer can distinguish
// in-band error payloads from a 200 stream.
type StreamPart struct {
	Data   []byte
	Status int
}

// ForwardStream forwards one streaming request. The returned channel is a
// lazy, single-pass sequence: chunks are relayed as they arrive, a usage
// event is spliced in immediately before the terminal marker, and transport
// failures mid-stream become exactly one final error part (504 or 500) —
// never a panic past the channel.
//
// Only pre-network failures (unsupported endpoint, bad payload) are returned
// as errors.
func (c *Client) ForwardStream(
	ctx context.Context,
	call *CallContext,
	method string,
	ep endpoint.Endpoint,
	body map[string]any,
	files []File,
	form map[string]string,
	extra map[string]any,
) (<-chan StreamPart, error) {
	out, err := c.formatRequest(ep, body, files, form)
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamPart, 8)
	go c.runStream(ctx, call, method, ep, body, out, extra, ch)
	return ch, nil
}

func (c *Client) runStream(
	ctx context.Context,
	call *CallContext,
	method string,
	ep endpoint.Endpoint,
	body map[string]any,
	out *outboundRequest,
	extra map[string]any,
	ch chan<- StreamPart,
) {
	defer close(ch)

	req, err := c.newHTTPRequest(ctx, method, out)
	if err != nil {
		c.sendFailure(ctx, ch, err)
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		c.sendFailure(ctx, ch, err)
		return
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	start := time.Now()
	var firstToken time.Time
	var buffer [][]byte

	rbuf := make([]byte, 32*1024)
	for {
		n, rerr := resp.Body.Read(rbuf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, rbuf[:n])

			if status/100 != 2 {
				if !c.send(ctx, ch, StreamPart{Data: reencodeErrorChunk(chunk), Status: status}) {
					return
				}
			} else if !c.relay(ctx, call, ep, body, extra, ch, chunk, status, start, &firstToken, &buffer) {
				return
			}
		}

		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return
			}
			c.sendFailure(ctx, ch, rerr)
			return
		}
	}
}

// relay handles one success-mode chunk: scan for the terminal marker, forward
// immediately when absent, splice the usage event when present. Returns false
// when the consumer is gone.
func (c *Client) relay(
	ctx context.Context,
	call *CallContext,
	ep endpoint.Endpoint,
	body map[string]any,
	extra map[string]any,
	ch chan<- StreamPart,
	chunk []byte,
	status int,
	start time.Time,
	firstToken *time.Time,
	buffer *[][]byte,
) bool {
	idx := bytes.Index(chunk, doneMarker)
	if idx < 0 {
		*buffer = append(*buffer, chunk)
		if firstToken.IsZero() && c.probeFirstToken(chunk) {
			*firstToken = time.Now()
		}
		return c.send(ctx, ch, StreamPart{Data: chunk, Status: status})
	}

	pre, post := chunk[:idx], chunk[idx:]

	// Single-chunk streams: the whole payload arrived together with the
	// terminal marker, so the pre-marker bytes are the first token.
	if firstToken.IsZero() && len(*buffer) == 0 && len(pre) > 0 {
		*firstToken = time.Now()
	}
	*buffer = append(*buffer, pre)

	latency := time.Since(start)
	extraChunk := c.formatStreamEvent(call, ep, body, *buffer, extra, latency.Seconds())

	c.recordStreamMetric(call, latency, *firstToken, start)

	// No decodable event was ever buffered — never fabricate a usage event;
	// forward the original terminal chunk unmodified.
	if extraChunk == nil {
		return c.send(ctx, ch, StreamPart{Data: chunk, Status: status})
	}

	encoded, err := json.Marshal(extraChunk)
	if err != nil {
		return c.send(ctx, ch, StreamPart{Data: chunk, Status: status})
	}

	if !c.send(ctx, ch, StreamPart{Data: pre, Status: status}) {
		return false
	}
	event := append([]byte("data: "), encoded...)
	event = append(event, '\n', '\n')
	if !c.send(ctx, ch, StreamPart{Data: event, Status: status}) {
		return false
	}
	return c.send(ctx, ch, StreamPart{Data: post, Status: status})
}

// formatStreamEvent reconstructs the buffered event sequence and synthesizes
// the usage event from the last decoded event's structure, with choices
// cleared and the engine's model/id/usage fields overlaid. Returns nil when
// no event could be decoded.
func (c *Client) formatStreamEvent(
	call *CallContext,
	ep endpoint.Endpoint,
	body map[string]any,
	buffer [][]byte,
	extra map[string]any,
	latency float64,
) map[string]any {
	var last map[string]any
	var events []map[string]any

	for _, raw := range buffer {
		for _, line := range strings.Split(string(raw), "\n\n") {
			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			line = strings.TrimPrefix(line, "data: ")
			if line == "" {
				continue
			}
			var ev map[string]any
			if err := json.Unmarshal([]byte(line), &ev); err != nil {
				c.log.Debug("dropping undecodable stream line",
					slog.String("model", c.model),
					slog.String("error", err.Error()),
				)
				continue
			}
			last = ev
			events = append(events, ev)
		}
	}

	if last == nil {
		return nil
	}

	// Reuse the last event's structure so backend-specific shape fields
	// (object, created, system_fingerprint, ...) survive into the usage event.
	last["choices"] = []any{}
	for k, v := range c.additionalData(call, ep, body, events, true, latency) {
		last[k] = v
	}
	for k, v := range extra {
		last[k] = v
	}
	return last
}

// probeFirstToken reports whether the chunk carries a non-empty delta
// content. Decode failures are expected on non-delta chunks and only logged
// at debug level.
func (c *Client) probeFirstToken(chunk []byte) bool {
	line := strings.TrimPrefix(string(chunk), "data: ")

	var ev struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		c.log.Debug("chunk could not be probed for time to first token",
			slog.String("model", c.model),
		)
		return false
	}

	return len(ev.Choices) > 0 && ev.Choices[0].Delta.Content != ""
}

// recordStreamMetric schedules the detached latency/TTFT write for a
// completed stream.
func (c *Client) recordStreamMetric(call *CallContext, latency time.Duration, firstToken, start time.Time) {
	var ttft *int64
	if !firstToken.IsZero() {
		us := firstToken.Sub(start).Microseconds()
		ttft = &us
		call.FirstTokenDelay = firstToken.Sub(start)
	} else {
		c.log.Warn("time to first token could not be determined",
			slog.String("request_id", call.ID),
			slog.String("model", c.model),
		)
	}

	if c.rec == nil {
		return
	}
	latencyMs := latency.Milliseconds()
	c.rec.Record(recorder.Sample{
		Timestamp:        time.Now(),
		Model:            c.model,
		APIURL:           c.rawURL,
		LatencyMs:        &latencyMs,
		TimeToFirstToken: ttft,
	})
}

// reencodeErrorChunk normalizes one error-mode chunk: the body is a plain
// JSON error document, whose "message" field may itself be a stringified
// structure. Undecodable chunks are forwarded verbatim.
func reencodeErrorChunk(chunk []byte) []byte {
	var decoded map[string]any
	if err := json.Unmarshal(chunk, &decoded); err != nil {
		return chunk
	}

	if msg, ok := decoded["message"].(string); ok {
		decoded["message"] = decodeLiteral(msg)
	}

	encoded, err := json.Marshal(decoded)
	if err != nil {
		return chunk
	}
	return encoded
}

// sendFailure converts a transport failure into the stream's single final
// error part. Caller cancellation produces nothing: the consumer is gone.
func (c *Client) sendFailure(ctx context.Context, ch chan<- StreamPart, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}

	var payload []byte
	var status int
	if isTimeout(err) {
		payload, _ = json.Marshal(map[string]any{"detail": timeoutDetail})
		status = 504
	} else {
		c.log.Error("stream forwarding failed",
			slog.String("model", c.model),
			slog.String("url", c.rawURL),
			slog.String("error", err.Error()),
		)
		payload, _ = json.Marshal(map[string]any{"detail": errKind(err)})
		status = 500
	}

	c.send(ctx, ch, StreamPart{Data: payload, Status: status})
}

func (c *Client) send(ctx context.Context, ch chan<- StreamPart, part StreamPart) bool {
	select {
	case ch <- part:
		return true
	case <-ctx.Done():
		return false
	}
}

// HealthCheck probes the backend's model-listing endpoint. Used by the
// registry's background prober.
func (c *Client) HealthCheck(ctx context.Context) error {
	path, ok := c.paths[endpoint.Models]
	if !ok {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL.ResolveReference(&url.URL{Path: path}).String(), nil)
	if err != nil {
		return fmt.Errorf("forward: health check: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("forward: health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("forward: health check: status %d", resp.StatusCode)
	}
	return nil
}
