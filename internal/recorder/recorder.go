// Package recorder implements the asynchronous performance-metric sink.
//
// Samples are written to an internal buffered channel and drained by a
// background goroutine — recording never blocks or fails the response path.
// If the channel fills up new samples are dropped and counted in Dropped.
// Close waits for already-queued samples to be written before returning.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nulpointcorp/inference-gateway/internal/metricstore"
)

const channelBuffer = 4_096

// Sample is one completed request's timing measurements. Latency is in
// milliseconds; TimeToFirstToken is in microseconds and only present for
// streams whose first token could be observed.
type Sample struct {
	Timestamp        time.Time
	Model            string
	APIURL           string
	LatencyMs        *int64
	TimeToFirstToken *int64
}

// Recorder drains Samples into a metricstore.Store.
type Recorder struct {
	store metricstore.Store
	log   *slog.Logger

	ch        chan Sample
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	dropped int64

	writeTimeout time.Duration
}

// New starts a Recorder draining into store. Each store write carries its own
// short timeout; Close performs the final drain.
func New(_ context.Context, store metricstore.Store, log *slog.Logger) (*Recorder, error) {
	if store == nil {
		return nil, fmt.Errorf("recorder: store must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	r := &Recorder{
		store:        store,
		log:          log,
		ch:           make(chan Sample, channelBuffer),
		done:         make(chan struct{}),
		writeTimeout: 2 * time.Second,
	}

	r.wg.Add(1)
	go r.run()

	return r, nil
}

// Setup idempotently creates the latency and first-token series for one
// backend pairing. Called once per configured client at startup.
func (r *Recorder) Setup(ctx context.Context, model, apiURL string) {
	for _, key := range []string{
		metricstore.LatencyKey(model, apiURL),
		metricstore.FirstTokenKey(model, apiURL),
	} {
		if err := r.store.CreateSeries(ctx, key, metricstore.Retention); err != nil {
			r.log.Error("metric series creation failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Record enqueues a sample. Never blocks; drops when the queue is full.
func (r *Recorder) Record(s Sample) {
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}
	select {
	case r.ch <- s:
	default:
		atomic.AddInt64(&r.dropped, 1)
	}
}

// Dropped returns the number of samples discarded due to a full queue.
func (r *Recorder) Dropped() int64 {
	return atomic.LoadInt64(&r.dropped)
}

// Close stops the drain goroutine after flushing queued samples.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
	return nil
}

func (r *Recorder) run() {
	defer r.wg.Done()

	for {
		select {
		case s := <-r.ch:
			r.write(s)
		case <-r.done:
			for {
				select {
				case s := <-r.ch:
					r.write(s)
				default:
					return
				}
			}
		}
	}
}

// write persists one sample. Failures are logged and swallowed: a broken
// metrics store must never surface beyond this package.
func (r *Recorder) write(s Sample) {
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()

	if s.TimeToFirstToken != nil {
		key := metricstore.FirstTokenKey(s.Model, s.APIURL)
		if err := r.store.Append(ctx, key, float64(*s.TimeToFirstToken), s.Timestamp); err != nil {
			r.log.Error("metric write failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.LatencyMs != nil {
		key := metricstore.LatencyKey(s.Model, s.APIURL)
		if err := r.store.Append(ctx, key, float64(*s.LatencyMs), s.Timestamp); err != nil {
			r.log.Error("metric write failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}
}
