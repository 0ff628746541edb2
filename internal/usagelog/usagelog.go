// Package usagelog implements a non-blocking, batched sink for completed
// usage records, backed by ClickHouse.
//
// Records are written to an internal buffered channel and flushed in batches
// by a background goroutine — accounting never blocks the response path. If
// the channel fills up new records are dropped and counted in Dropped.
package usagelog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const (
	channelBuffer = 10_000
	batchSize     = 100
	flushInterval = time.Second
)

// schema is created on startup when missing. MergeTree ordered by time keeps
// per-model usage queries cheap.
const schema = `
CREATE TABLE IF NOT EXISTS usage_log (
	id                 String,
	model              String,
	endpoint           String,
	prompt_tokens      UInt32,
	completion_tokens  UInt32,
	total_tokens       UInt32,
	cost               Float64,
	kgco2eq_min        Nullable(Float64),
	kgco2eq_max        Nullable(Float64),
	kwh_min            Nullable(Float64),
	kwh_max            Nullable(Float64),
	latency_ms         UInt32,
	status             UInt16,
	stream             Bool,
	created_at         DateTime64(3)
) ENGINE = MergeTree() ORDER BY (model, created_at)
`

const insertQuery = `INSERT INTO usage_log (
	id, model, endpoint, prompt_tokens, completion_tokens, total_tokens, cost,
	kgco2eq_min, kgco2eq_max, kwh_min, kwh_max, latency_ms, status, stream, created_at
)`

// Record is one completed request's accounting entry.
type Record struct {
	ID               string
	Model            string
	Endpoint         string
	PromptTokens     uint32
	CompletionTokens uint32
	TotalTokens      uint32
	Cost             float64
	KgCO2eqMin       *float64
	KgCO2eqMax       *float64
	KWhMin           *float64
	KWhMax           *float64
	LatencyMs        uint32
	Status           uint16
	Stream           bool
	CreatedAt        time.Time
}

// Writer drains Records into ClickHouse.
type Writer struct {
	conn driver.Conn
	log  *slog.Logger

	ch        chan Record
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	dropped int64
}

// Open connects to ClickHouse, ensures the usage_log table exists, and
// starts the flush goroutine.
func Open(ctx context.Context, addr, database, username, password string, log *slog.Logger) (*Writer, error) {
	if log == nil {
		log = slog.Default()
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("usagelog: open: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("usagelog: ping: %w", err)
	}

	if err := conn.Exec(ctx, schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("usagelog: ensure schema: %w", err)
	}

	w := &Writer{
		conn: conn,
		log:  log,
		ch:   make(chan Record, channelBuffer),
		done: make(chan struct{}),
	}

	w.wg.Add(1)
	go w.run()

	return w, nil
}

// Log enqueues a record. Never blocks; drops when the queue is full.
func (w *Writer) Log(r Record) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	select {
	case w.ch <- r:
	default:
		atomic.AddInt64(&w.dropped, 1)
	}
}

// Dropped returns the number of records discarded due to a full queue.
func (w *Writer) Dropped() int64 {
	return atomic.LoadInt64(&w.dropped)
}

// Close flushes queued records, stops the goroutine, and closes the
// connection.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
	})
	w.wg.Wait()
	return w.conn.Close()
}

func (w *Writer) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Record, 0, batchSize)

	for {
		select {
		case r := <-w.ch:
			batch = append(batch, r)
			if len(batch) >= batchSize {
				w.flush(&batch)
			}

		case <-ticker.C:
			w.flush(&batch)

		case <-w.done:
			for {
				select {
				case r := <-w.ch:
					batch = append(batch, r)
					if len(batch) >= batchSize {
						w.flush(&batch)
					}
				default:
					w.flush(&batch)
					return
				}
			}
		}
	}
}

// flush sends one batch. Failures are logged and the batch is discarded —
// accounting loss is acceptable, blocking the gateway is not.
func (w *Writer) flush(batch *[]Record) {
	if len(*batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b, err := w.conn.PrepareBatch(ctx, insertQuery)
	if err != nil {
		w.log.Error("usage log batch prepare failed", slog.String("error", err.Error()))
		*batch = (*batch)[:0]
		return
	}

	for _, r := range *batch {
		if err := b.Append(
			r.ID, r.Model, r.Endpoint,
			r.PromptTokens, r.CompletionTokens, r.TotalTokens, r.Cost,
			r.KgCO2eqMin, r.KgCO2eqMax, r.KWhMin, r.KWhMax,
			r.LatencyMs, r.Status, r.Stream, r.CreatedAt,
		); err != nil {
			w.log.Error("usage log append failed", slog.String("error", err.Error()))
		}
	}

	if err := b.Send(); err != nil {
		w.log.Error("usage log flush failed",
			slog.Int("records", len(*batch)),
			slog.String("error", err.Error()),
		)
	}

	*batch = (*batch)[:0]
}
