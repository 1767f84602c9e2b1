package archive

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rickgao/stompbridge/internal/bus"
	"github.com/rickgao/stompbridge/internal/config"
	"github.com/rickgao/stompbridge/internal/connection"
)

// ErrStopped is returned by Publish after Stop.
var ErrStopped = errors.New("archive writer stopped")

const insertFrame = `
	INSERT INTO stomp_frames (id, received_at, source, destination, headers, body)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO NOTHING
`

// batchSender is satisfied by *pgxpool.Pool.
type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// WriterConfig holds batching settings.
type WriterConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int // queued frames beyond this evict the oldest
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     config.DefaultBatchSize,
		FlushInterval: config.DefaultFlushInterval,
		BufferSize:    config.DefaultArchiveBufferSize,
	}
}

// WriterConfigFrom converts the archive section of the bridge config.
func WriterConfigFrom(cfg config.ArchiveConfig) WriterConfig {
	return WriterConfig{
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
		BufferSize:    cfg.BufferSize,
	}
}

// WriterMetrics tracks writer activity.
type WriterMetrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
	Dropped   int64
}

type frameRow struct {
	ID          uuid.UUID
	ReceivedAt  time.Time
	Source      string
	Destination string
	Headers     []byte
	Body        []byte
}

// Writer batches forwarded frames into the stomp_frames table.
type Writer struct {
	cfg    WriterConfig
	logger *slog.Logger
	db     batchSender
	now    func() time.Time

	input *bus.Queue[frameRow]

	batch       []frameRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics WriterMetrics
}

// NewWriter creates a Writer. db is usually a *pgxpool.Pool.
func NewWriter(cfg WriterConfig, db batchSender, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	return &Writer{
		cfg:    cfg,
		db:     db,
		logger: logger.With("component", "archive"),
		now:    time.Now,
		input:  bus.NewQueue[frameRow](min(cfg.BatchSize, max(cfg.BufferSize, 1)), cfg.BufferSize),
		batch:  make([]frameRow, 0, cfg.BatchSize),
	}
}

// Publish implements connection.Publisher with an empty source.
func (w *Writer) Publish(destination string, payload []byte, headers map[string]string) error {
	return w.enqueue("", destination, payload, headers)
}

// Source returns a Publisher that tags every archived frame with source,
// usually the backend name.
func (w *Writer) Source(source string) connection.Publisher {
	return connection.PublisherFunc(func(destination string, payload []byte, headers map[string]string) error {
		return w.enqueue(source, destination, payload, headers)
	})
}

func (w *Writer) enqueue(source, destination string, payload []byte, headers map[string]string) error {
	row, err := w.transform(source, destination, payload, headers)
	if err != nil {
		return err
	}
	if !w.input.Push(row) {
		return ErrStopped
	}
	return nil
}

// Start begins consuming queued frames and writing them to the database.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("archive writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop stops accepting frames, drains the queue and writes the final batch
// using ctx.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping archive writer")

	w.input.Close()
	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("archive writer stop timed out")
	}

	for _, row := range w.input.PopBatch(0) {
		w.addRow(row)
	}
	w.flush(ctx)

	w.logger.Info("archive writer stopped")
	return nil
}

// Stats returns current metrics.
func (w *Writer) Stats() WriterMetrics {
	w.batchMu.Lock()
	m := w.metrics
	w.batchMu.Unlock()

	m.Dropped = w.input.Stats().Dropped
	return m
}

// consumeLoop moves queued frames into the current batch.
func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		row, err := w.input.Pop(w.ctx)
		if err != nil {
			return
		}
		if w.addRow(row) {
			w.flush(w.ctx)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// addRow appends row and reports whether the batch is full.
func (w *Writer) addRow(row frameRow) bool {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()

	w.batch = append(w.batch, row)
	return len(w.batch) >= w.cfg.BatchSize
}

// transform converts a forwarded frame to a row.
func (w *Writer) transform(source, destination string, payload []byte, headers map[string]string) (frameRow, error) {
	if headers == nil {
		headers = map[string]string{}
	}
	encoded, err := json.Marshal(headers)
	if err != nil {
		return frameRow{}, err
	}

	return frameRow{
		ID:          uuid.New(),
		ReceivedAt:  w.now().UTC(),
		Source:      source,
		Destination: destination,
		Headers:     encoded,
		Body:        payload,
	}, nil
}

// flush writes the current batch to the database.
func (w *Writer) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	batch := w.batch
	w.batch = make([]frameRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed frames",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *Writer) batchInsert(ctx context.Context, rows []frameRow) (conflicts int, err error) {
	if w.db == nil {
		return 0, errors.New("archive writer has no database")
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertFrame, r.ID, r.ReceivedAt, r.Source, r.Destination, r.Headers, r.Body)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
