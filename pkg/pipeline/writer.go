package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/argus/pkg/models"
)

// EventStore persists a homogeneous batch of events in a single round trip.
// Mixed-kind input is partitioned internally; the writer pre-partitions so
// each call carries one kind.
type EventStore interface {
	BatchInsert(ctx context.Context, events []models.MetricEvent) error
}

// WriterConfig holds the drain loop knobs.
type WriterConfig struct {
	FlushInterval time.Duration // default 1s
	BatchSize     int           // default 1000
	WriterThreads int           // concurrent partition flushes, default 1
}

func (c *WriterConfig) applyDefaults() {
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1000
	}
	if c.WriterThreads <= 0 {
		c.WriterThreads = 1
	}
}

// Writer periodically drains the ring buffer and writes events to the store
// in per-kind batches. A single Writer owns the buffer's consumer side.
type Writer struct {
	buffer  *RingBuffer
	store   EventStore
	monitor *HealthMonitor
	config  WriterConfig

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger
}

// NewWriter creates a pipeline writer.
func NewWriter(buffer *RingBuffer, store EventStore, monitor *HealthMonitor, cfg WriterConfig) *Writer {
	if buffer == nil {
		panic("NewWriter: buffer must not be nil")
	}
	if store == nil {
		panic("NewWriter: store must not be nil")
	}
	if monitor == nil {
		panic("NewWriter: monitor must not be nil")
	}
	cfg.applyDefaults()
	return &Writer{
		buffer:  buffer,
		store:   store,
		monitor: monitor,
		config:  cfg,
		wake:    make(chan struct{}, 1),
		logger:  slog.Default().With("component", "pipeline-writer"),
	}
}

// Start launches the background drain loop. Calling Start on a running
// writer is a no-op.
func (w *Writer) Start(ctx context.Context) {
	if w.cancel != nil {
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.run(ctx)
	w.logger.Info("Pipeline writer started",
		"flush_interval", w.config.FlushInterval,
		"batch_size", w.config.BatchSize,
		"writer_threads", w.config.WriterThreads)
}

// Stop cancels the loop, performs one final drain-and-flush pass, and blocks
// until the loop has exited. Safe to call multiple times.
func (w *Writer) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
	w.cancel = nil
	w.done = nil
	w.logger.Info("Pipeline writer stopped")
}

// Wake nudges the writer to drain before the next tick. Non-blocking;
// producers call this when the buffer crosses the batch-size threshold.
func (w *Writer) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// BatchThreshold returns the buffer size at which producers should Wake the
// writer.
func (w *Writer) BatchThreshold() int {
	return w.config.BatchSize
}

func (w *Writer) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Shutdown flush: drain everything still buffered. Uses a
			// background context so in-flight events are persisted rather
			// than abandoned mid-write; whatever fails is counted as drops.
			w.finalFlush()
			return
		case <-ticker.C:
			w.tick(ctx)
		case <-w.wake:
			w.tick(ctx)
		}
	}
}

// tick performs one drain-partition-flush pass.
func (w *Writer) tick(ctx context.Context) {
	events := w.buffer.Drain(w.config.BatchSize)
	if len(events) == 0 {
		w.updateUsage()
		return
	}
	w.flush(ctx, events)
	w.updateUsage()
}

func (w *Writer) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for {
		events := w.buffer.Drain(w.config.BatchSize)
		if len(events) == 0 {
			break
		}
		w.flush(ctx, events)
	}
	w.updateUsage()
}

// flush writes events grouped by kind. Partitions persist independently: a
// failed partition is logged and counted as drops without aborting the rest.
// No retry here — once drained, failed events are gone.
func (w *Writer) flush(ctx context.Context, events []models.MetricEvent) {
	partitions := partitionByKind(events)

	sem := make(chan struct{}, w.config.WriterThreads)
	var wg sync.WaitGroup
	anyOK := false
	var okMu sync.Mutex

	for kind, part := range partitions {
		wg.Add(1)
		sem <- struct{}{}
		go func(kind models.EventKind, part []models.MetricEvent) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := w.store.BatchInsert(ctx, part); err != nil {
				w.logger.Error("Batch insert failed, dropping partition",
					"kind", kind, "count", len(part), "error", err)
				w.monitor.RecordDrop(len(part))
				return
			}
			okMu.Lock()
			anyOK = true
			okMu.Unlock()
		}(kind, part)
	}
	wg.Wait()

	if anyOK {
		w.monitor.MarkRefreshed(time.Now())
	}
}

func (w *Writer) updateUsage() {
	capacity := w.buffer.Capacity()
	if capacity == 0 {
		return
	}
	w.monitor.UpdateBufferUsage(100 * w.buffer.Size() / capacity)
}

// partitionByKind groups events by concrete type, preserving drain order
// within each group.
func partitionByKind(events []models.MetricEvent) map[models.EventKind][]models.MetricEvent {
	out := make(map[models.EventKind][]models.MetricEvent)
	for _, ev := range events {
		out[ev.Kind()] = append(out[ev.Kind()], ev)
	}
	return out
}
