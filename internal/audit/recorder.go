// Package audit delivers risk decision records to durable sinks without
// letting a slow or failing sink affect the decision path.
package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/lpwatch/risk-engine/internal/metrics"
	"github.com/lpwatch/risk-engine/internal/model"
)

var (
	// ErrBufferFull is returned when a record is dropped because the
	// queue is full.
	ErrBufferFull = errors.New("audit: decision buffer full")

	// ErrClosed is returned for records submitted after Close.
	ErrClosed = errors.New("audit: recorder closed")
)

// Sink persists decision records. store.Store and journal.SQLite both
// satisfy it.
type Sink interface {
	InsertDecision(ctx context.Context, rec *model.DecisionRecord) error
}

// AsyncRecorder queues decision records and writes them to a sink from a
// single background loop. Submitting never blocks: when the queue is full
// the record is dropped and counted.
type AsyncRecorder struct {
	sink    Sink
	queue   chan model.DecisionRecord
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsyncRecorder creates a recorder with the given queue size and
// per-write timeout.
func NewAsyncRecorder(sink Sink, bufferSize int, writeTimeout time.Duration, logger *zap.Logger) *AsyncRecorder {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AsyncRecorder{
		sink:    sink,
		queue:   make(chan model.DecisionRecord, bufferSize),
		timeout: writeTimeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// RecordDecision enqueues rec for writing.
func (r *AsyncRecorder) RecordDecision(_ context.Context, rec model.DecisionRecord) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return ErrClosed
	}
	select {
	case r.queue <- rec:
		return nil
	default:
		// Drop if buffer full to avoid blocking risk evaluation.
		metrics.DecisionLogDropped.Inc()
		return ErrBufferFull
	}
}

// Run writes queued records until Close is called or ctx is cancelled,
// then flushes whatever is still queued. Must be called in a goroutine.
func (r *AsyncRecorder) Run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case rec, ok := <-r.queue:
			if !ok {
				return
			}
			r.write(rec)
		case <-ctx.Done():
			r.flush()
			return
		}
	}
}

// Close stops accepting records. Run returns once the queue is drained.
func (r *AsyncRecorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
}

// Done is closed when Run has returned.
func (r *AsyncRecorder) Done() <-chan struct{} {
	return r.done
}

func (r *AsyncRecorder) flush() {
	for {
		select {
		case rec, ok := <-r.queue:
			if !ok {
				return
			}
			r.write(rec)
		default:
			return
		}
	}
}

func (r *AsyncRecorder) write(rec model.DecisionRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.sink.InsertDecision(ctx, &rec); err != nil {
		metrics.DecisionLogWrites.WithLabelValues("error").Inc()
		r.logger.Error("write decision record",
			zap.String("id", rec.ID),
			zap.String("pool_id", rec.PoolID),
			zap.Error(err),
		)
		return
	}
	metrics.DecisionLogWrites.WithLabelValues("ok").Inc()
}

// SinkRecorder writes each record to the sink synchronously.
type SinkRecorder struct {
	Sink Sink
}

// RecordDecision writes rec to the sink.
func (s SinkRecorder) RecordDecision(ctx context.Context, rec model.DecisionRecord) error {
	return s.Sink.InsertDecision(ctx, &rec)
}

// RecorderFunc adapts a function to a recorder.
type RecorderFunc func(ctx context.Context, rec model.DecisionRecord) error

// RecordDecision calls f.
func (f RecorderFunc) RecordDecision(ctx context.Context, rec model.DecisionRecord) error {
	return f(ctx, rec)
}

// Recorder is the interface every recorder here implements.
type Recorder interface {
	RecordDecision(ctx context.Context, rec model.DecisionRecord) error
}

// Tee hands each record to every recorder and combines their errors.
func Tee(recorders ...Recorder) Recorder {
	return RecorderFunc(func(ctx context.Context, rec model.DecisionRecord) error {
		var err error
		for _, r := range recorders {
			err = multierr.Append(err, r.RecordDecision(ctx, rec))
		}
		return err
	})
}
