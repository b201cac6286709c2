package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	customerrors "github.com/axellelanca/linkcloak/internal/errors"
	"github.com/axellelanca/linkcloak/internal/models"
)

// Options tunes the asynchronous recorder.
type Options struct {
	BufferSize   int
	Workers      int
	WriteTimeout time.Duration
	MaxAttempts  int
	// Backoff is multiplied by the attempt number between retries.
	Backoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.BufferSize <= 0 {
		o.BufferSize = 1000
	}
	if o.Workers <= 0 {
		o.Workers = 5
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 2 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 1
	}
	if o.Backoff <= 0 {
		o.Backoff = 50 * time.Millisecond
	}
	return o
}

// Stats are the recorder counters surfaced on /health.
type Stats struct {
	Submitted int64 `json:"submitted"`
	Recorded  int64 `json:"recorded"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Pending   int   `json:"pending"`
}

// Recorder takes ledger writes off the request path. Events go through a
// buffered channel to a fixed pool of workers; a full queue drops the event
// instead of blocking the visitor.
type Recorder struct {
	ledger *Ledger
	opts   Options
	logger *zap.Logger

	queue  chan *models.ClickEvent
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	// base is cancelled when Close gives up waiting so in-flight writes abort
	base   context.Context
	cancel context.CancelFunc

	submitted atomic.Int64
	recorded  atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewRecorder starts the worker pool.
func NewRecorder(l *Ledger, opts Options, logger *zap.Logger) *Recorder {
	opts = opts.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	base, cancel := context.WithCancel(context.Background())
	r := &Recorder{
		ledger: l,
		opts:   opts,
		logger: logger.Named("recorder"),
		queue:  make(chan *models.ClickEvent, opts.BufferSize),
		base:   base,
		cancel: cancel,
	}

	r.logger.Info("starting click workers", zap.Int("workers", opts.Workers), zap.Int("buffer", opts.BufferSize))
	r.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go r.worker()
	}
	return r
}

// Submit enqueues one hit and returns immediately.
func (r *Recorder) Submit(slug string, c models.VisitorClassification, referer string) error {
	event := r.ledger.NewEvent(slug, c, referer)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return customerrors.ErrLedgerClosed
	}

	select {
	case r.queue <- event:
		r.submitted.Add(1)
		return nil
	default:
		r.dropped.Add(1)
		r.logger.Warn("click queue full, event dropped", zap.String("slug", slug))
		return customerrors.ErrLedgerQueueFull
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for event := range r.queue {
		r.process(event)
	}
}

func (r *Recorder) process(event *models.ClickEvent) {
	var err error
	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(time.Duration(attempt-1) * r.opts.Backoff):
			case <-r.base.Done():
			}
		}

		ctx, cancel := context.WithTimeout(r.base, r.opts.WriteTimeout)
		_, err = r.ledger.Write(ctx, event)
		cancel()
		if err == nil {
			r.recorded.Add(1)
			return
		}
		if errors.Is(err, customerrors.ErrLinkNotFound) || r.base.Err() != nil {
			break
		}
	}

	r.failed.Add(1)
	r.logger.Error("click recording failed",
		zap.String("slug", event.Slug),
		zap.String("event_id", event.ID),
		zap.Error(err))
}

// Stats returns a snapshot of the counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		Submitted: r.submitted.Load(),
		Recorded:  r.recorded.Load(),
		Failed:    r.failed.Load(),
		Dropped:   r.dropped.Load(),
		Pending:   len(r.queue),
	}
}

// Close stops accepting events and waits for the queue to drain. If ctx ends
// first, in-flight writes are cancelled and ctx.Err() is returned.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}
