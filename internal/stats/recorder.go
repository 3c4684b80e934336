package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wilsonzlin/aero/proxy/flight-signaling/internal/metrics"
)

const (
	DefaultQueueSize    = 256
	DefaultWriteTimeout = 5 * time.Second
)

// Writer is the persistence side of a Recorder. *Store implements it.
type Writer interface {
	AddDaily(ctx context.Context, at time.Time, d Delta) error
	InsertFeedback(ctx context.Context, f Feedback) error
}

type RecorderOptions struct {
	QueueSize    int
	WriteTimeout time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	Now          func() time.Time
}

type job struct {
	at       time.Time
	delta    Delta
	feedback *Feedback
}

// Recorder queues writes for a single background worker. Enqueueing never
// blocks: when the queue is full the write is dropped and counted. Write
// failures are logged and otherwise ignored.
//
// All methods are no-ops on a nil *Recorder, which is what callers use when
// persistence is disabled.
type Recorder struct {
	w       Writer
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	jobs   chan job
	done   chan struct{}
}

func NewRecorder(w Writer, opts RecorderOptions) *Recorder {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	r := &Recorder{
		w:       w,
		log:     opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
		timeout: opts.WriteTimeout,
		jobs:    make(chan job, opts.QueueSize),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) FlightCreated() {
	r.Add(Delta{FlightsCreated: 1})
}

func (r *Recorder) UserConnected() {
	r.Add(Delta{UsersConnected: 1})
}

// Transfer records files shared and megabytes moved, as reported by a client.
func (r *Recorder) Transfer(files int64, mb float64) {
	r.Add(Delta{FilesShared: files, MBTransferred: mb})
}

func (r *Recorder) Add(d Delta) {
	if r == nil || d.IsZero() {
		return
	}
	r.enqueue(job{at: r.now(), delta: d})
}

// Feedback queues a feedback message. It reports whether the message was
// accepted into the queue.
func (r *Recorder) Feedback(message, clientIP string) bool {
	if r == nil {
		return false
	}
	now := r.now()
	return r.enqueue(job{at: now, feedback: &Feedback{Message: message, ClientIP: clientIP, CreatedAt: now}})
}

func (r *Recorder) enqueue(j job) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	select {
	case r.jobs <- j:
		return true
	default:
		r.metrics.Inc(metrics.StatsQueueDropped)
		r.log.Warn("stats queue full, dropping write")
		return false
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for j := range r.jobs {
		r.write(j)
	}
}

func (r *Recorder) write(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	var err error
	if j.feedback != nil {
		err = r.w.InsertFeedback(ctx, *j.feedback)
	} else {
		err = r.w.AddDaily(ctx, j.at, j.delta)
	}
	if err != nil {
		r.metrics.Inc(metrics.StatsWriteFailed)
		r.log.Error("stats write failed", "err", err)
	}
}

// Close stops accepting writes and waits for queued ones to finish or for
// ctx to expire.
func (r *Recorder) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.jobs)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
