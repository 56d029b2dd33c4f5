package audit

import (
	"context"
	"sync"
)

// queueSize is the buffer of the asynchronous write queue.
const queueSize = 256

// Logger is the logging interface used by the Recorder.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder queues entries and writes them serially from one goroutine so
// request handlers never wait on the audit table.
//
// A full queue drops the entry with a warning. Write failures are logged.
type Recorder struct {
	repo   Repository
	queue  chan *Entry
	logger Logger
	done   chan struct{}
	once   sync.Once
}

// NewRecorder creates a recorder writing to repo. Call Run to start it.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{
		repo:   repo,
		queue:  make(chan *Entry, queueSize),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Record enqueues an entry. It never blocks.
func (r *Recorder) Record(entry Entry) {
	if r == nil {
		return
	}
	select {
	case r.queue <- &entry:
	default:
		r.logger.Warn("audit queue full, dropping entry",
			"action", entry.Action,
			"entity_type", entry.EntityType,
			"entity_id", entry.EntityID,
		)
	}
}

// Run writes queued entries until ctx is cancelled, then drains what is
// left in the queue and returns.
func (r *Recorder) Run(ctx context.Context) {
	defer r.once.Do(func() { close(r.done) })

	for {
		select {
		case entry := <-r.queue:
			r.write(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-r.queue:
					r.write(entry)
				default:
					return
				}
			}
		}
	}
}

// Done is closed once Run has returned.
func (r *Recorder) Done() <-chan struct{} { return r.done }

func (r *Recorder) write(entry *Entry) {
	if err := r.repo.Create(context.Background(), entry); err != nil {
		r.logger.Error("audit write failed",
			"action", entry.Action,
			"entity_type", entry.EntityType,
			"error", err,
		)
	}
}
