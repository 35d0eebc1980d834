package journal

import (
	"context"
	"time"

	"github.com/RaduG/chanio-core/internal/cio"
)

// Logger defines the logging interface used by the recorder.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

const recorderQueueDepth = 512

// Recorder turns lifecycle notifications into journal rows. The
// notification callbacks only enqueue; a background goroutine does the
// inserts, so the core never blocks on the database.
type Recorder struct {
	repo    *Repository
	log     Logger
	entries chan Entry
	done    chan struct{}
}

// NewRecorder creates a recorder on the given repository. Run must be
// started before notifications arrive.
func NewRecorder(repo *Repository) *Recorder {
	return &Recorder{
		repo:    repo,
		log:     noopLogger{},
		entries: make(chan Entry, recorderQueueDepth),
		done:    make(chan struct{}),
	}
}

// SetLogger sets the logger for the recorder.
func (rec *Recorder) SetLogger(log Logger) { rec.log = log }

// Run drains the queue until the context is cancelled, then flushes
// what is left.
func (rec *Recorder) Run(ctx context.Context) {
	defer close(rec.done)
	for {
		select {
		case e := <-rec.entries:
			rec.insert(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-rec.entries:
					rec.insert(e)
				default:
					return
				}
			}
		}
	}
}

// Wait blocks until Run has returned.
func (rec *Recorder) Wait() { <-rec.done }

func (rec *Recorder) insert(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rec.repo.Record(ctx, e); err != nil {
		rec.log.Warn("journal insert failed", "device", e.DeviceID, "error", err)
	}
}

func (rec *Recorder) enqueue(e Entry) {
	e.OccurredAt = time.Now()
	select {
	case rec.entries <- e:
	default:
		// Journal is best effort; drop rather than stall the core.
		rec.log.Warn("journal queue full, dropping entry", "device", e.DeviceID)
	}
}

// DeviceRegistered implements cio.Notifier.
func (rec *Recorder) DeviceRegistered(dev *cio.Device) {
	rec.enqueue(Entry{DeviceID: dev.ID.String(), Kind: KindRegistered})
}

// DeviceUnregistered implements cio.Notifier.
func (rec *Recorder) DeviceUnregistered(dev *cio.Device) {
	rec.enqueue(Entry{DeviceID: dev.ID.String(), Kind: KindUnregistered})
}

// StateChanged implements cio.Notifier.
func (rec *Recorder) StateChanged(dev *cio.Device, from, to cio.State) {
	rec.enqueue(Entry{
		DeviceID:  dev.ID.String(),
		Kind:      KindTransition,
		FromState: from.String(),
		ToState:   to.String(),
	})
}
