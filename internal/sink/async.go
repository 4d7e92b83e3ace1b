package sink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	gerrors "git.home.luguber.info/inful/ghillie/internal/errors"
	"git.home.luguber.info/inful/ghillie/internal/logfields"
)

const (
	defaultQueueSize = 16
	writeTimeout     = 10 * time.Second
)

type writeJob struct {
	markdown string
	meta     Metadata
}

// AsyncWriter decouples report persistence from sink I/O: Enqueue hands the
// document to a dedicated writer goroutine and returns immediately. Close
// drains queued writes before returning, so a clean shutdown loses nothing.
type AsyncWriter struct {
	sink   ReportSink
	jobs   chan writeJob
	stop   chan struct{}
	done   chan struct{}
	logger *slog.Logger

	closeOnce sync.Once
}

func NewAsyncWriter(sink ReportSink, queueSize int, logger *slog.Logger) *AsyncWriter {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &AsyncWriter{
		sink:   sink,
		jobs:   make(chan writeJob, queueSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger.With(logfields.Component("sink")),
	}
	go w.run()
	return w
}

// Enqueue queues one rendered document for writing. A full queue rejects the
// write instead of blocking the caller; the report itself is already
// persisted, so a dropped sink write only delays the file copy until the
// next report.
func (w *AsyncWriter) Enqueue(markdown string, meta Metadata) error {
	select {
	case <-w.stop:
		return gerrors.DaemonError("report sink writer is stopped")
	default:
	}

	select {
	case w.jobs <- writeJob{markdown: markdown, meta: meta}:
		return nil
	default:
		return gerrors.DaemonError("report sink queue is full")
	}
}

// Close stops the writer and blocks until queued writes are flushed.
func (w *AsyncWriter) Close() {
	w.closeOnce.Do(func() {
		close(w.stop)
	})
	<-w.done
}

func (w *AsyncWriter) run() {
	defer close(w.done)
	for {
		select {
		case job := <-w.jobs:
			w.write(job)
		case <-w.stop:
			for {
				select {
				case job := <-w.jobs:
					w.write(job)
				default:
					return
				}
			}
		}
	}
}

func (w *AsyncWriter) write(job writeJob) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := w.sink.Write(ctx, job.markdown, job.meta); err != nil {
		w.logger.Error("report sink write failed",
			logfields.Owner(job.meta.Owner),
			logfields.Name(job.meta.Name),
			logfields.ReportID(job.meta.ReportID),
			logfields.Error(err))
	}
}
