// Package logsink implements the asynchronous detail-log channel: a single
// logger goroutine drains an MPSC queue of immutable log events so that
// producers on the issue, completion, and settings-resolution paths never
// block on I/O.
package logsink

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"github.com/mlbench/loadgen/pkg/logger"
)

// Event is an immutable detail-log record. Tag distinguishes the
// line-oriented settings sections ("Requested Settings:", "Effective
// Settings:") from free-form operational lines.
type Event struct {
	Tag  string
	Line string
}

// Sink owns the single consumer goroutine that drains Events onto Out in
// FIFO-per-producer order. It also mirrors every event through a structured
// Logger so
// operators get both the audit-format detail log and searchable logs.
type Sink struct {
	out    io.Writer
	log    logger.Logger
	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// New constructs a Sink. capacity bounds how many in-flight events may be
// queued before a producer blocks; a generous buffer (callers typically
// pass a few thousand) keeps producers non-blocking in practice without
// requiring an unbounded channel.
func New(out io.Writer, log logger.Logger, capacity int) *Sink {
	if capacity <= 0 {
		capacity = 4096
	}
	s := &Sink{
		out:    out,
		log:    log,
		events: make(chan Event, capacity),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *Sink) run() {
	defer s.wg.Done()
	w := bufio.NewWriter(s.out)
	defer w.Flush()

	for ev := range s.events {
		fmt.Fprintln(w, ev.Line)
		switch ev.Tag {
		case "error", "config_error":
			s.log.Error(ev.Line, "tag", ev.Tag)
		case "fatal":
			s.log.Error(ev.Line, "tag", ev.Tag)
		default:
			s.log.Info(ev.Line, "tag", ev.Tag)
		}
		// Flush periodically rather than per-line so a slow sink doesn't
		// become a per-event syscall on the hot path; the channel already
		// decouples producers from this cost.
		if len(s.events) == 0 {
			w.Flush()
		}
	}
}

// Emit enqueues a line under the given tag. Never blocks the caller beyond
// a full channel (which only happens under sustained log storms).
func (s *Sink) Emit(tag, line string) {
	select {
	case s.events <- Event{Tag: tag, Line: line}:
	case <-s.done:
	}
}

// Emitf is a convenience wrapper around Emit + fmt.Sprintf.
func (s *Sink) Emitf(tag, format string, args ...interface{}) {
	s.Emit(tag, fmt.Sprintf(format, args...))
}

// Close drains remaining events and stops the consumer goroutine. Safe to
// call multiple times.
func (s *Sink) Close() {
	s.closeOnce.Do(func() {
		close(s.events)
		close(s.done)
	})
	s.wg.Wait()
}
