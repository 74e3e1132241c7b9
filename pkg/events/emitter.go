package events

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrEmitterFailed wraps the first write error seen on the event channel.
var ErrEmitterFailed = errors.New("event channel write failed")

// Emitter writes events as JSON lines and flushes after each one. It is safe
// for concurrent use; lines never interleave.
//
// A write failure is terminal. The error is published once on Fatal and every
// later Emit returns it without writing.
type Emitter struct {
	mu    sync.Mutex
	w     *bufio.Writer
	err   error
	fatal chan error
}

func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{
		w:     bufio.NewWriter(w),
		fatal: make(chan error, 1),
	}
}

// Emit serializes evt and writes it as a single line.
func (e *Emitter) Emit(evt Event) error {
	line, err := evt.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", evt.Type, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.err != nil {
		return e.err
	}

	if _, err := e.w.Write(line); err != nil {
		return e.fail(err)
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return e.fail(err)
	}
	if err := e.w.Flush(); err != nil {
		return e.fail(err)
	}
	return nil
}

// Fatal delivers the first write failure. It never delivers more than once.
func (e *Emitter) Fatal() <-chan error {
	return e.fatal
}

// Err returns the recorded write failure, if any.
func (e *Emitter) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *Emitter) fail(err error) error {
	e.err = fmt.Errorf("%w: %w", ErrEmitterFailed, err)
	e.fatal <- e.err
	return e.err
}
