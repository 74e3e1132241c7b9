// Package ingest reads the host's control channel and feeds the command queue.
//
// The control channel is a blocking reader (normally stdin), so Run is meant
// to own a goroutine of its own for the life of the process. The queue is the
// only thing it shares with the rest of the bridge.
package ingest

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/tinyland-inc/asbbridge/pkg/bus"
	"github.com/tinyland-inc/asbbridge/pkg/logger"
)

const readBufferSize = 64 * 1024

type Ingestor struct {
	r            io.Reader
	queue        *bus.CommandQueue
	maxLineBytes int
}

// NewIngestor reads control lines from r into queue. A positive maxLineBytes
// caps a line, terminator included; longer lines are skipped. Zero means no
// cap.
func NewIngestor(r io.Reader, queue *bus.CommandQueue, maxLineBytes int) *Ingestor {
	if maxLineBytes < 0 {
		maxLineBytes = 0
	}
	return &Ingestor{r: r, queue: queue, maxLineBytes: maxLineBytes}
}

// Run reads until end of input. It returns nil on EOF and the read error
// otherwise. Malformed and oversized lines are logged and skipped.
func (i *Ingestor) Run() error {
	logger.DebugC("ingest", "Control channel reader started")

	reader := bufio.NewReaderSize(i.r, readBufferSize)
	for {
		line, size, readErr := i.readLine(reader)

		if i.oversized(size) {
			logger.WarnCF("ingest", "Skipping oversized control line", map[string]any{
				"bytes": size,
				"limit": i.maxLineBytes,
			})
		} else if err := i.handleLine(line); err != nil {
			return err
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				logger.InfoC("ingest", "Control channel closed")
				return nil
			}
			logger.ErrorCF("ingest", "Control channel read failed", map[string]any{"error": readErr.Error()})
			return fmt.Errorf("reading control channel: %w", readErr)
		}
	}
}

// readLine returns the next line and its full size. Once a line passes the
// cap its bytes are discarded while the rest of it is consumed, so memory
// stays bounded and the next line starts clean.
func (i *Ingestor) readLine(r *bufio.Reader) ([]byte, int, error) {
	var line []byte
	size := 0
	for {
		chunk, err := r.ReadSlice('\n')
		size += len(chunk)
		if i.oversized(size) {
			line = nil
		} else {
			line = append(line, chunk...)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return line, size, err
	}
}

func (i *Ingestor) oversized(size int) bool {
	return i.maxLineBytes > 0 && size > i.maxLineBytes
}

func (i *Ingestor) handleLine(raw []byte) error {
	line := bytes.TrimSpace(raw)
	if len(line) == 0 {
		return nil
	}

	cmd, err := bus.ParseCommand(line)
	if err != nil {
		logger.WarnCF("ingest", "Skipping control line", map[string]any{
			"error": err.Error(),
			"line":  truncate(string(line), 200),
		})
		return nil
	}
	if cmd.Name == "" {
		logger.WarnCF("ingest", "Control line has no command field", map[string]any{
			"line": truncate(string(line), 200),
		})
	}

	if err := i.queue.Enqueue(cmd); err != nil {
		return fmt.Errorf("queueing command %q: %w", cmd.Name, err)
	}
	logger.DebugCF("ingest", "Queued command", map[string]any{
		"command": cmd.Name,
		"params":  len(cmd.Params()),
		"queued":  i.queue.Len(),
	})
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
