package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/tinyland-inc/asbbridge/pkg/bus"
	"github.com/tinyland-inc/asbbridge/pkg/events"
	"github.com/tinyland-inc/asbbridge/pkg/logger"
)

// runSession relays between the queue and p until the connection ends. It
// returns once the dispatcher, receive loop and pinger have all stopped.
func (s *Server) runSession(ctx context.Context, p *Peer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return s.receive(gctx, p)
	})
	g.Go(func() error {
		defer cancel()
		return s.dispatch(gctx, p)
	})
	if s.cfg.PingInterval() > 0 {
		g.Go(func() error {
			defer cancel()
			return s.pinger(gctx, p)
		})
	}
	// Unblocks the receive loop, which does not watch ctx.
	g.Go(func() error {
		<-gctx.Done()
		p.Close()
		return nil
	})

	return g.Wait()
}

// dispatch writes queued commands to the peer in FIFO order. The wait for the
// next command is bounded by the poll interval so a dead session is noticed
// even when the queue stays empty.
func (s *Server) dispatch(ctx context.Context, p *Peer) error {
	logger.DebugCF("dispatch", "Command dispatcher started", map[string]any{"session_id": p.ID()})
	defer logger.DebugCF("dispatch", "Command dispatcher stopped", map[string]any{"session_id": p.ID()})

	for {
		waitCtx, cancel := context.WithTimeout(ctx, s.cfg.PollInterval())
		cmd, err := s.queue.Dequeue(waitCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, bus.ErrQueueClosed) {
				logger.DebugCF("dispatch", "Command queue closed", map[string]any{"session_id": p.ID()})
			}
			return err
		}

		// The session ended while we held the command: it was never handed
		// to the transport, so it goes back to the head of the queue.
		if ctx.Err() != nil {
			if err := s.queue.Requeue(cmd); err != nil {
				logger.WarnCF("dispatch", "Could not requeue command", map[string]any{
					"command": cmd.Name,
					"error":   err.Error(),
				})
			}
			return nil
		}

		payload, err := cmd.MarshalJSON()
		if err != nil {
			logger.ErrorCF("dispatch", "Dropping unencodable command", map[string]any{
				"command": cmd.Name,
				"error":   err.Error(),
			})
			continue
		}

		if err := p.writeText(payload); err != nil {
			logger.WarnCF("dispatch", "Send failed, command dropped", map[string]any{
				"session_id": p.ID(),
				"command":    cmd.Name,
				"error":      err.Error(),
			})
			return fmt.Errorf("sending %q: %w", cmd.Name, err)
		}

		logger.DebugCF("dispatch", "Sent command", map[string]any{
			"session_id": p.ID(),
			"command":    cmd.Name,
			"bytes":      len(payload),
		})
	}
}

// receive reads frames until the transport closes.
func (s *Server) receive(ctx context.Context, p *Peer) error {
	if s.cfg.Server.MaxMessageBytes > 0 {
		p.conn.SetReadLimit(s.cfg.Server.MaxMessageBytes)
	}
	s.extendReadDeadline(p)
	p.conn.SetPongHandler(func(string) error {
		s.extendReadDeadline(p)
		return nil
	})

	for {
		msgType, data, err := p.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.DebugCF("bridge", "Peer read ended", map[string]any{
					"session_id": p.ID(),
					"error":      err.Error(),
				})
			}
			return nil
		}
		s.extendReadDeadline(p)

		if err := s.handleFrame(p, msgType, data); err != nil {
			return err
		}
	}
}

func (s *Server) handleFrame(p *Peer, msgType int, data []byte) error {
	if msgType != websocket.TextMessage {
		logger.DebugCF("bridge", "Ignoring non-text frame", map[string]any{
			"session_id": p.ID(),
			"bytes":      len(data),
		})
		return nil
	}

	if isPingSentinel(data) {
		logger.DebugCF("bridge", "Received PING, sending PONG", map[string]any{"session_id": p.ID()})
		if err := p.writeText([]byte(PongSentinel)); err != nil {
			return fmt.Errorf("writing PONG: %w", err)
		}
		return nil
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		logger.WarnCF("bridge", "Dropping non-JSON frame", map[string]any{
			"session_id": p.ID(),
			"error":      err.Error(),
			"frame":      truncate(string(data), 200),
		})
		return nil
	}

	return s.emit(events.Response(compact.Bytes()))
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
