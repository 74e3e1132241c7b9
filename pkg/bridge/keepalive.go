package bridge

import (
	"bytes"
	"context"
	"fmt"
	"time"
)

// Text sentinels asbplayer uses for its own liveness check. They are plain
// text frames, not WebSocket control frames, and never carry JSON.
const (
	PingSentinel = "PING"
	PongSentinel = "PONG"
)

func isPingSentinel(payload []byte) bool {
	return string(bytes.TrimSpace(payload)) == PingSentinel
}

// readTimeout is how long a peer may stay silent before the read fails.
// Zero means no deadline.
func (s *Server) readTimeout() time.Duration {
	if s.cfg.PingInterval() <= 0 {
		return 0
	}
	return s.cfg.PingInterval() + s.cfg.PongTimeout()
}

func (s *Server) extendReadDeadline(p *Peer) {
	if timeout := s.readTimeout(); timeout > 0 {
		p.conn.SetReadDeadline(time.Now().Add(timeout))
	}
}

// pinger sends protocol-level pings until ctx is done. A failed ping ends the
// session.
func (s *Server) pinger(ctx context.Context, p *Peer) error {
	ticker := time.NewTicker(s.cfg.PingInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.ping(); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}
