package bridge

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const closeGracePeriod = time.Second

// Peer is the live connection to the browser extension. Writes from the
// dispatcher and the receive loop are serialized by writeMu; gorilla allows
// only one concurrent writer.
type Peer struct {
	id           string
	client       string
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newPeer(conn *websocket.Conn, client string, writeTimeout time.Duration) *Peer {
	return &Peer{
		id:           uuid.New().String(),
		client:       client,
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

// ID is a per-session identifier used to correlate log lines.
func (p *Peer) ID() string { return p.id }

// Client is the peer's remote address as reported in lifecycle events.
func (p *Peer) Client() string { return p.client }

func (p *Peer) writeText(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if p.writeTimeout > 0 {
		if err := p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout)); err != nil {
			return fmt.Errorf("setting write deadline: %w", err)
		}
	}
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

func (p *Peer) ping() error {
	timeout := p.writeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout))
}

// Close sends a normal-closure frame if the transport still accepts one and
// closes the connection. Safe to call more than once.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		err = p.conn.Close()
	})
	return err
}
