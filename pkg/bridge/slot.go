package bridge

import (
	"errors"
	"sync"
)

var (
	errSlotBusy   = errors.New("peer already connected")
	errSlotClosed = errors.New("bridge shutting down")
)

// slot holds the one live peer. A claim reserves it across the WebSocket
// upgrade so two concurrent attempts cannot both be promoted, and its held
// channel is closed when the claim ends, whether abandoned or released.
type slot struct {
	mu     sync.Mutex
	held   chan struct{}
	peer   *Peer
	closed bool
}

// claim reserves the slot. It fails while a peer is live or another claim
// is pending, and for good once the slot is shut.
func (s *slot) claim() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSlotClosed
	}
	if s.held != nil {
		return errSlotBusy
	}
	s.held = make(chan struct{})
	return nil
}

// abandon drops a claim whose upgrade failed or was refused.
func (s *slot) abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peer == nil {
		s.end()
	}
}

func (s *slot) bind(p *Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peer = p
}

// release clears the slot if p still owns it.
func (s *slot) release(p *Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peer == p {
		s.peer = nil
		s.end()
	}
}

func (s *slot) end() {
	if s.held != nil {
		close(s.held)
		s.held = nil
	}
}

func (s *slot) current() *Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// shut refuses every later claim and returns a channel that is closed when
// the outstanding claim ends, or nil if there is none.
func (s *slot) shut() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.held == nil {
		return nil
	}
	return s.held
}
