package conn

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"quizlink/tools/decode"
)

const DefaultSubscriberBuffer = 64

// StateMachineBuffer is for consumers that must not miss terminal events
// such as game.over.
const StateMachineBuffer = 512

// Subscription is one consumer of the inbound stream. Envelopes arrive in the
// order the socket delivered them; when the buffer is full the envelope is
// dropped for this subscriber only.
type Subscription struct {
	id      uint64
	ch      chan decode.Envelope
	hub     *hub
	dropped atomic.Int64
	once    sync.Once
}

// Events is closed after Close or when the manager closes.
func (s *Subscription) Events() <-chan decode.Envelope { return s.ch }

// Dropped counts envelopes lost to a full buffer.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Close stops delivery. The connection is unaffected.
func (s *Subscription) Close() { s.hub.remove(s) }

type hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
	onDrop func()
	log    *zap.Logger
}

func newHub(onDrop func(), log *zap.Logger) *hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &hub{subs: make(map[uint64]*Subscription), onDrop: onDrop, log: log}
}

func (h *hub) subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	s := &Subscription{id: h.nextID, ch: make(chan decode.Envelope, buffer), hub: h}
	if h.closed {
		s.once.Do(func() { close(s.ch) })
		return s
	}
	h.subs[s.id] = s
	return s
}

func (h *hub) remove(s *Subscription) {
	h.mu.Lock()
	delete(h.subs, s.id)
	h.mu.Unlock()
	s.once.Do(func() { close(s.ch) })
}

// publish never blocks; one slow subscriber cannot stall the others.
func (h *hub) publish(env decode.Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		select {
		case s.ch <- env:
		default:
			if s.dropped.Add(1) == 1 {
				h.log.Warn("subscriber buffer full, dropping envelopes",
					zap.Uint64("subscriber", s.id), zap.String("type", env.Type), zap.Int("buffer", cap(s.ch)))
			}
			if h.onDrop != nil {
				h.onDrop()
			}
		}
	}
}

func (h *hub) size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *hub) closeAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = map[uint64]*Subscription{}
	h.closed = true
	h.mu.Unlock()
	for _, s := range subs {
		s.once.Do(func() { close(s.ch) })
	}
}
