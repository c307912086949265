package invalidate

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the default per-subscriber message buffer.
const DefaultBufferSize = 256

// Compile-time interface check.
var _ Broker = (*Hub)(nil)

// Hub is an in-process Broker. Channels hold subscriber sets; a publish
// copies the set and does a non-blocking send to each, so a slow
// subscriber drops messages instead of stalling publishers.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[string]*hubSub // channel → subscriber id → sub

	nextID     atomic.Int64
	bufferSize int

	published atomic.Int64
	dropped   atomic.Int64
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithBufferSize sets the per-subscriber buffer.
func WithBufferSize(size int) HubOption {
	return func(h *Hub) { h.bufferSize = size }
}

// NewHub creates an empty Hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		channels:   make(map[string]map[string]*hubSub),
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish fans payload out to the channel's subscribers.
func (h *Hub) Publish(_ context.Context, channel string, payload []byte) error {
	h.mu.RLock()
	subs := h.channels[channel]
	// Copy to avoid holding the lock during send.
	targets := make([]*hubSub, 0, len(subs))
	for _, s := range subs {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	h.published.Add(1)
	for _, s := range targets {
		msg := append([]byte(nil), payload...)
		if !s.send(msg) {
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe adds a subscriber to channel, creating it if needed.
func (h *Hub) Subscribe(_ context.Context, channel string) (Subscription, error) {
	s := &hubSub{
		hub:     h,
		id:      strconv.FormatInt(h.nextID.Add(1), 10),
		channel: channel,
		ch:      make(chan []byte, h.bufferSize),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.channels[channel]
	if !ok {
		subs = make(map[string]*hubSub)
		h.channels[channel] = subs
	}
	subs[s.id] = s
	return s, nil
}

// SubscriberCount returns the number of subscribers on channel.
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// Published returns how many messages were published.
func (h *Hub) Published() int64 { return h.published.Load() }

// Dropped returns how many deliveries were dropped on full buffers.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

func (h *Hub) unsubscribe(channel, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.channels[channel]
	if !ok {
		return
	}
	delete(subs, subID)
	if len(subs) == 0 {
		delete(h.channels, channel)
	}
}

type hubSub struct {
	hub     *Hub
	id      string
	channel string

	// mu orders sends against Close so a send never hits a closed channel.
	mu     sync.RWMutex
	closed bool
	ch     chan []byte
}

func (s *hubSub) Messages() <-chan []byte { return s.ch }

// send is non-blocking and reports whether the message was buffered.
func (s *hubSub) send(msg []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}

// Close unsubscribes and closes the channel. Safe to call multiple times.
func (s *hubSub) Close() error {
	s.hub.unsubscribe(s.channel, s.id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}
