package engine

import (
	"sync"

	"github.com/spotsave/spotsave/internal/models"
)

// progressHub fans snapshots from the single coordinator goroutine out to
// any number of subscribers. Sequence numbers are assigned here so every
// subscriber observes the same strictly increasing order. Slow consumers
// lose intermediate snapshots (drop-oldest coalescing); the terminal
// snapshot always lands in the buffer before the channel closes.
type progressHub struct {
	mu     sync.Mutex
	buffer int
	seq    uint64
	last   *models.ProgressSnapshot
	subs   map[chan models.ProgressSnapshot]struct{}
	closed bool
}

func newProgressHub(buffer int) *progressHub {
	if buffer < 1 {
		buffer = 1
	}
	return &progressHub{
		buffer: buffer,
		subs:   make(map[chan models.ProgressSnapshot]struct{}),
	}
}

// Subscribe registers a new consumer. A late subscriber immediately
// receives the current state; there is no history replay. Subscribing
// after the terminal snapshot yields that snapshot and a closed channel.
func (h *progressHub) Subscribe() <-chan models.ProgressSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan models.ProgressSnapshot, h.buffer)
	if h.last != nil {
		ch <- *h.last
	}
	if h.closed {
		close(ch)
		return ch
	}
	h.subs[ch] = struct{}{}
	return ch
}

// Publish stamps the next sequence number onto snap and delivers it to
// every subscriber. A terminal snapshot closes the hub: all subscriber
// channels close after it and later Publish calls are ignored.
func (h *progressHub) Publish(snap models.ProgressSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	h.seq++
	snap.Sequence = h.seq
	h.last = &snap

	for ch := range h.subs {
		h.send(ch, snap)
	}

	if snap.Terminal() {
		h.closed = true
		for ch := range h.subs {
			close(ch)
			delete(h.subs, ch)
		}
	}
}

// send enqueues snap without blocking the coordinator: when the buffer is
// full the oldest buffered snapshot is discarded to make room.
func (h *progressHub) send(ch chan models.ProgressSnapshot, snap models.ProgressSnapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}
