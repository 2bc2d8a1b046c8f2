package netinfo

import "sync"

// History is a bounded ring of snapshots, most recent last. The oldest
// entry is evicted once the ring is full.
type History struct {
	mu    sync.RWMutex
	buf   []Snapshot
	start int
	n     int
}

// NewHistory returns a ring holding at most size snapshots (minimum 1).
func NewHistory(size int) *History {
	if size < 1 {
		size = 1
	}
	return &History{buf: make([]Snapshot, size)}
}

// Append stores s, evicting the oldest entry when full.
func (h *History) Append(s Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = s
		h.n++
		return
	}
	h.buf[h.start] = s
	h.start = (h.start + 1) % len(h.buf)
}

// Latest returns the most recent snapshot.
func (h *History) Latest() (Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.n == 0 {
		return Snapshot{}, false
	}
	return h.buf[(h.start+h.n-1)%len(h.buf)], true
}

// Snapshots returns a copy of the ring, oldest first.
func (h *History) Snapshots() []Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Snapshot, h.n)
	for i := 0; i < h.n; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

// Len returns the number of stored snapshots.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.n
}
