// Package notice implements the transient message area shown above the map.
// A notice clears itself after a fixed delay unless a newer one replaced it.
package notice

import (
	"sync"
	"time"

	"github.com/rubiojr/minaplatser/pkg/logger"
)

// DefaultTTL is how long a notice stays visible.
const DefaultTTL = 4 * time.Second

// Notice is the visible message and when it was posted.
type Notice struct {
	Message string    `json:"message"`
	Posted  time.Time `json:"posted"`
	Seq     uint64    `json:"seq"`
}

// Board holds at most one notice.
type Board struct {
	mu    sync.Mutex
	ttl   time.Duration
	cur   Notice
	seq   uint64
	timer *time.Timer
}

// NewBoard returns a board whose notices clear after ttl. A non-positive
// ttl selects DefaultTTL.
func NewBoard(ttl time.Duration) *Board {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Board{ttl: ttl}
}

// Show replaces the current notice with msg.
func (b *Board) Show(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	seq := b.seq
	b.cur = Notice{Message: msg, Posted: time.Now(), Seq: seq}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.ttl, func() { b.expire(seq) })
	logger.Debug("notice: %q", msg)
}

func (b *Board) expire(seq uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.seq != seq {
		return
	}
	b.cur = Notice{}
}

// Clear removes the current notice immediately.
func (b *Board) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	b.cur = Notice{}
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// Current returns the visible notice; Message is empty when there is none.
func (b *Board) Current() Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cur
}
