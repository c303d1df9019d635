package framework

import (
	"context"
	"sync"
	"time"
)

// dataFrame is one captured 802.11 frame queued for delivery to the parent.
type dataFrame struct {
	ts     time.Time
	dlt    int
	caplen int
	data   []byte
}

// ringBuffer is the framework's outbound ring-buffer backpressure primitive
// (spec.md §4.5, §9 "Capture thread integration"). A failed push (full
// buffer) is surfaced to the capture thread as SendData returning 0; the
// capture thread parks on WaitForSpace until the drain goroutine frees a
// slot.
type ringBuffer struct {
	mu       sync.Mutex
	items    []dataFrame
	capacity int

	notify chan struct{} // buffered 1; signaled whenever a slot frees
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

func (r *ringBuffer) tryPush(f dataFrame) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.items) >= r.capacity {
		return false
	}
	r.items = append(r.items, f)
	return true
}

func (r *ringBuffer) tryPop() (dataFrame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.items) == 0 {
		return dataFrame{}, false
	}
	f := r.items[0]
	r.items = r.items[1:]
	return f, true
}

func (r *ringBuffer) signalSpace() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *ringBuffer) waitForSpace(ctx context.Context) {
	select {
	case <-r.notify:
	case <-ctx.Done():
	}
}
