// Package pipeline implements the metric ingestion path: a lock-free ring
// buffer fed by request hooks, a health monitor with drop accounting, and a
// background writer that drains events into the metric store in grouped
// batches.
package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/codeready-toolchain/argus/pkg/models"
)

// DefaultRingBufferSize is the default buffer capacity.
const DefaultRingBufferSize = 8192

// RingBuffer is a bounded MPMC queue of metric events. Publish is
// non-blocking, allocation-free, and safe under many concurrent producers.
// Drain must be called from a single consumer.
//
// Layout follows the classic bounded-MPMC design: each slot carries a
// sequence number; producers claim slots by CAS on the enqueue cursor and
// hand them to the consumer by bumping the slot sequence.
type RingBuffer struct {
	mask  uint64
	slots []slot

	enq atomic.Uint64
	deq atomic.Uint64
}

type slot struct {
	seq atomic.Uint64
	ev  models.MetricEvent
	// Pad to reduce false sharing between adjacent slots.
	_ [4]uint64
}

// NewRingBuffer creates a buffer with the given capacity, rounded up to the
// next power of two. Non-positive capacity falls back to the default.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultRingBufferSize
	}
	n := uint64(1)
	for n < uint64(capacity) {
		n <<= 1
	}
	rb := &RingBuffer{
		mask:  n - 1,
		slots: make([]slot, n),
	}
	for i := range rb.slots {
		rb.slots[i].seq.Store(uint64(i))
	}
	return rb
}

// Publish enqueues an event, stamping its time if unset. Returns false when
// the buffer is full; the caller accounts the drop. Never blocks and never
// performs I/O.
func (rb *RingBuffer) Publish(ev models.MetricEvent) bool {
	if ev == nil {
		return false
	}
	for {
		pos := rb.enq.Load()
		s := &rb.slots[pos&rb.mask]
		seq := s.seq.Load()
		switch diff := int64(seq) - int64(pos); {
		case diff == 0:
			if rb.enq.CompareAndSwap(pos, pos+1) {
				if ev.EventTime().IsZero() {
					ev.SetEventTime(time.Now())
				}
				s.ev = ev
				s.seq.Store(pos + 1)
				return true
			}
		case diff < 0:
			// Slot not yet released by the consumer: buffer is full.
			return false
		default:
			// Another producer claimed this position; retry at the new cursor.
		}
	}
}

// Drain removes up to maxCount events in FIFO order. Single consumer only:
// concurrent Drain calls are not supported.
func (rb *RingBuffer) Drain(maxCount int) []models.MetricEvent {
	if maxCount <= 0 {
		return nil
	}
	n := rb.Size()
	if n == 0 {
		return nil
	}
	if n > maxCount {
		n = maxCount
	}
	out := make([]models.MetricEvent, 0, n)
	for len(out) < maxCount {
		pos := rb.deq.Load()
		s := &rb.slots[pos&rb.mask]
		seq := s.seq.Load()
		if int64(seq)-int64(pos+1) != 0 {
			// Empty, or a producer claimed the slot but has not finished
			// writing it yet; stop rather than spin.
			break
		}
		ev := s.ev
		s.ev = nil
		// Release the slot for the producer one lap ahead.
		s.seq.Store(pos + rb.mask + 1)
		rb.deq.Store(pos + 1)
		out = append(out, ev)
	}
	return out
}

// Size returns the approximate number of buffered events.
func (rb *RingBuffer) Size() int {
	enq := rb.enq.Load()
	deq := rb.deq.Load()
	if enq < deq {
		return 0
	}
	n := enq - deq
	if n > rb.mask+1 {
		n = rb.mask + 1
	}
	return int(n)
}

// Capacity returns the fixed buffer capacity.
func (rb *RingBuffer) Capacity() int {
	return int(rb.mask + 1)
}
