package batch

import (
	"sync"
	"time"
)

// Buffer is the ordered set of pending units plus the time the last unit was
// accepted. Length and watermark always change under the same lock.
type Buffer[T any] struct {
	mu        sync.Mutex
	units     []T
	watermark time.Time
	order     Order
}

// NewBuffer creates an empty buffer draining in the given order.
func NewBuffer[T any](order Order) *Buffer[T] {
	return &Buffer[T]{order: order}
}

// Append adds a unit and moves the watermark to now. It returns the new length.
func (b *Buffer[T]) Append(unit T, now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.units = append(b.units, unit)
	b.watermark = now
	return len(b.units)
}

// Drain removes up to limit units (all of them when limit <= 0).
func (b *Buffer[T]) Drain(limit int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.units)
	if limit > 0 && limit < n {
		n = limit
	}
	if n == 0 {
		return nil
	}

	out := make([]T, n)
	if b.order == LIFO {
		last := len(b.units) - 1
		for i := 0; i < n; i++ {
			out[i] = b.units[last-i]
		}
		clear(b.units[len(b.units)-n:])
		b.units = b.units[:len(b.units)-n]
		return out
	}

	copy(out, b.units[:n])
	clear(b.units[:n])
	b.units = b.units[n:]
	return out
}

// Requeue puts drained units back so the next drain returns them first.
func (b *Buffer[T]) Requeue(units []T) {
	if len(units) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.order == LIFO {
		for i := len(units) - 1; i >= 0; i-- {
			b.units = append(b.units, units[i])
		}
		return
	}
	b.units = append(append(make([]T, 0, len(units)+len(b.units)), units...), b.units...)
}

// Len returns the number of pending units.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.units)
}

// Watermark returns the time the last unit was accepted (or the last reset).
func (b *Buffer[T]) Watermark() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.watermark
}

// ResetWatermark moves the watermark without adding a unit.
func (b *Buffer[T]) ResetWatermark(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watermark = now
}

// ShouldFlush reports whether a non-empty buffer reached size units or has
// not accepted anything for staleAfter.
func (b *Buffer[T]) ShouldFlush(now time.Time, size int, staleAfter time.Duration) (bool, Trigger) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.units) == 0 {
		return false, ""
	}
	if len(b.units) >= size {
		return true, TriggerSize
	}
	if now.Sub(b.watermark) >= staleAfter {
		return true, TriggerStale
	}
	return false, ""
}
