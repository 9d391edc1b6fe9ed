package batch

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrUnavailable is returned by a Sink that could not take the batch at all
// (no database handle, bus down). The accumulator keeps the units and offers
// them again after the backoff.
var ErrUnavailable = errors.New("sink unavailable")

// ErrClosed is returned by Add once the accumulator has stopped.
var ErrClosed = errors.New("accumulator closed")

// Result counts the units of one delivered batch.
type Result struct {
	Delivered int
	Failed    int
}

// Sink receives drained batches. Per-unit failures are reported in Result;
// a non-nil error fails the whole call.
type Sink[T any] interface {
	Deliver(ctx context.Context, units []T) (Result, error)
}

// SinkFunc adapts a function to Sink.
type SinkFunc[T any] func(ctx context.Context, units []T) (Result, error)

// Deliver calls f.
func (f SinkFunc[T]) Deliver(ctx context.Context, units []T) (Result, error) {
	return f(ctx, units)
}

// Order selects which units a drain takes first.
type Order int

const (
	// FIFO drains the oldest units first.
	FIFO Order = iota
	// LIFO drains the most recently appended units first.
	LIFO
)

func (o Order) String() string {
	if o == LIFO {
		return "lifo"
	}
	return "fifo"
}

// ParseOrder maps "fifo"/"lifo" to an Order, defaulting to FIFO.
func ParseOrder(s string) Order {
	if strings.EqualFold(s, "lifo") {
		return LIFO
	}
	return FIFO
}

// Trigger is why a flush happened.
type Trigger string

const (
	TriggerSize   Trigger = "size"
	TriggerStale  Trigger = "stale"
	TriggerForced Trigger = "forced"
)

// Observer is notified after every sink call.
type Observer interface {
	ObserveFlush(pipeline string, trigger Trigger, batchSize int, result Result, err error, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveFlush(string, Trigger, int, Result, error, time.Duration) {}
