// Package consumer pairs a bus subscription with an accumulator.
package consumer

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/otcheredev/ris-dicom-ingest/internal/batch"
	"github.com/otcheredev/ris-dicom-ingest/internal/bus"
)

// Decoder turns a bus message into a unit. A decode error marks the message
// as poison: it is committed and dropped.
type Decoder[T any] func(msg bus.Message) (T, error)

// Observer counts consumed messages
type Observer interface {
	ObserveConsumed(topic string, n int)
	ObservePoison(topic string)
}

type nopObserver struct{}

func (nopObserver) ObserveConsumed(string, int) {}
func (nopObserver) ObservePoison(string)        {}

// Loop reads one topic into one accumulator
type Loop[T any] struct {
	name     string
	sub      bus.Subscriber
	acc      *batch.Accumulator[T]
	decode   Decoder[T]
	backoff  time.Duration
	observer Observer
	logger   zerolog.Logger
}

// New creates a loop. The accumulator is run by the loop and must not be
// started elsewhere.
func New[T any](name string, sub bus.Subscriber, acc *batch.Accumulator[T], decode Decoder[T], backoff time.Duration, observer Observer, logger zerolog.Logger) *Loop[T] {
	if observer == nil {
		observer = nopObserver{}
	}
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	return &Loop[T]{
		name:     name,
		sub:      sub,
		acc:      acc,
		decode:   decode,
		backoff:  backoff,
		observer: observer,
		logger:   logger.With().Str("pipeline", name).Logger(),
	}
}

// Run reads and accumulates until ctx is cancelled. The accumulator performs
// its final flush before Run returns.
func (l *Loop[T]) Run(ctx context.Context) error {
	accCtx, stopAccumulator := context.WithCancel(ctx)
	defer stopAccumulator()

	var g errgroup.Group
	g.Go(func() error {
		return l.acc.Run(accCtx)
	})
	g.Go(func() error {
		// the accumulator stops (and flushes) once nothing more can be added
		defer stopAccumulator()
		return l.read(ctx)
	})

	l.logger.Info().Msg("consumer started")
	err := g.Wait()
	l.logger.Info().Msg("consumer stopped")
	return err
}

func (l *Loop[T]) read(ctx context.Context) error {
	for {
		msgs, err := l.sub.Fetch(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			l.logger.Error().Err(err).Dur("retry_in", l.backoff).Msg("fetch failed")
			if !sleep(ctx, l.backoff) {
				return nil
			}
			continue
		}
		if len(msgs) == 0 {
			continue
		}
		if err := l.handle(ctx, msgs); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// handle decodes a fetched batch, commits it and hands the units over.
func (l *Loop[T]) handle(ctx context.Context, msgs []bus.Message) error {
	units := make([]T, 0, len(msgs))
	for _, msg := range msgs {
		unit, err := l.decode(msg)
		if err != nil {
			l.observer.ObservePoison(msg.Topic)
			l.logger.Warn().Err(err).Str("topic", msg.Topic).Str("message_id", msg.ID).Str("key", msg.Key).Msg("dropping undecodable message")
			continue
		}
		units = append(units, unit)
	}

	// offsets are committed once decoded, before the sink sees the units
	if err := l.sub.Commit(ctx, msgs...); err != nil {
		l.logger.Error().Err(err).Int("messages", len(msgs)).Msg("commit failed, messages will be redelivered")
	}
	l.observer.ObserveConsumed(msgs[0].Topic, len(msgs))

	for _, unit := range units {
		if err := l.acc.Add(ctx, unit); err != nil {
			return err
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
