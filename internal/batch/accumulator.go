package batch

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Config tunes one accumulator.
type Config struct {
	// Name labels logs and metrics.
	Name          string
	SizeThreshold int
	StaleAfter    time.Duration
	PollInterval  time.Duration
	Backoff       time.Duration
	// QueueSize bounds units accepted by Add but not yet buffered.
	QueueSize int
	Order     Order
	// ShutdownTimeout bounds the final flush after the run context ends.
	ShutdownTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.SizeThreshold <= 0 {
		c.SizeThreshold = 20
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 5 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.Backoff <= 0 {
		c.Backoff = 5 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 4 * c.SizeThreshold
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

// Option configures an Accumulator.
type Option func(*options)

type options struct {
	observer Observer
	logger   zerolog.Logger
}

// WithObserver reports every flush to o.
func WithObserver(o Observer) Option {
	return func(opts *options) {
		if o != nil {
			opts.observer = o
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(opts *options) { opts.logger = l }
}

// Accumulator collects units from producers and hands them to a Sink when the
// buffer is full or stale. Producers call Add; one goroutine runs Run.
type Accumulator[T any] struct {
	cfg      Config
	sink     Sink[T]
	buf      *Buffer[T]
	in       chan T
	flushReq chan chan error
	done     chan struct{}
	observer Observer
	logger   zerolog.Logger
}

// New creates an accumulator. Nothing is delivered until Run is called.
func New[T any](cfg Config, sink Sink[T], opts ...Option) *Accumulator[T] {
	cfg.setDefaults()
	o := options{observer: nopObserver{}, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Accumulator[T]{
		cfg:      cfg,
		sink:     sink,
		buf:      NewBuffer[T](cfg.Order),
		in:       make(chan T, cfg.QueueSize),
		flushReq: make(chan chan error),
		done:     make(chan struct{}),
		observer: o.observer,
		logger:   o.logger.With().Str("pipeline", cfg.Name).Logger(),
	}
}

// Add hands a unit to the accumulator. It blocks while the queue is full.
func (a *Accumulator[T]) Add(ctx context.Context, unit T) error {
	select {
	case <-a.done:
		return ErrClosed
	default:
	}

	select {
	case a.in <- unit:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		return ErrClosed
	}
}

// Flush delivers everything pending and waits for the sink calls to return.
func (a *Accumulator[T]) Flush(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case a.flushReq <- reply:
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		return ErrClosed
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of buffered units.
func (a *Accumulator[T]) Len() int {
	return a.buf.Len()
}

// Run buffers incoming units and flushes them until ctx is cancelled, then
// performs a final flush of everything still pending.
func (a *Accumulator[T]) Run(ctx context.Context) error {
	defer close(a.done)

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	a.buf.ResetWatermark(time.Now())
	a.logger.Debug().
		Int("size_threshold", a.cfg.SizeThreshold).
		Dur("stale_after", a.cfg.StaleAfter).
		Str("order", a.cfg.Order.String()).
		Msg("accumulator started")

	for {
		var err error
		select {
		case <-ctx.Done():
			return a.shutdown(ctx)

		case unit := <-a.in:
			if a.buf.Append(unit, time.Now()) >= a.cfg.SizeThreshold {
				err = a.flush(ctx, TriggerSize)
			}

		case <-ticker.C:
			if ok, trigger := a.buf.ShouldFlush(time.Now(), a.cfg.SizeThreshold, a.cfg.StaleAfter); ok {
				err = a.flush(ctx, trigger)
			}

		case reply := <-a.flushReq:
			a.receivePending()
			err = a.flush(ctx, TriggerForced)
			reply <- err
		}

		if err != nil && !a.sleep(ctx, a.cfg.Backoff) {
			return a.shutdown(ctx)
		}
	}
}

// flush drains one batch, or everything pending for a forced flush.
func (a *Accumulator[T]) flush(ctx context.Context, trigger Trigger) error {
	for {
		units := a.buf.Drain(a.cfg.SizeThreshold)
		if len(units) == 0 {
			return nil
		}

		start := time.Now()
		result, err := a.sink.Deliver(ctx, units)
		elapsed := time.Since(start)
		a.buf.ResetWatermark(time.Now())
		a.observer.ObserveFlush(a.cfg.Name, trigger, len(units), result, err, elapsed)

		if err != nil {
			if errors.Is(err, ErrUnavailable) {
				a.buf.Requeue(units)
				a.logger.Warn().Err(err).Int("units", len(units)).Str("trigger", string(trigger)).Msg("sink unavailable, batch kept for retry")
			} else {
				a.logger.Error().Err(err).Int("units", len(units)).Int("failed", result.Failed).Str("trigger", string(trigger)).Msg("batch delivery failed")
			}
			return err
		}

		a.logger.Debug().
			Str("trigger", string(trigger)).
			Int("delivered", result.Delivered).
			Int("failed", result.Failed).
			Dur("elapsed", elapsed).
			Msg("batch flushed")

		if trigger != TriggerForced {
			return nil
		}
	}
}

// receivePending moves queued units into the buffer without blocking.
func (a *Accumulator[T]) receivePending() {
	for {
		select {
		case unit := <-a.in:
			a.buf.Append(unit, time.Now())
		default:
			return
		}
	}
}

func (a *Accumulator[T]) shutdown(ctx context.Context) error {
	a.receivePending()
	if a.buf.Len() == 0 {
		return nil
	}

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := a.flush(flushCtx, TriggerForced); err != nil {
		a.logger.Error().Err(err).Int("lost", a.buf.Len()).Msg("final flush failed")
		return err
	}
	a.logger.Info().Msg("final flush done")
	return nil
}

func (a *Accumulator[T]) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
