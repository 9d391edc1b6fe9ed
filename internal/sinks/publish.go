// Package sinks holds the batch destinations of the ingest pipelines.
package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/otcheredev/ris-dicom-ingest/internal/batch"
	"github.com/otcheredev/ris-dicom-ingest/internal/bus"
	"github.com/otcheredev/ris-dicom-ingest/internal/models"
)

// Topics names the bus topics the sinks publish to
type Topics struct {
	Main                 string
	ChangeTransferSyntax string
	State                string
	Image                string
}

// Route picks the topic and partition key of a unit
type Route[T any] func(unit T) (topic, key string)

// TransportRoute sends instances that need transcoding to the change
// transfer syntax topic and everything else to the main topic, keyed by
// trace id.
func TransportRoute(topics Topics) Route[*models.TransportMetadata] {
	return func(m *models.TransportMetadata) (string, string) {
		if m.TransferStatus == models.NeedTransfer {
			return topics.ChangeTransferSyntax, m.TraceID
		}
		return topics.Main, m.TraceID
	}
}

// StateRoute keys state records by md5(tenant+patient+study+series)
func StateRoute(topic string) Route[*models.StateMeta] {
	return func(s *models.StateMeta) (string, string) {
		return topic, bus.StateKey(s.TenantID, s.PatientID, s.StudyUID, s.SeriesUID)
	}
}

// ImageRoute keys image records by md5(tenant+patient+study+series+sop)
func ImageRoute(topic string) Route[*models.ImageMeta] {
	return func(m *models.ImageMeta) (string, string) {
		return topic, bus.ImageKey(m.TenantID, m.PatientID, m.StudyUID, m.SeriesUID, m.SOPUID)
	}
}

// PublishSink serializes units to JSON and publishes them concurrently
type PublishSink[T any] struct {
	pub         bus.Publisher
	route       Route[T]
	timeout     time.Duration
	concurrency int
	logger      zerolog.Logger
}

// NewPublishSink creates a publish sink. timeout bounds each publish.
func NewPublishSink[T any](pub bus.Publisher, route Route[T], timeout time.Duration, logger zerolog.Logger) *PublishSink[T] {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PublishSink[T]{
		pub:         pub,
		route:       route,
		timeout:     timeout,
		concurrency: 16,
		logger:      logger.With().Str("sink", "publish").Logger(),
	}
}

// Deliver publishes every unit and waits for all of them. It fails with
// batch.ErrUnavailable only when nothing could be published.
func (s *PublishSink[T]) Deliver(ctx context.Context, units []T) (batch.Result, error) {
	var delivered, failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, unit := range units {
		g.Go(func() error {
			topic, key := s.route(unit)
			payload, err := json.Marshal(unit)
			if err != nil {
				failed.Add(1)
				s.logger.Error().Err(err).Str("topic", topic).Str("key", key).Msg("failed to encode record")
				return nil
			}

			publishCtx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			if err := s.pub.Publish(publishCtx, topic, key, payload); err != nil {
				failed.Add(1)
				s.logger.Warn().Err(err).Str("topic", topic).Str("key", key).Msg("publish failed")
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	result := batch.Result{Delivered: int(delivered.Load()), Failed: int(failed.Load())}
	if result.Delivered == 0 && result.Failed > 0 {
		return result, fmt.Errorf("all %d publishes failed: %w", result.Failed, batch.ErrUnavailable)
	}
	return result, nil
}
