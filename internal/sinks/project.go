package sinks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/otcheredev/ris-dicom-ingest/internal/batch"
	"github.com/otcheredev/ris-dicom-ingest/internal/dicomfile"
	"github.com/otcheredev/ris-dicom-ingest/internal/extract"
	"github.com/otcheredev/ris-dicom-ingest/internal/models"
)

// ProjectSink reads stored instances back and publishes their state and
// image projections.
type ProjectSink struct {
	states      batch.Sink[*models.StateMeta]
	images      batch.Sink[*models.ImageMeta]
	concurrency int
	now         func() time.Time
	logger      zerolog.Logger
}

// NewProjectSink creates a projection sink
func NewProjectSink(states batch.Sink[*models.StateMeta], images batch.Sink[*models.ImageMeta], logger zerolog.Logger) *ProjectSink {
	return &ProjectSink{
		states:      states,
		images:      images,
		concurrency: 4,
		now:         time.Now,
		logger:      logger.With().Str("sink", "project").Logger(),
	}
}

// Deliver parses every stored file and publishes one state and one image
// record per instance.
func (s *ProjectSink) Deliver(ctx context.Context, units []*models.TransportMetadata) (batch.Result, error) {
	var (
		mu     sync.Mutex
		states = make([]*models.StateMeta, 0, len(units))
		images = make([]*models.ImageMeta, 0, len(units))
		failed int
	)

	now := s.now()
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, m := range units {
		g.Go(func() error {
			inst, err := dicomfile.Open(m.FilePath, false)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				s.logger.Error().Err(err).Str("trace_id", m.TraceID).Str("file_path", m.FilePath).Msg("failed to read stored instance")
				return nil
			}
			states = append(states, extract.State(inst, m, now))
			images = append(images, extract.Image(inst, m, now))
			return nil
		})
	}
	_ = g.Wait()

	if len(states) == 0 {
		return batch.Result{Failed: failed}, nil
	}

	stateResult, stateErr := s.states.Deliver(ctx, states)
	imageResult, imageErr := s.images.Deliver(ctx, images)
	if errors.Is(stateErr, batch.ErrUnavailable) || errors.Is(imageErr, batch.ErrUnavailable) {
		return batch.Result{Failed: len(units)}, fmt.Errorf("projection not published: %w", errors.Join(stateErr, imageErr))
	}

	lost := max(stateResult.Failed, imageResult.Failed)
	return batch.Result{Delivered: len(states) - lost, Failed: failed + lost}, nil
}
