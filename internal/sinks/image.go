package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/otcheredev/ris-dicom-ingest/internal/batch"
	"github.com/otcheredev/ris-dicom-ingest/internal/bus"
	"github.com/otcheredev/ris-dicom-ingest/internal/models"
	"github.com/otcheredev/ris-dicom-ingest/internal/storage"
)

// ImageSaver persists image rows and JSON cache pointers
type ImageSaver interface {
	SaveImageList(ctx context.Context, images []models.ImageMeta) error
	SaveJsonList(ctx context.Context, metas []models.JsonMeta) error
}

// DecodeImage is the bus decoder of the image pipeline
func DecodeImage(msg bus.Message) (*models.ImageMeta, error) {
	var m models.ImageMeta
	if err := json.Unmarshal(msg.Payload, &m); err != nil {
		return nil, fmt.Errorf("decode image record: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// DecodeTransport is the bus decoder of the pipelines reading transport records
func DecodeTransport(msg bus.Message) (*models.TransportMetadata, error) {
	var m models.TransportMetadata
	if err := json.Unmarshal(msg.Payload, &m); err != nil {
		return nil, fmt.Errorf("decode transport record: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// ImageSink writes image rows and refreshes the per-series JSON documents
type ImageSink struct {
	repo   ImageSaver
	cache  *storage.JSONCache
	now    func() time.Time
	logger zerolog.Logger
}

// NewImageSink creates an image sink
func NewImageSink(repo ImageSaver, cache *storage.JSONCache, logger zerolog.Logger) *ImageSink {
	return &ImageSink{repo: repo, cache: cache, now: time.Now, logger: logger.With().Str("sink", "images").Logger()}
}

type seriesKey struct {
	tenant, study, series string
}

type imageKey struct{ tenant, sop string }

// Deliver implements batch.Sink
func (s *ImageSink) Deliver(ctx context.Context, units []*models.ImageMeta) (batch.Result, error) {
	if s.repo == nil {
		return batch.Result{}, fmt.Errorf("no database handle: %w", batch.ErrUnavailable)
	}

	index := make(map[imageKey]int, len(units))
	images := make([]models.ImageMeta, 0, len(units))
	for _, m := range units {
		k := imageKey{m.TenantID, m.SOPUID}
		if i, ok := index[k]; ok {
			images[i] = *m
			continue
		}
		index[k] = len(images)
		images = append(images, *m)
	}

	saved, err := s.save(ctx, images)
	if err != nil {
		return batch.Result{Failed: len(units)}, err
	}

	result := batch.Result{Delivered: len(units)}
	if len(saved) < len(images) {
		written := make(map[imageKey]bool, len(saved))
		for _, m := range saved {
			written[imageKey{m.TenantID, m.SOPUID}] = true
		}
		for _, m := range units {
			if !written[imageKey{m.TenantID, m.SOPUID}] {
				result.Delivered--
				result.Failed++
			}
		}
	}

	var order []seriesKey
	series := make(map[seriesKey][]storage.InstanceEntry)
	for _, m := range saved {
		k := seriesKey{m.TenantID, m.StudyUID, m.SeriesUID}
		if _, ok := series[k]; !ok {
			order = append(order, k)
		}
		series[k] = append(series[k], storage.InstanceEntry{
			SOPUID:         m.SOPUID,
			SOPClassUID:    m.SOPClassUID,
			InstanceNumber: m.InstanceNumber,
			NumberOfFrames: m.NumberOfFrames,
			FilePath:       m.FilePath,
			FileSize:       m.FileSize,
		})
	}

	now := s.now().UTC()
	metas := make([]models.JsonMeta, 0, len(order))
	for _, k := range order {
		path, count, err := s.cache.Merge(k.tenant, k.study, k.series, series[k])
		if err != nil {
			result.Delivered -= len(series[k])
			result.Failed += len(series[k])
			s.logger.Error().Err(err).Str("tenant_id", k.tenant).Str("study_uid", k.study).Str("series_uid", k.series).Msg("failed to update series document")
			continue
		}
		metas = append(metas, models.JsonMeta{
			TenantID:      k.tenant,
			StudyUID:      k.study,
			SeriesUID:     k.series,
			StudyUIDHash:  storage.StudyHash(k.study),
			SeriesUIDHash: storage.SeriesHash(k.study, k.series),
			FilePath:      path,
			InstanceCount: count,
			UpdatedAt:     now,
		})
	}

	if err := s.repo.SaveJsonList(ctx, metas); err != nil {
		// images are saved; the documents are rebuilt on the next batch of the series
		s.logger.Error().Err(err).Int("series", len(metas)).Msg("failed to save json metas")
	}
	return result, nil
}

// save upserts the images in one statement. When the database refuses it the
// rows are written one at a time and the refused ones are left out of the
// returned slice. A lost connection fails the whole batch as unavailable.
func (s *ImageSink) save(ctx context.Context, images []models.ImageMeta) ([]models.ImageMeta, error) {
	err := s.repo.SaveImageList(ctx, images)
	if err == nil {
		return images, nil
	}
	if unreachable(err) {
		return nil, fmt.Errorf("%w: %w", batch.ErrUnavailable, err)
	}
	s.logger.Warn().Err(err).Int("rows", len(images)).Msg("batch insert failed, retrying row by row")

	saved := make([]models.ImageMeta, 0, len(images))
	for _, m := range images {
		if err := s.repo.SaveImageList(ctx, []models.ImageMeta{m}); err != nil {
			if unreachable(err) {
				return nil, fmt.Errorf("%w: %w", batch.ErrUnavailable, err)
			}
			s.logger.Error().Err(err).Str("tenant_id", m.TenantID).Str("sop_uid", m.SOPUID).Msg("failed to save image")
			continue
		}
		saved = append(saved, m)
	}
	return saved, nil
}
