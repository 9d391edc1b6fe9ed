package sinks

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/otcheredev/ris-dicom-ingest/internal/batch"
	"github.com/otcheredev/ris-dicom-ingest/internal/models"
)

// InstanceSaver persists stored-instance rows
type InstanceSaver interface {
	SaveInstanceList(ctx context.Context, rows []models.DicomInstance) error
}

// InstanceSink writes transport records to dicom_instances
type InstanceSink struct {
	repo   InstanceSaver
	logger zerolog.Logger
}

// NewInstanceSink creates an instance sink
func NewInstanceSink(repo InstanceSaver, logger zerolog.Logger) *InstanceSink {
	return &InstanceSink{repo: repo, logger: logger.With().Str("sink", "instances").Logger()}
}

// Deliver upserts the batch in one statement. When the database refuses it the
// rows are retried one by one so a single bad row does not sink the others.
// Refused rows are counted as failed; only a lost connection keeps the batch.
func (s *InstanceSink) Deliver(ctx context.Context, units []*models.TransportMetadata) (batch.Result, error) {
	if s.repo == nil {
		return batch.Result{}, fmt.Errorf("no database handle: %w", batch.ErrUnavailable)
	}

	// one row per trace id, the last record wins
	index := make(map[string]int, len(units))
	rows := make([]models.DicomInstance, 0, len(units))
	for _, m := range units {
		row := models.NewDicomInstance(m)
		if i, ok := index[m.TraceID]; ok {
			rows[i] = row
			continue
		}
		index[m.TraceID] = len(rows)
		rows = append(rows, row)
	}

	err := s.repo.SaveInstanceList(ctx, rows)
	if err == nil {
		return batch.Result{Delivered: len(units)}, nil
	}
	if unreachable(err) {
		return batch.Result{Failed: len(units)}, fmt.Errorf("%w: %w", batch.ErrUnavailable, err)
	}
	s.logger.Warn().Err(err).Int("rows", len(rows)).Msg("batch insert failed, retrying row by row")

	var result batch.Result
	for _, row := range rows {
		if err := s.repo.SaveInstanceList(ctx, []models.DicomInstance{row}); err != nil {
			if unreachable(err) {
				return batch.Result{Delivered: result.Delivered, Failed: len(rows) - result.Delivered}, fmt.Errorf("%w: %w", batch.ErrUnavailable, err)
			}
			result.Failed++
			s.logger.Error().Err(err).Str("trace_id", row.TraceID).Str("tenant_id", row.TenantID).Msg("failed to save instance")
			continue
		}
		result.Delivered++
	}
	return result, nil
}
