package sinks

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/otcheredev/ris-dicom-ingest/internal/batch"
	"github.com/otcheredev/ris-dicom-ingest/internal/dicomfile"
	"github.com/otcheredev/ris-dicom-ingest/internal/models"
	"github.com/otcheredev/ris-dicom-ingest/internal/storage"
)

// TranscodeSink converts stored files to the fallback transfer syntax and
// republishes their records with the outcome.
type TranscodeSink struct {
	next        batch.Sink[*models.TransportMetadata]
	fallback    string
	concurrency int
	logger      zerolog.Logger
}

// NewTranscodeSink creates a transcode sink that hands records to next
// (normally a publish sink on the main topic) once converted.
func NewTranscodeSink(next batch.Sink[*models.TransportMetadata], fallback string, concurrency int, logger zerolog.Logger) *TranscodeSink {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &TranscodeSink{
		next:        next,
		fallback:    fallback,
		concurrency: concurrency,
		logger:      logger.With().Str("sink", "transcode").Logger(),
	}
}

// Deliver transcodes every record still flagged NeedTransfer, then forwards
// the whole batch. Records retried after an unavailable bus are not
// transcoded twice.
func (s *TranscodeSink) Deliver(ctx context.Context, units []*models.TransportMetadata) (batch.Result, error) {
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, m := range units {
		if m.TransferStatus != models.NeedTransfer {
			continue
		}
		g.Go(func() error {
			s.transcode(m)
			return nil
		})
	}
	_ = g.Wait()

	return s.next.Deliver(ctx, units)
}

func (s *TranscodeSink) transcode(m *models.TransportMetadata) {
	target := m.TargetTransferSyntaxUID
	if target == "" {
		target = s.fallback
	}
	log := s.logger.With().
		Str("trace_id", m.TraceID).
		Str("tenant_id", m.TenantID).
		Str("from", m.TransferSyntaxUID).
		Str("to", target).
		Logger()

	fail := func(err error, msg string) {
		m.TransferStatus = models.TransferFailed
		log.Error().Err(err).Msg(msg)
	}

	file, err := os.ReadFile(m.FilePath)
	if err != nil {
		fail(err, "failed to read stored instance")
		return
	}
	out, err := dicomfile.Transcode(file, target)
	if err != nil {
		fail(err, "transcode failed")
		return
	}
	size, err := storage.WriteFileAtomic(m.FilePath, out)
	if err != nil {
		fail(err, "failed to overwrite stored instance")
		return
	}

	m.TargetTransferSyntaxUID = target
	m.TransferSyntaxUID = target
	m.FileSize = size
	m.TransferStatus = models.TransferSuccess
	log.Info().Int64("file_size", size).Msg("instance transcoded")
}
