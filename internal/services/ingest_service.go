package services

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/otcheredev/ris-dicom-ingest/internal/dicomfile"
	"github.com/otcheredev/ris-dicom-ingest/internal/extract"
	"github.com/otcheredev/ris-dicom-ingest/internal/metrics"
	"github.com/otcheredev/ris-dicom-ingest/internal/models"
	"github.com/otcheredev/ris-dicom-ingest/internal/storage"
	"github.com/otcheredev/ris-dicom-ingest/pkg/dimse"
)

// Queue accepts transport records for publishing
type Queue interface {
	Add(ctx context.Context, meta *models.TransportMetadata) error
	Flush(ctx context.Context) error
}

// AuditWriter records closed associations
type AuditWriter interface {
	Create(ctx context.Context, audit *models.AssociationAudit) error
}

// IngestService turns received data sets into stored files and queued
// transport records. It is the instance handler of the DICOM SCP.
type IngestService struct {
	extractor *extract.Extractor
	store     *storage.InstanceStore
	writes    *semaphore.Weighted
	queue     Queue
	audits    AuditWriter
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// IngestConfig wires an IngestService
type IngestConfig struct {
	Extractor *extract.Extractor
	Store     *storage.InstanceStore
	Queue     Queue
	// Audits may be nil.
	Audits  AuditWriter
	Metrics *metrics.Metrics
	// MaxConcurrentWrites bounds disk writes across all associations.
	MaxConcurrentWrites int64
}

// NewIngestService creates a new ingest service
func NewIngestService(cfg IngestConfig, logger zerolog.Logger) *IngestService {
	if cfg.MaxConcurrentWrites <= 0 {
		cfg.MaxConcurrentWrites = 8
	}
	return &IngestService{
		extractor: cfg.Extractor,
		store:     cfg.Store,
		writes:    semaphore.NewWeighted(cfg.MaxConcurrentWrites),
		queue:     cfg.Queue,
		audits:    cfg.Audits,
		metrics:   cfg.Metrics,
		logger:    logger.With().Str("component", "ingest").Logger(),
	}
}

// ProcessInstance parses a received data set, extracts its metadata and
// writes it to disk. Nothing is written when extraction fails.
func (s *IngestService) ProcessInstance(ctx context.Context, data []byte, transferSyntaxUID string, tenant models.TenantContext) (*models.TransportMetadata, error) {
	inst, err := dicomfile.NewInstance(data, transferSyntaxUID, tenant.SOPClassUID, tenant.SOPInstanceUID)
	if err != nil {
		return nil, err
	}

	meta, err := s.extractor.Extract(inst, tenant)
	if err != nil {
		return nil, err
	}

	if err := s.writes.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	path, size, err := s.store.Write(extract.Location(meta), inst.Bytes)
	s.writes.Release(1)
	if err != nil {
		return nil, err
	}

	meta.FilePath = path
	meta.FileSize = size
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	return meta, nil
}

// HandleStore implements dimse.InstanceHandler
func (s *IngestService) HandleStore(ctx context.Context, req *dimse.StoreRequest) error {
	s.metrics.ObserveInstance(metrics.InstanceReceived)
	tenant := tenantContext(req)
	log := s.logger.With().
		Str("association_id", tenant.AssociationID).
		Str("tenant_id", tenant.TenantID).
		Str("calling_ae", tenant.CallingAE).
		Str("sop_uid", req.SOPInstanceUID).
		Logger()

	meta, err := s.ProcessInstance(ctx, req.Data, req.TransferSyntaxUID, tenant)
	if err != nil {
		s.metrics.ObserveInstance(metrics.InstanceFailed)
		log.Error().Err(err).Str("transfer_syntax", req.TransferSyntaxUID).Msg("instance dropped")
		return err
	}

	if err := s.queue.Add(ctx, meta); err != nil {
		s.metrics.ObserveInstance(metrics.InstanceFailed)
		log.Error().Err(err).Str("trace_id", meta.TraceID).Msg("instance stored but not queued")
		return fmt.Errorf("queue %s: %w", meta.TraceID, err)
	}

	s.metrics.ObserveInstance(metrics.InstanceStored)
	log.Debug().
		Str("trace_id", meta.TraceID).
		Str("study_uid", meta.StudyUID).
		Str("series_uid", meta.SeriesUID).
		Str("transfer_status", string(meta.TransferStatus)).
		Int64("file_size", meta.FileSize).
		Msg("instance stored")
	return nil
}

// HandleRelease publishes what the association queued before the release
// response goes out.
func (s *IngestService) HandleRelease(ctx context.Context, info *dimse.AssociationInfo) error {
	if err := s.queue.Flush(ctx); err != nil {
		s.logger.Warn().Err(err).Str("association_id", info.ID).Msg("flush on release failed")
		return err
	}
	return nil
}

// HandleClose writes the association audit
func (s *IngestService) HandleClose(ctx context.Context, info *dimse.AssociationInfo, summary dimse.Summary) {
	s.metrics.ObserveAssociation(string(summary.State))
	if s.audits == nil {
		return
	}

	audit := &models.AssociationAudit{
		AssociationID:     info.ID,
		TenantID:          info.TenantID,
		CallingAE:         info.CallingAE,
		CalledAE:          info.CalledAE,
		RemoteAddr:        info.RemoteAddr,
		EndState:          string(summary.State),
		InstancesReceived: summary.Received,
		InstancesFailed:   summary.Failed,
		Echoes:            summary.Echoes,
		Duration:          summary.Duration.Milliseconds(),
		StartedAt:         info.StartedAt,
	}
	if summary.Err != nil {
		audit.ErrorMessage = summary.Err.Error()
	}

	auditCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.audits.Create(auditCtx, audit); err != nil {
		s.logger.Error().Err(err).Str("association_id", info.ID).Msg("failed to write association audit")
	}
}

func tenantContext(req *dimse.StoreRequest) models.TenantContext {
	tenant := models.TenantContext{
		SOPClassUID:    req.SOPClassUID,
		SOPInstanceUID: req.SOPInstanceUID,
	}
	if info := req.Association; info != nil {
		tenant.TenantID = info.TenantID
		tenant.AssociationID = info.ID
		tenant.CallingAE = info.CallingAE
		tenant.CalledAE = info.CalledAE
		tenant.RemoteIP = remoteIP(info.RemoteAddr)
	}
	return tenant
}

func remoteIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

