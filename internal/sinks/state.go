package sinks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/otcheredev/ris-dicom-ingest/internal/batch"
	"github.com/otcheredev/ris-dicom-ingest/internal/bus"
	"github.com/otcheredev/ris-dicom-ingest/internal/models"
)

// StateSaver persists state projections and their raw backups
type StateSaver interface {
	SaveStateList(ctx context.Context, states []models.StateMeta) error
	SaveBackupList(ctx context.Context, backups []models.DicomStateBackup) error
}

// StateRecord is a state message as read from the bus. Only the tenant is
// decoded up front; the payload is kept raw so it can be backed up as is.
type StateRecord struct {
	TenantID string
	Payload  json.RawMessage
}

// DecodeStateRecord is the bus decoder of the state pipeline
func DecodeStateRecord(msg bus.Message) (*StateRecord, error) {
	var header struct {
		TenantID string `json:"tenant_id"`
	}
	if err := json.Unmarshal(msg.Payload, &header); err != nil {
		return nil, fmt.Errorf("decode state record: %w", err)
	}
	if header.TenantID == "" {
		return nil, fmt.Errorf("state record without tenant_id")
	}
	return &StateRecord{TenantID: header.TenantID, Payload: append(json.RawMessage(nil), msg.Payload...)}, nil
}

// Fold keeps one state per key; the last observed record wins. Keys keep the
// position of their first occurrence.
func Fold(states []*models.StateMeta) []models.StateMeta {
	index := make(map[models.StateKey]int, len(states))
	out := make([]models.StateMeta, 0, len(states))
	for _, s := range states {
		key := s.Key()
		if i, ok := index[key]; ok {
			out[i] = *s
			continue
		}
		index[key] = len(out)
		out = append(out, *s)
	}
	return out
}

// StateSink writes state projections per tenant, backing up raw records of
// a tenant whose sub-batch cannot be saved.
type StateSink struct {
	repo   StateSaver
	logger zerolog.Logger
}

// NewStateSink creates a state sink
func NewStateSink(repo StateSaver, logger zerolog.Logger) *StateSink {
	return &StateSink{repo: repo, logger: logger.With().Str("sink", "states").Logger()}
}

// Deliver implements batch.Sink
func (s *StateSink) Deliver(ctx context.Context, units []*StateRecord) (batch.Result, error) {
	if s.repo == nil {
		return batch.Result{}, fmt.Errorf("no database handle: %w", batch.ErrUnavailable)
	}

	var tenants []string
	byTenant := make(map[string][]*StateRecord)
	for _, r := range units {
		if _, ok := byTenant[r.TenantID]; !ok {
			tenants = append(tenants, r.TenantID)
		}
		byTenant[r.TenantID] = append(byTenant[r.TenantID], r)
	}

	var result batch.Result
	var lost int
	for _, tenant := range tenants {
		delivered, backedUp, err := s.deliverTenant(ctx, tenant, byTenant[tenant])
		result.Delivered += delivered
		result.Failed += backedUp
		if err != nil {
			lost++
			s.logger.Error().Err(err).Str("tenant_id", tenant).Msg("state records could not be saved or backed up")
		}
	}
	if lost > 0 {
		return result, fmt.Errorf("%d tenants not persisted: %w", lost, batch.ErrUnavailable)
	}
	return result, nil
}

func (s *StateSink) deliverTenant(ctx context.Context, tenant string, records []*StateRecord) (int, int, error) {
	var (
		states  []*models.StateMeta
		backups []models.DicomStateBackup
	)
	for _, r := range records {
		var state models.StateMeta
		err := json.Unmarshal(r.Payload, &state)
		if err == nil {
			err = state.Validate()
		}
		if err != nil {
			backups = append(backups, backup(tenant, r, err))
			continue
		}
		states = append(states, &state)
	}

	if err := s.repo.SaveStateList(ctx, Fold(states)); err != nil {
		s.logger.Warn().Err(err).Str("tenant_id", tenant).Int("records", len(records)).Msg("saving states failed, backing up raw records")
		backups = backups[:0]
		for _, r := range records {
			backups = append(backups, backup(tenant, r, err))
		}
		states = nil
	}

	if err := s.repo.SaveBackupList(ctx, backups); err != nil {
		return 0, 0, err
	}
	return len(states), len(backups), nil
}

func backup(tenant string, r *StateRecord, reason error) models.DicomStateBackup {
	return models.DicomStateBackup{TenantID: tenant, Payload: string(r.Payload), Reason: reason.Error()}
}
