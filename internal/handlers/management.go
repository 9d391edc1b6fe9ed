package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/otcheredev/ris-dicom-ingest/internal/middleware"
	"github.com/otcheredev/ris-dicom-ingest/internal/models"
)

// BindingStore manages AE title bindings
type BindingStore interface {
	Create(ctx context.Context, binding *models.AETitleBinding) error
	ListByTenant(ctx context.Context, tenantID string) ([]models.AETitleBinding, error)
	Deactivate(ctx context.Context, aeTitle string) error
}

// AuditReader lists association audits
type AuditReader interface {
	GetByTenantID(ctx context.Context, tenantID string, limit, offset int) ([]models.AssociationAudit, error)
	GetByCallingAE(ctx context.Context, callingAE string, limit int) ([]models.AssociationAudit, error)
}

// StateReader lists study state rows
type StateReader interface {
	GetStateMetas(ctx context.Context, tenantID, studyUID string, limit int) ([]models.StateMeta, error)
}

// CacheInvalidator drops cached tenant lookups of an AE title
type CacheInvalidator interface {
	Invalidate(ctx context.Context, callingAE string) error
}

// ManagementHandler serves the admin API of the ingest services
type ManagementHandler struct {
	bindings BindingStore
	audits   AuditReader
	states   StateReader
	tenants  CacheInvalidator
	logger   zerolog.Logger
}

// NewManagementHandler creates a management handler. tenants may be nil.
func NewManagementHandler(bindings BindingStore, audits AuditReader, states StateReader, tenants CacheInvalidator, logger zerolog.Logger) *ManagementHandler {
	return &ManagementHandler{
		bindings: bindings,
		audits:   audits,
		states:   states,
		tenants:  tenants,
		logger:   logger.With().Str("component", "management").Logger(),
	}
}

// Routes mounts the handler under a tenant scoped router
func (h *ManagementHandler) Routes(r chi.Router) {
	r.Use(middleware.TenantID)
	r.Post("/bindings", h.CreateBinding)
	r.Get("/bindings", h.ListBindings)
	r.Delete("/bindings/{aeTitle}", h.DeactivateBinding)
	r.Get("/audits", h.ListAudits)
	r.Get("/states", h.ListStates)
}

type bindingRequest struct {
	AETitle     string `json:"ae_title"`
	Description string `json:"description"`
}

// CreateBinding binds an AE title to the requesting tenant
func (h *ManagementHandler) CreateBinding(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, _ := middleware.GetTenantID(ctx)

	var req bindingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.AETitle == "" || len(req.AETitle) > models.MaxAETitleLength {
		http.Error(w, "ae_title must be 1-16 characters", http.StatusBadRequest)
		return
	}

	binding := &models.AETitleBinding{
		AETitle:     req.AETitle,
		TenantID:    tenantID,
		Description: req.Description,
		IsActive:    true,
	}
	if err := h.bindings.Create(ctx, binding); err != nil {
		h.logger.Error().Err(err).Str("calling_ae", req.AETitle).Msg("failed to create binding")
		http.Error(w, "Failed to create binding", http.StatusInternalServerError)
		return
	}
	h.invalidate(ctx, req.AETitle)

	writeJSON(w, http.StatusCreated, binding)
}

// ListBindings returns the bindings of the requesting tenant
func (h *ManagementHandler) ListBindings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, _ := middleware.GetTenantID(ctx)

	bindings, err := h.bindings.ListByTenant(ctx, tenantID)
	if err != nil {
		h.logger.Error().Err(err).Str("tenant_id", tenantID).Msg("failed to list bindings")
		http.Error(w, "Failed to list bindings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, bindings)
}

// DeactivateBinding stops accepting associations from an AE title
func (h *ManagementHandler) DeactivateBinding(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	aeTitle := chi.URLParam(r, "aeTitle")

	if err := h.bindings.Deactivate(ctx, aeTitle); err != nil {
		h.logger.Error().Err(err).Str("calling_ae", aeTitle).Msg("failed to deactivate binding")
		http.Error(w, "Failed to deactivate binding", http.StatusInternalServerError)
		return
	}
	h.invalidate(ctx, aeTitle)
	w.WriteHeader(http.StatusNoContent)
}

// ListAudits returns association audits of the tenant, or of one calling AE
func (h *ManagementHandler) ListAudits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, _ := middleware.GetTenantID(ctx)
	limit, offset, err := paging(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var audits []models.AssociationAudit
	if callingAE := r.URL.Query().Get("calling_ae"); callingAE != "" {
		audits, err = h.audits.GetByCallingAE(ctx, callingAE, limit)
		// another tenant's AE title reveals nothing
		filtered := audits[:0]
		for _, a := range audits {
			if a.TenantID == tenantID {
				filtered = append(filtered, a)
			}
		}
		audits = filtered
	} else {
		audits, err = h.audits.GetByTenantID(ctx, tenantID, limit, offset)
	}
	if err != nil {
		h.logger.Error().Err(err).Str("tenant_id", tenantID).Msg("failed to list audits")
		http.Error(w, "Failed to list audits", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, audits)
}

// ListStates returns the series state rows of one study
func (h *ManagementHandler) ListStates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, _ := middleware.GetTenantID(ctx)
	studyUID := r.URL.Query().Get("study_uid")
	limit, _, err := paging(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	states, err := h.states.GetStateMetas(ctx, tenantID, studyUID, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("tenant_id", tenantID).Str("study_uid", studyUID).Msg("failed to list states")
		http.Error(w, "Failed to list states", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, states)
}

func (h *ManagementHandler) invalidate(ctx context.Context, aeTitle string) {
	if h.tenants == nil {
		return
	}
	if err := h.tenants.Invalidate(ctx, aeTitle); err != nil {
		h.logger.Warn().Err(err).Str("calling_ae", aeTitle).Msg("failed to invalidate tenant cache")
	}
}

func paging(r *http.Request) (limit, offset int, err error) {
	limit, offset = 100, 0
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 || limit > 1000 {
			return 0, 0, errors.New("limit must be between 1 and 1000")
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, errors.New("offset must not be negative")
		}
	}
	return limit, offset, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
