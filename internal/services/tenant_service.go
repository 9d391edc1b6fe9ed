package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/otcheredev/ris-dicom-ingest/internal/cache"
	"github.com/otcheredev/ris-dicom-ingest/internal/models"
	"github.com/otcheredev/ris-dicom-ingest/internal/repository"
)

// ErrUnknownCaller is returned for calling AE titles bound to no tenant
var ErrUnknownCaller = errors.New("unknown calling AE title")

// BindingLookup finds the tenant of an AE title
type BindingLookup interface {
	GetByAETitle(ctx context.Context, aeTitle string) (*models.AETitleBinding, error)
}

// TenantService resolves calling AE titles to tenants
type TenantService struct {
	bindings      BindingLookup
	cache         *cache.Tenants
	defaultTenant string
	logger        zerolog.Logger
}

// NewTenantService creates a tenant service. bindings may be nil, in which
// case every caller maps to defaultTenant. c may be nil to disable caching.
func NewTenantService(bindings BindingLookup, c *cache.Tenants, defaultTenant string, logger zerolog.Logger) *TenantService {
	return &TenantService{
		bindings:      bindings,
		cache:         c,
		defaultTenant: defaultTenant,
		logger:        logger.With().Str("component", "tenants").Logger(),
	}
}

// Resolve implements dimse.TenantResolver
func (s *TenantService) Resolve(ctx context.Context, callingAE, calledAE, remoteAddr string) (string, error) {
	if s.cache != nil {
		tenantID, bound, err := s.cache.Lookup(ctx, callingAE)
		switch {
		case err == nil && bound:
			return tenantID, nil
		case err == nil:
			return s.fallback(callingAE)
		case !errors.Is(err, cache.ErrCacheMiss):
			s.logger.Warn().Err(err).Msg("tenant cache lookup failed")
		}
	}

	if s.bindings == nil {
		return s.fallback(callingAE)
	}

	binding, err := s.bindings.GetByAETitle(ctx, callingAE)
	if errors.Is(err, repository.ErrNotFound) {
		if s.cache != nil {
			if err := s.cache.MarkUnbound(ctx, callingAE); err != nil {
				s.logger.Warn().Err(err).Msg("tenant cache update failed")
			}
		}
		s.logger.Debug().Str("calling_ae", callingAE).Str("remote", remoteAddr).Msg("calling AE title has no binding")
		return s.fallback(callingAE)
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve tenant of %s: %w", callingAE, err)
	}

	if s.cache != nil {
		if err := s.cache.Bind(ctx, callingAE, binding.TenantID); err != nil {
			s.logger.Warn().Err(err).Msg("tenant cache update failed")
		}
	}
	s.logger.Debug().
		Str("calling_ae", callingAE).
		Str("called_ae", calledAE).
		Str("remote", remoteAddr).
		Str("tenant_id", binding.TenantID).
		Msg("tenant resolved")
	return binding.TenantID, nil
}

func (s *TenantService) fallback(callingAE string) (string, error) {
	if s.defaultTenant == "" {
		return "", fmt.Errorf("%w: %s", ErrUnknownCaller, callingAE)
	}
	return s.defaultTenant, nil
}

// Invalidate drops the cached tenant of an AE title, or the record that it
// has none
func (s *TenantService) Invalidate(ctx context.Context, callingAE string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Forget(ctx, callingAE)
}
