package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otcheredev/ris-dicom-ingest/internal/cache"
	"github.com/otcheredev/ris-dicom-ingest/internal/models"
	"github.com/otcheredev/ris-dicom-ingest/internal/repository"
)

type fakeBindings struct {
	tenants map[string]string
	err     error
	calls   int
}

func (f *fakeBindings) GetByAETitle(ctx context.Context, aeTitle string) (*models.AETitleBinding, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	tenant, ok := f.tenants[aeTitle]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &models.AETitleBinding{AETitle: aeTitle, TenantID: tenant, IsActive: true}, nil
}

func newTenantService(t *testing.T, bindings BindingLookup, defaultTenant string) *TenantService {
	t.Helper()
	c := cache.NewMemoryCache()
	t.Cleanup(func() { _ = c.Close() })
	return NewTenantService(bindings, cache.NewTenants(c, time.Minute, time.Minute), defaultTenant, zerolog.Nop())
}

func TestResolveCachesBinding(t *testing.T) {
	bindings := &fakeBindings{tenants: map[string]string{"CT01": "hospital-a"}}
	svc := newTenantService(t, bindings, "")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tenant, err := svc.Resolve(ctx, "CT01", "INGEST", "10.0.0.5:1")
		require.NoError(t, err)
		assert.Equal(t, "hospital-a", tenant)
	}
	assert.Equal(t, 1, bindings.calls)

	require.NoError(t, svc.Invalidate(ctx, "CT01"))
	_, err := svc.Resolve(ctx, "CT01", "INGEST", "10.0.0.5:1")
	require.NoError(t, err)
	assert.Equal(t, 2, bindings.calls)
}

func TestResolveUnknownCaller(t *testing.T) {
	bindings := &fakeBindings{tenants: map[string]string{}}

	tenant, err := newTenantService(t, bindings, "default").Resolve(context.Background(), "MR02", "INGEST", "")
	require.NoError(t, err)
	assert.Equal(t, "default", tenant)

	_, err = newTenantService(t, bindings, "").Resolve(context.Background(), "MR02", "INGEST", "")
	assert.ErrorIs(t, err, ErrUnknownCaller)
}

func TestResolveRemembersUnboundCaller(t *testing.T) {
	bindings := &fakeBindings{tenants: map[string]string{}}
	svc := newTenantService(t, bindings, "")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Resolve(ctx, "MR02", "INGEST", "10.0.0.9:1")
		assert.ErrorIs(t, err, ErrUnknownCaller)
	}
	assert.Equal(t, 1, bindings.calls)

	// a new binding is picked up once the management API invalidates the title
	bindings.tenants["MR02"] = "hospital-b"
	require.NoError(t, svc.Invalidate(ctx, "MR02"))
	tenant, err := svc.Resolve(ctx, "MR02", "INGEST", "10.0.0.9:1")
	require.NoError(t, err)
	assert.Equal(t, "hospital-b", tenant)
	assert.Equal(t, 2, bindings.calls)
}

func TestResolveUnboundCallerUsesDefaultFromCache(t *testing.T) {
	bindings := &fakeBindings{tenants: map[string]string{}}
	svc := newTenantService(t, bindings, "default")

	for i := 0; i < 2; i++ {
		tenant, err := svc.Resolve(context.Background(), "US03", "INGEST", "")
		require.NoError(t, err)
		assert.Equal(t, "default", tenant)
	}
	assert.Equal(t, 1, bindings.calls)
}

func TestResolveWithoutCache(t *testing.T) {
	bindings := &fakeBindings{tenants: map[string]string{"CT01": "hospital-a"}}
	svc := NewTenantService(bindings, nil, "", zerolog.Nop())

	for i := 0; i < 2; i++ {
		tenant, err := svc.Resolve(context.Background(), "CT01", "INGEST", "")
		require.NoError(t, err)
		assert.Equal(t, "hospital-a", tenant)
	}
	assert.Equal(t, 2, bindings.calls)
	require.NoError(t, svc.Invalidate(context.Background(), "CT01"))
}

func TestResolveLookupFailure(t *testing.T) {
	bindings := &fakeBindings{err: errors.New("connection refused")}

	_, err := newTenantService(t, bindings, "default").Resolve(context.Background(), "CT01", "INGEST", "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownCaller)
}

func TestResolveWithoutBindings(t *testing.T) {
	tenant, err := newTenantService(t, nil, "T1").Resolve(context.Background(), "ANY", "INGEST", "")
	require.NoError(t, err)
	assert.Equal(t, "T1", tenant)
}
