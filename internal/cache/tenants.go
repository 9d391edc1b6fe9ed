package cache

import (
	"bytes"
	"context"
	"time"
)

// unbound marks an AE title with no binding. Tenant ids are never empty, so a
// single NUL byte cannot collide with one.
var unbound = []byte{0}

// Tenants caches the tenant bound to each calling AE title on top of a Cache.
// AE titles without a binding are remembered too, for unboundTTL, so a
// misconfigured modality that keeps retrying its association does not reach
// the database every time.
type Tenants struct {
	c          Cache
	ttl        time.Duration
	unboundTTL time.Duration
}

// NewTenants wraps c. A zero unboundTTL disables caching of unbound callers.
func NewTenants(c Cache, ttl, unboundTTL time.Duration) *Tenants {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Tenants{c: c, ttl: ttl, unboundTTL: unboundTTL}
}

func tenantKey(aeTitle string) string {
	return Key("tenant", aeTitle)
}

// Lookup returns the cached tenant of aeTitle. bound is false when the AE
// title is known to have no binding. ErrCacheMiss means nothing is cached.
func (t *Tenants) Lookup(ctx context.Context, aeTitle string) (tenantID string, bound bool, err error) {
	v, err := t.c.Get(ctx, tenantKey(aeTitle))
	if err != nil {
		return "", false, err
	}
	if bytes.Equal(v, unbound) {
		return "", false, nil
	}
	return string(v), true, nil
}

// Bind records the tenant of aeTitle
func (t *Tenants) Bind(ctx context.Context, aeTitle, tenantID string) error {
	return t.c.Set(ctx, tenantKey(aeTitle), []byte(tenantID), t.ttl)
}

// MarkUnbound records that aeTitle has no binding
func (t *Tenants) MarkUnbound(ctx context.Context, aeTitle string) error {
	if t.unboundTTL <= 0 {
		return nil
	}
	return t.c.Set(ctx, tenantKey(aeTitle), unbound, t.unboundTTL)
}

// Forget drops whatever is cached for aeTitle
func (t *Tenants) Forget(ctx context.Context, aeTitle string) error {
	return t.c.Delete(ctx, tenantKey(aeTitle))
}
