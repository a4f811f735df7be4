package executor

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/0xtide/delegated-trading-engine/internal/delegation"
)

// signerTTL bounds how long decrypted signing material may sit in memory.
// Long enough to cover assess-then-execute within one cycle, nothing more.
const signerTTL = 30 * time.Second

// signerCache hands out decrypted session keys with a hard TTL. Entries are
// purged automatically; Forget drops one eagerly after use or on revoke.
type signerCache struct {
	registry *delegation.Registry
	cache    *gocache.Cache
}

func newSignerCache(registry *delegation.Registry) *signerCache {
	return &signerCache{
		registry: registry,
		cache:    gocache.New(signerTTL, time.Minute),
	}
}

// Key returns the decrypted session key for a delegation, revalidating
// through the registry on a cache miss.
func (s *signerCache) Key(ctx context.Context, delegationID string) (string, error) {
	if v, ok := s.cache.Get(delegationID); ok {
		return v.(string), nil
	}
	key, err := s.registry.SessionSigner(ctx, delegationID)
	if err != nil {
		return "", err
	}
	s.cache.Set(delegationID, key, signerTTL)
	return key, nil
}

// Forget drops the cached key for a delegation immediately.
func (s *signerCache) Forget(delegationID string) {
	s.cache.Delete(delegationID)
}
