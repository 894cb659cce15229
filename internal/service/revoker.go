package service

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryRevoker keeps revoked token IDs in process memory. It is used when
// Redis is not configured, so revocations do not survive a restart.
type MemoryRevoker struct {
	revoked *cache.Cache
}

// NewMemoryRevoker creates a MemoryRevoker that purges expired entries
// every cleanupInterval
func NewMemoryRevoker(cleanupInterval time.Duration) *MemoryRevoker {
	return &MemoryRevoker{revoked: cache.New(cache.NoExpiration, cleanupInterval)}
}

func (r *MemoryRevoker) RevokeToken(_ context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	r.revoked.Set(tokenID, struct{}{}, ttl)
	return nil
}

func (r *MemoryRevoker) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	_, found := r.revoked.Get(tokenID)
	return found, nil
}
