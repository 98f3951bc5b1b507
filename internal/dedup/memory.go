// SPDX-License-Identifier: Apache-2.0

// Package dedup provides trigger.Ledger implementations.
package dedup

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const DefaultTTL = 72 * time.Hour

// Memory is an in-process ledger. Keys expire after the configured TTL.
type Memory struct {
	cache *gocache.Cache
	ttl   time.Duration
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		cache: gocache.New(ttl, 10*time.Minute),
		ttl:   ttl,
	}
}

func (m *Memory) Claim(_ context.Context, key string) (bool, error) {
	// Add fails when the key is present and unexpired.
	if err := m.cache.Add(key, struct{}{}, m.ttl); err != nil {
		return false, nil
	}
	return true, nil
}

func (m *Memory) Release(_ context.Context, key string) error {
	m.cache.Delete(key)
	return nil
}
