// Package cache keeps the latest collected snapshot of every account for a
// limited time.
package cache

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/yuxishi/aws-quota-manager/internal/model"
)

// CleanupInterval is how often expired snapshots are dropped.
const CleanupInterval = time.Minute

type item struct {
	snapshot  model.Snapshot
	expiresAt time.Time
}

type Cache struct {
	mu    sync.RWMutex
	items map[string]item
	ttl   time.Duration
	clock quartz.Clock
}

func New(ttl time.Duration, clock quartz.Clock) *Cache {
	return &Cache{
		items: make(map[string]item),
		ttl:   ttl,
		clock: clock,
	}
}

// Set stores the snapshot of its account, replacing any earlier one.
func (c *Cache) Set(s model.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[s.AccountID] = item{
		snapshot:  s,
		expiresAt: c.clock.Now().Add(c.ttl),
	}
}

// Get returns the snapshot of an account unless it has expired. The
// returned snapshot is marked as served from the cache.
func (c *Cache) Get(accountID string) (model.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, ok := c.items[accountID]
	if !ok || c.clock.Now().After(it.expiresAt) {
		return model.Snapshot{}, false
	}
	s := it.snapshot
	s.Quotas = slices.Clone(s.Quotas)
	s.FromCache = true
	return s, true
}

// Accounts returns the accounts with a live snapshot, sorted.
func (c *Cache) Accounts() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := c.clock.Now()
	accounts := make([]string, 0, len(c.items))
	for id, it := range c.items {
		if !now.After(it.expiresAt) {
			accounts = append(accounts, id)
		}
	}
	slices.Sort(accounts)
	return accounts
}

// All returns every live snapshot ordered by account.
func (c *Cache) All() []model.Snapshot {
	var snapshots []model.Snapshot
	for _, id := range c.Accounts() {
		if s, ok := c.Get(id); ok {
			snapshots = append(snapshots, s)
		}
	}
	return snapshots
}

func (c *Cache) Delete(accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, accountID)
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]item)
}

// Run drops expired snapshots every CleanupInterval until ctx is done.
func (c *Cache) Run(ctx context.Context) {
	ticker := c.clock.NewTicker(CleanupInterval, "cache", "cleanup")
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

func (c *Cache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	for id, it := range c.items {
		if now.After(it.expiresAt) {
			delete(c.items, id)
		}
	}
}

// Len returns the number of stored snapshots, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
