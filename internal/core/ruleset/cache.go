package ruleset

import (
	"context"
	"sync"
	"time"

	"github.com/sgolovin/community-docs/internal/core/domain"
)

// Loader fetches a tenant's ruleset text with its content timestamp.
type Loader func(ctx context.Context, tenantID string) (string, time.Time, error)

type cacheEntry struct {
	parsed    domain.ParsedRuleset
	fetchedAt time.Time
}

// Cache keeps parsed rulesets per tenant with a TTL. After the TTL the
// loader is consulted again; an unchanged content timestamp keeps the
// already-parsed ruleset, a changed one reparses. The clock is injectable
// so expiry is deterministic in tests.
type Cache struct {
	loader Loader
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

func NewCache(loader Loader, ttl time.Duration) *Cache {
	return NewCacheWithClock(loader, ttl, time.Now)
}

func NewCacheWithClock(loader Loader, ttl time.Duration, now func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{
		loader:  loader,
		ttl:     ttl,
		now:     now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *Cache) Get(ctx context.Context, tenantID string) (domain.ParsedRuleset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry, ok := c.entries[tenantID]
	if ok && now.Sub(entry.fetchedAt) < c.ttl {
		return entry.parsed, nil
	}

	text, updatedAt, err := c.loader(ctx, tenantID)
	if err != nil {
		if ok {
			// Serve stale over failing the run; the audit log still records
			// the version actually used.
			return entry.parsed, nil
		}
		return domain.ParsedRuleset{}, err
	}

	if ok && entry.parsed.UpdatedAt.Equal(updatedAt) {
		entry.fetchedAt = now
		c.entries[tenantID] = entry
		return entry.parsed, nil
	}

	parsed := Parse(tenantID, text, updatedAt)
	c.entries[tenantID] = cacheEntry{parsed: parsed, fetchedAt: now}
	return parsed, nil
}

// Invalidate drops a tenant entry so the next Get reloads.
func (c *Cache) Invalidate(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, tenantID)
}
