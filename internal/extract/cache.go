package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/rfalcao/conceptminer/internal/domain"
)

type cacheEntry struct {
	candidates []domain.Candidate
	createdAt  time.Time
	expiresAt  time.Time
}

type CacheConfig struct {
	TTL        time.Duration
	MaxEntries int
	// PromptVersion is folded into signatures so a prompt change
	// invalidates every cached extraction at once.
	PromptVersion string
}

// ResultCache remembers parsed extraction output per (tier, prompt
// version, segment) signature so identical segments do not spend
// budget twice.
type ResultCache struct {
	mu            sync.RWMutex
	entries       map[string]cacheEntry
	ttl           time.Duration
	maxEntries    int
	promptVersion string
}

func NewResultCache(config CacheConfig) *ResultCache {
	if config.TTL <= 0 {
		config.TTL = 15 * time.Minute
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 2000
	}
	if config.PromptVersion == "" {
		config.PromptVersion = "v1"
	}
	return &ResultCache{
		entries:       make(map[string]cacheEntry),
		ttl:           config.TTL,
		maxEntries:    config.MaxEntries,
		promptVersion: config.PromptVersion,
	}
}

func (c *ResultCache) Get(signature string) ([]domain.Candidate, bool) {
	c.mu.RLock()
	entry, exists := c.entries[signature]
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}
	if time.Now().UTC().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, signature)
		c.mu.Unlock()
		return nil, false
	}
	return append([]domain.Candidate(nil), entry.candidates...), true
}

func (c *ResultCache) Set(signature string, candidates []domain.Candidate) {
	now := time.Now().UTC()
	entry := cacheEntry{
		candidates: append([]domain.Candidate(nil), candidates...),
		createdAt:  now,
		expiresAt:  now.Add(c.ttl),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[signature] = entry
}

func (c *ResultCache) Signature(tier domain.Tier, segmentText string) string {
	joined := string(tier) + "||" + c.promptVersion + "||" + strings.TrimSpace(segmentText)
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])
}

func (c *ResultCache) evictOldest() {
	oldestKey := ""
	var oldestAt time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.createdAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.createdAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
