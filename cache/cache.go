package cache

import (
	"time"

	"brazier/ingest"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

// Version tags cached entries with the analysis format they were produced
// under. Bump it when the analysis output shape changes; older entries then
// read as misses and are evicted.
const Version = "1.1.0"

type entry struct {
	result       ingest.AnalysisResult
	documentName string
	version      string
	storedAt     time.Time
}

// AnalysisCache memoizes document analysis results so re-opening a document
// does not re-run the extraction model. Entries expire after the configured
// TTL and are validated on every read; anything stale, corrupt, or written
// under a different version is evicted and reported as a miss.
type AnalysisCache struct {
	lru    *lru.Cache
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

func New(size int, ttl time.Duration, logger *zap.Logger) (*AnalysisCache, error) {
	backing, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &AnalysisCache{
		lru:    backing,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}, nil
}

// Put stores an analysis result. Results that fail the integrity check are
// not cached at all.
func (c *AnalysisCache) Put(documentID, documentName string, result ingest.AnalysisResult) {
	e := entry{
		result:       result,
		documentName: documentName,
		version:      Version,
		storedAt:     c.now(),
	}
	if !validEntry(e) {
		c.logger.Warn("Refusing to cache invalid analysis result",
			zap.String("document_id", documentID))
		return
	}
	c.lru.Add(documentID, e)
}

// Get returns the cached analysis for the document, if a fresh and intact
// entry exists under the current version and the same document name.
func (c *AnalysisCache) Get(documentID, documentName string) (ingest.AnalysisResult, bool) {
	value, ok := c.lru.Get(documentID)
	if !ok {
		return ingest.AnalysisResult{}, false
	}

	e, ok := value.(entry)
	if !ok || !validEntry(e) {
		c.logger.Warn("Evicting corrupt cache entry", zap.String("document_id", documentID))
		c.lru.Remove(documentID)
		return ingest.AnalysisResult{}, false
	}
	if e.version != Version {
		c.lru.Remove(documentID)
		return ingest.AnalysisResult{}, false
	}
	if c.now().Sub(e.storedAt) > c.ttl {
		c.lru.Remove(documentID)
		return ingest.AnalysisResult{}, false
	}
	if e.documentName != documentName {
		c.lru.Remove(documentID)
		return ingest.AnalysisResult{}, false
	}
	return e.result, true
}

// Invalidate drops one document's cached analysis.
func (c *AnalysisCache) Invalidate(documentID string) {
	c.lru.Remove(documentID)
}

// InvalidateAll empties the cache.
func (c *AnalysisCache) InvalidateAll() {
	c.lru.Purge()
}

// CleanupExpired sweeps out entries past their TTL or failing validation and
// returns how many were removed.
func (c *AnalysisCache) CleanupExpired() int {
	removed := 0
	for _, key := range c.lru.Keys() {
		value, ok := c.lru.Peek(key)
		if !ok {
			continue
		}
		e, isEntry := value.(entry)
		if !isEntry || !validEntry(e) || e.version != Version || c.now().Sub(e.storedAt) > c.ttl {
			c.lru.Remove(key)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Info("Cleaned up stale analysis cache entries", zap.Int("removed", removed))
	}
	return removed
}

// Len reports how many entries are resident, stale ones included.
func (c *AnalysisCache) Len() int {
	return c.lru.Len()
}

// validEntry is the integrity check applied on both write and read: every
// cached unit must carry content, and the bookkeeping fields must be set.
func validEntry(e entry) bool {
	if e.version == "" || e.storedAt.IsZero() {
		return false
	}
	for _, unit := range e.result.Units {
		if unit.Content == "" {
			return false
		}
	}
	return true
}
