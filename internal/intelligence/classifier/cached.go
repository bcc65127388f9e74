package classifier

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/defectwise/defectwise/internal/intelligence/taxonomy"
)

const defaultCacheTTL = time.Hour

// Cached memoizes successful scores from an inner provider. Survey reports
// repeat boilerplate sentences across documents, so a short-lived cache
// absorbs most duplicate remote calls. Errors are never cached.
type Cached struct {
	inner Classifier
	cache *gocache.Cache
}

var _ Classifier = (*Cached)(nil)

// NewCached wraps inner with a score cache expiring after ttl.
func NewCached(inner Classifier, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Cached{
		inner: inner,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// Name implements Classifier.
func (c *Cached) Name() string { return c.inner.Name() }

// Score implements Classifier.
func (c *Cached) Score(ctx context.Context, sentence string, category taxonomy.Category) (float64, error) {
	key := category.String() + "\x00" + sentence
	if v, ok := c.cache.Get(key); ok {
		if score, ok := v.(float64); ok {
			return score, nil
		}
	}
	score, err := c.inner.Score(ctx, sentence, category)
	if err != nil {
		return 0, err
	}
	c.cache.SetDefault(key, score)
	return score, nil
}

// Healthy implements Classifier.
func (c *Cached) Healthy(ctx context.Context) bool { return c.inner.Healthy(ctx) }

// Close implements Classifier.
func (c *Cached) Close() error { return c.inner.Close() }
