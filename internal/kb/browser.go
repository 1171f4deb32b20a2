// Package kb browses the backend's code knowledge base with a short-lived
// local cache.
package kb

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/gyeh/chartcoder/internal/api"
	"github.com/gyeh/chartcoder/internal/codes"
	"github.com/gyeh/chartcoder/internal/pkg/logger"
)

const (
	module = "KnowledgeBase"

	statsKey = "stats"

	// DefaultTTL is used when Browser is built with ttl <= 0.
	DefaultTTL = 5 * time.Minute
)

// Source is the part of the API client the browser needs.
type Source interface {
	FilterCodes(ctx context.Context, query string, codeType codes.CodeType, limit int) (*api.FilterResponse, error)
	KnowledgeBaseStats(ctx context.Context) (*codes.KnowledgeBaseStats, error)
}

// Browser caches filter pages and stats. Cached values are copied on the
// way out.
type Browser struct {
	src   Source
	cache *cache.Cache
	log   logger.ILogger
}

func NewBrowser(src Source, ttl time.Duration, log logger.ILogger) *Browser {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Browser{
		src:   src,
		cache: cache.New(ttl, 2*ttl),
		log:   log,
	}
}

// Filter returns matching codes, serving repeated queries from the cache.
func (b *Browser) Filter(ctx context.Context, query string, codeType codes.CodeType, limit int) (*api.FilterResponse, error) {
	if codeType == "" {
		codeType = codes.All
	}
	key := filterKey(query, codeType, limit)
	if x, found := b.cache.Get(key); found {
		b.log.Debug(module, "filter cache hit", map[string]interface{}{"key": key})
		return copyFilter(x.(*api.FilterResponse)), nil
	}

	res, err := b.src.FilterCodes(ctx, query, codeType, limit)
	if err != nil {
		return nil, err
	}
	b.cache.Set(key, copyFilter(res), cache.DefaultExpiration)
	return res, nil
}

// Stats returns the knowledge base size, cached like Filter.
func (b *Browser) Stats(ctx context.Context) (*codes.KnowledgeBaseStats, error) {
	if x, found := b.cache.Get(statsKey); found {
		return copyStats(x.(*codes.KnowledgeBaseStats)), nil
	}

	res, err := b.src.KnowledgeBaseStats(ctx)
	if err != nil {
		return nil, err
	}
	b.cache.Set(statsKey, copyStats(res), cache.DefaultExpiration)
	return res, nil
}

// Invalidate drops every cached entry.
func (b *Browser) Invalidate() {
	b.cache.Flush()
}

// Len is the number of live cache entries.
func (b *Browser) Len() int {
	return b.cache.ItemCount()
}

// filterKey uses the query exactly as sent, since the server may treat
// case and whitespace as significant.
func filterKey(query string, codeType codes.CodeType, limit int) string {
	return fmt.Sprintf("filter|%q|%s|%d", query, codeType, limit)
}

func copyFilter(r *api.FilterResponse) *api.FilterResponse {
	c := *r
	c.Results = codes.CloneCodes(r.Results)
	return &c
}

func copyStats(s *codes.KnowledgeBaseStats) *codes.KnowledgeBaseStats {
	c := *s
	c.ByType = maps.Clone(s.ByType)
	return &c
}
