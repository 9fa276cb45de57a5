package kb

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Searcher scores a free-text query against a knowledge base.
type Searcher interface {
	Search(query string) []MatchedIssue
}

// CachedSearcher memoizes Search results keyed by the lower-cased query.
// Surrounding whitespace is part of the key since it changes the score.
// It is safe for concurrent use.
type CachedSearcher struct {
	inner Searcher
	cache *lru.Cache[string, []MatchedIssue]
}

// NewCachedSearcher wraps inner with an LRU cache holding up to size
// distinct queries.
func NewCachedSearcher(inner Searcher, size int) (*CachedSearcher, error) {
	cache, err := lru.New[string, []MatchedIssue](size)
	if err != nil {
		return nil, fmt.Errorf("kb cache: %w", err)
	}
	return &CachedSearcher{inner: inner, cache: cache}, nil
}

func (c *CachedSearcher) Search(query string) []MatchedIssue {
	key := strings.ToLower(query)
	if hit, ok := c.cache.Get(key); ok {
		return append([]MatchedIssue{}, hit...)
	}
	matches := c.inner.Search(query)
	c.cache.Add(key, append([]MatchedIssue{}, matches...))
	return matches
}

// Len reports the number of cached queries.
func (c *CachedSearcher) Len() int { return c.cache.Len() }
