package vm

import (
	lru "github.com/hashicorp/golang-lru"
)

// DefaultResolverCacheSize is used when NewCachingResolver is given a non
// positive size.
const DefaultResolverCacheSize = 256

type assignKey struct {
	signature string
	class     ClassID
	version   int
}

// CachingResolver memoizes successful assignability checks of another
// Resolver. Failed resolutions are not cached, the class may be loadable
// later.
type CachingResolver struct {
	r     Resolver
	cache *lru.Cache
}

// NewCachingResolver wraps r with an LRU cache of the given size.
func NewCachingResolver(r Resolver, size int) *CachingResolver {
	if size <= 0 {
		size = DefaultResolverCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		// only returned for non positive sizes
		panic(err)
	}
	return &CachingResolver{r: r, cache: cache}
}

// IsAssignable implements Resolver.
func (cr *CachingResolver) IsAssignable(signature string, k *Class) (bool, error) {
	key := assignKey{signature, k.ID, k.Version}
	if v, ok := cr.cache.Get(key); ok {
		return v.(bool), nil
	}
	ok, err := cr.r.IsAssignable(signature, k)
	if err != nil {
		return false, err
	}
	cr.cache.Add(key, ok)
	return ok, nil
}

// Purge drops all cached results. Called after a class redefinition.
func (cr *CachingResolver) Purge() {
	cr.cache.Purge()
}

// Len returns the number of cached results.
func (cr *CachingResolver) Len() int {
	return cr.cache.Len()
}
