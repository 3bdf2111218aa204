package validation

import (
	"regexp"
	"sync"
)

// pathCache memoizes converted gjson paths and compiled regexps for the
// lifetime of one suite run. It is capacity-bounded: once full it stops
// admitting new entries and computes on the fly instead of growing. Safe
// for concurrent use; parallel suite runs share one engine across waves.
type pathCache struct {
	mu       sync.RWMutex
	capacity int
	paths    map[string]string
	regexps  map[string]*regexp.Regexp
}

func newPathCache(capacity int) *pathCache {
	return &pathCache{
		capacity: capacity,
		paths:    make(map[string]string),
		regexps:  make(map[string]*regexp.Regexp),
	}
}

func (c *pathCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.paths) + len(c.regexps)
}

// full assumes c.mu is already held.
func (c *pathCache) full() bool {
	return len(c.paths)+len(c.regexps) >= c.capacity
}

func (c *pathCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths = make(map[string]string)
	c.regexps = make(map[string]*regexp.Regexp)
}

// gjsonPath returns the gjson form of a JSONPath selector, memoized.
func (c *pathCache) gjsonPath(path string) string {
	c.mu.RLock()
	p, ok := c.paths[path]
	c.mu.RUnlock()
	if ok {
		return p
	}

	p = toGJSONPath(path)
	c.mu.Lock()
	if !c.full() {
		c.paths[path] = p
	}
	c.mu.Unlock()
	return p
}

// regexp returns the compiled pattern, memoized.
func (c *pathCache) regexp(pattern string) (*regexp.Regexp, error) {
	c.mu.RLock()
	re, ok := c.regexps[pattern]
	c.mu.RUnlock()
	if ok {
		return re, nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if !c.full() {
		c.regexps[pattern] = re
	}
	c.mu.Unlock()
	return re, nil
}
