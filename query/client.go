// Package query is a small keyed request cache. Entries are grouped by
// hierarchical keys so a whole feature can be invalidated by prefix, and
// concurrent fetches of the same key collapse into one call.
package query

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Stale times for read units.
const (
	StaleInstant  time.Duration = 0
	StaleRealtime               = 3 * time.Second
	StaleFrequent               = 5 * time.Second
	StaleNormal                 = 30 * time.Second
	StaleRare                   = 5 * time.Minute
	// StaleStatic entries stay fresh until invalidated.
	StaleStatic time.Duration = -1
)

// DefaultSize bounds the number of cached keys.
const DefaultSize = 256

// Key identifies a cached value, e.g. Key{"auth", "user"}.
type Key []string

func (k Key) String() string {
	return strings.Join(k, "/")
}

// id is the cache identity of k. Parts are quoted so Key{"a/b"} and
// Key{"a", "b"} stay distinct.
func (k Key) id() string {
	var b strings.Builder
	for i, part := range k {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(strconv.Quote(part))
	}
	return b.String()
}

// HasPrefix reports whether prefix is a leading part of k.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Options configure a single read unit.
type Options struct {
	StaleTime  time.Duration
	Retry      int
	RetryDelay time.Duration
}

type entry struct {
	key       Key
	value     any
	fetchedAt time.Time
	invalid   bool
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithSize sets the maximum number of cached keys.
func WithSize(size int) ClientOption {
	return func(c *Client) {
		if size > 0 {
			c.size = size
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// Client is safe for concurrent use.
type Client struct {
	size  int
	now   func() time.Time
	cache *lru.Cache[string, *entry]
	group singleflight.Group
	mu    sync.Mutex
	// gen changes on every invalidation so fetches started before it can
	// neither be joined nor stored.
	gen atomic.Uint64
}

// NewClient builds a bounded client.
func NewClient(opts ...ClientOption) (*Client, error) {
	c := &Client{
		size: DefaultSize,
		now:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	cache, err := lru.New[string, *entry](c.size)
	if err != nil {
		return nil, err
	}
	c.cache = cache

	return c, nil
}

// Fetch returns the cached value for key while it is fresh, otherwise it
// calls fn, caches and returns the result. Errors are never cached.
func Fetch[T any](ctx context.Context, c *Client, key Key, opts Options, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	if v, ok := c.fresh(key, opts.StaleTime); ok {
		if out, ok := v.(T); ok {
			return out, nil
		}
	}

	gen := c.gen.Load()
	flightKey := key.id() + "#" + strconv.FormatUint(gen, 10)

	v, err, _ := c.group.Do(flightKey, func() (any, error) {
		out, err := withRetry(ctx, opts, fn)
		if err != nil {
			return nil, err
		}
		c.store(key, out, gen)
		return out, nil
	})
	if err != nil {
		return zero, err
	}

	out, _ := v.(T)
	return out, nil
}

// Peek returns the cached value regardless of staleness.
func (c *Client) Peek(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.cache.Peek(key.id())
	if !ok || e.invalid {
		return nil, false
	}
	return e.value, true
}

// SetData stores value under key as freshly fetched.
func (c *Client) SetData(key Key, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(key.id(), &entry{key: key, value: value, fetchedAt: c.now()})
}

// Invalidate marks every key under prefix as stale so the next Fetch
// reloads it. It returns the number of entries affected.
func (c *Client) Invalidate(prefix Key) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen.Add(1)

	n := 0
	for _, k := range c.cache.Keys() {
		e, ok := c.cache.Peek(k)
		if !ok || !e.key.HasPrefix(prefix) {
			continue
		}
		e.invalid = true
		n++
	}
	return n
}

// Remove drops every key under prefix.
func (c *Client) Remove(prefix Key) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen.Add(1)

	n := 0
	for _, k := range c.cache.Keys() {
		e, ok := c.cache.Peek(k)
		if ok && e.key.HasPrefix(prefix) {
			c.cache.Remove(k)
			n++
		}
	}
	return n
}

// Clear drops every cached entry.
func (c *Client) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen.Add(1)
	c.cache.Purge()
}

// Len returns the number of cached keys, including invalidated ones.
func (c *Client) Len() int {
	return c.cache.Len()
}

func (c *Client) fresh(key Key, staleTime time.Duration) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.cache.Get(key.id())
	if !ok || e.invalid {
		return nil, false
	}
	if staleTime < 0 {
		return e.value, true
	}
	if c.now().Sub(e.fetchedAt) < staleTime {
		return e.value, true
	}
	return nil, false
}

func (c *Client) store(key Key, value any, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen.Load() != gen {
		return
	}
	c.cache.Add(key.id(), &entry{key: key, value: value, fetchedAt: c.now()})
}

func withRetry[T any](ctx context.Context, opts Options, fn func(context.Context) (T, error)) (T, error) {
	var (
		out T
		err error
	)
	for attempt := 0; attempt <= opts.Retry; attempt++ {
		if attempt > 0 && opts.RetryDelay > 0 {
			timer := time.NewTimer(opts.RetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return out, ctx.Err()
			case <-timer.C:
			}
		}
		out, err = fn(ctx)
		if err == nil {
			return out, nil
		}
	}
	return out, err
}
