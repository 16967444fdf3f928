// ABOUTME: Thread-safe TTL cache of completed gateway responses keyed by Idempotency-Key.
// ABOUTME: Tracks in-flight keys so a concurrent duplicate is rejected instead of re-running tools.

package replay

import (
	"container/list"
	"net/http"
	"sync"
	"time"
)

// DefaultMaxSize bounds the number of remembered keys.
const DefaultMaxSize = 10000

// State is the outcome of Begin.
type State int

const (
	// StateNew means the caller owns the key and must Complete or Release it.
	StateNew State = iota
	// StateInFlight means another request holding the key has not finished.
	StateInFlight
	// StateReplay means a stored response is available.
	StateReplay
)

// Response is a stored gateway response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

type cacheEntry struct {
	timestamp time.Time
	element   *list.Element
	inFlight  bool
	response  *Response
}

// Cache remembers responses for a TTL. Uses a doubly-linked list to keep
// insertion order for O(1) eviction once maxSize is reached.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	order   *list.List // keys, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a replay cache. A background goroutine periodically drops
// expired responses.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	c := &Cache{
		entries: make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Begin claims key. It returns StateReplay with the stored response, or
// StateInFlight if another holder is still running, or StateNew after
// marking the key in flight for the caller.
func (c *Cache) Begin(key string) (State, *Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		if entry.inFlight {
			return StateInFlight, nil
		}
		if time.Since(entry.timestamp) < c.ttl {
			return StateReplay, entry.response
		}
		c.removeLocked(key, entry)
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	c.entries[key] = &cacheEntry{
		timestamp: time.Now(),
		element:   c.order.PushBack(key),
		inFlight:  true,
	}
	return StateNew, nil
}

// Complete stores the response for key and makes it replayable.
func (c *Cache) Complete(key string, resp Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		if len(c.entries) >= c.maxSize {
			c.evictOldest()
		}
		entry = &cacheEntry{element: c.order.PushBack(key)}
		c.entries[key] = entry
	} else {
		c.order.MoveToBack(entry.element)
	}

	entry.timestamp = time.Now()
	entry.inFlight = false
	entry.response = &resp
}

// Release forgets an in-flight key without storing a response, so the
// client may retry.
func (c *Cache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok && entry.inFlight {
		c.removeLocked(key, entry)
	}
}

// Len returns the number of tracked keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Must be called with mu held.
func (c *Cache) removeLocked(key string, entry *cacheEntry) {
	c.order.Remove(entry.element)
	delete(c.entries, key)
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, key)
}

func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes expired responses. In-flight keys are left alone.
func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.entries {
		if !entry.inFlight && now.Sub(entry.timestamp) > c.ttl {
			c.removeLocked(key, entry)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
