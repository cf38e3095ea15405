// Package assetcache makes static, read-only assets available without a live
// network connection. Responses are kept in generation-tagged storage; only
// one generation is current at a time, and activating a new tag deletes every
// stale generation.
package assetcache

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

// Cache is the offline asset cache. Entries live in one bbolt bucket per
// generation, keyed by the exact resource URL.
type Cache struct {
	db *bbolt.DB

	mu        sync.RWMutex
	tag       string
	apiPrefix string
}

// Open opens the cache storage and immediately activates the given
// generation tag. Requests whose path starts with apiPrefix belong to the
// dynamic API namespace and are never intercepted.
func Open(path, tag, apiPrefix string) (*Cache, error) {
	if tag == "" {
		return nil, fmt.Errorf("a generation tag is required")
	}
	if apiPrefix == "" {
		apiPrefix = "/api/"
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening cache storage: %w", err)
	}

	cache := &Cache{
		db:        db,
		apiPrefix: apiPrefix,
	}
	if err := cache.Activate(tag); err != nil {
		db.Close()
		return nil, err
	}

	return cache, nil
}

// Activate makes tag the current generation and deletes every other
// generation's entries. It is the "activate immediately" control signal: a
// newly deployed generation takes control without waiting for a session
// boundary. Activating the current tag again is a no-op that leaves its
// entries untouched.
func (c *Cache) Activate(tag string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(tag)); err != nil {
			return err
		}

		// Collect first: deleting while iterating invalidates the cursor
		var stale [][]byte
		err := tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			if string(name) != tag {
				stale = append(stale, append([]byte(nil), name...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, name := range stale {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("activating generation %q: %w", tag, err)
	}

	c.tag = tag
	return nil
}

// Tag returns the current generation tag
func (c *Cache) Tag() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tag
}

// Generations returns the tags of all stored generations
func (c *Cache) Generations() ([]string, error) {
	tags := make([]string, 0, 1)
	err := c.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			tags = append(tags, string(name))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing generations: %w", err)
	}
	return tags, nil
}

// Client returns an HTTP client whose transport applies the cache's
// network-first, cache-fallback fetch policy
func (c *Cache) Client() *http.Client {
	return &http.Client{Transport: c.Transport(nil)}
}

// Close closes the cache storage
func (c *Cache) Close() error {
	return c.db.Close()
}

// put stores an entry in the current generation
func (c *Cache) put(key string, data []byte) error {
	c.mu.RLock()
	tag := c.tag
	c.mu.RUnlock()

	return c.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(tag))
		if bucket == nil {
			return fmt.Errorf("generation %q is gone", tag)
		}
		return bucket.Put([]byte(key), data)
	})
}

// get retrieves an entry from the current generation
func (c *Cache) get(key string) ([]byte, bool) {
	c.mu.RLock()
	tag := c.tag
	c.mu.RUnlock()

	var data []byte
	err := c.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(tag))
		if bucket == nil {
			return nil
		}
		if v := bucket.Get([]byte(key)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil || data == nil {
		return nil, false
	}
	return data, true
}
