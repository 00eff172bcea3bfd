package renderer

import (
	"image"

	"github.com/emirpasic/gods/maps/linkedhashmap"
)

// DefaultImageCacheSize bounds the AI image cache.
const DefaultImageCacheSize = 10

// imageCache is a bounded, insertion-ordered image cache keyed by feature bucket.
// Once full, the oldest inserted entry is evicted.
type imageCache struct {
	capacity int
	entries  *linkedhashmap.Map
}

func newImageCache(capacity int) *imageCache {
	if capacity < 1 {
		capacity = DefaultImageCacheSize
	}
	return &imageCache{
		capacity: capacity,
		entries:  linkedhashmap.New(),
	}
}

// Get returns the cached image for key.
func (c *imageCache) Get(key string) (image.Image, bool) {
	v, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	return v.(image.Image), true
}

// Put stores img under key. Re-inserting a key moves it to the newest position.
// Returns the evicted key, if any.
func (c *imageCache) Put(key string, img image.Image) (evicted string, ok bool) {
	if _, exists := c.entries.Get(key); exists {
		c.entries.Remove(key)
	}
	c.entries.Put(key, img)

	if c.entries.Size() <= c.capacity {
		return "", false
	}
	it := c.entries.Iterator()
	if !it.First() {
		return "", false
	}
	oldest := it.Key().(string)
	c.entries.Remove(oldest)
	return oldest, true
}

// Keys returns the cached keys from oldest to newest.
func (c *imageCache) Keys() []string {
	keys := make([]string, 0, c.entries.Size())
	for _, k := range c.entries.Keys() {
		keys = append(keys, k.(string))
	}
	return keys
}

func (c *imageCache) Len() int {
	return c.entries.Size()
}

func (c *imageCache) Clear() {
	c.entries.Clear()
}
