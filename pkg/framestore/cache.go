package framestore

import (
	"container/list"
	"image"
)

// CacheCapacity is the number of normalized frames a FrameCache holds.
const CacheCapacity = 10

// FrameCache maps frame indices to normalized rasters. It evicts in
// insertion order: once full, adding a frame drops the oldest inserted one,
// regardless of how recently it was read.
type FrameCache struct {
	capacity int
	order    *list.List // of int, oldest at the front
	entries  map[int]*image.Gray
}

// NewFrameCache creates an empty cache holding up to capacity frames
func NewFrameCache(capacity int) *FrameCache {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[int]*image.Gray, capacity),
	}
}

// Get returns the cached raster for index. Reads do not affect eviction order.
func (c *FrameCache) Get(index int) (*image.Gray, bool) {
	raster, ok := c.entries[index]
	return raster, ok
}

// Put stores raster under index and returns the index evicted to make room,
// or -1. Replacing an existing index keeps its original insertion position.
func (c *FrameCache) Put(index int, raster *image.Gray) int {
	if _, ok := c.entries[index]; ok {
		c.entries[index] = raster
		return -1
	}

	evicted := -1
	if len(c.entries) >= c.capacity {
		oldest := c.order.Front()
		evicted = oldest.Value.(int)
		c.order.Remove(oldest)
		delete(c.entries, evicted)
	}
	c.order.PushBack(index)
	c.entries[index] = raster
	return evicted
}

// Clear drops every entry
func (c *FrameCache) Clear() {
	c.order.Init()
	clear(c.entries)
}

// Len is the number of cached frames
func (c *FrameCache) Len() int {
	return len(c.entries)
}

// Keys lists cached indices from oldest to newest insertion
func (c *FrameCache) Keys() []int {
	keys := make([]int, 0, c.order.Len())
	for e := c.order.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(int))
	}
	return keys
}
