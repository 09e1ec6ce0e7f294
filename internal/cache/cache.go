// Package cache implements the last-known register cache (the coordinator
// keeps one per datalog): a
// fixed-size array behind a mutex, exposed through a tiny get/put API so
// callers never hold a reference to the backing array.
package cache

import "sync"

// Size is the fixed array size. It must exceed the maximum register number
// observed on the wire.
const Size = 512

// Cache is a last-known-word store, indexed by register
// number. Reads never fail: an absent entry simply returns zero.
type Cache struct {
	mu     sync.Mutex
	values [Size]uint16
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{}
}

// Put records the last-known word for a register.
func (c *Cache) Put(register uint16, word uint16) {
	if int(register) >= Size {
		return
	}
	c.mu.Lock()
	c.values[register] = word
	c.mu.Unlock()
}

// PutAll records every (register, word) pair in one critical section.
func (c *Cache) PutAll(words map[uint16]uint16) {
	c.mu.Lock()
	for reg, word := range words {
		if int(reg) < Size {
			c.values[reg] = word
		}
	}
	c.mu.Unlock()
}

// Get returns the last-known word for a register, or zero if never set.
func (c *Cache) Get(register uint16) uint16 {
	if int(register) >= Size {
		return 0
	}
	c.mu.Lock()
	v := c.values[register]
	c.mu.Unlock()
	return v
}
