package stackwasm

import (
	"crypto/sha256"
	"sync"

	"github.com/stackwasm/stackwasm/internal/wasm"
)

// Cache lets CompileModule skip decoding and validating bytes it has already
// seen, keyed by a content hash rather than any caller-supplied identity.
// It is safe for concurrent use and, unlike a Runtime, may be shared across
// many of them: the decoded *wasm.Module it hands back is never mutated
// after a module's own memory-maximum defaults are applied once at
// first-compile time.
type Cache struct {
	mu      sync.Mutex
	entries map[[sha256.Size]byte]*wasm.Module
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: map[[sha256.Size]byte]*wasm.Module{}}
}

func (c *Cache) lookup(bin []byte) (*wasm.Module, bool) {
	key := sha256.Sum256(bin)
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.entries[key]
	return m, ok
}

func (c *Cache) store(bin []byte, m *wasm.Module) {
	key := sha256.Sum256(bin)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = m
}
