package stackwasm

import (
	"context"

	"github.com/stackwasm/stackwasm/internal/wasm"
)

// RuntimeConfig controls how a Runtime compiles and instantiates modules.
// The zero value is never used directly; start from NewRuntimeConfig and
// chain the With* methods, each of which returns a new, independent value
// so that a shared base config can't be mutated out from under a caller
// still holding a reference to it.
type RuntimeConfig struct {
	ctx            context.Context
	memoryMaxPages uint32
	cache          *Cache
}

// defaultConfig holds the baseline every RuntimeConfig clones from, so a
// future added field only needs its default written once.
var defaultConfig = &RuntimeConfig{
	ctx:            context.Background(),
	memoryMaxPages: wasm.MaxMemoryPages,
}

// NewRuntimeConfig returns a RuntimeConfig with default settings.
func NewRuntimeConfig() *RuntimeConfig {
	return defaultConfig.clone()
}

func (c *RuntimeConfig) clone() *RuntimeConfig {
	ret := *c
	return &ret
}

// WithContext records a context on the config (context.Background when ctx
// is nil). The runtime does not read it: start functions run with
// context.Background, and Function.Call with a nil ctx also uses
// context.Background.
func (c *RuntimeConfig) WithContext(ctx context.Context) *RuntimeConfig {
	if ctx == nil {
		ctx = context.Background()
	}
	ret := c.clone()
	ret.ctx = ctx
	return ret
}

// WithMemoryMaxPages lowers the maximum size a memory lacking its own
// declared maximum may grow to, from the hard ceiling of 65536 pages (4GiB).
// A module that declares its own memory maximum is unaffected even if it
// exceeds this value: this only fills in a default, it isn't itself
// enforced against the module's declared type.
func (c *RuntimeConfig) WithMemoryMaxPages(memoryMaxPages uint32) *RuntimeConfig {
	ret := c.clone()
	ret.memoryMaxPages = memoryMaxPages
	return ret
}

// WithCache causes CompileModule to reuse a prior compilation for
// byte-identical input instead of redecoding and revalidating it. See
// NewCache.
func (c *RuntimeConfig) WithCache(cache *Cache) *RuntimeConfig {
	ret := c.clone()
	ret.cache = cache
	return ret
}

// ModuleConfig configures how one InstantiateModule call names and links its
// module instance.
type ModuleConfig struct {
	name string
}

// NewModuleConfig returns a ModuleConfig with default settings: an
// implementation-assigned name.
func NewModuleConfig() *ModuleConfig {
	return &ModuleConfig{}
}

// WithName overrides the name this module instantiates under, which is both
// how later InstantiateModule calls resolve imports against it and how it is
// identified in trap messages. Defaults to a Runtime-assigned name.
func (c *ModuleConfig) WithName(name string) *ModuleConfig {
	ret := *c
	ret.name = name
	return &ret
}
