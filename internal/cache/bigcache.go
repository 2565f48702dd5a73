package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/allegro/bigcache/v3"
)

// BigCacheConfig sizes the in-process cache.
type BigCacheConfig struct {
	// LifeWindow is the longest any entry lives, regardless of its own TTL.
	LifeWindow  time.Duration
	CleanWindow time.Duration
	Shards      int
	MaxSizeMB   int
}

// BigCacheProvider implements Provider on top of bigcache. Per-entry TTLs
// shorter than LifeWindow are enforced on read.
type BigCacheProvider struct {
	mu    sync.Mutex
	cache *bigcache.BigCache
	now   func() time.Time
}

// NewBigCacheProvider allocates the cache. Zero fields take bigcache defaults.
func NewBigCacheProvider(ctx context.Context, cfg BigCacheConfig) (*BigCacheProvider, error) {
	if cfg.LifeWindow <= 0 {
		cfg.LifeWindow = 24 * time.Hour
	}
	bc := bigcache.DefaultConfig(cfg.LifeWindow)
	if cfg.CleanWindow > 0 {
		bc.CleanWindow = cfg.CleanWindow
	} else {
		bc.CleanWindow = time.Minute
	}
	if cfg.Shards > 0 {
		bc.Shards = cfg.Shards
	}
	if cfg.MaxSizeMB > 0 {
		bc.HardMaxCacheSize = cfg.MaxSizeMB
	}
	bc.Verbose = false

	c, err := bigcache.New(ctx, bc)
	if err != nil {
		return nil, fmt.Errorf("create bigcache: %w", err)
	}
	return &BigCacheProvider{cache: c, now: time.Now}, nil
}

// Get returns the value for key or ErrCacheMiss when absent or expired.
func (p *BigCacheProvider) Get(_ context.Context, key string) ([]byte, error) {
	return p.get(key)
}

func (p *BigCacheProvider) get(key string) ([]byte, error) {
	raw, err := p.cache.Get(key)
	if err != nil {
		if errors.Is(err, bigcache.ErrEntryNotFound) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	if len(raw) < 8 {
		return nil, ErrCacheMiss
	}
	if exp := int64(binary.BigEndian.Uint64(raw[:8])); exp > 0 && p.now().UnixNano() >= exp {
		_ = p.cache.Delete(key)
		return nil, ErrCacheMiss
	}
	return raw[8:], nil
}

// Set stores value under key. A non-positive ttl keeps the entry for the
// cache's life window.
func (p *BigCacheProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	return p.set(key, value, ttl)
}

func (p *BigCacheProvider) set(key string, value []byte, ttl time.Duration) error {
	var exp int64
	if ttl > 0 {
		exp = p.now().Add(ttl).UnixNano()
	}
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf[:8], uint64(exp))
	copy(buf[8:], value)
	return p.cache.Set(key, buf)
}

// SetNX stores value only when key is absent and reports whether it did.
func (p *BigCacheProvider) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.get(key); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrCacheMiss) {
		return false, err
	}
	if err := p.set(key, value, ttl); err != nil {
		return false, err
	}
	return true, nil
}

// Del removes key. Missing keys are not an error.
func (p *BigCacheProvider) Del(_ context.Context, key string) error {
	if err := p.cache.Delete(key); err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
		return err
	}
	return nil
}

// Close releases the cache's background cleaner.
func (p *BigCacheProvider) Close() error {
	return p.cache.Close()
}
