// Package resource resolves image descriptors for surfaces and caches the
// decoded results.
package resource

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/recera/lcars/internal/logging"
)

// ErrNotFound is returned for descriptors that resolve to no file
var ErrNotFound = errors.New("resource: not found")

// EvictionStrategy defines which entry goes when the cache is full
type EvictionStrategy int

const (
	// LRU removes the least recently used entry
	LRU EvictionStrategy = iota
	// LFU removes the least frequently used entry
	LFU
	// FIFO removes the oldest entry
	FIFO
)

// ParseStrategy maps a config name to an EvictionStrategy
func ParseStrategy(name string) (EvictionStrategy, error) {
	switch strings.ToLower(name) {
	case "lru", "":
		return LRU, nil
	case "lfu":
		return LFU, nil
	case "fifo":
		return FIFO, nil
	}
	return LRU, fmt.Errorf("resource: unknown eviction strategy %q", name)
}

// Config holds cache configuration
type Config struct {
	Dir        string           // directory descriptors are resolved against
	MaxEntries int              // 0 means unlimited
	MaxAge     time.Duration    // 0 means entries never expire
	Strategy   EvictionStrategy // default LRU
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Dir:        "resources",
		MaxEntries: 64,
		MaxAge:     30 * time.Minute,
		Strategy:   LRU,
	}
}

// Entry is one cached image
type Entry struct {
	Key         string
	Image       image.Image
	Created     time.Time
	LastAccess  time.Time
	AccessCount int
}

// Stats tracks cache performance
type Stats struct {
	Hits       int64
	Misses     int64
	Evictions  int64
	Failures   int64
	EntryCount int
}

// Cache maps descriptors to decoded images. A descriptor is either a file
// name relative to Config.Dir or a color literal "#rrggbb" / "#rrggbbaa".
type Cache struct {
	mu       sync.Mutex
	cfg      Config
	entries  map[string]*Entry
	stats    Stats
	stopCh   chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// New creates a cache. A cleanup goroutine drops expired entries until Close.
func New(cfg Config) *Cache {
	c := &Cache{
		cfg:     cfg,
		entries: make(map[string]*Entry),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
	if cfg.MaxAge > 0 {
		go c.cleanup(cfg.MaxAge)
	}
	return c
}

// Get returns the image for ref, loading it on a miss
func (c *Cache) Get(ref string) (image.Image, error) {
	if img, ok := c.lookup(ref); ok {
		return img, nil
	}
	img, err := c.load(ref)
	if err != nil {
		c.mu.Lock()
		c.stats.Failures++
		c.mu.Unlock()
		return nil, err
	}
	c.Put(ref, img)
	return img, nil
}

// Scaled returns the image for ref scaled to size. Scaled variants are
// cached under their own key.
func (c *Cache) Scaled(ref string, size image.Point) (image.Image, error) {
	key := fmt.Sprintf("%s@%dx%d", ref, size.X, size.Y)
	if img, ok := c.lookup(key); ok {
		return img, nil
	}
	src, err := c.Get(ref)
	if err != nil {
		return nil, err
	}
	if _, uniform := src.(*image.Uniform); uniform || src.Bounds().Size() == size {
		return src, nil
	}
	dst := image.NewRGBA(image.Rectangle{Max: size})
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	c.Put(key, dst)
	return dst, nil
}

// Put stores img under key, evicting an entry if the cache is full
func (c *Cache) Put(key string, img image.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if e, ok := c.entries[key]; ok {
		e.Image = img
		e.LastAccess = now
		return
	}
	c.ensureSpace()
	c.entries[key] = &Entry{Key: key, Image: img, Created: now, LastAccess: now}
	c.stats.EntryCount = len(c.entries)
}

// Delete drops key and every scaled variant of it
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k == key || strings.HasPrefix(k, key+"@") {
			delete(c.entries, k)
		}
	}
	c.stats.EntryCount = len(c.entries)
}

// Clear drops every entry
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
	c.stats.EntryCount = 0
}

// GetStats returns a copy of the statistics
func (c *Cache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Close stops the cleanup goroutine
func (c *Cache) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	return nil
}

func (c *Cache) lookup(key string) (image.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.isExpired(e) {
		if ok {
			delete(c.entries, key)
			c.stats.EntryCount = len(c.entries)
		}
		c.stats.Misses++
		return nil, false
	}
	e.LastAccess = c.now()
	e.AccessCount++
	c.stats.Hits++
	return e.Image, true
}

func (c *Cache) load(ref string) (image.Image, error) {
	if strings.HasPrefix(ref, "#") {
		col, err := ParseColor(ref)
		if err != nil {
			return nil, err
		}
		return image.NewUniform(col), nil
	}
	path := filepath.Join(c.cfg.Dir, filepath.Clean("/"+ref))
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, err
	}
	defer f.Close()
	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", ref, err)
	}
	logging.For("resource").Debug("image loaded", "ref", ref, "format", format, "size", img.Bounds().Size())
	return img, nil
}

func (c *Cache) isExpired(e *Entry) bool {
	if c.cfg.MaxAge <= 0 {
		return false
	}
	return c.now().Sub(e.Created) > c.cfg.MaxAge
}

// ensureSpace evicts one entry per the strategy while the cache is full.
// Caller holds c.mu.
func (c *Cache) ensureSpace() {
	if c.cfg.MaxEntries <= 0 {
		return
	}
	for len(c.entries) >= c.cfg.MaxEntries {
		var victim *Entry
		for _, e := range c.entries {
			if victim == nil {
				victim = e
				continue
			}
			switch c.cfg.Strategy {
			case LFU:
				if e.AccessCount < victim.AccessCount {
					victim = e
				}
			case FIFO:
				if e.Created.Before(victim.Created) {
					victim = e
				}
			default:
				if e.LastAccess.Before(victim.LastAccess) {
					victim = e
				}
			}
		}
		if victim == nil {
			return
		}
		delete(c.entries, victim.Key)
		c.stats.Evictions++
	}
}

func (c *Cache) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			for k, e := range c.entries {
				if c.isExpired(e) {
					delete(c.entries, k)
				}
			}
			c.stats.EntryCount = len(c.entries)
			c.mu.Unlock()
		case <-c.stopCh:
			return
		}
	}
}

// ParseColor parses "#rgb", "#rrggbb" or "#rrggbbaa"
func ParseColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(s, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	if len(hex) != 8 {
		return color.RGBA{}, fmt.Errorf("resource: bad color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("resource: bad color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}
