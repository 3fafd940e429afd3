// Package cache implements an In-Memory Cache: a generic TTL
// key->value store shared by the Web Fetcher and by command-result
// memoisation. The store itself is backed by jellydator/ttlcache/v3;
// the teacher's own cache.Cache interface (referenced from
// model/instance/service.go: Get/Set/SetNX, all namespaced by a short
// key prefix) shapes the API surface here, generalised to an explicit
// put/get/invalidate/alias contract.
package cache

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/prometheus/client_golang/prometheus"
)

// Command mirrors the teacher's {root, args[]} shape (pkg/command),
// kept here (rather than importing pkg/command) to avoid a cycle: the
// Command Executor depends on Cache for memoisation, not the reverse.
type Command struct {
	Root string
	Args []string
}

func (c Command) pretty() string {
	s := c.Root
	for _, a := range c.Args {
		s += " " + a
	}
	return s
}

var (
	cacheGets = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dotnet_acquire_cache_get_total",
		Help: "Cache.Get calls by hit/miss.",
	}, []string{"result"})
	cachePuts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dotnet_acquire_cache_put_total",
		Help: "Cache.Put calls.",
	})
	cacheClears = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dotnet_acquire_cache_clear_total",
		Help: "Cache.Invalidate calls.",
	})
	metricsOnce sync.Once
)

func registerMetrics(reg prometheus.Registerer) {
	metricsOnce.Do(func() {
		reg.MustRegister(cacheGets, cachePuts, cacheClears)
	})
}

// Event is posted to the supplied sink on every cache operation:
// CacheGet, CachePut, or CacheClear.
type Event struct {
	Kind    string // "CacheGet" | "CachePut" | "CacheClear"
	Key     string
	Hit     bool
	Summary string
}

// Sink receives cache Events. The real event-stream observer set is an
// external collaborator; this is its narrow interface.
type Sink interface {
	Post(Event)
}

type noopSink struct{}

func (noopSink) Post(Event) {}

// Cache is the generic TTL key->value store.
type Cache struct {
	ttl      *ttlcache.Cache[string, []byte]
	sink     Sink
	multiple float64

	mu      sync.RWMutex
	aliases map[string]string // aliasRoot -> realRoot
}

// Options configures a new Cache.
type Options struct {
	Sink                 Sink
	TimeToLiveMultiplier float64
	Registerer           prometheus.Registerer
}

// New constructs the process-wide cache instance.
func New(opts Options) *Cache {
	if opts.Sink == nil {
		opts.Sink = noopSink{}
	}
	if opts.TimeToLiveMultiplier <= 0 {
		opts.TimeToLiveMultiplier = 1.0
	}
	if opts.Registerer != nil {
		registerMetrics(opts.Registerer)
	}

	ttl := ttlcache.New[string, []byte](
		ttlcache.WithDisableTouchOnHit[string, []byte](),
	)
	go ttl.Start()

	return &Cache{
		ttl:      ttl,
		sink:     opts.Sink,
		multiple: opts.TimeToLiveMultiplier,
		aliases:  make(map[string]string),
	}
}

// NewForTest builds a Cache isolated from process-wide state.
func NewForTest() *Cache {
	return New(Options{})
}

func (c *Cache) resolveKey(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for aliasRoot, realRoot := range c.aliases {
		if len(key) >= len(aliasRoot) && key[:len(aliasRoot)] == aliasRoot {
			return realRoot + key[len(aliasRoot):]
		}
	}
	return key
}

// Put stores value under key for ttlMs milliseconds, scaled by the
// configured TimeToLiveMultiplier. ttlMs == 0 means do-not-cache.
func (c *Cache) Put(key string, value []byte, ttlMs int64) {
	if ttlMs == 0 {
		return
	}
	scaled := time.Duration(float64(ttlMs)*c.multiple) * time.Millisecond
	c.ttl.Set(key, value, scaled)
	cachePuts.Inc()
	c.sink.Post(Event{Kind: "CachePut", Key: key, Summary: summarize(value)})
}

// Get retrieves the value for key, if present and unexpired.
func (c *Cache) Get(key string) ([]byte, bool) {
	key = c.resolveKey(key)
	item := c.ttl.Get(key)
	hit := item != nil
	var val []byte
	if hit {
		val = item.Value()
	}
	cacheGets.WithLabelValues(hitLabel(hit)).Inc()
	c.sink.Post(Event{Kind: "CacheGet", Key: key, Hit: hit, Summary: summarize(val)})
	return val, hit
}

// Invalidate clears the entire cache.
func (c *Cache) Invalidate() {
	c.ttl.DeleteAll()
	cacheClears.Inc()
	c.sink.Post(Event{Kind: "CacheClear"})
}

// AliasCommandAsAnotherCommandRoot makes Gets for keys prefixed with
// aliasRoot hit entries stored under realRoot — used when a symlinked
// dotnet resolves to a canonical binary.
func (c *Cache) AliasCommandAsAnotherCommandRoot(aliasRoot, realRoot string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aliases[aliasRoot] = realRoot
}

// CommandOptions is the cacheable option bag for a command invocation;
// TTL and a raw env map are excluded from the key itself — the env is
// minimised to its key set and any per-call TTL override is stripped.
type CommandOptions struct {
	TTLMs int64
	Env   map[string]string
	Extra map[string]interface{}
}

func (o CommandOptions) cacheableJSON() []byte {
	minimisedEnv := make([]string, 0, len(o.Env))
	for k := range o.Env {
		minimisedEnv = append(minimisedEnv, k)
	}
	sort.Strings(minimisedEnv)
	shaped := struct {
		EnvKeys []string               `json:"envKeys"`
		Extra   map[string]interface{} `json:"extra,omitempty"`
	}{EnvKeys: minimisedEnv, Extra: o.Extra}
	b, _ := json.Marshal(shaped)
	return b
}

// commandKey builds the pretty(cmd) + JSON(options-with-ttl-and-env-minimised)
// cache key.
func commandKey(cmd Command, opts CommandOptions) string {
	return cmd.pretty() + string(opts.cacheableJSON())
}

// PutCommand caches a command's result.
func (c *Cache) PutCommand(cmd Command, opts CommandOptions, value []byte) {
	c.Put(commandKey(cmd, opts), value, opts.TTLMs)
}

// GetCommand retrieves a cached command result.
func (c *Cache) GetCommand(cmd Command, opts CommandOptions) ([]byte, bool) {
	return c.Get(commandKey(cmd, opts))
}

func hitLabel(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}

func summarize(v []byte) string {
	const max = 64
	if len(v) <= max {
		return string(v)
	}
	return string(v[:max]) + "..."
}
