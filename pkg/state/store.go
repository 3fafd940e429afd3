// Package state implements the persisted key->value store backing the
// Install Tracker's `installed` and `marks` keys (the graveyard and
// pending entries are fields of the `installed` document). The default
// backend is one JSON file per key under the managed storage root,
// written through
// spf13/afero so the Local Installer and the registry share one
// filesystem abstraction (the teacher's worker/exec/service.go uses
// afero for its temp directories the same way). An optional
// go-redis/redis/v8 backend lets several consumers on machines that
// share a devcontainer or a networked home directory see the same
// registry, rather than each maintaining an independent one — a
// scenario this tool is more likely to hit than the original VS Code
// single-desktop case.
package state

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/afero"
)

// Store is the minimal KV contract the registry needs.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// FileStore persists each key as its own JSON file under root,
// guarded by an in-process mutex; cross-process safety is the
// modifier lock's job, not this store's.
type FileStore struct {
	fs   afero.Fs
	root string
	mu   sync.Mutex
}

// NewFileStore builds a Store rooted at root using the given afero
// filesystem (afero.NewOsFs() in production, afero.NewMemMapFs() in
// tests).
func NewFileStore(fs afero.Fs, root string) *FileStore {
	return &FileStore{fs: fs, root: root}
}

func (s *FileStore) path(key string) string {
	return s.root + "/" + key + ".json"
}

func (s *FileStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := afero.ReadFile(s.fs, s.path(key))
	if err != nil {
		if isNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

func (s *FileStore) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.MkdirAll(s.root, 0o755); err != nil {
		return err
	}
	return afero.WriteFile(s.fs, s.path(key), value, 0o644)
}

func isNotExist(err error) bool {
	return afero.IsNotExist(err)
}

// RedisStore persists keys as Redis string values, for the shared
// multi-consumer scenario described above.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to addr and namespaces all keys under
// prefix (e.g. "dotnet-acquire:").
func NewRedisStore(addr, prefix string) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		prefix: prefix,
	}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, s.prefix+key, value, 0).Err()
}

// Close releases the underlying Redis connection pool.
func (s *RedisStore) Close() error { return s.client.Close() }

// PutJSON and GetJSON are small helpers so callers (the registry)
// don't repeat json.Marshal/Unmarshal at every call site.
func PutJSON(ctx context.Context, s Store, key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Put(ctx, key, b)
}

func GetJSON(ctx context.Context, s Store, key string, v interface{}) (bool, error) {
	b, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return ok, err
	}
	return true, json.Unmarshal(b, v)
}
