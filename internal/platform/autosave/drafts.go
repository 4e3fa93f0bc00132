package autosave

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

var ErrDraftNotFound = errors.New("draft not found")

// DraftStore mirrors unsaved form content so that it survives a restart
// between an edit and its debounced write.
type DraftStore interface {
	Save(ctx context.Context, key string, data []byte) error
	Load(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

type RedisDraftStore struct {
	c      *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisDraftStore(c *redis.Client, prefix string, ttl time.Duration) *RedisDraftStore {
	return &RedisDraftStore{c: c, prefix: prefix, ttl: ttl}
}

func (s *RedisDraftStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisDraftStore) Save(ctx context.Context, key string, data []byte) error {
	return s.c.Set(ctx, s.key(key), data, s.ttl).Err()
}

func (s *RedisDraftStore) Load(ctx context.Context, key string) ([]byte, error) {
	val, err := s.c.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrDraftNotFound
		}
		return nil, err
	}
	return val, nil
}

func (s *RedisDraftStore) Delete(ctx context.Context, key string) error {
	return s.c.Del(ctx, s.key(key)).Err()
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

type memoryDraft struct {
	data    []byte
	expires time.Time
}

// MemoryDraftStore is the DraftStore used when REDIS_URL is empty.
type MemoryDraftStore struct {
	mu     sync.Mutex
	ttl    time.Duration
	drafts map[string]memoryDraft
	now    func() time.Time
}

func NewMemoryDraftStore(ttl time.Duration) *MemoryDraftStore {
	return &MemoryDraftStore{ttl: ttl, drafts: make(map[string]memoryDraft), now: time.Now}
}

func (s *MemoryDraftStore) Save(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := memoryDraft{data: append([]byte(nil), data...)}
	if s.ttl > 0 {
		d.expires = s.now().Add(s.ttl)
	}
	s.drafts[key] = d
	return nil
}

func (s *MemoryDraftStore) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[key]
	if !ok {
		return nil, ErrDraftNotFound
	}
	if !d.expires.IsZero() && s.now().After(d.expires) {
		delete(s.drafts, key)
		return nil, ErrDraftNotFound
	}
	return append([]byte(nil), d.data...), nil
}

func (s *MemoryDraftStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, key)
	return nil
}
