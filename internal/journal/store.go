package journal

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrInvalidConfig = errors.New("invalid store configuration")
	ErrInvalidDriver = errors.New("invalid store driver")
	ErrNotFound      = errors.New("session not found")
)

// Filter narrows listing/export to a date range. Nil bounds are open.
type Filter struct {
	From *time.Time
	To   *time.Time
}

func (f Filter) matches(s *Session) bool {
	if f.From != nil && s.StartTime.Before(*f.From) {
		return false
	}
	if f.To != nil && s.StartTime.After(*f.To) {
		return false
	}
	return true
}

// Store is the row-oriented persistence the logger writes through.
type Store interface {
	Create(ctx context.Context, s *Session) error
	// Get returns nil when the session is not found (not an error).
	Get(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, s *Session) error
	// List returns sessions matching the filter, ordered by start time.
	List(ctx context.Context, f Filter) ([]*Session, error)
	Count(ctx context.Context) (int, error)
	// PurgeAll is unconditional and irreversible.
	PurgeAll(ctx context.Context) error
	Close() error
}

type Driver string

const (
	DriverMemory Driver = "memory"
	DriverRedis  Driver = "redis"
)

// StoreOption is a functional option for configuring a store.
type StoreOption func(*storeConfig)

type storeConfig struct {
	redisClient *redis.Client
	redisTTL    time.Duration
}

func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) { c.redisClient = client }
}

func WithRedisTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) { c.redisTTL = ttl }
}

// NewStore builds a store for the given driver.
func NewStore(driver Driver, opts ...StoreOption) (Store, error) {
	cfg := &storeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	switch driver {
	case DriverMemory:
		return &memoryStore{sessions: make(map[string]*Session)}, nil

	case DriverRedis:
		if cfg.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return newRedisStore(cfg.redisClient, cfg.redisTTL), nil

	default:
		return nil, ErrInvalidDriver
	}
}

type memoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func (m *memoryStore) Create(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memoryStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *memoryStore) Update(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return ErrNotFound
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memoryStore) List(ctx context.Context, f Filter) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if f.matches(s) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *memoryStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions), nil
}

func (m *memoryStore) PurgeAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*Session)
	return nil
}

func (m *memoryStore) Close() error { return nil }
