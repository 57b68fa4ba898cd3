package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"taskpilot-api/domain"
)

type backend interface {
	CreateTask(ctx context.Context, t domain.Task) error
	GetTask(ctx context.Context, id string) (*domain.Task, error)
	ListTasksByPosition(ctx context.Context) ([]domain.Task, error)
	UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (*domain.Task, error)
	DeleteTask(ctx context.Context, id string) error
	CreateUser(ctx context.Context, u domain.User) (domain.User, bool, error)
	FindUserByUID(ctx context.Context, uid string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
}

// Cache wraps a store with Redis-backed caching for the listing reads.
// Every mutation delegates to the backing store first and evicts the
// affected listing afterwards, so cached reads never precede the commit.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) ListTasksByPosition(ctx context.Context) ([]domain.Task, error) {
	if tasks, ok := c.loadTasksFromCache(ctx); ok {
		return tasks, nil
	}
	tasks, err := c.base.ListTasksByPosition(ctx)
	if err != nil {
		return nil, err
	}
	c.store(ctx, tasksCacheKey, tasks)
	return tasks, nil
}

func (c *Cache) ListUsers(ctx context.Context) ([]domain.User, error) {
	if users, ok := c.loadUsersFromCache(ctx); ok {
		return users, nil
	}
	users, err := c.base.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	c.store(ctx, usersCacheKey, users)
	return users, nil
}

func (c *Cache) CreateTask(ctx context.Context, t domain.Task) error {
	if err := c.base.CreateTask(ctx, t); err != nil {
		return err
	}
	c.evict(ctx, tasksCacheKey)
	return nil
}

func (c *Cache) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (*domain.Task, error) {
	t, err := c.base.UpdateTask(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	c.evict(ctx, tasksCacheKey)
	return t, nil
}

func (c *Cache) DeleteTask(ctx context.Context, id string) error {
	if err := c.base.DeleteTask(ctx, id); err != nil {
		return err
	}
	c.evict(ctx, tasksCacheKey)
	return nil
}

func (c *Cache) CreateUser(ctx context.Context, u domain.User) (domain.User, bool, error) {
	stored, created, err := c.base.CreateUser(ctx, u)
	if err != nil {
		return domain.User{}, false, err
	}
	if created {
		c.evict(ctx, usersCacheKey)
	}
	return stored, created, nil
}

func (c *Cache) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	return c.base.GetTask(ctx, id)
}

func (c *Cache) FindUserByUID(ctx context.Context, uid string) (*domain.User, error) {
	return c.base.FindUserByUID(ctx, uid)
}

func (c *Cache) loadTasksFromCache(ctx context.Context) ([]domain.Task, bool) {
	data, ok := c.load(ctx, tasksCacheKey)
	if !ok {
		return nil, false
	}
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		c.evict(ctx, tasksCacheKey)
		return nil, false
	}
	return tasks, true
}

func (c *Cache) loadUsersFromCache(ctx context.Context) ([]domain.User, bool) {
	data, ok := c.load(ctx, usersCacheKey)
	if !ok {
		return nil, false
	}
	var users []domain.User
	if err := json.Unmarshal(data, &users); err != nil {
		c.evict(ctx, usersCacheKey)
		return nil, false
	}
	return users, true
}

func (c *Cache) load(ctx context.Context, key string) ([]byte, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return nil, false
	}
	return data, true
}

func (c *Cache) store(ctx context.Context, key string, v any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, key string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, key).Result()
}

const (
	tasksCacheKey = "tasks:board"
	usersCacheKey = "users:all"
)
