package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"taskpilot-api/domain"
)

type stubBackend struct {
	createTaskFn func(ctx context.Context, t domain.Task) error
	listTasksFn  func(ctx context.Context) ([]domain.Task, error)
	updateTaskFn func(ctx context.Context, id string, patch domain.TaskPatch) (*domain.Task, error)
	deleteTaskFn func(ctx context.Context, id string) error
	createUserFn func(ctx context.Context, u domain.User) (domain.User, bool, error)
	listUsersFn  func(ctx context.Context) ([]domain.User, error)
}

func (s *stubBackend) CreateTask(ctx context.Context, t domain.Task) error {
	if s.createTaskFn == nil {
		return errors.New("unexpected CreateTask call")
	}
	return s.createTaskFn(ctx, t)
}

func (s *stubBackend) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	return nil, errors.New("unexpected GetTask call")
}

func (s *stubBackend) ListTasksByPosition(ctx context.Context) ([]domain.Task, error) {
	if s.listTasksFn == nil {
		return nil, errors.New("unexpected ListTasksByPosition call")
	}
	return s.listTasksFn(ctx)
}

func (s *stubBackend) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (*domain.Task, error) {
	if s.updateTaskFn == nil {
		return nil, errors.New("unexpected UpdateTask call")
	}
	return s.updateTaskFn(ctx, id, patch)
}

func (s *stubBackend) DeleteTask(ctx context.Context, id string) error {
	if s.deleteTaskFn == nil {
		return errors.New("unexpected DeleteTask call")
	}
	return s.deleteTaskFn(ctx, id)
}

func (s *stubBackend) CreateUser(ctx context.Context, u domain.User) (domain.User, bool, error) {
	if s.createUserFn == nil {
		return domain.User{}, false, errors.New("unexpected CreateUser call")
	}
	return s.createUserFn(ctx, u)
}

func (s *stubBackend) FindUserByUID(ctx context.Context, uid string) (*domain.User, error) {
	return nil, errors.New("unexpected FindUserByUID call")
}

func (s *stubBackend) ListUsers(ctx context.Context) ([]domain.User, error) {
	if s.listUsersFn == nil {
		return nil, errors.New("unexpected ListUsers call")
	}
	return s.listUsersFn(ctx)
}

func newCacheForTest(t *testing.T, base backend, ttl time.Duration) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewCache(base, client, ttl), mr
}

func TestCacheListTasksMissThenHit(t *testing.T) {
	ctx := context.Background()
	expected := []domain.Task{{ID: "t1", Category: "todo", Attrs: map[string]any{"title": "write code"}}}

	var calls int
	cache, mr := newCacheForTest(t, &stubBackend{
		listTasksFn: func(ctx context.Context) ([]domain.Task, error) {
			calls++
			return append([]domain.Task(nil), expected...), nil
		},
	}, time.Minute)

	tasks, err := cache.ListTasksByPosition(ctx)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if !reflect.DeepEqual(tasks, expected) {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call to backend, got %d", calls)
	}
	if ttl := mr.TTL(tasksCacheKey); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}

	if _, err := cache.ListTasksByPosition(ctx); err != nil {
		t.Fatalf("list tasks (cached): %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected cached read, backend calls: %d", calls)
	}
}

func TestCacheMutationsEvictTasks(t *testing.T) {
	ctx := context.Background()
	var calls int
	task := domain.Task{ID: "t1", Category: "todo", Attrs: map[string]any{}}
	cache, mr := newCacheForTest(t, &stubBackend{
		listTasksFn: func(ctx context.Context) ([]domain.Task, error) {
			calls++
			return []domain.Task{task}, nil
		},
		createTaskFn: func(ctx context.Context, t domain.Task) error { return nil },
		updateTaskFn: func(ctx context.Context, id string, patch domain.TaskPatch) (*domain.Task, error) {
			return &task, nil
		},
		deleteTaskFn: func(ctx context.Context, id string) error { return nil },
	}, time.Minute)

	for i, mutate := range []func() error{
		func() error { return cache.CreateTask(ctx, task) },
		func() error { _, err := cache.UpdateTask(ctx, "t1", domain.TaskPatch{}); return err },
		func() error { return cache.DeleteTask(ctx, "t1") },
	} {
		if _, err := cache.ListTasksByPosition(ctx); err != nil {
			t.Fatalf("warm cache %d: %v", i, err)
		}
		if !mr.Exists(tasksCacheKey) {
			t.Fatalf("cache not warmed before mutation %d", i)
		}
		if err := mutate(); err != nil {
			t.Fatalf("mutation %d: %v", i, err)
		}
		if mr.Exists(tasksCacheKey) {
			t.Fatalf("mutation %d did not evict the task listing", i)
		}
	}
	if calls != 3 {
		t.Fatalf("expected 3 backend list calls, got %d", calls)
	}
}

func TestCacheMutationErrorSkipsEviction(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("storage down")
	cache, mr := newCacheForTest(t, &stubBackend{
		listTasksFn: func(ctx context.Context) ([]domain.Task, error) {
			return []domain.Task{}, nil
		},
		createTaskFn: func(ctx context.Context, t domain.Task) error { return boom },
	}, time.Minute)

	if _, err := cache.ListTasksByPosition(ctx); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	if err := cache.CreateTask(ctx, domain.Task{ID: "t1"}); !errors.Is(err, boom) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if !mr.Exists(tasksCacheKey) {
		t.Fatal("failed mutation should leave the cache intact")
	}
}

func TestCacheUsersEvictedOnlyOnInsert(t *testing.T) {
	ctx := context.Background()
	user := domain.User{UID: "u-1", Attrs: map[string]any{}}
	created := true
	cache, mr := newCacheForTest(t, &stubBackend{
		listUsersFn: func(ctx context.Context) ([]domain.User, error) {
			return []domain.User{user}, nil
		},
		createUserFn: func(ctx context.Context, u domain.User) (domain.User, bool, error) {
			return user, created, nil
		},
	}, time.Minute)

	if _, err := cache.ListUsers(ctx); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	created = false
	if _, _, err := cache.CreateUser(ctx, user); err != nil {
		t.Fatalf("create existing user: %v", err)
	}
	if !mr.Exists(usersCacheKey) {
		t.Fatal("idempotent re-create should not evict the user listing")
	}

	created = true
	if _, _, err := cache.CreateUser(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if mr.Exists(usersCacheKey) {
		t.Fatal("insert should evict the user listing")
	}
}

func TestCacheCorruptEntryFallsBack(t *testing.T) {
	ctx := context.Background()
	var calls int
	cache, mr := newCacheForTest(t, &stubBackend{
		listTasksFn: func(ctx context.Context) ([]domain.Task, error) {
			calls++
			return []domain.Task{}, nil
		},
	}, time.Minute)

	if err := mr.Set(tasksCacheKey, "{not json"); err != nil {
		t.Fatalf("seed corrupt entry: %v", err)
	}
	if _, err := cache.ListTasksByPosition(ctx); err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected fall back to backend, calls: %d", calls)
	}
}
