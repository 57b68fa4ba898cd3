package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"taskpilot-api/domain"
)

// All tasks share one partition: the board is single-tenant and the flat
// ordered scan below is the only bulk read path.
const boardPartition = "board"

const edmInt64 = "Edm.Int64"

// Storage provides access to the underlying table persistence.
type Storage struct {
	taskTable *aztables.Client
	userTable *aztables.Client
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable, usersTable string) (*Storage, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Storage{
		taskTable: svc.NewClient(tasksTable),
		userTable: svc.NewClient(usersTable),
	}, nil
}

type taskEntity struct {
	aztables.Entity
	Category      string `json:"Category"`
	Position      int    `json:"Position"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
	Attributes    string `json:"Attributes,omitempty"`
}

// taskUpdate carries only the fields touched by a partial update so the
// table service merge leaves everything else intact.
type taskUpdate struct {
	aztables.Entity
	Category   *string `json:"Category,omitempty"`
	Position   *int    `json:"Position,omitempty"`
	Attributes *string `json:"Attributes,omitempty"`
}

type userEntity struct {
	aztables.Entity
	Attributes string `json:"Attributes,omitempty"`
}

func encodeTaskEntity(t domain.Task) (taskEntity, error) {
	ent := taskEntity{
		Entity:        aztables.Entity{PartitionKey: boardPartition, RowKey: t.ID},
		Category:      t.Category,
		Position:      t.Position,
		CreatedAt:     t.Timestamp.UnixNano(),
		CreatedAtType: edmInt64,
	}
	if len(t.Attrs) > 0 {
		data, err := json.Marshal(t.Attrs)
		if err != nil {
			return taskEntity{}, err
		}
		ent.Attributes = string(data)
	}
	return ent, nil
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	t := domain.Task{
		ID:        ent.RowKey,
		Category:  ent.Category,
		Position:  ent.Position,
		Timestamp: time.Unix(0, ent.CreatedAt).UTC(),
		Attrs:     map[string]any{},
	}
	if ent.Attributes != "" {
		if err := json.Unmarshal([]byte(ent.Attributes), &t.Attrs); err != nil {
			return domain.Task{}, err
		}
	}
	return t, nil
}

func encodeUserEntity(u domain.User) (userEntity, error) {
	ent := userEntity{Entity: aztables.Entity{PartitionKey: u.UID, RowKey: u.UID}}
	if len(u.Attrs) > 0 {
		data, err := json.Marshal(u.Attrs)
		if err != nil {
			return userEntity{}, err
		}
		ent.Attributes = string(data)
	}
	return ent, nil
}

func decodeUserEntity(data []byte) (domain.User, error) {
	var ent userEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.User{}, err
	}
	u := domain.User{UID: ent.RowKey, Attrs: map[string]any{}}
	if ent.Attributes != "" {
		if err := json.Unmarshal([]byte(ent.Attributes), &u.Attrs); err != nil {
			return domain.User{}, err
		}
	}
	return u, nil
}

// CreateTask inserts a new task record. The id must be fresh; an insert
// conflict is reported as an error rather than silently overwriting.
func (s *Storage) CreateTask(ctx context.Context, t domain.Task) error {
	ent, err := encodeTaskEntity(t)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	if _, err := s.taskTable.AddEntity(ctx, payload, nil); err != nil {
		return fmt.Errorf("insert task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask retrieves a task if present. Absent ids yield (nil, nil).
func (s *Storage) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	resp, err := s.taskTable.GetEntity(ctx, boardPartition, id, nil)
	if err != nil {
		if isStatus(err, 404) {
			return nil, nil
		}
		return nil, err
	}
	t, err := decodeTaskEntity(resp.Value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTasksByPosition retrieves every task ordered ascending by position.
// Position is only unique within a category, so ties are broken by
// creation time and then id to keep the scan deterministic.
func (s *Storage) ListTasksByPosition(ctx context.Context) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + boardPartition + "'"
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			t, err := decodeTaskEntity(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}
	sortTasks(tasks)
	return tasks, nil
}

// UpdateTask merges the patch into an existing task and returns the full
// merged record. Returns domain.ErrTaskNotFound when the id is unknown.
func (s *Storage) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (*domain.Task, error) {
	cur, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, domain.ErrTaskNotFound
	}
	merged := patch.Apply(*cur)

	upd := taskUpdate{
		Entity:   aztables.Entity{PartitionKey: boardPartition, RowKey: id},
		Category: patch.Category,
		Position: patch.Position,
	}
	if len(patch.Attrs) > 0 {
		data, err := json.Marshal(merged.Attrs)
		if err != nil {
			return nil, err
		}
		attrs := string(data)
		upd.Attributes = &attrs
	}
	payload, err := json.Marshal(upd)
	if err != nil {
		return nil, err
	}
	et := azcore.ETagAny
	_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{
		IfMatch:    &et,
		UpdateMode: aztables.UpdateModeMerge,
	})
	if err != nil {
		if isStatus(err, 404) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, err
	}
	return &merged, nil
}

// DeleteTask removes a task permanently. Returns domain.ErrTaskNotFound
// when the id is unknown.
func (s *Storage) DeleteTask(ctx context.Context, id string) error {
	if _, err := s.taskTable.DeleteEntity(ctx, boardPartition, id, nil); err != nil {
		if isStatus(err, 404) {
			return domain.ErrTaskNotFound
		}
		return err
	}
	return nil
}

// CreateUser inserts a user keyed by uid, treating an insert conflict as
// "already exists" so concurrent first-sight submissions of the same uid
// converge on a single record. The bool result reports whether a new
// record was created.
func (s *Storage) CreateUser(ctx context.Context, u domain.User) (domain.User, bool, error) {
	ent, err := encodeUserEntity(u)
	if err != nil {
		return domain.User{}, false, err
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return domain.User{}, false, err
	}
	if _, err := s.userTable.AddEntity(ctx, payload, nil); err != nil {
		if isStatus(err, 409) {
			existing, ferr := s.FindUserByUID(ctx, u.UID)
			if ferr != nil {
				return domain.User{}, false, ferr
			}
			if existing == nil {
				return domain.User{}, false, errors.New("user insert conflicted but record is missing")
			}
			return *existing, false, nil
		}
		return domain.User{}, false, fmt.Errorf("insert user %s: %w", u.UID, err)
	}
	return u, true, nil
}

// FindUserByUID retrieves a user if present. Absent uids yield (nil, nil).
func (s *Storage) FindUserByUID(ctx context.Context, uid string) (*domain.User, error) {
	resp, err := s.userTable.GetEntity(ctx, uid, uid, nil)
	if err != nil {
		if isStatus(err, 404) {
			return nil, nil
		}
		return nil, err
	}
	u, err := decodeUserEntity(resp.Value)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsers retrieves every user record.
func (s *Storage) ListUsers(ctx context.Context) ([]domain.User, error) {
	pager := s.userTable.NewListEntitiesPager(nil)
	users := []domain.User{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			u, err := decodeUserEntity(e)
			if err != nil {
				return nil, err
			}
			users = append(users, u)
		}
	}
	return users, nil
}

func sortTasks(tasks []domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.ID < b.ID
	})
}

func isStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}
