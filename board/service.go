package board

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"taskpilot-api/domain"
)

// Storage abstracts persistence for the mutation pipeline.
type Storage interface {
	CreateTask(ctx context.Context, t domain.Task) error
	ListTasksByPosition(ctx context.Context) ([]domain.Task, error)
	UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (*domain.Task, error)
	DeleteTask(ctx context.Context, id string) error
	CreateUser(ctx context.Context, u domain.User) (domain.User, bool, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
}

// Publisher fans a mutation event out to connected subscribers.
type Publisher interface {
	Publish(ev domain.Event)
}

// Journal records mutation events for downstream consumers. Appends are
// best-effort; failures must never reach the mutation caller.
type Journal interface {
	Append(ctx context.Context, ev domain.Event) error
}

// Service orchestrates mutations: validate, persist, then publish. It
// holds no durable state of its own. The publish step runs strictly after
// the persistence commit, and nothing is published when persistence
// fails.
type Service struct {
	store    Storage
	events   Publisher
	journal  Journal
	logger   *log.Logger
	validate *validator.Validate

	journalTimeout time.Duration
	now            func() time.Time
	newID          func() string
}

// NewService creates the mutation pipeline. journal may be nil when no
// event queue is configured.
func NewService(store Storage, events Publisher, journal Journal, logger *log.Logger) *Service {
	if store == nil {
		panic("board.NewService: storage is nil")
	}
	if events == nil {
		panic("board.NewService: publisher is nil")
	}
	if logger == nil {
		panic("board.NewService: logger is nil")
	}
	return &Service{
		store:          store,
		events:         events,
		journal:        journal,
		logger:         logger,
		validate:       validator.New(),
		journalTimeout: 30 * time.Second,
		now:            time.Now,
		newID:          uuid.NewString,
	}
}

// CreateTask validates the draft, persists a new record with a generated
// id and server-side timestamp, and emits taskCreated with the full record.
func (s *Service) CreateTask(ctx context.Context, draft domain.TaskDraft) (domain.Task, error) {
	if err := s.validate.Struct(draft); err != nil {
		return domain.Task{}, fmt.Errorf("%w: %v", domain.ErrInvalidTask, err)
	}
	task := draft.Build(s.newID(), s.now().UTC())
	if err := s.store.CreateTask(ctx, task); err != nil {
		return domain.Task{}, err
	}
	s.emit(domain.TaskCreated, task)
	return task, nil
}

// UpdateTask merges the patch into the stored record and emits taskUpdated
// with the merged record. Unknown ids fail with domain.ErrTaskNotFound and
// emit nothing.
func (s *Service) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	task, err := s.store.UpdateTask(ctx, id, patch)
	if err != nil {
		return domain.Task{}, err
	}
	s.emit(domain.TaskUpdated, *task)
	return *task, nil
}

// DeleteTask removes the record and emits taskDeleted carrying the bare id.
// Unknown ids fail with domain.ErrTaskNotFound and emit nothing.
func (s *Service) DeleteTask(ctx context.Context, id string) error {
	if err := s.store.DeleteTask(ctx, id); err != nil {
		return err
	}
	s.emit(domain.TaskDeleted, id)
	return nil
}

// ListTasks returns every task ascending by position.
func (s *Service) ListTasks(ctx context.Context) ([]domain.Task, error) {
	return s.store.ListTasksByPosition(ctx)
}

// CreateUser stores a user on first sight of its uid. Resubmitting an
// existing uid returns the stored record with created=false. User
// mutations are not broadcast.
func (s *Service) CreateUser(ctx context.Context, u domain.User) (domain.User, bool, error) {
	if err := s.validate.Struct(u); err != nil {
		return domain.User{}, false, fmt.Errorf("%w: %v", domain.ErrInvalidUser, err)
	}
	return s.store.CreateUser(ctx, u)
}

// ListUsers returns every user record.
func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	return s.store.ListUsers(ctx)
}

// emit runs strictly after the persistence step has committed. Fan-out and
// journal failures stay contained here; they are logged and never surface
// to the mutation caller.
func (s *Service) emit(name string, payload any) {
	ev := domain.Event{Name: name, Payload: payload}
	s.events.Publish(ev)
	if s.journal == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.journalTimeout)
		defer cancel()
		if err := s.journal.Append(ctx, ev); err != nil {
			s.logger.Errorf("journal append failed, event: %s, err: %v", ev.Name, err)
		}
	}()
}
