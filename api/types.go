package api

import (
	"context"

	"taskpilot-api/domain"
	"taskpilot-api/stream"
)

// Board abstracts the mutation pipeline for handlers.
type Board interface {
	CreateTask(ctx context.Context, draft domain.TaskDraft) (domain.Task, error)
	UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, id string) error
	ListTasks(ctx context.Context) ([]domain.Task, error)
	CreateUser(ctx context.Context, u domain.User) (domain.User, bool, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
}

// Subscriptions registers realtime clients with the broadcast channel.
type Subscriptions interface {
	Subscribe() *stream.Subscriber
	Unsubscribe(*stream.Subscriber)
}
