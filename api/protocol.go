package api

import "taskpilot-api/domain"

const mutationMaxBodySize = 64 * 1024 // 64 KiB

type messageResponse struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// POST /users response bodies, matching the shapes clients already parse.
type userExistsResponse struct {
	Message string      `json:"message"`
	User    domain.User `json:"user"`
}

type userCreatedResponse struct {
	Message string      `json:"message"`
	Result  domain.User `json:"result"`
}

// DELETE /tasks/:id success body.
type taskDeletedResponse struct {
	Message      string `json:"message"`
	DeletedCount int    `json:"deletedCount"`
}
