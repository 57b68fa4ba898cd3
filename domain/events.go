package domain

// Event names pushed to realtime subscribers after a successful mutation.
const (
	TaskCreated = "taskCreated"
	TaskUpdated = "taskUpdated"
	TaskDeleted = "taskDeleted"
)

// Event is a named broadcast notification. Payload is the full task for
// creates and updates and the bare task id for deletes.
type Event struct {
	Name    string `json:"event"`
	Payload any    `json:"data"`
}
