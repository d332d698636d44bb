package models

// TaskEventType names what happened to a user's tasks.
type TaskEventType string

const (
	TaskCreated     TaskEventType = "task_created"
	TaskUpdated     TaskEventType = "task_updated"
	TaskDeleted     TaskEventType = "task_deleted"
	TaskCompleted   TaskEventType = "task_completed"
	TaskDecremented TaskEventType = "task_decremented"
	TasksSnapshot   TaskEventType = "snapshot"
	ProfileUpdated  TaskEventType = "profile_updated"
)

// TaskEvent is the change notification fanned out to a user's listeners.
type TaskEvent struct {
	Type      TaskEventType `json:"type"`
	UserID    string        `json:"user_id"`
	Task      *Task         `json:"task,omitempty"`
	Tasks     []Task        `json:"tasks,omitempty"`
	User      *User         `json:"user,omitempty"`
	Timestamp int64         `json:"timestamp"`
}
