package models

import "time"

// TaskStatus is the externally observable state of a FetchTask.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskInFlight  TaskStatus = "in_flight"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
)

// FetchTask describes one outbound HTTP operation with bounded retry.
// A retryable failure moves the task back to pending with NextEligible
// set; TaskFailed is terminal (permanent error or attempts exhausted).
type FetchTask struct {
	ID           string     `json:"id"`
	Target       string     `json:"target"`
	Attempt      int        `json:"attempt"`
	MaxAttempts  int        `json:"max_attempts"`
	NextEligible int64      `json:"next_eligible_ts,omitempty"`
	Status       TaskStatus `json:"status"`
	LastError    string     `json:"last_error,omitempty"`
	CreatedAt    int64      `json:"created_at"`
	UpdatedAt    int64      `json:"updated_at"`
}

// NewFetchTask returns a pending task for the given target.
func NewFetchTask(id, target string, maxAttempts int) *FetchTask {
	now := time.Now().UTC().UnixNano()
	return &FetchTask{
		ID:          id,
		Target:      target,
		MaxAttempts: maxAttempts,
		Status:      TaskPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Terminal reports whether the task can make no further attempts.
func (t *FetchTask) Terminal() bool {
	return t.Status == TaskSucceeded || t.Status == TaskFailed
}
