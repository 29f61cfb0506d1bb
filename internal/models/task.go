package models

import "time"

// DeferredTask is a durable timed task row. It sits in storage until run_at
// passes, then the scheduler promotes it onto the task queue.
type DeferredTask struct {
	ID        string
	Kind      string
	Payload   []byte
	RunAt     time.Time
	CreatedAt time.Time
}
