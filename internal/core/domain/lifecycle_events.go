package domain

import (
	"time"
)

// LifecycleEvent records a high-level step of a pipeline run. These are
// published for operators (audit log, analytics) and never reach the client
// stream, which only carries the normalized Event kinds.
type LifecycleEvent struct {
	Type           LifecycleEventType `json:"type"`
	RunID          string             `json:"run_id"`
	ConversationID string             `json:"conversation_id"`
	Timestamp      time.Time          `json:"timestamp"`
	Data           interface{}        `json:"data,omitempty"`
}

// LifecycleEventType identifies the type of lifecycle event.
type LifecycleEventType string

const (
	LifecycleRunStarted       LifecycleEventType = "run.started"
	LifecycleRunCompleted     LifecycleEventType = "run.completed"
	LifecycleRunFailed        LifecycleEventType = "run.failed"
	LifecycleSideEffectFailed LifecycleEventType = "run.side_effect_failed"
	LifecycleConsumerDetached LifecycleEventType = "run.consumer_detached"
)

// LifecycleStartedData contains data for run.started events.
type LifecycleStartedData struct {
	Agent        string `json:"agent"`
	HistoryCount int    `json:"history_count"`
}

// LifecycleCompletedData contains data for run.completed events.
type LifecycleCompletedData struct {
	RawEvents  int           `json:"raw_events"`
	Emitted    int           `json:"emitted"`
	Duration   time.Duration `json:"duration_ns"`
	FinalAgent string        `json:"final_agent"`
}

// LifecycleFailedData contains data for run.failed and run.side_effect_failed events.
type LifecycleFailedData struct {
	Event EventName `json:"event,omitempty"`
	Error string    `json:"error"`
}

// RunEventRecord is a stored lifecycle event.
type RunEventRecord struct {
	ID             string    `json:"id"`
	RunID          string    `json:"run_id"`
	ConversationID string    `json:"conversation_id"`
	Type           string    `json:"type"`
	Data           string    `json:"data,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
