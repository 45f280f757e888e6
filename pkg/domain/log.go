package domain

import "time"

// LogStatus is the outcome of a persisted turn.
type LogStatus string

const (
	LogCompleted LogStatus = "completed"
	LogFailed    LogStatus = "failed"
)

// Consumption reports what a turn consumed, for billing or quotas.
type Consumption struct {
	Type  string `json:"type"`
	Value int    `json:"value"`
}

// TurnOutput is the persisted output of one turn.
type TurnOutput struct {
	Prompt      []Message      `json:"prompt"`
	Message     string         `json:"message"`
	Answer      map[string]any `json:"answer,omitempty"`
	Consumption Consumption    `json:"consumption"`
}

// LogRecord is the persisted trace of a turn, consumed by history lookup.
type LogRecord struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	ThreadID  string     `json:"thread_id"`
	Input     string     `json:"input,omitempty"`
	Output    TurnOutput `json:"output"`
	Status    LogStatus  `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}
