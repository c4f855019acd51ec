package models

import "time"

// Iteration is one agent invocation within a session.
type Iteration struct {
	ID              int64
	SessionID       int64
	Index           int
	Outcome         string
	DisplayText     string
	ExitCode        *int
	Cost            *float64
	Branch          string
	ClaudeSessionID string
	StartedAt       *time.Time
	CompletedAt     *time.Time
}
