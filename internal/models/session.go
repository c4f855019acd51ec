package models

import "time"

type SessionStatus string

const (
	SessionStatusRunning  SessionStatus = "running"
	SessionStatusComplete SessionStatus = "complete"
	SessionStatusBudget   SessionStatus = "budget"
	SessionStatusFailed   SessionStatus = "failed"
	SessionStatusStopped  SessionStatus = "stopped"
)

// Session is one continuous run: a prompt iterated against the agent
// until a budget, the completion signal, or a persistent failure ends
// it.
type Session struct {
	ID               int64
	CreatedAt        time.Time
	CompletedAt      *time.Time
	Prompt           string
	Status           SessionStatus
	StopReason       string
	TotalCost        float64
	Iterations       int
	CompletionSignal string
}
