// Package agent defines the service the gateway dispatches into, plus a
// local implementation that executes configured provider commands and
// persists session transcripts. The gateway treats the service as
// opaque: every call may be slow and may fail.
package agent

import "context"

// Health reports service liveness and the protocol version it speaks.
type Health struct {
	Status   string `json:"status"`
	Protocol int    `json:"protocol"`
}

// Summary describes one runnable agent.
type Summary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Model string `json:"model,omitempty"`
}

// SessionSummary describes one stored session.
type SessionSummary struct {
	Key          string `json:"key"`
	AgentID      string `json:"agentId"`
	MessageCount int    `json:"messageCount"`
	UpdatedAt    int64  `json:"updatedAt"`
}

// Message is one transcript entry.
type Message struct {
	Role      string `json:"role"` // "user" or "assistant"
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// History is a session transcript slice, newest last.
type History struct {
	SessionKey string    `json:"sessionKey"`
	Messages   []Message `json:"messages"`
}

// HistoryRequest selects a transcript.
type HistoryRequest struct {
	SessionKey string
	Limit      int // 0 means the service default
}

// RunRequest describes one agent invocation.
type RunRequest struct {
	AgentID         string
	SessionRef      string
	Message         string
	ForceNewSession bool
	DisableSession  bool
	Cwd             string
	Model           string
}

// RunResult is the outcome of one agent invocation.
type RunResult struct {
	Code   int    `json:"code"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// Service is the collaborator the gateway calls into.
type Service interface {
	Health(ctx context.Context) (*Health, error)
	ListAgents(ctx context.Context) ([]Summary, error)
	ListSessions(ctx context.Context) ([]SessionSummary, error)
	SessionHistory(ctx context.Context, req HistoryRequest) (*History, error)
	RunAgent(ctx context.Context, req RunRequest) (*RunResult, error)
}
