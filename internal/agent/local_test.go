package agent

import (
	"context"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"testing"

	"github.com/clawgate/clawgate/internal/config"
)

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test agents exec unix commands")
	}
	cfg := config.Default()
	cfg.Agent.Workspace = t.TempDir()
	cfg.Agent.Agents = []config.AgentDef{
		{ID: "main", Name: "Echo Agent", Command: []string{"echo", "-n"}},
		{ID: "broken", Name: "Broken Agent", Command: []string{"false"}},
	}
	store := newTestStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewLocal(cfg, store, logger)
}

func TestLocal_RunAgentRecordsTranscript(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	res, err := l.RunAgent(ctx, RunRequest{Message: "hello"})
	if err != nil {
		t.Fatalf("RunAgent: %v", err)
	}
	if res.Code != 0 {
		t.Errorf("code = %d; want 0", res.Code)
	}
	if !strings.Contains(res.Stdout, "hello") {
		t.Errorf("stdout = %q; want message echoed", res.Stdout)
	}

	hist, err := l.SessionHistory(ctx, HistoryRequest{SessionKey: "agent:main:main"})
	if err != nil {
		t.Fatalf("SessionHistory: %v", err)
	}
	if len(hist.Messages) != 2 {
		t.Fatalf("got %d transcript entries; want user+assistant", len(hist.Messages))
	}
	if hist.Messages[0].Role != "user" || hist.Messages[1].Role != "assistant" {
		t.Errorf("roles = %s,%s", hist.Messages[0].Role, hist.Messages[1].Role)
	}
}

func TestLocal_RunAgentDisabledSession(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	if _, err := l.RunAgent(ctx, RunRequest{Message: "hi", DisableSession: true}); err != nil {
		t.Fatalf("RunAgent: %v", err)
	}
	sessions, err := l.ListSessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 0 {
		t.Errorf("sessionless run persisted %d sessions", len(sessions))
	}
}

func TestLocal_RunAgentNonZeroExit(t *testing.T) {
	l := newTestLocal(t)

	res, err := l.RunAgent(context.Background(), RunRequest{AgentID: "broken", Message: "x"})
	if err != nil {
		t.Fatalf("RunAgent: %v", err)
	}
	if res.Code == 0 {
		t.Error("exit code 0 from failing command")
	}
}

func TestLocal_RunAgentUnknownAgent(t *testing.T) {
	l := newTestLocal(t)
	if _, err := l.RunAgent(context.Background(), RunRequest{AgentID: "ghost", Message: "x"}); err == nil {
		t.Error("unknown agent accepted")
	}
}

func TestLocal_HealthAndAgents(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	h, err := l.Health(ctx)
	if err != nil || h.Status != "ok" || h.Protocol != 1 {
		t.Errorf("Health = %+v, %v", h, err)
	}
	agents, err := l.ListAgents(ctx)
	if err != nil || len(agents) != 2 {
		t.Errorf("ListAgents = %+v, %v", agents, err)
	}
}
