package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/clawgate/clawgate/internal/config"
	"github.com/clawgate/clawgate/internal/gateway/protocol"
	"github.com/google/uuid"
)

// Local runs agents in-process by executing the provider command
// configured for each agent. It is what the CLI wires into the gateway
// when this host owns the agents itself.
type Local struct {
	cfg    *config.Config
	store  *Store
	logger *slog.Logger
}

// NewLocal creates a local service backed by the given session store.
func NewLocal(cfg *config.Config, store *Store, logger *slog.Logger) *Local {
	return &Local{cfg: cfg, store: store, logger: logger.With("component", "agent")}
}

func (l *Local) Health(ctx context.Context) (*Health, error) {
	return &Health{Status: "ok", Protocol: protocol.Version}, nil
}

func (l *Local) ListAgents(ctx context.Context) ([]Summary, error) {
	out := make([]Summary, 0, len(l.cfg.Agent.Agents))
	for _, a := range l.cfg.Agent.Agents {
		out = append(out, Summary{ID: a.ID, Name: a.Name, Model: a.Model})
	}
	return out, nil
}

func (l *Local) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	return l.store.ListSessions()
}

func (l *Local) SessionHistory(ctx context.Context, req HistoryRequest) (*History, error) {
	messages, err := l.store.History(req.SessionKey, req.Limit)
	if err != nil {
		return nil, err
	}
	return &History{SessionKey: req.SessionKey, Messages: messages}, nil
}

// RunAgent executes the agent's provider command with the message as the
// final argument and returns its exit code and captured output. Unless
// the session is disabled, the exchange is appended to the transcript.
func (l *Local) RunAgent(ctx context.Context, req RunRequest) (*RunResult, error) {
	def, ok := l.cfg.FindAgent(req.AgentID)
	if !ok {
		return nil, fmt.Errorf("unknown agent %q", req.AgentID)
	}
	if len(def.Command) == 0 {
		return nil, fmt.Errorf("agent %q has no command configured", def.ID)
	}

	sessionKey := l.sessionKey(def.ID, req)
	if sessionKey != "" {
		if err := l.store.EnsureSession(sessionKey, def.ID); err != nil {
			return nil, err
		}
		if err := l.store.AppendMessage(sessionKey, "user", req.Message); err != nil {
			return nil, err
		}
	}

	argv := append([]string{}, def.Command...)
	model := def.Model
	if req.Model != "" {
		model = req.Model
	}
	if model != "" {
		argv = append(argv, "--model", model)
	}
	argv = append(argv, req.Message)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if req.Cwd != "" {
		cmd.Dir = req.Cwd
	} else if l.cfg.Agent.Workspace != "" {
		cmd.Dir = l.cfg.Agent.Workspace
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	err := cmd.Run()
	res := &RunResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.Code = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("run agent %q: %w", def.ID, err)
		}
	}

	l.logger.Info("agent run finished",
		"agent", def.ID,
		"session", sessionKey,
		"code", res.Code,
		"duration", time.Since(started),
	)

	if sessionKey != "" {
		reply := strings.TrimSpace(res.Stdout)
		if reply != "" {
			if err := l.store.AppendMessage(sessionKey, "assistant", reply); err != nil {
				return nil, err
			}
		}
	}
	return res, nil
}

// sessionKey resolves where the exchange is recorded. Empty means the
// run is sessionless.
func (l *Local) sessionKey(agentID string, req RunRequest) string {
	if req.DisableSession {
		return ""
	}
	if req.ForceNewSession {
		return fmt.Sprintf("agent:%s:%s", agentID, uuid.NewString())
	}
	if req.SessionRef != "" {
		return req.SessionRef
	}
	return fmt.Sprintf("agent:%s:main", agentID)
}
