package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/clawgate/clawgate/internal/gateway/client"
	"github.com/clawgate/clawgate/internal/gateway/protocol"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var callCmd = &cobra.Command{
	Use:   "call <method>",
	Short: "Issue a one-shot RPC against a running gateway",
	Long: `Dial the gateway, authenticate, run one method and print the result.

Examples:
  clawgate call health
  clawgate call agent.list
  clawgate call agent.run --message "summarize the log" --agent main
  clawgate call session.history --session agent:main:main`,
	Args: cobra.ExactArgs(1),
	RunE: runCall,
}

var (
	callURL     string
	callToken   string
	callTimeout time.Duration
	callParams  string

	callMessage string
	callAgent   string
	callSession string
	callKey     string
	callLimit   int
)

func init() {
	callCmd.Flags().StringVar(&callURL, "url", "ws://127.0.0.1:18789", "Gateway URL")
	callCmd.Flags().StringVar(&callToken, "token", "", "Bearer token (defaults to $CLAWGATE_TOKEN)")
	callCmd.Flags().DurationVar(&callTimeout, "timeout", client.DefaultTimeout, "Overall call timeout")
	callCmd.Flags().StringVar(&callParams, "params", "", "Raw JSON params (overrides the typed flags)")

	callCmd.Flags().StringVar(&callMessage, "message", "", "Message for agent.run")
	callCmd.Flags().StringVar(&callAgent, "agent", "", "Agent id for agent.run")
	callCmd.Flags().StringVar(&callSession, "session", "", "Session key for agent.run or session.history")
	callCmd.Flags().StringVar(&callKey, "idempotency-key", "", "Idempotency key for agent.run (random when empty)")
	callCmd.Flags().IntVar(&callLimit, "limit", 0, "Max messages for session.history")
}

func runCall(cmd *cobra.Command, args []string) error {
	method := args[0]
	token := callToken
	if token == "" {
		token = os.Getenv("CLAWGATE_TOKEN")
	}

	params, err := buildParams(method)
	if err != nil {
		return err
	}

	res, err := client.Call(context.Background(), client.Options{
		URL:     callURL,
		Token:   token,
		Method:  method,
		Params:  params,
		Timeout: callTimeout,
		Client: protocol.ClientInfo{
			ID:       "clawgate-cli",
			Version:  version,
			Platform: "cli",
			Mode:     "cli",
		},
	})
	if err != nil {
		return err
	}

	if len(res.Payload) == 0 {
		fmt.Println("ok")
		return nil
	}
	var pretty any
	if err := json.Unmarshal(res.Payload, &pretty); err != nil {
		fmt.Println(string(res.Payload))
		return nil
	}
	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Println(string(out))
	return nil
}

// buildParams assembles method params from flags. A literal --params
// wins over everything.
func buildParams(method string) (any, error) {
	if callParams != "" {
		var raw json.RawMessage
		if err := json.Unmarshal([]byte(callParams), &raw); err != nil {
			return nil, fmt.Errorf("invalid --params: %w", err)
		}
		return raw, nil
	}
	switch method {
	case protocol.MethodAgentRun:
		if callMessage == "" {
			return nil, fmt.Errorf("agent.run requires --message")
		}
		key := callKey
		if key == "" {
			key = uuid.NewString()
		}
		return protocol.AgentRunParams{
			IdempotencyKey: key,
			Message:        callMessage,
			AgentID:        callAgent,
			SessionRef:     callSession,
		}, nil
	case protocol.MethodSessionHistory:
		if callSession == "" {
			return nil, fmt.Errorf("session.history requires --session")
		}
		return protocol.SessionHistoryParams{
			SessionKey: callSession,
			Limit:      callLimit,
		}, nil
	default:
		return nil, nil
	}
}
