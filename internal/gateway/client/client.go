// Package client implements a one-shot RPC client for the gateway:
// dial, answer the challenge, issue a single method call, disconnect.
// It exists for the CLI and for scripting; long-lived operator clients
// keep their own connection.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"runtime"
	"time"

	"github.com/clawgate/clawgate/internal/gateway/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// DefaultTimeout bounds a whole call when the caller's context has no
// deadline of its own.
const DefaultTimeout = 10 * time.Second

// Options configures one call.
type Options struct {
	// URL is the gateway base, e.g. "ws://127.0.0.1:18789". The gateway
	// path is appended automatically.
	URL    string
	Token  string
	Method string
	Params any
	// Client identifies the caller in the handshake. Zero-value fields
	// get CLI defaults.
	Client protocol.ClientInfo
	Scopes []protocol.Scope
	// Timeout overrides DefaultTimeout. Ignored when the context already
	// carries a deadline.
	Timeout time.Duration
}

// Result carries the handshake outcome and the method payload.
type Result struct {
	Hello   *protocol.ConnectResult
	Payload json.RawMessage
}

// Call runs the full handshake plus one request. Gateway failures come
// back as *protocol.Error.
func Call(ctx context.Context, opts Options) (*Result, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("gateway url required")
	}
	if opts.Method == "" {
		return nil, fmt.Errorf("method required")
	}
	if _, ok := ctx.Deadline(); !ok {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	target, err := gatewayURL(opts.URL)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dial gateway %s: %w", target, err)
	}
	defer conn.Close()

	// Unblocks reads when the context expires mid-call.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-watchDone:
		}
	}()

	hello, err := performHandshake(ctx, conn, opts)
	if err != nil {
		return nil, err
	}

	payload, err := call(ctx, conn, opts.Method, opts.Params)
	if err != nil {
		return nil, err
	}
	return &Result{Hello: hello, Payload: payload}, nil
}

func gatewayURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse gateway url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported gateway scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = protocol.Path
	}
	return u.String(), nil
}

func performHandshake(ctx context.Context, conn *websocket.Conn, opts Options) (*protocol.ConnectResult, error) {
	env, err := readEnvelope(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("await challenge: %w", err)
	}
	if env.Type != protocol.TypeEvent || env.Event != protocol.EventConnectChallenge {
		return nil, fmt.Errorf("expected challenge, got %s frame", env.Type)
	}
	var challenge protocol.ChallengePayload
	if err := json.Unmarshal(env.Payload, &challenge); err != nil {
		return nil, fmt.Errorf("decode challenge: %w", err)
	}

	info := opts.Client
	if info.ID == "" {
		info.ID = "clawgate-cli"
	}
	if info.Version == "" {
		info.Version = "dev"
	}
	if info.Platform == "" {
		info.Platform = runtime.GOOS
	}
	if info.Mode == "" {
		info.Mode = "cli"
	}
	params := protocol.ConnectParams{
		MinProtocol: protocol.Version,
		MaxProtocol: protocol.Version,
		Nonce:       challenge.Nonce,
		Client:      info,
		Scopes:      opts.Scopes,
	}
	if opts.Token != "" {
		params.Auth = &protocol.AuthParams{Token: opts.Token}
	}

	payload, err := call(ctx, conn, protocol.MethodConnect, params)
	if err != nil {
		return nil, err
	}
	var hello protocol.ConnectResult
	if err := json.Unmarshal(payload, &hello); err != nil {
		return nil, fmt.Errorf("decode connect result: %w", err)
	}
	return &hello, nil
}

// call sends one request and waits for its response, skipping any
// events the server pushes in between.
func call(ctx context.Context, conn *websocket.Conn, method string, params any) (json.RawMessage, error) {
	req := protocol.Request{
		Type:   protocol.TypeRequest,
		ID:     uuid.NewString(),
		Method: method,
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal %s params: %w", method, err)
		}
		req.Params = raw
	}
	if err := conn.WriteJSON(&req); err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	for {
		env, err := readEnvelope(ctx, conn)
		if err != nil {
			return nil, fmt.Errorf("await %s response: %w", method, err)
		}
		if env.Type != protocol.TypeResponse || env.ID != req.ID {
			continue
		}
		if !env.OK {
			if env.Error != nil {
				return nil, env.Error
			}
			return nil, fmt.Errorf("%s failed without error detail", method)
		}
		return env.Payload, nil
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (*protocol.Envelope, error) {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}
	var env protocol.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return &env, nil
}
