// Package protocol defines the WebSocket RPC wire protocol used by the
// clawgate operator gateway. Frames are single JSON messages of three
// kinds: requests ("req"), responses ("res") and server-pushed events
// ("event"). The parsers in this package are strict: unknown keys are
// rejected rather than ignored, so the allow-lists here are the schema.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Frame type discriminators.
const (
	TypeRequest  = "req"
	TypeResponse = "res"
	TypeEvent    = "event"
)

// Wire-level defaults. These are part of the interoperability contract
// with non-Go clients and must not drift.
const (
	Version            = 1
	Path               = "/gateway"
	HandshakeTimeout   = 10 * time.Second
	MaxPayloadBytes    = 512 << 10
	MaxBufferedBytes   = 1536 << 10
	HeartbeatInterval  = 30 * time.Second
	IdempotencyTTL     = 5 * time.Minute
	IdempotencyMaxKeys = 1000
	RequestsPerMinute  = 180
)

// Field size limits enforced by the frame parsers.
const (
	MaxIDLen             = 200
	MaxMethodLen         = 120
	MaxIdempotencyKeyLen = 200
	MaxMessageLen        = 100_000
	MaxProtocolBound     = 1000
)

// Well-known event names.
const (
	EventConnectChallenge = "connect.challenge"
	EventTick             = "tick"
)

// Gateway methods.
const (
	MethodConnect        = "connect"
	MethodHealth         = "health"
	MethodAgentList      = "agent.list"
	MethodAgentRun       = "agent.run"
	MethodSessionList    = "session.list"
	MethodSessionHistory = "session.history"
)

// Stable error codes carried in response frames.
const (
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeProtocolMismatch = "PROTOCOL_MISMATCH"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeRateLimited      = "RATE_LIMITED"
	CodeUnavailable      = "UNAVAILABLE"
)

// Request is an inbound method call. ID correlates exactly one response.
type Request struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers a single request by id.
type Response struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	OK      bool   `json:"ok"`
	Payload any    `json:"payload,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Event is a server-pushed notification. Seq orders events within a
// connection; zero means unordered.
type Event struct {
	Type    string `json:"type"`
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
	Seq     int64  `json:"seq,omitempty"`
}

// Envelope is the union shape used by clients to decode inbound frames
// without knowing the kind in advance.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	Event   string          `json:"event,omitempty"`
	Seq     int64           `json:"seq,omitempty"`
}

// Error is the machine-readable failure carried in a response frame.
type Error struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	Details      any    `json:"details,omitempty"`
	Retryable    bool   `json:"retryable,omitempty"`
	RetryAfterMs int64  `json:"retryAfterMs,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errorf builds an Error with a formatted message.
func Errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewResponse builds a success response for the given request id.
func NewResponse(id string, payload any) *Response {
	return &Response{Type: TypeResponse, ID: id, OK: true, Payload: payload}
}

// NewErrorResponse builds a failure response for the given request id.
func NewErrorResponse(id string, err *Error) *Response {
	return &Response{Type: TypeResponse, ID: id, Error: err}
}

// NewEvent builds an event frame.
func NewEvent(name string, payload any) *Event {
	return &Event{Type: TypeEvent, Event: name, Payload: payload}
}

// ConnectResult is the payload of a successful connect response.
type ConnectResult struct {
	ProtocolVersion int     `json:"protocolVersion"`
	Scopes          []Scope `json:"scopes"`
	ServerTime      int64   `json:"serverTime"`
}

// ChallengePayload is the payload of the connect.challenge event.
type ChallengePayload struct {
	Nonce string `json:"nonce"`
}
