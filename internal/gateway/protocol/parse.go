package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf8"
)

// ErrMalformedEnvelope marks input that is not a JSON object at all.
// The connection treats this as protocol desync and closes.
var ErrMalformedEnvelope = errors.New("malformed frame envelope")

// ErrNotRequest marks a structurally valid frame that is not a "req".
// Such frames are silently ignored by the server.
var ErrNotRequest = errors.New("frame is not a request")

type fieldSet map[string]json.RawMessage

func decodeObject(raw json.RawMessage, allowed ...string) (fieldSet, *Error) {
	var fields fieldSet
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, Errorf(CodeInvalidRequest, "params must be an object")
	}
	for name := range fields {
		if !contains(allowed, name) {
			return nil, Errorf(CodeInvalidRequest, "unknown field %q", name)
		}
	}
	return fields, nil
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// str decodes a string field. Required strings must be present, trimmed
// non-empty, and within maxLen; optional strings may be absent.
func (f fieldSet) str(name string, required bool, maxLen int) (string, *Error) {
	raw, ok := f[name]
	if !ok {
		if required {
			return "", Errorf(CodeInvalidRequest, "missing field %q", name)
		}
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", Errorf(CodeInvalidRequest, "field %q must be a string", name)
	}
	s = strings.TrimSpace(s)
	if s == "" && required {
		return "", Errorf(CodeInvalidRequest, "field %q must be non-empty", name)
	}
	if maxLen > 0 && len(s) > maxLen {
		return "", Errorf(CodeInvalidRequest, "field %q exceeds %d characters", name, maxLen)
	}
	return s, nil
}

// text decodes a free-text field verbatim: no trimming, so whitespace
// the caller sent is whitespace the service receives, and the bound
// counts characters rather than bytes.
func (f fieldSet) text(name string, required bool, maxRunes int) (string, *Error) {
	raw, ok := f[name]
	if !ok {
		if required {
			return "", Errorf(CodeInvalidRequest, "missing field %q", name)
		}
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", Errorf(CodeInvalidRequest, "field %q must be a string", name)
	}
	if s == "" && required {
		return "", Errorf(CodeInvalidRequest, "field %q must be non-empty", name)
	}
	if maxRunes > 0 && utf8.RuneCountInString(s) > maxRunes {
		return "", Errorf(CodeInvalidRequest, "field %q exceeds %d characters", name, maxRunes)
	}
	return s, nil
}

// integer decodes a required integer field bounded to [min, max].
func (f fieldSet) integer(name string, min, max int) (int, *Error) {
	raw, ok := f[name]
	if !ok {
		return 0, Errorf(CodeInvalidRequest, "missing field %q", name)
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, Errorf(CodeInvalidRequest, "field %q must be an integer", name)
	}
	if n < min || n > max {
		return 0, Errorf(CodeInvalidRequest, "field %q must be in [%d,%d]", name, min, max)
	}
	return n, nil
}

// boolean decodes an optional boolean field.
func (f fieldSet) boolean(name string) (bool, *Error) {
	raw, ok := f[name]
	if !ok {
		return false, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, Errorf(CodeInvalidRequest, "field %q must be a boolean", name)
	}
	return b, nil
}

// ParseRequest parses untrusted bytes into a request frame. The second
// return value is the best-effort request id so callers can address an
// error response even when validation fails. Possible errors:
// ErrMalformedEnvelope (close the connection), ErrNotRequest (ignore
// the frame), or an *Error with code INVALID_REQUEST (respond ok:false).
func ParseRequest(data []byte) (*Request, string, error) {
	var fields fieldSet
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, "", ErrMalformedEnvelope
	}

	var typ string
	if raw, ok := fields["type"]; !ok || json.Unmarshal(raw, &typ) != nil {
		return nil, "", ErrNotRequest
	}
	if typ != TypeRequest {
		return nil, "", ErrNotRequest
	}

	// Best-effort id for error responses; re-validated strictly below.
	var looseID string
	if raw, ok := fields["id"]; ok {
		_ = json.Unmarshal(raw, &looseID)
	}

	for name := range fields {
		switch name {
		case "type", "id", "method", "params":
		default:
			return nil, looseID, Errorf(CodeInvalidRequest, "unknown field %q", name)
		}
	}

	id, perr := fields.str("id", true, MaxIDLen)
	if perr != nil {
		return nil, looseID, perr
	}
	method, perr := fields.str("method", true, MaxMethodLen)
	if perr != nil {
		return nil, id, perr
	}

	req := &Request{Type: TypeRequest, ID: id, Method: method}
	if raw, ok := fields["params"]; ok {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(raw, &probe); err != nil {
			return nil, id, Errorf(CodeInvalidRequest, "params must be an object")
		}
		req.Params = raw
	}
	return req, id, nil
}

// ClientInfo identifies the connecting client.
type ClientInfo struct {
	ID          string `json:"id"`
	Version     string `json:"version"`
	Platform    string `json:"platform"`
	Mode        string `json:"mode"`
	DisplayName string `json:"displayName,omitempty"`
	InstanceID  string `json:"instanceId,omitempty"`
}

// AuthParams carries the optional bearer token inside connect params.
type AuthParams struct {
	Token string `json:"token"`
}

// ConnectParams is the validated shape of connect request params.
type ConnectParams struct {
	MinProtocol int         `json:"minProtocol"`
	MaxProtocol int         `json:"maxProtocol"`
	Nonce       string      `json:"nonce"`
	Client      ClientInfo  `json:"client"`
	Auth        *AuthParams `json:"auth,omitempty"`
	Scopes      []Scope     `json:"scopes,omitempty"`
}

// ParseConnectParams validates the params of a connect request.
func ParseConnectParams(raw json.RawMessage) (*ConnectParams, *Error) {
	if len(raw) == 0 {
		return nil, Errorf(CodeInvalidRequest, "connect requires params")
	}
	fields, perr := decodeObject(raw, "minProtocol", "maxProtocol", "nonce", "client", "auth", "scopes")
	if perr != nil {
		return nil, perr
	}

	p := &ConnectParams{}
	if p.MinProtocol, perr = fields.integer("minProtocol", 1, MaxProtocolBound); perr != nil {
		return nil, perr
	}
	if p.MaxProtocol, perr = fields.integer("maxProtocol", 1, MaxProtocolBound); perr != nil {
		return nil, perr
	}
	if p.MaxProtocol < p.MinProtocol {
		return nil, Errorf(CodeInvalidRequest, "maxProtocol must be >= minProtocol")
	}
	if p.Nonce, perr = fields.str("nonce", true, MaxIDLen); perr != nil {
		return nil, perr
	}

	clientRaw, ok := fields["client"]
	if !ok {
		return nil, Errorf(CodeInvalidRequest, "missing field %q", "client")
	}
	client, perr := decodeObject(clientRaw, "id", "version", "platform", "mode", "displayName", "instanceId")
	if perr != nil {
		return nil, perr
	}
	if p.Client.ID, perr = client.str("id", true, MaxIDLen); perr != nil {
		return nil, perr
	}
	if p.Client.Version, perr = client.str("version", true, MaxIDLen); perr != nil {
		return nil, perr
	}
	if p.Client.Platform, perr = client.str("platform", true, MaxIDLen); perr != nil {
		return nil, perr
	}
	if p.Client.Mode, perr = client.str("mode", true, MaxIDLen); perr != nil {
		return nil, perr
	}
	if p.Client.DisplayName, perr = client.str("displayName", false, MaxIDLen); perr != nil {
		return nil, perr
	}
	if p.Client.InstanceID, perr = client.str("instanceId", false, MaxIDLen); perr != nil {
		return nil, perr
	}

	if authRaw, ok := fields["auth"]; ok {
		auth, perr := decodeObject(authRaw, "token")
		if perr != nil {
			return nil, perr
		}
		token, perr := auth.str("token", true, MaxIDLen)
		if perr != nil {
			return nil, perr
		}
		p.Auth = &AuthParams{Token: token}
	}

	if scopesRaw, ok := fields["scopes"]; ok {
		var names []string
		if err := json.Unmarshal(scopesRaw, &names); err != nil {
			return nil, Errorf(CodeInvalidRequest, "field %q must be a string array", "scopes")
		}
		scopes, perr := ParseScopes(names)
		if perr != nil {
			return nil, perr
		}
		p.Scopes = scopes
	}
	return p, nil
}

// AgentRunParams is the validated shape of agent.run request params.
type AgentRunParams struct {
	IdempotencyKey  string `json:"idempotencyKey"`
	Message         string `json:"message"`
	AgentID         string `json:"agentId,omitempty"`
	SessionRef      string `json:"sessionRef,omitempty"`
	ForceNewSession bool   `json:"forceNewSession,omitempty"`
	DisableSession  bool   `json:"disableSession,omitempty"`
	Cwd             string `json:"cwd,omitempty"`
	Model           string `json:"model,omitempty"`
}

// ParseAgentRunParams validates the params of an agent.run request.
func ParseAgentRunParams(raw json.RawMessage) (*AgentRunParams, *Error) {
	if len(raw) == 0 {
		return nil, Errorf(CodeInvalidRequest, "agent.run requires params")
	}
	fields, perr := decodeObject(raw, "idempotencyKey", "message", "agentId",
		"sessionRef", "forceNewSession", "disableSession", "cwd", "model")
	if perr != nil {
		return nil, perr
	}

	p := &AgentRunParams{}
	if p.IdempotencyKey, perr = fields.str("idempotencyKey", true, MaxIdempotencyKeyLen); perr != nil {
		return nil, perr
	}
	if p.Message, perr = fields.text("message", true, MaxMessageLen); perr != nil {
		return nil, perr
	}
	if p.AgentID, perr = fields.str("agentId", false, MaxIDLen); perr != nil {
		return nil, perr
	}
	if p.SessionRef, perr = fields.str("sessionRef", false, MaxIDLen); perr != nil {
		return nil, perr
	}
	if p.ForceNewSession, perr = fields.boolean("forceNewSession"); perr != nil {
		return nil, perr
	}
	if p.DisableSession, perr = fields.boolean("disableSession"); perr != nil {
		return nil, perr
	}
	if p.Cwd, perr = fields.str("cwd", false, 4096); perr != nil {
		return nil, perr
	}
	if p.Model, perr = fields.str("model", false, MaxIDLen); perr != nil {
		return nil, perr
	}
	return p, nil
}

// SessionHistoryParams is the validated shape of session.history params.
type SessionHistoryParams struct {
	SessionKey string `json:"sessionKey"`
	Limit      int    `json:"limit,omitempty"`
}

// ParseSessionHistoryParams validates the params of a session.history request.
func ParseSessionHistoryParams(raw json.RawMessage) (*SessionHistoryParams, *Error) {
	if len(raw) == 0 {
		return nil, Errorf(CodeInvalidRequest, "session.history requires params")
	}
	fields, perr := decodeObject(raw, "sessionKey", "limit")
	if perr != nil {
		return nil, perr
	}

	p := &SessionHistoryParams{}
	if p.SessionKey, perr = fields.str("sessionKey", true, MaxIDLen); perr != nil {
		return nil, perr
	}
	if _, ok := fields["limit"]; ok {
		if p.Limit, perr = fields.integer("limit", 1, 1000); perr != nil {
			return nil, perr
		}
	}
	return p, nil
}

// ParseEmptyParams validates params for methods that take none. Absent
// params and an empty object are both accepted; anything else is not.
func ParseEmptyParams(method string, raw json.RawMessage) *Error {
	if len(raw) == 0 {
		return nil
	}
	fields, perr := decodeObject(raw)
	if perr != nil {
		return perr
	}
	if len(fields) > 0 {
		return Errorf(CodeInvalidRequest, "%s takes no params", method)
	}
	return nil
}
