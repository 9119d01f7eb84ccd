package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantID  string
		wantErr string // "" ok, "malformed", "ignore", or an error code
	}{
		{"valid", `{"type":"req","id":"r1","method":"health"}`, "r1", ""},
		{"valid_with_params", `{"type":"req","id":"r1","method":"agent.run","params":{}}`, "r1", ""},
		{"not_json", `{"type":`, "", "malformed"},
		{"json_array", `[1,2,3]`, "", "malformed"},
		{"response_frame", `{"type":"res","id":"r1","ok":true}`, "", "ignore"},
		{"event_frame", `{"type":"event","event":"tick"}`, "", "ignore"},
		{"missing_type", `{"id":"r1","method":"health"}`, "", "ignore"},
		{"unknown_key", `{"type":"req","id":"r1","method":"health","extra":1}`, "r1", CodeInvalidRequest},
		{"missing_id", `{"type":"req","method":"health"}`, "", CodeInvalidRequest},
		{"blank_id", `{"type":"req","id":"   ","method":"health"}`, "", CodeInvalidRequest},
		{"id_not_string", `{"type":"req","id":7,"method":"health"}`, "", CodeInvalidRequest},
		{"missing_method", `{"type":"req","id":"r1"}`, "", CodeInvalidRequest},
		{"long_id", `{"type":"req","id":"` + strings.Repeat("x", 201) + `","method":"health"}`, "", CodeInvalidRequest},
		{"long_method", `{"type":"req","id":"r1","method":"` + strings.Repeat("m", 121) + `"}`, "", CodeInvalidRequest},
		{"params_not_object", `{"type":"req","id":"r1","method":"health","params":[1]}`, "", CodeInvalidRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req, _, err := ParseRequest([]byte(tc.input))
			switch tc.wantErr {
			case "":
				if err != nil {
					t.Fatalf("ParseRequest: unexpected error %v", err)
				}
				if req.ID != tc.wantID {
					t.Errorf("id = %q; want %q", req.ID, tc.wantID)
				}
			case "malformed":
				if !errors.Is(err, ErrMalformedEnvelope) {
					t.Fatalf("want ErrMalformedEnvelope, got %v", err)
				}
			case "ignore":
				if !errors.Is(err, ErrNotRequest) {
					t.Fatalf("want ErrNotRequest, got %v", err)
				}
			default:
				var perr *Error
				if !errors.As(err, &perr) || perr.Code != tc.wantErr {
					t.Fatalf("want code %s, got %v", tc.wantErr, err)
				}
			}
		})
	}
}

func validConnect() string {
	return `{
		"minProtocol": 1, "maxProtocol": 1, "nonce": "n1",
		"client": {"id":"cli-1","version":"1.0.0","platform":"linux","mode":"cli"},
		"auth": {"token":"T"},
		"scopes": ["operator.write","operator.read","operator.write"]
	}`
}

func TestParseConnectParams(t *testing.T) {
	p, perr := ParseConnectParams(json.RawMessage(validConnect()))
	if perr != nil {
		t.Fatalf("ParseConnectParams: %v", perr)
	}
	if p.MinProtocol != 1 || p.MaxProtocol != 1 {
		t.Errorf("protocol range = [%d,%d]; want [1,1]", p.MinProtocol, p.MaxProtocol)
	}
	if p.Nonce != "n1" || p.Client.ID != "cli-1" || p.Auth == nil || p.Auth.Token != "T" {
		t.Errorf("unexpected parse result: %+v", p)
	}
	// Duplicated scopes collapse into a canonical-order set.
	if len(p.Scopes) != 2 || p.Scopes[0] != ScopeRead || p.Scopes[1] != ScopeWrite {
		t.Errorf("scopes = %v; want [operator.read operator.write]", p.Scopes)
	}
}

func TestParseConnectParamsRejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ``},
		{"unknown_key", `{"minProtocol":1,"maxProtocol":1,"nonce":"n","client":{"id":"a","version":"1","platform":"linux","mode":"cli"},"bogus":true}`},
		{"protocol_out_of_range", `{"minProtocol":0,"maxProtocol":1,"nonce":"n","client":{"id":"a","version":"1","platform":"linux","mode":"cli"}}`},
		{"protocol_too_high", `{"minProtocol":1,"maxProtocol":1001,"nonce":"n","client":{"id":"a","version":"1","platform":"linux","mode":"cli"}}`},
		{"inverted_range", `{"minProtocol":5,"maxProtocol":2,"nonce":"n","client":{"id":"a","version":"1","platform":"linux","mode":"cli"}}`},
		{"missing_nonce", `{"minProtocol":1,"maxProtocol":1,"client":{"id":"a","version":"1","platform":"linux","mode":"cli"}}`},
		{"missing_client", `{"minProtocol":1,"maxProtocol":1,"nonce":"n"}`},
		{"client_missing_mode", `{"minProtocol":1,"maxProtocol":1,"nonce":"n","client":{"id":"a","version":"1","platform":"linux"}}`},
		{"client_unknown_key", `{"minProtocol":1,"maxProtocol":1,"nonce":"n","client":{"id":"a","version":"1","platform":"linux","mode":"cli","role":"x"}}`},
		{"bad_scope", `{"minProtocol":1,"maxProtocol":1,"nonce":"n","client":{"id":"a","version":"1","platform":"linux","mode":"cli"},"scopes":["root"]}`},
		{"auth_not_object", `{"minProtocol":1,"maxProtocol":1,"nonce":"n","client":{"id":"a","version":"1","platform":"linux","mode":"cli"},"auth":"T"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, perr := ParseConnectParams(json.RawMessage(tc.input)); perr == nil {
				t.Fatalf("ParseConnectParams(%s) succeeded; want INVALID_REQUEST", tc.name)
			} else if perr.Code != CodeInvalidRequest {
				t.Fatalf("code = %s; want %s", perr.Code, CodeInvalidRequest)
			}
		})
	}
}

func TestConnectParamsRoundTrip(t *testing.T) {
	p, perr := ParseConnectParams(json.RawMessage(validConnect()))
	if perr != nil {
		t.Fatalf("ParseConnectParams: %v", perr)
	}
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	again, perr := ParseConnectParams(data)
	if perr != nil {
		t.Fatalf("re-parse: %v", perr)
	}
	if again.Nonce != p.Nonce || again.Client != p.Client || again.Auth.Token != p.Auth.Token {
		t.Errorf("round trip changed fields: %+v vs %+v", again, p)
	}
	if len(again.Scopes) != len(p.Scopes) {
		t.Errorf("round trip changed scope set: %v vs %v", again.Scopes, p.Scopes)
	}
}

func TestParseAgentRunParams(t *testing.T) {
	tests := []struct {
		name  string
		input string
		ok    bool
	}{
		{"minimal", `{"idempotencyKey":"k1","message":"hello"}`, true},
		{"full", `{"idempotencyKey":"k1","message":"hello","agentId":"main","sessionRef":"s1","forceNewSession":true,"disableSession":false,"cwd":"/tmp","model":"opus"}`, true},
		{"missing_key", `{"message":"hello"}`, false},
		{"empty_message", `{"idempotencyKey":"k1","message":""}`, false},
		{"message_too_long", `{"idempotencyKey":"k1","message":"` + strings.Repeat("a", 100_001) + `"}`, false},
		{"key_too_long", `{"idempotencyKey":"` + strings.Repeat("k", 201) + `","message":"hi"}`, false},
		{"unknown_key", `{"idempotencyKey":"k1","message":"hi","retries":3}`, false},
		{"bool_wrong_type", `{"idempotencyKey":"k1","message":"hi","forceNewSession":"yes"}`, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, perr := ParseAgentRunParams(json.RawMessage(tc.input))
			if tc.ok && perr != nil {
				t.Fatalf("unexpected error: %v", perr)
			}
			if !tc.ok && perr == nil {
				t.Fatalf("parse succeeded; want INVALID_REQUEST (got %+v)", p)
			}
		})
	}
}

func TestParseAgentRunParams_MessageVerbatim(t *testing.T) {
	p, perr := ParseAgentRunParams(json.RawMessage(`{"idempotencyKey":"k1","message":"  padded  \n"}`))
	if perr != nil {
		t.Fatalf("unexpected error: %v", perr)
	}
	if p.Message != "  padded  \n" {
		t.Errorf("message mutated: %q", p.Message)
	}

	// The bound counts characters, not bytes.
	wide := strings.Repeat("é", MaxMessageLen)
	if _, perr := ParseAgentRunParams(json.RawMessage(`{"idempotencyKey":"k1","message":"` + wide + `"}`)); perr != nil {
		t.Errorf("message of %d multibyte characters rejected: %v", MaxMessageLen, perr)
	}
	if _, perr := ParseAgentRunParams(json.RawMessage(`{"idempotencyKey":"k1","message":"` + wide + `é"}`)); perr == nil {
		t.Errorf("message of %d characters accepted", MaxMessageLen+1)
	}
}

func TestParseSessionHistoryParams(t *testing.T) {
	p, perr := ParseSessionHistoryParams(json.RawMessage(`{"sessionKey":"agent:main:main","limit":50}`))
	if perr != nil {
		t.Fatalf("unexpected error: %v", perr)
	}
	if p.SessionKey != "agent:main:main" || p.Limit != 50 {
		t.Errorf("parsed %+v", p)
	}
	if _, perr := ParseSessionHistoryParams(json.RawMessage(`{"limit":10}`)); perr == nil {
		t.Error("missing sessionKey accepted")
	}
	if _, perr := ParseSessionHistoryParams(json.RawMessage(`{"sessionKey":"s","limit":0}`)); perr == nil {
		t.Error("limit 0 accepted")
	}
}

func TestParseEmptyParams(t *testing.T) {
	if perr := ParseEmptyParams("health", nil); perr != nil {
		t.Errorf("nil params rejected: %v", perr)
	}
	if perr := ParseEmptyParams("health", json.RawMessage(`{}`)); perr != nil {
		t.Errorf("empty object rejected: %v", perr)
	}
	if perr := ParseEmptyParams("health", json.RawMessage(`{"verbose":true}`)); perr == nil {
		t.Error("extra field accepted")
	}
}

func TestRequiredScope(t *testing.T) {
	tests := []struct {
		method string
		scope  Scope
		known  bool
	}{
		{MethodHealth, ScopeRead, true},
		{MethodAgentList, ScopeRead, true},
		{MethodSessionList, ScopeRead, true},
		{MethodSessionHistory, ScopeRead, true},
		{MethodAgentRun, ScopeWrite, true},
		{"agent.delete", "", false},
		{MethodConnect, "", false},
	}
	for _, tc := range tests {
		scope, known := RequiredScope(tc.method)
		if scope != tc.scope || known != tc.known {
			t.Errorf("RequiredScope(%q) = %q,%v; want %q,%v", tc.method, scope, known, tc.scope, tc.known)
		}
	}
}
