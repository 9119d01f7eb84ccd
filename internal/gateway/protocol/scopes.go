package protocol

// Scope is a named capability granted to a connection at handshake time.
// Scopes are never escalated mid-connection.
type Scope string

const (
	ScopeRead  Scope = "operator.read"
	ScopeWrite Scope = "operator.write"
	ScopeAdmin Scope = "operator.admin"
)

// canonical order for serialized scope sets.
var allScopes = []Scope{ScopeRead, ScopeWrite, ScopeAdmin}

// ValidScope reports whether s names a known scope.
func ValidScope(s Scope) bool {
	switch s {
	case ScopeRead, ScopeWrite, ScopeAdmin:
		return true
	}
	return false
}

// ScopeSet is a capability set. The zero value is empty.
type ScopeSet map[Scope]struct{}

// NewScopeSet builds a set from the given scopes, collapsing duplicates.
func NewScopeSet(scopes ...Scope) ScopeSet {
	set := make(ScopeSet, len(scopes))
	for _, s := range scopes {
		set[s] = struct{}{}
	}
	return set
}

// DefaultScopes is the set granted when a client requests none.
func DefaultScopes() ScopeSet {
	return NewScopeSet(ScopeRead, ScopeWrite)
}

// AllScopes is the set of every known scope.
func AllScopes() ScopeSet {
	return NewScopeSet(allScopes...)
}

// Has reports whether the set contains s.
func (ss ScopeSet) Has(s Scope) bool {
	_, ok := ss[s]
	return ok
}

// Intersect returns the scopes present in both sets.
func (ss ScopeSet) Intersect(other ScopeSet) ScopeSet {
	out := make(ScopeSet)
	for s := range ss {
		if other.Has(s) {
			out[s] = struct{}{}
		}
	}
	return out
}

// List returns the set in canonical order.
func (ss ScopeSet) List() []Scope {
	out := make([]Scope, 0, len(ss))
	for _, s := range allScopes {
		if ss.Has(s) {
			out = append(out, s)
		}
	}
	return out
}

// ParseScopes validates and deduplicates a client-supplied scope list.
// Order is irrelevant and multiplicity collapses; the result is in
// canonical order.
func ParseScopes(raw []string) ([]Scope, *Error) {
	set := make(ScopeSet, len(raw))
	for _, r := range raw {
		s := Scope(r)
		if !ValidScope(s) {
			return nil, Errorf(CodeInvalidRequest, "unknown scope %q", r)
		}
		set[s] = struct{}{}
	}
	return set.List(), nil
}

// RequiredScope returns the scope a method needs post-handshake. The
// second return is false for methods the gateway does not dispatch.
func RequiredScope(method string) (Scope, bool) {
	switch method {
	case MethodHealth, MethodAgentList, MethodSessionList, MethodSessionHistory:
		return ScopeRead, true
	case MethodAgentRun:
		return ScopeWrite, true
	}
	return "", false
}
