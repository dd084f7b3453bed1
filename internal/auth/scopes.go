package auth

import "strings"

// Scope is a coarse session capability marker, space-joined on the wire.
// Scopes gate whole route families; fine-grained checks use Permission.
type Scope string

const (
	ScopeAuth  Scope = "auth"
	ScopeVault Scope = "vault"
)

var knownScopes = map[Scope]struct{}{
	ScopeAuth:  {},
	ScopeVault: {},
}

// Valid reports whether s is a member of the closed scope set.
func (s Scope) Valid() bool {
	_, ok := knownScopes[s]
	return ok
}

// InvalidScopesError lists every unrecognized token found while decoding a
// scope string.
type InvalidScopesError struct {
	Tokens []string
}

func (e *InvalidScopesError) Error() string {
	return "auth: invalid scopes: " + strings.Join(e.Tokens, ", ")
}

// ParseScopes decodes a space-joined scope string, enumerating all unknown
// tokens on failure.
func ParseScopes(s string) ([]Scope, error) {
	parts := strings.Split(s, " ")
	scopes := make([]Scope, 0, len(parts))
	var bad []string
	for _, p := range parts {
		sc := Scope(p)
		if !sc.Valid() {
			bad = append(bad, p)
			continue
		}
		scopes = append(scopes, sc)
	}
	if len(bad) > 0 {
		return nil, &InvalidScopesError{Tokens: bad}
	}
	return scopes, nil
}

// JoinScopes encodes scopes as the space-joined wire form.
func JoinScopes(scopes []Scope) string {
	parts := make([]string, len(scopes))
	for i, s := range scopes {
		parts[i] = string(s)
	}
	return strings.Join(parts, " ")
}

// sessionScopes are granted by interactive login and context switch.
var sessionScopes = []Scope{ScopeAuth, ScopeVault}
