// Package auth implements the token-attaching, refresh-and-retry exchanger
// middleware and its backing token provider contract.
package auth

// Token is the capability set the auth middleware and the reference
// provider need from a credential, independent of how it was obtained or
// what shape it otherwise has.
type Token interface {
	// AccessToken returns the bearer value to attach to outgoing requests.
	// ok is false when no access value is currently known.
	AccessToken() (value string, ok bool)
	// CanBeRefreshed reports whether RefreshToken is worth attempting for
	// this token (e.g. a refresh token is present).
	CanBeRefreshed() bool
}

// TokensEqual compares two tokens by their access value. Two absent tokens
// (nil, or AccessToken returning ok=false) are not considered equal to one
// another; absence is never mistaken for a match.
func TokensEqual(a, b Token) bool {
	if a == nil || b == nil {
		return false
	}
	av, aok := a.AccessToken()
	bv, bok := b.AccessToken()
	if !aok || !bok {
		return false
	}
	return av == bv
}

// StaticToken is the simplest Token implementation: a fixed access value
// with an optional refresh value used only to decide CanBeRefreshed.
type StaticToken struct {
	Access  string
	Refresh string
}

// AccessToken implements Token.
func (t StaticToken) AccessToken() (string, bool) {
	if t.Access == "" {
		return "", false
	}
	return t.Access, true
}

// CanBeRefreshed implements Token.
func (t StaticToken) CanBeRefreshed() bool {
	return t.Refresh != ""
}
