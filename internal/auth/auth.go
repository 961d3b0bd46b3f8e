// Package auth implements the HTTP Basic per-realm auth gate (§4.6):
// scanning configured realms for a route match, then verifying
// credentials against stored bcrypt hashes.
package auth

import (
	"encoding/base64"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/curol/staticd/internal/headers"
)

// Realm is one configured HTTP Basic authentication realm.
type Realm struct {
	Name string
	// Credentials maps username -> bcrypt hash of the password.
	Credentials map[string]string
	// Matches reports whether target falls under this realm's protected
	// routes. It is supplied by the caller (internal/config compiles
	// route specs the same way internal/rewrite does) rather than
	// owned here, so this package stays free of the route-pattern
	// grammar.
	Matches func(target string) bool
}

// Outcome is the result of Check.
type Outcome int

const (
	// NoRealm means no configured realm protects the target; the
	// caller proceeds without checking credentials.
	NoRealm Outcome = iota
	Authorized
	Unauthorized
)

// Check scans realms in order for the first one whose Matches accepts
// target, then validates h's Authorization header against it. On
// Unauthorized, realmName is set to the matched realm, for building the
// WWW-Authenticate challenge.
func Check(realms []Realm, target string, h *headers.Store) (outcome Outcome, realmName string) {
	for _, realm := range realms {
		if !realm.Matches(target) {
			continue
		}
		if verify(realm, h) {
			return Authorized, realm.Name
		}
		return Unauthorized, realm.Name
	}
	return NoRealm, ""
}

func verify(realm Realm, h *headers.Store) bool {
	authz, ok := h.Get("Authorization")
	if !ok || len(authz) == 0 {
		return false
	}
	scheme, encoded, found := strings.Cut(strings.TrimSpace(authz[0]), " ")
	if !found || !strings.EqualFold(scheme, "basic") {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return false
	}
	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return false
	}
	hash, ok := realm.Credentials[user]
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass)) == nil
}

// Challenge returns the WWW-Authenticate header value for realmName.
func Challenge(realmName string) string {
	return `basic realm="` + realmName + `"`
}

// Username extracts the username from h's Authorization header without
// validating it against any realm, for callers (the CGI adapter's
// REMOTE_USER) that just need to forward whatever the client claimed.
func Username(h *headers.Store) (string, bool) {
	authz, ok := h.Get("Authorization")
	if !ok || len(authz) == 0 {
		return "", false
	}
	scheme, encoded, found := strings.Cut(strings.TrimSpace(authz[0]), " ")
	if !found || !strings.EqualFold(scheme, "basic") {
		return "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", false
	}
	user, _, ok := strings.Cut(string(decoded), ":")
	return user, ok
}
