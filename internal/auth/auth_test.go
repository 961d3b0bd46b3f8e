package auth

import (
	"encoding/base64"
	"testing"

	"github.com/curol/staticd/internal/headers"
)

// bcryptHashOfPassword is the bcrypt hash of the literal string
// "password", a well-known fixture used across the bcrypt ecosystem's
// own docs and examples.
const bcryptHashOfPassword = "$2a$10$N9qo8uLOickgx2ZMRZoHyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

func secretRealm() Realm {
	return Realm{
		Name:        "secret",
		Credentials: map[string]string{"alice": bcryptHashOfPassword},
		Matches: func(target string) bool {
			return len(target) >= len("/secret/") && target[:len("/secret/")] == "/secret/"
		},
	}
}

func basicAuthHeader(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func TestNoMatchingRealmProceeds(t *testing.T) {
	h := headers.New()
	outcome, _ := Check([]Realm{secretRealm()}, "/public/doc", h)
	if outcome != NoRealm {
		t.Fatalf("got %v", outcome)
	}
}

func TestMissingAuthorizationHeaderUnauthorized(t *testing.T) {
	h := headers.New()
	outcome, realm := Check([]Realm{secretRealm()}, "/secret/doc", h)
	if outcome != Unauthorized || realm != "secret" {
		t.Fatalf("got %v %q", outcome, realm)
	}
}

func TestCorrectCredentialsAuthorized(t *testing.T) {
	h := headers.New()
	h.SetOne("Authorization", basicAuthHeader("alice", "password"))
	outcome, _ := Check([]Realm{secretRealm()}, "/secret/doc", h)
	if outcome != Authorized {
		t.Fatalf("got %v", outcome)
	}
}

func TestWrongPasswordUnauthorized(t *testing.T) {
	h := headers.New()
	h.SetOne("Authorization", basicAuthHeader("alice", "wrong"))
	outcome, _ := Check([]Realm{secretRealm()}, "/secret/doc", h)
	if outcome != Unauthorized {
		t.Fatalf("got %v", outcome)
	}
}

func TestChallengeFormat(t *testing.T) {
	if got := Challenge("r"); got != `basic realm="r"` {
		t.Fatalf("got %q", got)
	}
}
