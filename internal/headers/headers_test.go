package headers

import (
	"strings"
	"testing"
)

func TestSetAndGet(t *testing.T) {
	s := New()
	if !s.SetOne("Content-Type", "text/html") {
		t.Fatal("SetOne failed for valid token/value")
	}
	v, ok := s.Get("content-type")
	if !ok || len(v) != 1 || v[0] != "text/html" {
		t.Fatalf("Get returned %v, %v", v, ok)
	}
}

func TestMultiValueSplitsOnComma(t *testing.T) {
	s := New()
	if !s.Set("Accept", []string{"text/html, application/json"}) {
		t.Fatal("Set failed")
	}
	v, _ := s.Get("Accept")
	if len(v) != 2 || v[0] != "text/html" || v[1] != "application/json" {
		t.Fatalf("got %v", v)
	}
}

func TestSingleValueHeaderNotSplit(t *testing.T) {
	s := New()
	s.SetOne("Host", "example.com, not-a-list")
	v, _ := s.Get("Host")
	if len(v) != 1 || v[0] != "example.com, not-a-list" {
		t.Fatalf("single-value header was split: %v", v)
	}
}

func TestSetRejectsInvalidName(t *testing.T) {
	s := New()
	if s.SetOne("bad header", "x") {
		t.Fatal("expected failure for non-token name")
	}
	if s.Contains("bad header") {
		t.Fatal("store should be unchanged on failure")
	}
}

func TestSetRejectsInvalidValue(t *testing.T) {
	s := New()
	if s.SetOne("X-Test", "bad\x00value") {
		t.Fatal("expected failure for control character in value")
	}
}

func TestRoundTripPreservesOrderAndJoin(t *testing.T) {
	s := New()
	s.SetOne("Host", "a")
	s.Set("Accept", []string{"text/html", "application/json"})
	s.SetOne("Content-Length", "5")

	var sb strings.Builder
	s.Write(&sb)
	out := sb.String()

	wantOrder := []string{"Host:", "Accept:", "Content-Length:"}
	lastIdx := -1
	for _, w := range wantOrder {
		idx := strings.Index(out, w)
		if idx < 0 {
			t.Fatalf("missing %q in output %q", w, out)
		}
		if idx < lastIdx {
			t.Fatalf("order not preserved: %q", out)
		}
		lastIdx = idx
	}
	if !strings.Contains(out, "Accept: text/html, application/json\r\n") {
		t.Fatalf("multi-value join wrong: %q", out)
	}
}

func TestRemove(t *testing.T) {
	s := New()
	s.SetOne("X-Foo", "bar")
	s.Remove("x-foo")
	if s.Contains("X-Foo") {
		t.Fatal("Remove did not delete header")
	}
	if len(s.Names()) != 0 {
		t.Fatal("order slice not cleaned up")
	}
}

func TestIsMultiValue(t *testing.T) {
	if !IsMultiValue("Transfer-Encoding") {
		t.Fatal("Transfer-Encoding should be multi-value")
	}
	if IsMultiValue("Content-Type") {
		t.Fatal("Content-Type should not be multi-value")
	}
}
