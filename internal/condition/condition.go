// Package condition implements the conditional-request evaluator (§4.4):
// If-Match, If-None-Match, If-(Un)Modified-Since and If-Range.
package condition

import (
	"strings"
	"time"

	"github.com/curol/staticd/internal/headers"
	"github.com/curol/staticd/internal/message"
)

// Info is the resource metadata a conditional check is evaluated
// against.
type Info struct {
	ETag         string // empty if unknown
	HasETag      bool
	LastModified time.Time
	HasModified  bool
}

// Outcome is the result of evaluating a request's conditional headers
// against Info.
type Outcome int

const (
	Proceed Outcome = iota
	PreconditionFailed
	NotModified
)

// Evaluate applies §4.4's three steps in order and, as a side effect,
// removes the Range header from h when If-Range fails to validate (step
// 3), so the caller proceeds to send the full representation.
func Evaluate(info Info, h *headers.Store) Outcome {
	if o := evalUnchangedGuards(info, h); o != Proceed {
		return o
	}
	if o := evalChangedGuards(info, h); o != Proceed {
		return o
	}
	evalIfRange(info, h)
	return Proceed
}

func evalUnchangedGuards(info Info, h *headers.Store) Outcome {
	if vals, ok := h.Get("If-Match"); ok {
		if !info.HasETag {
			return PreconditionFailed
		}
		if !matchesAny(vals, info.ETag, true) {
			return PreconditionFailed
		}
		return Proceed
	}
	if vals, ok := h.Get("If-Unmodified-Since"); ok && info.HasModified {
		t, err := message.ParseIMFFixdate(strings.TrimSpace(strings.Join(vals, "")))
		if err != nil {
			return Proceed // unparseable time is treated as pass
		}
		if info.LastModified.After(t) {
			return PreconditionFailed
		}
	}
	return Proceed
}

func evalChangedGuards(info Info, h *headers.Store) Outcome {
	if vals, ok := h.Get("If-None-Match"); ok {
		if info.HasETag && matchesAny(vals, info.ETag, true) {
			return NotModified
		}
		return Proceed
	}
	if vals, ok := h.Get("If-Modified-Since"); ok && info.HasModified {
		t, err := message.ParseIMFFixdate(strings.TrimSpace(strings.Join(vals, "")))
		if err != nil {
			return Proceed
		}
		if !info.LastModified.After(t) {
			return NotModified
		}
	}
	return Proceed
}

func evalIfRange(info Info, h *headers.Store) {
	if !h.Contains("Range") {
		return
	}
	vals, ok := h.Get("If-Range")
	if !ok {
		return
	}
	val := strings.TrimSpace(strings.Join(vals, ""))
	if val == "" {
		return
	}
	if t, err := message.ParseIMFFixdate(val); err == nil {
		if info.HasModified && info.LastModified.Equal(t) {
			return
		}
		h.Remove("Range")
		return
	}
	if info.HasETag && isQuotedMatch(val, info.ETag) {
		return
	}
	h.Remove("Range")
}

// matchesAny reports whether etag (unquoted) is listed among vals,
// honoring the wildcard "*" when allowWildcard is true. Each value in
// vals may itself be a comma-joined list from the multi-valued header
// store.
func matchesAny(vals []string, etag string, allowWildcard bool) bool {
	for _, v := range vals {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if allowWildcard && part == "*" {
				return true
			}
			if isQuotedMatch(part, etag) {
				return true
			}
		}
	}
	return false
}

func isQuotedMatch(candidate, etag string) bool {
	candidate = strings.TrimPrefix(candidate, "W/")
	return unquote(candidate) == etag
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
