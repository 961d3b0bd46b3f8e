// Package rewrite implements the ordered regex-captured routing table
// (§4.7), generalizing the teacher's exact-string router
// (message/router/router.go, router/router.go — "method+path ->
// handler" map lookups) into a first-match regex rewrite pipeline with
// named captures.
package rewrite

import (
	"regexp"
	"strings"
)

// Rule is one compiled (RouteSpec, RouteReplacement) pair.
type Rule struct {
	Spec        *regexp.Regexp
	Replacement string
}

// Table is an ordered routing table.
type Table struct {
	Rules []Rule
}

// Compile turns the pattern language from §4.7 into a Go regexp:
//   - a leading '@' anchors both ends (exact match)
//   - a leading '/' anchors only the start (prefix match)
//   - "{name}" becomes a capture group matching one path segment's worth
//     of characters
//   - "{name:regex}" becomes a capture group matching regex verbatim
//   - '\' escapes the following character
func Compile(pattern, replacement string) (Rule, error) {
	anchorEnd := false
	body := pattern
	switch {
	case strings.HasPrefix(pattern, "@"):
		anchorEnd = true
		body = pattern[1:]
	case strings.HasPrefix(pattern, "/"):
		body = pattern
	}

	var sb strings.Builder
	sb.WriteByte('^')
	i := 0
	for i < len(body) {
		c := body[i]
		switch {
		case c == '\\' && i+1 < len(body):
			sb.WriteString(regexp.QuoteMeta(string(body[i+1])))
			i += 2
		case c == '{':
			end := strings.IndexByte(body[i:], '}')
			if end < 0 {
				sb.WriteString(regexp.QuoteMeta(body[i:]))
				i = len(body)
				break
			}
			inner := body[i+1 : i+end]
			name, sub, hasSub := strings.Cut(inner, ":")
			if hasSub {
				sb.WriteString("(?P<" + name + ">" + sub + ")")
			} else {
				sb.WriteString("(?P<" + name + ">[^/]+)")
			}
			i += end + 1
		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
			i++
		}
	}
	if anchorEnd {
		sb.WriteByte('$')
	}
	re, err := regexp.Compile(sb.String())
	if err != nil {
		return Rule{}, err
	}
	return Rule{Spec: re, Replacement: replacement}, nil
}

// Rewrite applies the first matching rule in t to raw, per §4.7: build a
// substitution map from named captures, substitute into the replacement
// template ("[name]" placeholders), and append the unmatched suffix of
// raw (everything after the match end). If no rule matches, raw is
// returned unchanged.
func (t *Table) Rewrite(raw string) string {
	for _, rule := range t.Rules {
		loc := rule.Spec.FindStringSubmatchIndex(raw)
		if loc == nil {
			continue
		}
		names := rule.Spec.SubexpNames()
		out := rule.Replacement
		for i, name := range names {
			if name == "" || loc[2*i] < 0 {
				continue
			}
			out = strings.ReplaceAll(out, "["+name+"]", raw[loc[2*i]:loc[2*i+1]])
		}
		return out + raw[loc[1]:]
	}
	return raw
}
