package config

import (
	"fmt"
	"strings"
)

// Matcher reports whether a request path belongs to a route bucket.
type Matcher interface {
	Match(path string) bool
}

type pathMatcher struct{ Path string }

func (m pathMatcher) Match(path string) bool { return path == m.Path }

type pathPrefixMatcher struct{ Prefix string }

func (m pathPrefixMatcher) Match(path string) bool { return strings.HasPrefix(path, m.Prefix) }

type containsMatcher struct{ Segment string }

func (m containsMatcher) Match(path string) bool { return strings.Contains(path, m.Segment) }

// ParseMatch compiles an expression such as
//
//	PathPrefix(/api/)|Contains(/users)|Path(/)
//
// into matchers. Alternatives are separated by "|".
func ParseMatch(expr string) ([]Matcher, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty match")
	}

	parts := strings.Split(expr, "|")
	out := make([]Matcher, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		open := strings.IndexByte(p, '(')
		if open < 0 || !strings.HasSuffix(p, ")") {
			return nil, fmt.Errorf("expected Kind(/path), got %q", p)
		}
		kind := p[:open]
		inside := strings.TrimSpace(p[open+1 : len(p)-1])
		if inside == "" || !strings.HasPrefix(inside, "/") {
			return nil, fmt.Errorf("invalid path %q", inside)
		}
		switch kind {
		case "Path":
			out = append(out, pathMatcher{Path: inside})
		case "PathPrefix":
			out = append(out, pathPrefixMatcher{Prefix: inside})
		case "Contains":
			out = append(out, containsMatcher{Segment: inside})
		default:
			return nil, fmt.Errorf("only Path, PathPrefix and Contains supported, got %q", p)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no valid matchers")
	}
	return out, nil
}

// MatchAny reports whether any matcher accepts path.
func MatchAny(ms []Matcher, path string) bool {
	for _, m := range ms {
		if m.Match(path) {
			return true
		}
	}
	return false
}
