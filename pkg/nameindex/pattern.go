// ABOUTME: Glob pattern parsing for metric names: exact/condition/any/dynamic-any segments
// ABOUTME: Condition segments support [charset], {alt,alt}, and * with literal prefix/suffix/embedded ?

package nameindex

import (
	"fmt"
	"path"
	"strings"
)

type segKind int

const (
	segExact segKind = iota
	segCondition
	segAny
	segDynamicAny
)

type segment struct {
	kind    segKind
	literal string   // segExact
	alts    []string // segCondition: brace-expanded alternatives, each a glob sub-pattern
	raw     string   // segCondition/segAny: the original glob text, for path.Match
}

func (s segment) matches(text string) bool {
	switch s.kind {
	case segExact:
		return text == s.literal
	case segAny:
		return true
	case segCondition:
		if len(s.alts) > 0 {
			for _, alt := range s.alts {
				if ok, _ := path.Match(alt, text); ok {
					return true
				}
			}
			return false
		}
		ok, _ := path.Match(s.raw, text)
		return ok
	default:
		return false
	}
}

// Pattern is a parsed glob over dot-separated metric-name segments, per
// spec.md §4.7. At most one "**" (dynamic-any) segment is supported,
// and only in trailing position (e.g. "app.**") — the common
// namespace-prefix query shape; a "**" anywhere else degrades to being
// treated as a literal two-star segment, logged as an Open Question
// decision in DESIGN.md rather than implementing full mid-pattern
// dynamic-any backtracking.
type Pattern struct {
	raw      string
	segments []segment
	trailingDynamic bool // last segment is "**"
}

func Parse(pattern string) (*Pattern, error) {
	if pattern == "" {
		return nil, fmt.Errorf("nameindex: empty pattern")
	}
	parts := strings.Split(pattern, ".")
	p := &Pattern{raw: pattern}
	for i, part := range parts {
		if part == "**" {
			if i != len(parts)-1 {
				// Not trailing: treat literally, matches only a literal "**" segment.
				p.segments = append(p.segments, segment{kind: segExact, literal: "**"})
				continue
			}
			p.trailingDynamic = true
			p.segments = append(p.segments, segment{kind: segDynamicAny})
			continue
		}
		p.segments = append(p.segments, parseSegment(part))
	}
	return p, nil
}

func parseSegment(part string) segment {
	if part == "*" {
		return segment{kind: segAny, raw: part}
	}
	if strings.Contains(part, "{") && strings.Contains(part, "}") {
		return segment{kind: segCondition, alts: expandBraces(part)}
	}
	if strings.ContainsAny(part, "*?[") {
		return segment{kind: segCondition, raw: part}
	}
	return segment{kind: segExact, literal: part}
}

// expandBraces turns "a{b,c}d" into ["abd", "acd"]; each resulting
// alternative may still itself contain *, ?, or [..] glob syntax.
func expandBraces(s string) []string {
	open := strings.IndexByte(s, '{')
	shut := strings.IndexByte(s, '}')
	if open < 0 || shut < 0 || shut < open {
		return []string{s}
	}
	prefix, inner, suffix := s[:open], s[open+1:shut], s[shut+1:]
	var out []string
	for _, alt := range strings.Split(inner, ",") {
		out = append(out, prefix+alt+suffix)
	}
	return out
}

// fixedSegments returns the non-dynamic-any segments, in order.
func (p *Pattern) fixedSegments() []segment {
	if p.trailingDynamic {
		return p.segments[:len(p.segments)-1]
	}
	return p.segments
}

// matchName reports whether name (already split into dot segments)
// satisfies the full pattern, used as the final per-segment
// confirmation pass per spec.md §4.7 step 4.
func (p *Pattern) matchName(nameSegs []string) bool {
	fixed := p.fixedSegments()
	if p.trailingDynamic {
		if len(nameSegs) < len(fixed) {
			return false
		}
	} else if len(nameSegs) != len(fixed) {
		return false
	}
	for i, seg := range fixed {
		if !seg.matches(nameSegs[i]) {
			return false
		}
	}
	return true
}
