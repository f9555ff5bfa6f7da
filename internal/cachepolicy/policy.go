// Package cachepolicy evaluates the pattern→TTL rules that drive disk
// cache expiry. Patterns are slash-separated; a literal segment matches
// itself and a {name} segment matches exactly one path segment. The first
// matching rule wins; a path no rule matches never expires.
package cachepolicy

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Rule is one user-supplied policy entry. A nil TTLHours means the
// matched entries never expire.
type Rule struct {
	Pattern  string `yaml:"pattern"`
	TTLHours *int   `yaml:"ttl_hours"`
}

type compiledRule struct {
	segments []string
	ttl      time.Duration
	infinite bool
}

// Policy is a compiled, ordered rule list.
type Policy struct {
	rules []compiledRule
}

// Compile validates and compiles rules in order.
func Compile(rules []Rule) (*Policy, error) {
	p := &Policy{}
	for i, r := range rules {
		pattern := strings.Trim(r.Pattern, "/")
		if pattern == "" {
			return nil, fmt.Errorf("rule %d: empty pattern", i)
		}
		cr := compiledRule{segments: strings.Split(pattern, "/")}
		if r.TTLHours == nil {
			cr.infinite = true
		} else {
			if *r.TTLHours <= 0 {
				return nil, fmt.Errorf("rule %d (%s): ttl_hours must be positive", i, r.Pattern)
			}
			cr.ttl = time.Duration(*r.TTLHours) * time.Hour
		}
		p.rules = append(p.rules, cr)
	}
	return p, nil
}

// Load reads a YAML rule list from path and compiles it. An empty path
// yields a policy with no rules (everything kept forever).
func Load(path string) (*Policy, error) {
	if path == "" {
		return &Policy{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cache policy: %w", err)
	}
	var rules []Rule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse cache policy: %w", err)
	}
	return Compile(rules)
}

// TTL returns the TTL of the first rule matching path. ok is false when
// the path is unmatched or matched by an infinite rule, meaning the entry
// never expires.
func (p *Policy) TTL(path string) (ttl time.Duration, ok bool) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for _, r := range p.rules {
		if matchSegments(r.segments, segments) {
			if r.infinite {
				return 0, false
			}
			return r.ttl, true
		}
	}
	return 0, false
}

func matchSegments(pattern, path []string) bool {
	if len(pattern) != len(path) {
		return false
	}
	for i, seg := range pattern {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			continue
		}
		if seg != path[i] {
			return false
		}
	}
	return true
}
