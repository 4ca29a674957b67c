// Package filter decides whether a consumer acts on an envelope, based on its
// routing attributes. Everything here is pure and safe for concurrent use.
package filter

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidRule = errors.New("invalid filter rule")

// Rule matches when the named attribute equals one of Values.
type Rule struct {
	Attribute string
	Values    []string
}

// Equals is a Rule on a single value.
func Equals(attribute, value string) Rule {
	return Rule{Attribute: attribute, Values: []string{value}}
}

// OneOf is a Rule accepting any of values.
func OneOf(attribute string, values ...string) Rule {
	return Rule{Attribute: attribute, Values: values}
}

func (r Rule) String() string {
	return r.Attribute + "=" + strings.Join(r.Values, "|")
}

// Matches evaluates r against attrs. An absent attribute is a routing miss,
// not an error.
func Matches(r Rule, attrs map[string]string) bool {
	v, ok := attrs[r.Attribute]
	if !ok {
		return false
	}
	for _, want := range r.Values {
		if v == want {
			return true
		}
	}
	return false
}

// MatchAll combines rules with logical AND. No rules means no restriction.
func MatchAll(rules []Rule, attrs map[string]string) bool {
	for _, r := range rules {
		if !Matches(r, attrs) {
			return false
		}
	}
	return true
}

// Parse reads a rule written as "Attribute=value" or "Attribute=v1|v2".
func Parse(s string) (Rule, error) {
	name, values, ok := strings.Cut(strings.TrimSpace(s), "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return Rule{}, fmt.Errorf("%w: %q", ErrInvalidRule, s)
	}

	var vals []string
	for _, v := range strings.Split(values, "|") {
		if v = strings.TrimSpace(v); v != "" {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return Rule{}, fmt.Errorf("%w: %q has no values", ErrInvalidRule, s)
	}

	return Rule{Attribute: name, Values: vals}, nil
}

// ParseAll parses every rule in specs.
func ParseAll(specs []string) ([]Rule, error) {
	rules := make([]Rule, 0, len(specs))
	for _, s := range specs {
		r, err := Parse(s)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}
