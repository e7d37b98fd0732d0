// Package filter evaluates addressbook-query filters against parsed
// vCards and exposes the pieces storage backends need to push the same
// test down into SQL.
package filter

import (
	"strings"

	"github.com/emersion/go-vcard"
)

// Test selects how a group of child constraints combines.
type Test int

const (
	// TestAll requires every child constraint to match.
	TestAll Test = iota
	// TestAny requires at least one child constraint to match.
	TestAny
)

func ParseTest(s string) Test {
	if strings.EqualFold(s, "anyof") {
		return TestAny
	}
	return TestAll
}

// MatchType selects the substring relation of a text-match.
type MatchType int

const (
	MatchEquals MatchType = iota
	MatchContains
	MatchStartsWith
	MatchEndsWith
)

func ParseMatchType(s string) MatchType {
	switch strings.ToLower(s) {
	case "equals":
		return MatchEquals
	case "starts-with":
		return MatchStartsWith
	case "ends-with":
		return MatchEndsWith
	default:
		return MatchContains
	}
}

// TextMatch tests one property value against a target string.
type TextMatch struct {
	Value     string
	MatchType MatchType
	Caseless  bool
	Negate    bool
}

// Matches reports whether a single property value satisfies the text
// test, negation included.
func (t *TextMatch) Matches(val string) bool {
	target := t.Value
	if t.Caseless {
		val = strings.ToUpper(val)
		target = strings.ToUpper(target)
	}
	var ok bool
	switch t.MatchType {
	case MatchEquals:
		ok = val == target
	case MatchStartsWith:
		ok = strings.HasPrefix(val, target)
	case MatchEndsWith:
		ok = strings.HasSuffix(val, target)
	default:
		ok = strings.Contains(val, target)
	}
	if t.Negate {
		return !ok
	}
	return ok
}

// PropFilter constrains one vCard property. A nil Match means the
// filter only names the property without testing its value; such a
// constraint is treated as satisfied regardless of the card.
type PropFilter struct {
	Name  string // property name, e.g. "FN", matched case-insensitively
	Test  Test   // reserved for nested param filters
	Match *TextMatch
}

func (p *PropFilter) Matches(card vcard.Card) bool {
	if p.Match == nil {
		return true
	}
	name := strings.ToUpper(p.Name)
	fields := card[name]
	for _, f := range fields {
		if f == nil {
			continue
		}
		if p.Match.Matches(f.Value) {
			return true
		}
	}
	// Negated matches succeed on absent properties too.
	if len(fields) == 0 && p.Match.Negate {
		return true
	}
	return false
}

// Filter is the root of an addressbook-query filter: a set of property
// constraints combined with allof/anyof semantics. A nil *Filter or an
// empty constraint list matches every card.
type Filter struct {
	Test  Test
	Props []*PropFilter
}

func (f *Filter) Matches(card vcard.Card) bool {
	if f == nil || len(f.Props) == 0 {
		return true
	}
	for _, p := range f.Props {
		ok := p.Matches(card)
		if f.Test == TestAny && ok {
			return true
		}
		if f.Test == TestAll && !ok {
			return false
		}
	}
	return f.Test == TestAll
}

// LikePattern returns the SQL LIKE pattern for a text-match value, with
// the % and _ metacharacters escaped using backslash. Backends bind it
// as a parameter with ESCAPE '\'.
func (t *TextMatch) LikePattern() string {
	v := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(t.Value)
	switch t.MatchType {
	case MatchEquals:
		return v
	case MatchStartsWith:
		return v + "%"
	case MatchEndsWith:
		return "%" + v
	default:
		return "%" + v + "%"
	}
}
