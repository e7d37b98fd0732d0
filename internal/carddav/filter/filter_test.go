package filter

import (
	"testing"

	"github.com/emersion/go-vcard"
)

func testCard(fn string, emails ...string) vcard.Card {
	c := vcard.Card{}
	c.SetValue(vcard.FieldVersion, "3.0")
	c.SetValue(vcard.FieldFormattedName, fn)
	for _, e := range emails {
		c.Add(vcard.FieldEmail, &vcard.Field{Value: e})
	}
	return c
}

func TestTextMatchTypes(t *testing.T) {
	cases := []struct {
		name  string
		m     TextMatch
		val   string
		wantM bool
	}{
		{"equals hit", TextMatch{Value: "Alice", MatchType: MatchEquals}, "Alice", true},
		{"equals miss", TextMatch{Value: "Alice", MatchType: MatchEquals}, "Alicia", false},
		{"contains", TextMatch{Value: "lic", MatchType: MatchContains}, "Alice", true},
		{"starts-with hit", TextMatch{Value: "Al", MatchType: MatchStartsWith}, "Alice", true},
		{"starts-with miss", TextMatch{Value: "li", MatchType: MatchStartsWith}, "Alice", false},
		{"ends-with", TextMatch{Value: "ce", MatchType: MatchEndsWith}, "Alice", true},
		{"caseless equals", TextMatch{Value: "alice", MatchType: MatchEquals, Caseless: true}, "ALICE", true},
		{"case sensitive miss", TextMatch{Value: "alice", MatchType: MatchEquals}, "ALICE", false},
		{"negate flips", TextMatch{Value: "Alice", MatchType: MatchEquals, Negate: true}, "Alice", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.m.Matches(tc.val); got != tc.wantM {
				t.Fatalf("Matches(%q) = %v, want %v", tc.val, got, tc.wantM)
			}
		})
	}
}

func TestPropFilterRepeatedProperty(t *testing.T) {
	c := testCard("Alice", "alice@example.org", "a@work.example")
	pf := &PropFilter{
		Name:  "email",
		Match: &TextMatch{Value: "work", MatchType: MatchContains},
	}
	if !pf.Matches(c) {
		t.Fatal("any matching occurrence should satisfy the filter")
	}
}

func TestPropFilterWithoutMatchIsNoop(t *testing.T) {
	pf := &PropFilter{Name: "TEL"}
	if !pf.Matches(testCard("Alice")) {
		t.Fatal("prop-filter without text-match must not constrain")
	}
}

func TestNegatedMatchOnAbsentProperty(t *testing.T) {
	pf := &PropFilter{
		Name:  "NICKNAME",
		Match: &TextMatch{Value: "x", MatchType: MatchContains, Negate: true},
	}
	if !pf.Matches(testCard("Alice")) {
		t.Fatal("negated match should succeed when the property is absent")
	}
}

func TestFilterComposition(t *testing.T) {
	c := testCard("Alice", "alice@example.org")
	fnHit := &PropFilter{Name: "FN", Match: &TextMatch{Value: "Alice", MatchType: MatchEquals}}
	fnMiss := &PropFilter{Name: "FN", Match: &TextMatch{Value: "Bob", MatchType: MatchEquals}}

	all := &Filter{Test: TestAll, Props: []*PropFilter{fnHit, fnMiss}}
	if all.Matches(c) {
		t.Fatal("allof with one failing constraint must not match")
	}
	anyF := &Filter{Test: TestAny, Props: []*PropFilter{fnMiss, fnHit}}
	if !anyF.Matches(c) {
		t.Fatal("anyof with one passing constraint must match")
	}
}

func TestEmptyFilterMatchesEverything(t *testing.T) {
	var f *Filter
	if !f.Matches(testCard("Alice")) {
		t.Fatal("nil filter must match")
	}
	if !(&Filter{}).Matches(testCard("Bob")) {
		t.Fatal("empty filter must match")
	}
}

func TestLikePattern(t *testing.T) {
	cases := []struct {
		m    TextMatch
		want string
	}{
		{TextMatch{Value: "abc", MatchType: MatchEquals}, "abc"},
		{TextMatch{Value: "abc", MatchType: MatchContains}, "%abc%"},
		{TextMatch{Value: "abc", MatchType: MatchStartsWith}, "abc%"},
		{TextMatch{Value: "abc", MatchType: MatchEndsWith}, "%abc"},
		{TextMatch{Value: "50%", MatchType: MatchContains}, `%50\%%`},
		{TextMatch{Value: "a_b", MatchType: MatchEquals}, `a\_b`},
	}
	for _, tc := range cases {
		if got := tc.m.LikePattern(); got != tc.want {
			t.Errorf("LikePattern(%q, %d) = %q, want %q", tc.m.Value, tc.m.MatchType, got, tc.want)
		}
	}
}

func TestParseTestAndMatchType(t *testing.T) {
	if ParseTest("anyof") != TestAny || ParseTest("allof") != TestAll || ParseTest("") != TestAll {
		t.Fatal("ParseTest defaults wrong")
	}
	if ParseMatchType("") != MatchContains {
		t.Fatal("default match-type must be contains")
	}
	if ParseMatchType("starts-with") != MatchStartsWith {
		t.Fatal("starts-with not parsed")
	}
}
