package backend_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/averlon/carddavd/internal/backend"
	"github.com/averlon/carddavd/internal/carddav/filter"
)

func questionMarks() func() string {
	return func() string { return "?" }
}

func dollarFrom(n int) func() string {
	return func() string {
		ph := fmt.Sprintf("$%d", n)
		n++
		return ph
	}
}

func TestCardFilterSQLEmpty(t *testing.T) {
	if frag, args := backend.CardFilterSQL(nil, questionMarks()); frag != "" || args != nil {
		t.Fatalf("nil filter: %q %v", frag, args)
	}
	if frag, _ := backend.CardFilterSQL(&filter.Filter{}, questionMarks()); frag != "" {
		t.Fatalf("empty filter: %q", frag)
	}
}

func TestCardFilterSQLSingleProp(t *testing.T) {
	f := &filter.Filter{Props: []*filter.PropFilter{
		{Name: "email", Match: &filter.TextMatch{Value: "work", MatchType: filter.MatchContains}},
	}}
	frag, args := backend.CardFilterSQL(f, questionMarks())
	if !strings.Contains(frag, "p.prop_name = ?") || !strings.Contains(frag, `LIKE ? ESCAPE '\'`) {
		t.Fatalf("fragment = %s", frag)
	}
	if len(args) != 2 || args[0] != "EMAIL" || args[1] != "%work%" {
		t.Fatalf("args = %v", args)
	}
}

func TestCardFilterSQLDollarPlaceholderOrder(t *testing.T) {
	f := &filter.Filter{Props: []*filter.PropFilter{
		{Name: "FN", Match: &filter.TextMatch{Value: "Alice", MatchType: filter.MatchEquals}},
	}}
	frag, args := backend.CardFilterSQL(f, dollarFrom(2))
	nameIdx := strings.Index(frag, "$2")
	valIdx := strings.Index(frag, "$3")
	if nameIdx < 0 || valIdx < 0 || nameIdx > valIdx {
		t.Fatalf("placeholders out of order: %s", frag)
	}
	if len(args) != 2 || args[0] != "FN" || args[1] != "Alice" {
		t.Fatalf("args must follow placeholder order: %v", args)
	}
}

func TestCardFilterSQLCaseless(t *testing.T) {
	f := &filter.Filter{Props: []*filter.PropFilter{
		{Name: "FN", Match: &filter.TextMatch{Value: "alice", MatchType: filter.MatchEquals, Caseless: true}},
	}}
	frag, _ := backend.CardFilterSQL(f, questionMarks())
	if !strings.Contains(frag, "UPPER(p.prop_value) LIKE UPPER(?)") {
		t.Fatalf("caseless match must fold both sides: %s", frag)
	}
}

func TestCardFilterSQLNegate(t *testing.T) {
	f := &filter.Filter{Props: []*filter.PropFilter{
		{Name: "FN", Match: &filter.TextMatch{Value: "x", MatchType: filter.MatchContains, Negate: true}},
	}}
	frag, args := backend.CardFilterSQL(f, questionMarks())
	if !strings.Contains(frag, "NOT EXISTS") || !strings.Contains(frag, "NOT LIKE") {
		t.Fatalf("negated match: %s", frag)
	}
	if len(args) != 4 {
		t.Fatalf("negation binds both branches, got %d args", len(args))
	}
}

func TestCardFilterSQLAnyOf(t *testing.T) {
	f := &filter.Filter{
		Test: filter.TestAny,
		Props: []*filter.PropFilter{
			{Name: "FN", Match: &filter.TextMatch{Value: "a", MatchType: filter.MatchContains}},
			{Name: "EMAIL", Match: &filter.TextMatch{Value: "b", MatchType: filter.MatchContains}},
		},
	}
	frag, _ := backend.CardFilterSQL(f, questionMarks())
	if !strings.Contains(frag, " OR ") || strings.Contains(frag, " AND EXISTS") {
		t.Fatalf("anyof must join with OR: %s", frag)
	}
}
