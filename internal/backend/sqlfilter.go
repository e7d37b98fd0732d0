package backend

import (
	"strings"

	"github.com/averlon/carddavd/internal/carddav/filter"
)

// CardFilterSQL translates a query filter into a WHERE fragment over
// the card_properties side table. next yields the placeholder for each
// bound argument, so the same builder serves "?" and "$n" dialects. An
// empty fragment means the filter constrains nothing.
//
// The outer query is expected to alias the cards table as c.
func CardFilterSQL(f *filter.Filter, next func() string) (string, []any) {
	if f == nil || len(f.Props) == 0 {
		return "", nil
	}
	var conds []string
	var args []any
	for _, p := range f.Props {
		if p.Match == nil {
			// Property named without a value test.
			conds = append(conds, "1=1")
			continue
		}
		m := p.Match
		name := strings.ToUpper(p.Name)

		// Placeholders must be minted in the order the arguments are
		// appended, or the $n dialect binds them crossed.
		exists := func(negated bool) string {
			phName := next()
			phVal := next()
			args = append(args, name, m.LikePattern())
			op := "LIKE"
			if negated {
				op = "NOT LIKE"
			}
			valExpr := "p.prop_value " + op + " " + phVal + ` ESCAPE '\'`
			if m.Caseless {
				valExpr = "UPPER(p.prop_value) " + op + " UPPER(" + phVal + `) ESCAPE '\'`
			}
			return "EXISTS (SELECT 1 FROM card_properties p" +
				" WHERE p.col_path = c.col_path AND p.card_name = c.name" +
				" AND p.prop_name = " + phName + " AND " + valExpr + ")"
		}

		if m.Negate {
			// Satisfied by an occurrence failing the positive match or
			// by the property being absent entirely.
			pos := exists(false)
			neg := exists(true)
			conds = append(conds, "(NOT "+pos+" OR "+neg+")")
		} else {
			conds = append(conds, exists(false))
		}
	}
	sep := " AND "
	if f.Test == filter.TestAny {
		sep = " OR "
	}
	return "(" + strings.Join(conds, sep) + ")", args
}
