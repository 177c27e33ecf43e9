package echoapi

import (
	"sort"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/suriaral/core"
	"github.com/trezcool/suriaral/core/profile"
)

var orderingParam = "ordering"

type fieldOrdering struct {
	Field     string
	Ascending bool
}

// Ordering is bound from `?ordering=-createdAt,email`: a leading "-" sorts descending.
type Ordering struct {
	Orderings []fieldOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return
	}
	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field != "" {
			ord.Orderings = append(ord.Orderings, fieldOrdering{Field: field, Ascending: !descending})
		}
	}
}

// profileLess compares two profiles on one field; unknown fields report 0.
var profileLess = map[string]func(a, b profile.Profile) int{
	"email": func(a, b profile.Profile) int { return strings.Compare(a.Email, b.Email) },
	"displayName": func(a, b profile.Profile) int {
		return strings.Compare(strings.ToLower(a.DisplayName), strings.ToLower(b.DisplayName))
	},
	"createdAt": func(a, b profile.Profile) int { return a.CreatedAt.Compare(b.CreatedAt) },
	"role":      func(a, b profile.Profile) int { return a.Role.Priority() - b.Role.Priority() },
}

// SortProfiles orders profiles by email unless ord says otherwise.
func (ord Ordering) SortProfiles(profiles []profile.Profile) error {
	orderings := ord.Orderings
	for _, o := range orderings {
		if _, ok := profileLess[o.Field]; !ok {
			return core.NewFieldError(orderingParam, "cannot order by "+o.Field)
		}
	}
	orderings = append(orderings, fieldOrdering{Field: "email", Ascending: true})

	sort.SliceStable(profiles, func(i, j int) bool {
		for _, o := range orderings {
			c := profileLess[o.Field](profiles[i], profiles[j])
			if c == 0 {
				continue
			}
			if o.Ascending {
				return c < 0
			}
			return c > 0
		}
		return false
	})
	return nil
}
