package echoapi

import (
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/portal/core"
)

var orderingParam = "ordering"

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	data := ctx.QueryParams()
	if len(data) == 0 {
		return
	}
	val, ok := data[orderingParam]
	if !ok || len(val) == 0 || val[0] == "" {
		return
	}

	for _, field := range strings.Split(val[0], ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field == "" {
			continue
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

// bindPage reads `page` & `per_page`; malformed values fall back to the defaults.
func bindPage(ctx echo.Context) core.Page {
	var page core.Page
	page.Number, _ = strconv.Atoi(ctx.QueryParam("page"))
	page.PerPage, _ = strconv.Atoi(ctx.QueryParam("per_page"))
	page.Clean()
	return page
}

// bindTime parses an RFC 3339 query param.
func bindTime(ctx echo.Context, name string) (null.Time, error) {
	val := strings.TrimSpace(ctx.QueryParam(name))
	if val == "" {
		return null.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return null.Time{}, core.NewValidationError(nil, core.FieldError{Field: name, Error: "invalid date, expected RFC 3339"})
	}
	return null.TimeFrom(t.UTC()), nil
}

// paramID reads the `:id` path param; malformed IDs match nothing.
func paramID(ctx echo.Context) (int, error) {
	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil || id <= 0 {
		return 0, errHttpNotFound
	}
	return id, nil
}
