package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/portal/core"
)

type repository struct {
	db *sqlx.DB
}

func (repo repository) getExec(exec []core.DBExecutor) core.DBExecutor {
	if len(exec) > 0 && exec[0] != nil {
		return exec[0]
	}
	return repo.db
}

// orderBy builds an ORDER BY clause from the requested orderings.
// allowed maps API field names to columns; dflt is used when nothing is requested.
func orderBy(ordering []core.DBOrdering, allowed map[string]string, dflt string) (string, error) {
	if len(ordering) == 0 {
		return " ORDER BY " + dflt, nil
	}
	clauses := make([]string, 0, len(ordering)+1)
	for _, ord := range ordering {
		col, ok := allowed[ord.Field]
		if !ok {
			return "", core.NewValidationError(nil, core.FieldError{Field: "ordering", Error: "unknown field: " + ord.Field})
		}
		clauses = append(clauses, core.DBOrdering{Field: col, Ascending: ord.Ascending}.String())
	}
	return " ORDER BY " + strings.Join(clauses, ", ") + ", id ASC", nil
}

// where joins conditions with AND.
func where(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func likeArg(s string) string {
	return "%" + strings.ToLower(s) + "%"
}

// getOne runs a single row query, turning sql.ErrNoRows into notFound.
func getOne(ctx context.Context, exec core.DBExecutor, dest interface{}, notFound error, query string, args ...interface{}) error {
	err := sqlx.GetContext(ctx, exec, dest, exec.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	return err
}

func count(ctx context.Context, exec core.DBExecutor, query string, args ...interface{}) (int, error) {
	var total int
	err := sqlx.GetContext(ctx, exec, &total, exec.Rebind(query), args...)
	return total, err
}

func insertReturningID(ctx context.Context, exec core.DBExecutor, query string, args ...interface{}) (int, error) {
	var id int
	if err := sqlx.GetContext(ctx, exec, &id, exec.Rebind(query+" RETURNING id"), args...); err != nil {
		return 0, err
	}
	return id, nil
}

// in expands slice args and rebinds the query for exec's driver.
func in(exec core.DBExecutor, query string, args ...interface{}) (string, []interface{}, error) {
	q, inArgs, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, errors.Wrap(err, "expanding IN args")
	}
	return exec.Rebind(q), inArgs, nil
}

// affectedOne fails with notFound when an UPDATE matched no row.
func affectedOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
