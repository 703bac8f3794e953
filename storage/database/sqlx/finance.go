package sqlxrepos

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/portal/core"
	"github.com/trezcool/portal/core/finance"
)

var financeTables = map[finance.Kind]string{
	finance.KindPayment:        "payments",
	finance.KindPaymentRequest: "payment_requests",
	finance.KindRefund:         "refunds",
}

const entryColumns = `e.id, e.user_id, u.name AS user_name, e.amount, e.description, e.status, e.reason, e.created_by, e.created_at, e.updated_at, e.settled_at`

type financeRepository struct {
	repository
}

var _ finance.Repository = (*financeRepository)(nil)

func NewFinanceRepository(db *sqlx.DB) finance.Repository {
	return &financeRepository{repository{db: db}}
}

func financeTable(kind finance.Kind) (string, error) {
	table, ok := financeTables[kind]
	if !ok {
		return "", errors.Errorf("unknown finance kind %q", kind)
	}
	return table, nil
}

func (repo financeRepository) selectFrom(table string) string {
	return "SELECT " + entryColumns + " FROM " + table + " e JOIN users u ON u.id = e.user_id"
}

func (repo financeRepository) CreateEntry(ctx context.Context, kind finance.Kind, e finance.Entry, exec ...core.DBExecutor) (finance.Entry, error) {
	table, err := financeTable(kind)
	if err != nil {
		return finance.Entry{}, err
	}
	ex := repo.getExec(exec)
	id, err := insertReturningID(ctx, ex, `
		INSERT INTO `+table+` (user_id, amount, description, status, reason, created_by, created_at, updated_at, settled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.UserID, e.Amount, e.Description, e.Status, e.Reason, e.CreatedBy, e.CreatedAt.UTC(), e.UpdatedAt.UTC(), e.SettledAt,
	)
	if err != nil {
		return finance.Entry{}, errors.Wrapf(err, "inserting into %s", table)
	}
	return repo.GetEntryByID(ctx, kind, id, ex)
}

func (repo financeRepository) QueryEntries(
	ctx context.Context,
	kind finance.Kind,
	filter finance.QueryFilter,
	page core.Page,
	exec ...core.DBExecutor,
) ([]finance.Entry, int, error) {
	table, err := financeTable(kind)
	if err != nil {
		return nil, 0, err
	}
	ex := repo.getExec(exec)

	var conds []string
	var args []interface{}
	if filter.Status != "" {
		conds = append(conds, "e.status = ?")
		args = append(args, filter.Status)
	}
	if filter.UserID > 0 {
		conds = append(conds, "e.user_id = ?")
		args = append(args, filter.UserID)
	}

	total, err := count(ctx, ex, "SELECT COUNT(*) FROM "+table+" e"+where(conds), args...)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "counting %s", table)
	}

	entries := make([]finance.Entry, 0, page.Limit())
	q := repo.selectFrom(table) + where(conds) + " ORDER BY e.created_at DESC, e.id DESC LIMIT ? OFFSET ?"
	if err = sqlx.SelectContext(ctx, ex, &entries, ex.Rebind(q), append(args, page.Limit(), page.Offset())...); err != nil {
		return nil, 0, errors.Wrapf(err, "selecting %s", table)
	}
	for i := range entries {
		entries[i].Kind = kind
	}
	return entries, total, nil
}

func (repo financeRepository) GetEntryByID(ctx context.Context, kind finance.Kind, id int, exec ...core.DBExecutor) (finance.Entry, error) {
	table, err := financeTable(kind)
	if err != nil {
		return finance.Entry{}, err
	}
	var e finance.Entry
	if err = getOne(ctx, repo.getExec(exec), &e, finance.NotFoundError(kind), repo.selectFrom(table)+" WHERE e.id = ?", id); err != nil {
		return finance.Entry{}, err
	}
	e.Kind = kind
	return e, nil
}

func (repo financeRepository) UpdateEntry(ctx context.Context, kind finance.Kind, e finance.Entry, exec ...core.DBExecutor) (finance.Entry, error) {
	table, err := financeTable(kind)
	if err != nil {
		return finance.Entry{}, err
	}
	ex := repo.getExec(exec)
	res, err := ex.ExecContext(ctx, ex.Rebind(`
		UPDATE `+table+`
		SET amount = ?, description = ?, status = ?, reason = ?, updated_at = ?, settled_at = ?
		WHERE id = ?`),
		e.Amount, e.Description, e.Status, e.Reason, e.UpdatedAt.UTC(), e.SettledAt, e.ID,
	)
	if err != nil {
		return finance.Entry{}, errors.Wrapf(err, "updating %s", table)
	}
	if err = affectedOne(res, finance.NotFoundError(kind)); err != nil {
		return finance.Entry{}, err
	}
	return repo.GetEntryByID(ctx, kind, e.ID, ex)
}
