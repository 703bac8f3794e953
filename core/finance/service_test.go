package finance_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/portal/core"
	"github.com/trezcool/portal/core/finance"
	"github.com/trezcool/portal/core/user"
	"github.com/trezcool/portal/services/email"
	"github.com/trezcool/portal/storage/database/sqlx"
	"github.com/trezcool/portal/tests"
)

func setup(t *testing.T) (finance.Service, finance.Repository, user.Repository) {
	conf := testutil.NewConfig(t)
	db := testutil.PrepareDB(t)
	usrRepo := sqlxrepos.NewUserRepository(db)
	repo := sqlxrepos.NewFinanceRepository(db)
	usrSvc := user.NewService(db, usrRepo, emailsvc.NewConsoleServiceMock(testutil.EmailTemplates(t, conf), conf), conf)
	return finance.NewService(db, repo, usrSvc), repo, usrRepo
}

func fieldOf(t *testing.T, err error) string {
	t.Helper()
	var vErr *core.ValidationError
	require.True(t, errors.As(err, &vErr), "expected a validation error, got %v", err)
	require.NotEmpty(t, vErr.Fields)
	return vErr.Fields[0].Field
}

func Test_service_Create(t *testing.T) {
	svc, _, usrRepo := setup(t)
	ctx := context.Background()

	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin@test.cd", "001", "", user.RoleAdmin, true)
	emp := testutil.CreateUser(t, usrRepo, "Emp", "emp@test.cd", "002", "", user.RoleEmployee, true)
	expert := testutil.CreateUser(t, usrRepo, "Expert", "expert@test.cd", "003", "", user.RoleExpert, true)
	naughty := testutil.CreateUser(t, usrRepo, "N Dog", "ndog@test.cd", "004", "", user.RoleExpert, false)

	entry := func(userID int) finance.NewEntry {
		return finance.NewEntry{UserID: userID, Amount: 15000, Description: "March"}
	}

	tests := []struct {
		name      string
		kind      finance.Kind
		creator   user.User
		ne        finance.NewEntry
		wantField string
		wantUser  int
	}{
		{name: "admin pays employee", kind: finance.KindPayment, creator: admin, ne: entry(emp.ID), wantUser: emp.ID},
		{name: "admin cannot pay admin", kind: finance.KindPayment, creator: admin, ne: entry(admin.ID), wantField: "user_id"},
		{name: "employee cannot record payments", kind: finance.KindPayment, creator: emp, ne: entry(emp.ID), wantField: "user_id"},
		{name: "inactive user", kind: finance.KindPayment, creator: admin, ne: entry(naughty.ID), wantField: "user_id"},
		{name: "unknown user", kind: finance.KindRefund, creator: admin, ne: entry(9999), wantField: "user_id"},
		{name: "expert requests for self", kind: finance.KindPaymentRequest, creator: expert, ne: entry(0), wantUser: expert.ID},
		{name: "expert cannot request for others", kind: finance.KindPaymentRequest, creator: expert, ne: entry(emp.ID), wantField: "user_id"},
		{name: "admin records refund for anyone", kind: finance.KindRefund, creator: admin, ne: entry(expert.ID), wantUser: expert.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := svc.Create(ctx, tt.kind, tt.creator, tt.ne)
			if tt.wantField != "" {
				assert.Equal(t, tt.wantField, fieldOf(t, err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, e.Kind)
			assert.Equal(t, tt.wantUser, e.UserID)
			assert.Equal(t, finance.StatusPending, e.Status)
			assert.Equal(t, int64(15000), e.Amount)
			assert.Equal(t, tt.creator.ID, e.CreatedBy)
			assert.False(t, e.SettledAt.Valid)
		})
	}
}

func Test_service_transitions(t *testing.T) {
	svc, repo, usrRepo := setup(t)
	ctx := context.Background()

	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin@test.cd", "001", "", user.RoleAdmin, true)
	emp := testutil.CreateUser(t, usrRepo, "Emp", "emp@test.cd", "002", "", user.RoleEmployee, true)

	for _, kind := range []finance.Kind{finance.KindPayment, finance.KindPaymentRequest, finance.KindRefund} {
		t.Run(string(kind), func(t *testing.T) {
			settled := testutil.CreateEntry(t, repo, kind, emp, admin, 100)
			cancelled := testutil.CreateEntry(t, repo, kind, emp, admin, 200)

			e, err := svc.Settle(ctx, kind, settled.ID)
			require.NoError(t, err)
			assert.Equal(t, kind.SettledStatus(), e.Status)
			assert.True(t, e.SettledAt.Valid)

			_, err = svc.Cancel(ctx, kind, cancelled.ID, finance.CancelEntry{Reason: "  "})
			assert.Equal(t, "reason", fieldOf(t, err))

			e, err = svc.Cancel(ctx, kind, cancelled.ID, finance.CancelEntry{Reason: " duplicate "})
			require.NoError(t, err)
			assert.Equal(t, finance.StatusCancelled, e.Status)
			assert.Equal(t, "duplicate", e.Reason.String)

			// terminal statuses
			_, err = svc.Settle(ctx, kind, cancelled.ID)
			assert.Equal(t, "status", fieldOf(t, err))
			_, err = svc.Cancel(ctx, kind, settled.ID, finance.CancelEntry{Reason: "late"})
			assert.Equal(t, "status", fieldOf(t, err))
			_, err = svc.Settle(ctx, kind, settled.ID)
			assert.Equal(t, "status", fieldOf(t, err))

			_, err = svc.Settle(ctx, kind, 9999)
			assert.True(t, core.IsNotFound(err))
		})
	}
}

func Test_service_Query(t *testing.T) {
	svc, repo, usrRepo := setup(t)
	ctx := context.Background()

	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin@test.cd", "001", "", user.RoleAdmin, true)
	emp := testutil.CreateUser(t, usrRepo, "Emp", "emp@test.cd", "002", "", user.RoleEmployee, true)
	expert := testutil.CreateUser(t, usrRepo, "Expert", "expert@test.cd", "003", "", user.RoleExpert, true)

	e1 := testutil.CreateEntry(t, repo, finance.KindRefund, emp, emp, 100)
	e2 := testutil.CreateEntry(t, repo, finance.KindRefund, expert, expert, 200)
	e3 := testutil.CreateEntry(t, repo, finance.KindRefund, emp, emp, 300)
	testutil.CreateEntry(t, repo, finance.KindPaymentRequest, emp, emp, 400)
	_, err := svc.Settle(ctx, finance.KindRefund, e3.ID)
	require.NoError(t, err)

	ids := func(entries []finance.Entry) []int {
		res := make([]int, 0, len(entries))
		for _, e := range entries {
			res = append(res, e.ID)
		}
		return res
	}

	entries, total, err := svc.Query(ctx, finance.KindRefund, admin, finance.QueryFilter{}, core.Page{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.ElementsMatch(t, []int{e1.ID, e2.ID, e3.ID}, ids(entries))

	entries, _, err = svc.Query(ctx, finance.KindRefund, admin, finance.QueryFilter{UserID: expert.ID}, core.Page{})
	require.NoError(t, err)
	assert.Equal(t, []int{e2.ID}, ids(entries))

	// non admins only see their own entries, whatever the filter
	entries, total, err = svc.Query(ctx, finance.KindRefund, emp, finance.QueryFilter{UserID: expert.ID}, core.Page{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.ElementsMatch(t, []int{e1.ID, e3.ID}, ids(entries))
	assert.Equal(t, "Emp", entries[0].UserName)

	entries, _, err = svc.Query(ctx, finance.KindRefund, emp, finance.QueryFilter{Status: finance.StatusApproved}, core.Page{})
	require.NoError(t, err)
	assert.Equal(t, []int{e3.ID}, ids(entries))

	entries, total, err = svc.Query(ctx, finance.KindRefund, admin, finance.QueryFilter{}, core.Page{Number: 2, PerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, entries, 1)
}
