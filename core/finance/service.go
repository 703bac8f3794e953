package finance

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/portal/core"
	"github.com/trezcool/portal/core/user"
)

type (
	Repository interface {
		CreateEntry(ctx context.Context, kind Kind, e Entry, exec ...core.DBExecutor) (Entry, error)
		QueryEntries(ctx context.Context, kind Kind, filter QueryFilter, page core.Page, exec ...core.DBExecutor) ([]Entry, int, error)
		GetEntryByID(ctx context.Context, kind Kind, id int, exec ...core.DBExecutor) (Entry, error)
		UpdateEntry(ctx context.Context, kind Kind, e Entry, exec ...core.DBExecutor) (Entry, error)
	}

	// UserFinder resolves the user an entry is recorded for.
	UserFinder interface {
		GetByID(ctx context.Context, id int) (user.User, error)
	}

	Service interface {
		Create(ctx context.Context, kind Kind, creator user.User, ne NewEntry) (Entry, error)
		// Query lists entries of kind. Non admin viewers only see their own entries.
		Query(ctx context.Context, kind Kind, viewer user.User, filter QueryFilter, page core.Page) ([]Entry, int, error)
		GetByID(ctx context.Context, kind Kind, id int) (Entry, error)
		Settle(ctx context.Context, kind Kind, id int) (Entry, error)
		Cancel(ctx context.Context, kind Kind, id int, ce CancelEntry) (Entry, error)
	}

	service struct {
		db    core.DB
		repo  Repository
		users UserFinder
	}
)

var _ Service = (*service)(nil)

func NewService(db core.DB, repo Repository, users UserFinder) Service {
	return &service{db: db, repo: repo, users: users}
}

// NotFoundError returns the error reported when an entry of kind does not exist.
func NotFoundError(kind Kind) error {
	return core.NewNotFoundError(kind.label() + " not found")
}

// Create records a PENDING entry.
// Payments are recorded by admins for a collaborator. Payment requests and refunds are
// recorded by collaborators and experts for themselves, or by admins for anyone.
func (svc *service) Create(ctx context.Context, kind Kind, creator user.User, ne NewEntry) (Entry, error) {
	if ne.UserID == 0 {
		ne.UserID = creator.ID
	}
	if !creator.IsAdmin() && (kind == KindPayment || ne.UserID != creator.ID) {
		return Entry{}, core.NewValidationError(nil, core.FieldError{
			Field: "user_id",
			Error: fmt.Sprintf("cannot record a %s for this user", kind.label()),
		})
	}

	owner, err := svc.users.GetByID(ctx, ne.UserID)
	if err != nil {
		if core.IsNotFound(err) {
			return Entry{}, core.NewValidationError(nil, core.FieldError{Field: "user_id", Error: "user not found"})
		}
		return Entry{}, errors.Wrap(err, "finding entry user")
	}
	if !owner.IsActive() {
		return Entry{}, core.NewValidationError(nil, core.FieldError{Field: "user_id", Error: "user is inactive"})
	}
	if kind == KindPayment && owner.IsAdmin() {
		return Entry{}, core.NewValidationError(nil, core.FieldError{Field: "user_id", Error: "payments are made to collaborators"})
	}

	now := time.Now().UTC()
	return svc.repo.CreateEntry(ctx, kind, Entry{
		Kind:        kind,
		UserID:      owner.ID,
		Amount:      ne.Amount,
		Description: ne.Description,
		Status:      StatusPending,
		CreatedBy:   creator.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func (svc *service) Query(ctx context.Context, kind Kind, viewer user.User, filter QueryFilter, page core.Page) ([]Entry, int, error) {
	if !viewer.IsAdmin() {
		filter.UserID = viewer.ID
	}
	page.Clean()
	return svc.repo.QueryEntries(ctx, kind, filter, page)
}

func (svc *service) GetByID(ctx context.Context, kind Kind, id int) (Entry, error) {
	return svc.repo.GetEntryByID(ctx, kind, id)
}

// Settle moves a PENDING entry to PAID (payments) or APPROVED (payment requests & refunds).
func (svc *service) Settle(ctx context.Context, kind Kind, id int) (Entry, error) {
	return svc.transition(ctx, kind, id, func(e *Entry, now time.Time) {
		e.Status = kind.SettledStatus()
		e.SettledAt = null.TimeFrom(now)
	})
}

// Cancel moves a PENDING entry to CANCELLED, recording why.
func (svc *service) Cancel(ctx context.Context, kind Kind, id int, ce CancelEntry) (Entry, error) {
	if core.CleanString(ce.Reason) == "" {
		return Entry{}, core.NewValidationError(nil, core.FieldError{Field: "reason", Error: "this field cannot be blank"})
	}
	return svc.transition(ctx, kind, id, func(e *Entry, _ time.Time) {
		e.Status = StatusCancelled
		e.Reason = null.StringFrom(core.CleanString(ce.Reason))
	})
}

func (svc *service) transition(ctx context.Context, kind Kind, id int, apply func(e *Entry, now time.Time)) (Entry, error) {
	var entry Entry
	err := core.WithTx(ctx, svc.db, func(exec core.DBExecutor) error {
		var err error
		if entry, err = svc.repo.GetEntryByID(ctx, kind, id, exec); err != nil {
			return err
		}
		if entry.Status != StatusPending {
			return core.NewValidationError(nil, core.FieldError{
				Field: "status",
				Error: fmt.Sprintf("%s is %s and can no longer change", kind.label(), entry.Status),
			})
		}
		now := time.Now().UTC()
		apply(&entry, now)
		entry.UpdatedAt = now
		entry, err = svc.repo.UpdateEntry(ctx, kind, entry, exec)
		return err
	})
	return entry, err
}
