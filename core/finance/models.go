package finance

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/portal/core"
)

// Kind is the type of a ledger entry. Each kind has its own table.
type Kind string

const (
	KindPayment        Kind = "payment"
	KindPaymentRequest Kind = "payment_request"
	KindRefund         Kind = "refund"
)

// SettledStatus is the status an entry of kind k reaches when it is paid or approved.
func (k Kind) SettledStatus() Status {
	if k == KindPayment {
		return StatusPaid
	}
	return StatusApproved
}

func (k Kind) IsValid() bool {
	return k == KindPayment || k == KindPaymentRequest || k == KindRefund
}

func (k Kind) label() string {
	switch k {
	case KindPayment:
		return "payment"
	case KindPaymentRequest:
		return "payment request"
	default:
		return "refund"
	}
}

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPaid      Status = "PAID"
	StatusApproved  Status = "APPROVED"
	StatusCancelled Status = "CANCELLED"
)

// Entry is a payment, a payment request or a refund. Entries are never deleted.
type Entry struct {
	ID          int         `db:"id" json:"id"`
	Kind        Kind        `db:"-" json:"kind"`
	UserID      int         `db:"user_id" json:"user_id"`
	UserName    string      `db:"user_name" json:"user_name"`
	Amount      int64       `db:"amount" json:"amount"` // cents
	Description string      `db:"description" json:"description"`
	Status      Status      `db:"status" json:"status"`
	Reason      null.String `db:"reason" json:"reason"`
	CreatedBy   int         `db:"created_by" json:"created_by"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
	SettledAt   null.Time   `db:"settled_at" json:"settled_at"`
}

// NewEntry contains information needed to record an Entry.
// UserID defaults to the creator when empty.
type NewEntry struct {
	UserID      int    `json:"user_id" validate:"gte=0"`
	Amount      int64  `json:"amount" validate:"gt=0"`
	Description string `json:"description" validate:"notblank,max=512"`
}

func (ne *NewEntry) Validate(validate *validator.Validate) error {
	ne.Description = core.CleanString(ne.Description)
	return validate.Struct(ne)
}

type CancelEntry struct {
	Reason string `json:"reason" validate:"notblank"`
}

func (ce *CancelEntry) Validate(validate *validator.Validate) error {
	ce.Reason = core.CleanString(ce.Reason)
	return validate.Struct(ce)
}

type QueryFilter struct {
	Status Status `query:"status"`
	UserID int    `query:"user_id"`
}
