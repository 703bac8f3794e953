package user

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/portal/core"
)

// Role is the user's profile.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleEmployee Role = "EMPLOYEE" // collaborator
	RoleExpert   Role = "EXPERT"
)

var (
	AllRoles = []Role{RoleAdmin, RoleEmployee, RoleExpert}

	Profiles = []Profile{
		{Name: "Admin", Value: RoleAdmin},
		{Name: "Collaborator", Value: RoleEmployee},
		{Name: "Expert", Value: RoleExpert},
	}
)

func (r Role) IsValid() bool {
	for _, role := range AllRoles {
		if r == role {
			return true
		}
	}
	return false
}

type Profile struct {
	Name  string `json:"name"`
	Value Role   `json:"value"`
}

type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

func (s Status) IsValid() bool {
	return s == StatusActive || s == StatusInactive
}

type User struct {
	ID           int         `db:"id" json:"id"`
	Name         string      `db:"name" json:"name"`
	Email        string      `db:"email" json:"email"`
	Document     string      `db:"document" json:"document"`
	Phone        null.String `db:"phone" json:"phone"`
	Profile      Role        `db:"profile" json:"profile"`
	Status       Status      `db:"status" json:"status"`
	PhotoKey     null.String `db:"photo_key" json:"-"`
	Photo        null.String `db:"-" json:"photo"` // signed URL, resolved by the API
	PasswordHash []byte      `db:"password_hash" json:"-"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"` // UTC
	UpdatedAt    time.Time   `db:"updated_at" json:"updated_at"` // UTC
	LastLogin    null.Time   `db:"last_login" json:"last_login"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u *User) IsAdmin() bool  { return u.Profile == RoleAdmin }
func (u *User) IsActive() bool { return u.Status == StatusActive }

// HasRole reports whether the user's profile is one of roles.
func (u *User) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if u.Profile == r {
			return true
		}
	}
	return false
}

// NewUser contains information needed to create a new User.
type NewUser struct {
	Name            string `json:"name" validate:"notblank,max=255"`
	Email           string `json:"email" validate:"required,email,max=255"`
	Document        string `json:"document" validate:"notblank,max=32"`
	Phone           string `json:"phone" validate:"omitempty,max=32"`
	Profile         Role   `json:"profile" validate:"required,profile"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
}

func (nu *NewUser) Validate(ctx context.Context, validate *validator.Validate, svc Service) error {
	nu.Name = core.CleanString(nu.Name)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	nu.Document = cleanDocument(nu.Document)
	nu.Phone = core.CleanString(nu.Phone)

	if err := validate.Struct(nu); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, nu.Email, nu.Document)
}

// UpdateUser defines what information may be provided to modify an existing User.
// Empty fields keep their current value.
type UpdateUser struct {
	Name            string `json:"name" validate:"max=255"`
	Email           string `json:"email" validate:"omitempty,email,max=255"`
	Document        string `json:"document" validate:"max=32"`
	Phone           string `json:"phone" validate:"omitempty,max=32"`
	Profile         Role   `json:"profile" validate:"omitempty,profile"`
	Password        string `json:"password" validate:"omitempty"`
	PasswordConfirm string `json:"password_confirm" validate:"required_with=Password,eqfield=Password"`
}

func (uu *UpdateUser) Validate(ctx context.Context, origUsr User, validate *validator.Validate, svc Service) error {
	if name := core.CleanString(uu.Name); name != "" {
		uu.Name = name
	} else {
		uu.Name = origUsr.Name
	}
	if email := core.CleanString(uu.Email, true /* lower */); email != "" {
		uu.Email = email
	} else {
		uu.Email = origUsr.Email
	}
	if doc := cleanDocument(uu.Document); doc != "" {
		uu.Document = doc
	} else {
		uu.Document = origUsr.Document
	}
	if phone := core.CleanString(uu.Phone); phone != "" {
		uu.Phone = phone
	} else {
		uu.Phone = origUsr.Phone.String
	}
	if uu.Profile == "" {
		uu.Profile = origUsr.Profile
	}

	if err := validate.Struct(uu); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, uu.Email, uu.Document, origUsr)
}

type ResetUserPassword struct {
	Token           string `json:"token,omitempty" validate:"required"`
	UID             string `json:"uid,omitempty" validate:"required"`
	Password        string `json:"password,omitempty" validate:"required"`
	PasswordConfirm string `json:"password_confirm,omitempty" validate:"required,eqfield=Password"`
}

func (rp *ResetUserPassword) Validate(validate *validator.Validate) error { return validate.Struct(rp) }

type QueryFilter struct {
	Search  string `query:"search"`
	Profile Role   `query:"profile"`
	Status  Status `query:"status"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Profile == "" && qf.Status == ""
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Profile = Role(core.CleanString(string(qf.Profile)))
	qf.Status = Status(core.CleanString(string(qf.Status)))
}

// cleanDocument keeps only letters and digits of an identity document number.
func cleanDocument(doc string) string {
	doc = core.CleanString(doc)
	out := make([]rune, 0, len(doc))
	for _, r := range doc {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			out = append(out, r)
		}
	}
	return string(out)
}
