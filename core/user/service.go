package user

import (
	"context"
	"net/mail"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/portal/core"
)

var (
	// errors
	ErrNotFound           = core.NewNotFoundError("user not found")
	ErrEmailExists        = errors.New("a user with this email already exists")
	ErrDocumentExists     = errors.New("a user with this document already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type (
	Repository interface {
		// CheckUniqueness returns ErrEmailExists or ErrDocumentExists when another user holds email or document.
		CheckUniqueness(ctx context.Context, email, document string, excludedIDs []int, exec ...core.DBExecutor) error
		CreateUser(ctx context.Context, usr User, exec ...core.DBExecutor) (User, error)
		// QueryUsers applies AND operation on available QueryFilter fields and returns the total match count.
		// QueryFilter.Search does a case-insensitive match on one of User.Name, User.Email or User.Document.
		QueryUsers(ctx context.Context, filter QueryFilter, ordering []core.DBOrdering, page core.Page, exec ...core.DBExecutor) ([]User, int, error)
		GetUserByID(ctx context.Context, id int, exec ...core.DBExecutor) (User, error)
		GetUserByEmail(ctx context.Context, email string, exec ...core.DBExecutor) (User, error)
		GetUsersByIDs(ctx context.Context, ids []int, exec ...core.DBExecutor) ([]User, error)
		UpdateUser(ctx context.Context, usr User, exec ...core.DBExecutor) (User, error)
	}

	Service interface {
		CheckUniqueness(ctx context.Context, email, document string, excludedUsers ...User) error
		Create(ctx context.Context, nu NewUser) (User, error)
		Query(ctx context.Context, filter QueryFilter, ordering []core.DBOrdering, page core.Page) ([]User, int, error)
		GetByID(ctx context.Context, id int) (User, error)
		GetByIDs(ctx context.Context, ids ...int) ([]User, error)
		GetByEmail(ctx context.Context, email string) (User, error)
		Update(ctx context.Context, id int, uu UpdateUser) (User, error)
		SetStatus(ctx context.Context, id int, status Status) (User, error)
		SetPhoto(ctx context.Context, id int, key string) (User, error)
		Authenticate(ctx context.Context, email, pwd string) (User, error)
		SetLastLogin(ctx context.Context, usr User) (User, error)
		RequestPasswordReset(ctx context.Context, email string) error
		ResetPassword(ctx context.Context, data ResetUserPassword) error
	}

	service struct {
		db      core.DB
		repo    Repository
		mailSvc core.EmailService
		conf    *core.Config
		tokens  tokenGenerator
	}
)

var _ Service = (*service)(nil)

func NewService(db core.DB, repo Repository, mailSvc core.EmailService, conf *core.Config) Service {
	return &service{
		db:      db,
		repo:    repo,
		mailSvc: mailSvc,
		conf:    conf,
		tokens:  tokenGenerator{secretKey: conf.SecretKey, timeout: conf.PasswordResetTimeoutDelta},
	}
}

func (svc *service) CheckUniqueness(ctx context.Context, email, document string, exclUsers ...User) error {
	exclIDs := make([]int, 0, len(exclUsers))
	for _, usr := range exclUsers {
		exclIDs = append(exclIDs, usr.ID)
	}

	if err := svc.repo.CheckUniqueness(ctx, email, document, exclIDs); err != nil {
		var field string
		switch errors.Cause(err) {
		case ErrEmailExists:
			field = "email"
		case ErrDocumentExists:
			field = "document"
		default:
			return errors.Wrap(err, "checking uniqueness")
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: errors.Cause(err).Error()})
	}
	return nil
}

func (svc *service) Create(ctx context.Context, nu NewUser) (User, error) {
	now := time.Now().UTC()
	usr := User{
		Name:      nu.Name,
		Email:     nu.Email,
		Document:  nu.Document,
		Phone:     null.NewString(nu.Phone, nu.Phone != ""),
		Profile:   nu.Profile,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}
	return svc.repo.CreateUser(ctx, usr)
}

func (svc *service) Query(ctx context.Context, filter QueryFilter, ordering []core.DBOrdering, page core.Page) ([]User, int, error) {
	filter.Clean()
	page.Clean()
	return svc.repo.QueryUsers(ctx, filter, ordering, page)
}

func (svc *service) GetByID(ctx context.Context, id int) (User, error) {
	return svc.repo.GetUserByID(ctx, id)
}

func (svc *service) GetByIDs(ctx context.Context, ids ...int) ([]User, error) {
	ids = core.UniqueIDs(ids)
	if len(ids) == 0 {
		return []User{}, nil
	}
	return svc.repo.GetUsersByIDs(ctx, ids)
}

func (svc *service) GetByEmail(ctx context.Context, email string) (User, error) {
	return svc.repo.GetUserByEmail(ctx, core.CleanString(email, true /* lower */))
}

func (svc *service) Update(ctx context.Context, id int, uu UpdateUser) (User, error) {
	var usr User
	err := core.WithTx(ctx, svc.db, func(exec core.DBExecutor) error {
		var err error
		if usr, err = svc.repo.GetUserByID(ctx, id, exec); err != nil {
			return err
		}
		usr.Name = uu.Name
		usr.Email = uu.Email
		usr.Document = uu.Document
		usr.Phone = null.NewString(uu.Phone, uu.Phone != "")
		usr.Profile = uu.Profile
		usr.UpdatedAt = time.Now().UTC()
		if uu.Password != "" {
			if err = usr.SetPassword(uu.Password); err != nil {
				return errors.Wrap(err, "setting password")
			}
		}
		usr, err = svc.repo.UpdateUser(ctx, usr, exec)
		return err
	})
	return usr, err
}

// SetStatus (de)activates a user. Users are never deleted.
func (svc *service) SetStatus(ctx context.Context, id int, status Status) (User, error) {
	if !status.IsValid() {
		return User{}, core.NewValidationError(nil, core.FieldError{Field: "status", Error: "invalid status"})
	}
	usr, err := svc.repo.GetUserByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	usr.Status = status
	usr.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *service) SetPhoto(ctx context.Context, id int, key string) (User, error) {
	usr, err := svc.repo.GetUserByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	usr.PhotoKey = null.StringFrom(key)
	usr.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

// Authenticate checks credentials of an active user and records the login.
// Unknown emails, wrong passwords and inactive users all fail with ErrInvalidCredentials.
func (svc *service) Authenticate(ctx context.Context, email, pwd string) (User, error) {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		if core.IsNotFound(err) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, errors.Wrap(err, "finding user by email")
	}
	if err = usr.CheckPassword(pwd); err != nil {
		return User{}, ErrInvalidCredentials
	}
	if !usr.IsActive() {
		return User{}, ErrInvalidCredentials
	}
	return svc.SetLastLogin(ctx, usr)
}

func (svc *service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	usr.LastLogin = null.TimeFrom(time.Now().UTC())
	return svc.repo.UpdateUser(ctx, usr)
}

// RequestPasswordReset mails a password reset link to the active user owning email.
func (svc *service) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !usr.IsActive() {
		return ErrNotFound
	}
	svc.sendPasswordResetMail(usr)
	return nil
}

func (svc *service) sendPasswordResetMail(usr User) {
	uid := EncodeUID(usr)
	token := svc.tokens.makeToken(usr)
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Password Reset",
		TemplateName: "password_reset",
		TemplateData: map[string]interface{}{
			"Name": usr.Name,
			"URL":  svc.conf.FrontendBaseURL + "/password-reset/" + uid + "/" + token,
		},
	})
}

func (svc *service) ResetPassword(ctx context.Context, data ResetUserPassword) error {
	invalid := func() error {
		return core.NewValidationError(errors.New("invalid token"))
	}

	id, err := decodeUID(data.UID)
	if err != nil {
		return invalid()
	}
	usr, err := svc.repo.GetUserByID(ctx, id)
	if err != nil {
		if core.IsNotFound(err) {
			return invalid()
		}
		return errors.Wrap(err, "finding user by ID")
	}
	if !usr.IsActive() {
		return invalid()
	}
	if err = svc.tokens.verifyToken(usr, data.Token); err != nil {
		return invalid()
	}

	if err = usr.SetPassword(data.Password); err != nil {
		return errors.Wrap(err, "setting password")
	}
	usr.UpdatedAt = time.Now().UTC()
	_, err = svc.repo.UpdateUser(ctx, usr)
	return err
}
