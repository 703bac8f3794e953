package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/portal/core"
	"github.com/trezcool/portal/core/user"
)

const userColumns = `id, name, email, document, phone, profile, status, photo_key, password_hash, created_at, updated_at, last_login`

var userOrderings = map[string]string{
	"id":         "id",
	"name":       "name",
	"email":      "email",
	"profile":    "profile",
	"status":     "status",
	"created_at": "created_at",
	"last_login": "last_login",
}

type userRepository struct {
	repository
}

var _ user.Repository = (*userRepository)(nil)

func NewUserRepository(db *sqlx.DB) user.Repository {
	return &userRepository{repository{db: db}}
}

func (repo userRepository) CheckUniqueness(ctx context.Context, email, document string, excludedIDs []int, exec ...core.DBExecutor) error {
	ex := repo.getExec(exec)

	check := func(column, value string, errExists error) error {
		if value == "" {
			return nil
		}
		q := "SELECT COUNT(*) FROM users WHERE " + column + " = ?"
		args := []interface{}{value}
		if len(excludedIDs) > 0 {
			q += " AND id NOT IN (?)"
			args = append(args, excludedIDs)
		}
		q, args, err := in(ex, q, args...)
		if err != nil {
			return err
		}
		n, err := count(ctx, ex, q, args...)
		if err != nil {
			return errors.Wrapf(err, "counting users by %s", column)
		}
		if n > 0 {
			return errExists
		}
		return nil
	}

	if err := check("email", email, user.ErrEmailExists); err != nil {
		return err
	}
	return check("document", document, user.ErrDocumentExists)
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	ex := repo.getExec(exec)
	id, err := insertReturningID(ctx, ex, `
		INSERT INTO users (name, email, document, phone, profile, status, photo_key, password_hash, created_at, updated_at, last_login)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		usr.Name, usr.Email, usr.Document, usr.Phone, usr.Profile, usr.Status, usr.PhotoKey, usr.PasswordHash,
		usr.CreatedAt.UTC(), usr.UpdatedAt.UTC(), usr.LastLogin,
	)
	if err != nil {
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return repo.GetUserByID(ctx, id, ex)
}

func (repo userRepository) QueryUsers(
	ctx context.Context,
	filter user.QueryFilter,
	ordering []core.DBOrdering,
	page core.Page,
	exec ...core.DBExecutor,
) ([]user.User, int, error) {
	ex := repo.getExec(exec)

	var conds []string
	var args []interface{}
	if filter.Search != "" {
		conds = append(conds, "(LOWER(name) LIKE ? OR LOWER(email) LIKE ? OR LOWER(document) LIKE ?)")
		s := likeArg(filter.Search)
		args = append(args, s, s, s)
	}
	if filter.Profile != "" {
		conds = append(conds, "profile = ?")
		args = append(args, filter.Profile)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}

	order, err := orderBy(ordering, userOrderings, "created_at DESC, id DESC")
	if err != nil {
		return nil, 0, err
	}

	total, err := count(ctx, ex, "SELECT COUNT(*) FROM users"+where(conds), args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "counting users")
	}

	users := make([]user.User, 0, page.Limit())
	q := "SELECT " + userColumns + " FROM users" + where(conds) + order + " LIMIT ? OFFSET ?"
	if err = sqlx.SelectContext(ctx, ex, &users, ex.Rebind(q), append(args, page.Limit(), page.Offset())...); err != nil {
		return nil, 0, errors.Wrap(err, "selecting users")
	}
	return users, total, nil
}

func (repo userRepository) GetUserByID(ctx context.Context, id int, exec ...core.DBExecutor) (user.User, error) {
	var usr user.User
	err := getOne(ctx, repo.getExec(exec), &usr, user.ErrNotFound, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	return usr, err
}

func (repo userRepository) GetUserByEmail(ctx context.Context, email string, exec ...core.DBExecutor) (user.User, error) {
	var usr user.User
	err := getOne(ctx, repo.getExec(exec), &usr, user.ErrNotFound, "SELECT "+userColumns+" FROM users WHERE email = ?", email)
	return usr, err
}

func (repo userRepository) GetUsersByIDs(ctx context.Context, ids []int, exec ...core.DBExecutor) ([]user.User, error) {
	users := make([]user.User, 0, len(ids))
	if len(ids) == 0 {
		return users, nil
	}
	ex := repo.getExec(exec)
	q, args, err := in(ex, "SELECT "+userColumns+" FROM users WHERE id IN (?) ORDER BY id", ids)
	if err != nil {
		return nil, err
	}
	if err = sqlx.SelectContext(ctx, ex, &users, q, args...); err != nil {
		return nil, errors.Wrap(err, "selecting users by IDs")
	}
	return users, nil
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	ex := repo.getExec(exec)
	if usr.UpdatedAt.IsZero() {
		usr.UpdatedAt = time.Now()
	}
	res, err := ex.ExecContext(ctx, ex.Rebind(`
		UPDATE users
		SET name = ?, email = ?, document = ?, phone = ?, profile = ?, status = ?, photo_key = ?,
			password_hash = ?, updated_at = ?, last_login = ?
		WHERE id = ?`),
		usr.Name, usr.Email, usr.Document, usr.Phone, usr.Profile, usr.Status, usr.PhotoKey,
		usr.PasswordHash, usr.UpdatedAt.UTC(), usr.LastLogin, usr.ID,
	)
	if err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if err = affectedOne(res, user.ErrNotFound); err != nil {
		return user.User{}, err
	}
	return repo.GetUserByID(ctx, usr.ID, ex)
}
