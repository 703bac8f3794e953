package main

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/portal/core"
	"github.com/trezcool/portal/core/user"
)

// addUser updates or creates an active user.User
func (cli *commandLine) addUser(name, email, document, pwd string, isAdmin bool) error {
	ctx := context.Background()
	name = core.CleanString(name)
	email = core.CleanString(email, true /* lower */)
	document = core.CleanString(document)

	usr, err := cli.usrRepo.GetUserByEmail(ctx, email)
	if err != nil {
		if !core.IsNotFound(err) {
			return err
		}
		if document == "" {
			document = strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
		}
		usr = user.User{
			Email:     email,
			Document:  document,
			Profile:   user.RoleEmployee,
			CreatedAt: time.Now().UTC(),
		}
	} else if document != "" {
		usr.Document = document
	}

	usr.Name = name
	if isAdmin {
		usr.Profile = user.RoleAdmin
	}
	usr.Status = user.StatusActive
	if err = usr.SetPassword(pwd); err != nil {
		return errors.Wrap(err, "hashing password")
	}
	usr.UpdatedAt = time.Now().UTC()

	if usr.ID == 0 {
		_, err = cli.usrRepo.CreateUser(ctx, usr)
		return errors.Wrap(err, "creating user")
	}
	_, err = cli.usrRepo.UpdateUser(ctx, usr)
	return errors.Wrap(err, "updating user")
}
