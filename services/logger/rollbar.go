package logsvc

import (
	"log"
	"strconv"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/trezcool/portal/core"
	"github.com/trezcool/portal/core/user"
)

// RollbarLogger writes every entry to a standard logger and reports it to Rollbar when enabled.
type RollbarLogger struct {
	std *log.Logger
}

var _ core.Logger = (*RollbarLogger)(nil)

// NewRollbarLogger prints to std and reports to Rollbar, except in debug mode.
func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	rollbar.SetEnabled(!conf.Debug && conf.RollbarToken != "")
	return &RollbarLogger{std: std}
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// actor returns the first user.User (or *user.User) found in args.
func actor(args []interface{}) (user.User, bool) {
	for _, arg := range args {
		switch usr := arg.(type) {
		case user.User:
			return usr, true
		case *user.User:
			if usr != nil {
				return *usr, true
			}
		}
	}
	return user.User{}, false
}

func isActor(arg interface{}) bool {
	switch arg.(type) {
	case user.User, *user.User:
		return true
	}
	return false
}

// prepare sets the Rollbar person from the acting user and returns the remaining args, led by msg.
func (l RollbarLogger) prepare(msg string, args []interface{}) []interface{} {
	if usr, ok := actor(args); ok {
		rollbar.SetPerson(strconv.Itoa(usr.ID), usr.Name, usr.Email)
	} else {
		rollbar.ClearPerson()
	}

	rbArgs := make([]interface{}, 0, len(args)+1)
	rbArgs = append(rbArgs, msg)
	for _, arg := range args {
		if !isActor(arg) {
			rbArgs = append(rbArgs, arg)
		}
	}
	return rbArgs
}

func (l RollbarLogger) print(msg string, args []interface{}) {
	if usr, ok := actor(args); ok {
		l.std.Printf("%s [user %d %s]\n", msg, usr.ID, usr.Email)
	} else {
		l.std.Println(msg)
	}
	for _, arg := range args {
		if !isActor(arg) {
			l.std.Printf("%+v\n", arg)
		}
	}
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	rollbar.Debug(l.prepare(msg, args)...)
	l.print(msg, args)
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	rollbar.Info(l.prepare(msg, args)...)
	l.print(msg, args)
}

// Warn reports a warning. Pass the authenticated user.User to attach the item to that person in Rollbar.
func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	rollbar.Warning(l.prepare(msg, args)...)
	l.print(msg, args)
}

// Error reports an error with its stack trace. Pass the authenticated user.User to attach the item to that person in Rollbar;
// the user is never printed as an extra argument.
func (l RollbarLogger) Error(msg string, args ...interface{}) {
	rollbar.Error(l.prepare(msg, args)...)
	l.print(msg, args)
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	rollbar.Critical(l.prepare(msg, args)...)
	rollbar.Wait()
	l.print(msg, args)
	l.std.Fatal(msg)
}
