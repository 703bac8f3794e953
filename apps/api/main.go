package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	echoapi "github.com/trezcool/portal/apps/api/echo"
	"github.com/trezcool/portal/core"
	"github.com/trezcool/portal/core/finance"
	"github.com/trezcool/portal/core/meeting"
	"github.com/trezcool/portal/core/training"
	"github.com/trezcool/portal/core/user"
	appfs "github.com/trezcool/portal/fs"
	emailsvc "github.com/trezcool/portal/services/email"
	logsvc "github.com/trezcool/portal/services/logger"
	storagesvc "github.com/trezcool/portal/services/storage"
	throttlesvc "github.com/trezcool/portal/services/throttle"
	"github.com/trezcool/portal/storage/database"
	sqlxrepos "github.com/trezcool/portal/storage/database/sqlx"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf, err := core.NewConfig()
	if err != nil {
		log.Fatalf("loading config: %+v", err)
	}

	// set up loggers
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	dbLogger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	dbLogger.Enable(!conf.Debug)

	// set up DB
	db, err := setUpDB(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = db.Close(); err != nil {
			dbLogger.Fatal("Failed to close", err)
		}
	}()

	tmpls, err := core.ParseEmailTemplates(appfs.FS, appfs.EmailTemplatesDir, conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("parsing email templates: %v", err), err)
	}

	// set up services
	mailSvc := newMailService(tmpls, logger, conf)

	store, err := newFileStorage(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up file storage: %v", err), err)
	}

	throttle, closeThrottle, err := newThrottle(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up login throttle: %v", err), err)
	}
	defer func() {
		if err = closeThrottle(); err != nil {
			logger.Error("closing login throttle", err)
		}
	}()

	usrSvc := user.NewService(db, sqlxrepos.NewUserRepository(db), mailSvc, conf)
	mtgSvc := meeting.NewService(db, sqlxrepos.NewMeetingRepository(db), usrSvc, mailSvc)
	finSvc := finance.NewService(db, sqlxrepos.NewFinanceRepository(db), usrSvc)
	trnSvc := training.NewService(db, sqlxrepos.NewTrainingRepository(db), usrSvc)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)

	commonPasswords, err := user.LoadCommonPasswords(appfs.FS, appfs.CommonPasswordsPath)
	if err != nil {
		logger.Fatal(fmt.Sprintf("loading common passwords: %v", err), err)
	}
	user.InitValidators(validate, translator, commonPasswords)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:        conf,
			Logger:      logger,
			Validate:    validate,
			Translator:  translator,
			Storage:     store,
			Throttle:    throttle,
			UserSvc:     usrSvc,
			MeetingSvc:  mtgSvc,
			FinanceSvc:  finSvc,
			TrainingSvc: trnSvc,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

func setUpDB(conf *core.Config) (*sqlx.DB, error) {
	db, err := database.Open(context.Background(), conf)
	if err != nil {
		return nil, err
	}
	if err = database.Migrate(db.DB, database.MigrateDialect); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// newMailService prints mails in DEV, sends them through Sendgrid when an API key is set, else over SMTP.
func newMailService(tmpls *core.EmailTemplates, logger core.Logger, conf *core.Config) core.EmailService {
	switch {
	case conf.Debug:
		return emailsvc.NewConsoleService(tmpls, log.New(os.Stdout, "MAIL : ", log.LstdFlags), conf)
	case conf.Mailer.SendgridAPIKey != "":
		return emailsvc.NewSendgridService(tmpls, logger, conf)
	default:
		return emailsvc.NewSMTPService(tmpls, logger, conf)
	}
}

func newFileStorage(conf *core.Config) (core.FileStorage, error) {
	if conf.Debug && conf.Storage.Bucket == "" {
		return storagesvc.NewMemoryStorage(conf.FrontendBaseURL+"/files", conf.Storage.SignedURLExpiration), nil
	}
	return storagesvc.NewS3Storage(conf)
}

// newThrottle counts failed logins in Redis when configured, in memory otherwise.
func newThrottle(conf *core.Config) (core.Throttle, func() error, error) {
	if conf.Login.RedisURL == "" {
		return throttlesvc.NewMemoryThrottle(conf.Login.MaxAttempts, conf.Login.Lockout), func() error { return nil }, nil
	}
	return throttlesvc.NewRedisThrottle(context.Background(), conf.Login.RedisURL, conf.Login.MaxAttempts, conf.Login.Lockout)
}
