package main

import (
	"context"
	"log"
	"os"

	"github.com/trezcool/portal/core"
	"github.com/trezcool/portal/storage/database"
	sqlxrepos "github.com/trezcool/portal/storage/database/sqlx"
)

var logger *log.Logger

func main() {
	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	conf, err := core.NewConfig()
	errAndDie(err)

	// set up DB
	db, err := database.Open(context.Background(), conf)
	errAndDie(err)

	// start CLI
	cli := commandLine{
		db:      db,
		dialect: database.MigrateDialect,
		usrRepo: sqlxrepos.NewUserRepository(db),
	}
	err = cli.run(os.Args)
	_ = db.Close()
	if err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %+v\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatalf("%+v", err)
	}
}
