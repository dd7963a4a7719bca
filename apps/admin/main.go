package main

import (
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openchoicepolls/backend/core"
	"github.com/openchoicepolls/backend/core/poll"
	"github.com/openchoicepolls/backend/core/voter"
	emailsvc "github.com/openchoicepolls/backend/services/email"
	logsvc "github.com/openchoicepolls/backend/services/logger"
	"github.com/openchoicepolls/backend/storage/database"
	sqlxrepos "github.com/openchoicepolls/backend/storage/database/sqlx"
)

var logger *log.Logger

func main() {
	defer os.Exit(0)

	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	conf, err := core.NewConfig(core.Getwd())
	errAndDie(err)

	// set up DB
	sdb, err := database.Open(conf)
	errAndDie(err)
	defer sdb.Close()
	errAndDie(sdb.Ping())
	db := sqlx.NewDb(sdb, conf.Database.Engine)

	// set up services
	validate, translator := core.NewValidator()
	core.InitValidators(validate, translator)

	logSvc := logsvc.NewRollbarLogger(logger, conf)
	logSvc.Enable(conf.IsProd())

	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logSvc)
	}

	pollRepo := sqlxrepos.NewPollRepository(db)
	pollSvc := poll.NewService(pollRepo, poll.NewParticipationLedger(pollRepo), validate)

	voterRepo := sqlxrepos.NewVoterRepository(db)
	codes := voter.NewCodeGen(rand.NewSource(time.Now().UnixNano()))
	voterSvc := voter.NewService(voterRepo, codes, pollSvc, mailSvc, conf, validate)

	// start CLI
	cli := commandLine{
		db:        sdb,
		out:       os.Stdout,
		voterRepo: voterRepo,
		voterSvc:  voterSvc,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
