package main

import (
	"context"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	echoapi "github.com/openchoicepolls/backend/api/echo"
	"github.com/openchoicepolls/backend/core"
	"github.com/openchoicepolls/backend/core/poll"
	"github.com/openchoicepolls/backend/core/voter"
	emailsvc "github.com/openchoicepolls/backend/services/email"
	logsvc "github.com/openchoicepolls/backend/services/logger"
	"github.com/openchoicepolls/backend/storage/database"
	sqlxrepos "github.com/openchoicepolls/backend/storage/database/sqlx"
)

func main() {
	std := log.New(os.Stdout, "API : ", log.LstdFlags|log.Lshortfile)
	if err := run(std); err != nil {
		std.Fatalf("%+v", err)
	}
}

func run(std *log.Logger) error {
	conf, err := core.NewConfig(core.Getwd())
	if err != nil {
		return err
	}

	logger := logsvc.NewRollbarLogger(std, conf)
	logger.Enable(conf.IsProd())

	// set up DB
	sdb, err := database.Open(conf)
	if err != nil {
		return err
	}
	defer sdb.Close()
	db := sqlx.NewDb(sdb, conf.Database.Engine)

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}

	validate, translator := core.NewValidator()
	core.InitValidators(validate, translator)

	pollRepo := sqlxrepos.NewPollRepository(db)
	var ledger poll.VoteLedger
	if conf.Polls.VoteLedger == "session" {
		ledger = poll.NewSessionLedger(pollRepo)
	} else {
		ledger = poll.NewParticipationLedger(pollRepo)
	}
	pollSvc := poll.NewService(pollRepo, ledger, validate)

	codes := voter.NewCodeGen(rand.NewSource(time.Now().UnixNano()))
	voterSvc := voter.NewService(sqlxrepos.NewVoterRepository(db), codes, pollSvc, mailSvc, conf, validate)

	// start API server
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	app := echoapi.NewServer(&echoapi.Options{
		Conf:           conf,
		Logger:         logger,
		VoterSvc:       voterSvc,
		PollSvc:        pollSvc,
		Validate:       validate,
		Translator:     translator,
		SignalShutdown: func() { shutdown <- syscall.SIGTERM },
	})

	serverErrors := make(chan error, 1)
	go func() { serverErrors <- app.Start() }()

	select {
	case err := <-serverErrors:
		return err
	case sig := <-shutdown:
		logger.Info("shutting down", map[string]interface{}{"signal": sig.String()})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := app.Stop(ctx); err != nil {
			return err
		}
	}
	return nil
}
