package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"syscall"

	"golang.org/x/term"

	"github.com/openchoicepolls/backend/core/voter"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db  *sql.DB
	out io.Writer

	voterRepo voter.Repository
	voterSvc  voter.ServiceInterface
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  createvoters -amount N [-days D] [-question ID] - bulk-create voter accounts")
	fmt.Fprintln(cli.out, "  distributecodes -to EMAIL                       - email undistributed enrollment codes")
	fmt.Fprintln(cli.out, "  resetpassword -username USERNAME                - reset a voter's password (prompted)")
	fmt.Fprintln(cli.out, "  migrate COMMAND [args]                          - run database migrations")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	createVotersCmd := flag.NewFlagSet("createvoters", flag.ExitOnError)
	createVotersAmount := createVotersCmd.Int("amount", 1, "Amount of voters to create.")
	createVotersDays := createVotersCmd.Int("days", 30, "Enrollment code validity in days; 0 means no expiry.")
	createVotersQuestion := createVotersCmd.String("question", "", "Question ID to grant participation on.")

	distributeCodesCmd := flag.NewFlagSet("distributecodes", flag.ExitOnError)
	distributeCodesTo := distributeCodesCmd.String("to", "", "Recipient email address.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ExitOnError)
	resetPasswordUname := resetPasswordCmd.String("username", "", "The voter's username. The password will be prompted next.")

	switch args[1] {
	case "createvoters":
		if err := createVotersCmd.Parse(args[2:]); err != nil {
			return err
		}
		return cli.createVoters(*createVotersAmount, *createVotersDays, *createVotersQuestion)
	case "distributecodes":
		if err := distributeCodesCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *distributeCodesTo == "" {
			distributeCodesCmd.Usage()
			return errHelp
		}
		return cli.distributeCodes(*distributeCodesTo)
	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		fmt.Fprint(cli.out, "Enter password:")
		pwd, err := readPasswordFunc(syscall.Stdin)
		fmt.Fprintln(cli.out)
		if err != nil {
			return err
		}
		if len(pwd) == 0 {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(*resetPasswordUname, string(pwd))
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	default:
		cli.printUsage()
		return errHelp
	}
}
