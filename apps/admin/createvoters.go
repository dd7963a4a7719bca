package main

import (
	"context"
	"fmt"

	"github.com/openchoicepolls/backend/core/voter"
)

var errPartialBatch = fmt.Errorf("batch stopped early")

// createVoters bulk-creates voter accounts and prints one line per account.
// A partial batch (stopped at the first username collision) reports a warning
// and a non-zero exit.
func (cli *commandLine) createVoters(amount, days int, questionID string) error {
	voters, err := cli.voterSvc.CreateVoters(context.Background(), voter.NewVoters{
		Amount:           amount,
		CodeValidityDays: days,
		QuestionID:       questionID,
	})
	if err != nil {
		return err
	}

	for _, v := range voters {
		fmt.Fprintf(cli.out, "Voter: %s (code: %s)\n", v.Username, v.EnrollmentCode)
	}

	if len(voters) < amount {
		fmt.Fprintf(cli.out, "WARNING: created %d of %d voter(s)\n", len(voters), amount)
		return errPartialBatch
	}
	fmt.Fprintf(cli.out, "Successfully created %d voter(s)\n", len(voters))
	return nil
}
