package main

import (
	"context"

	"github.com/openchoicepolls/backend/core"
	"github.com/openchoicepolls/backend/core/voter"
)

func (cli *commandLine) resetPassword(uname, pwd string) error {
	ctx := context.Background()
	vtr, err := cli.voterRepo.GetVoter(ctx, voter.GetFilter{Username: core.CleanString(uname, true /* lower */)})
	if err != nil {
		return err
	}
	if err := voter.ValidatePassword(pwd, vtr); err != nil {
		return err
	}
	if err := vtr.SetPassword(pwd); err != nil {
		return err
	}
	if _, err := cli.voterRepo.UpdateVoter(ctx, vtr); err != nil {
		return err
	}
	return nil
}
