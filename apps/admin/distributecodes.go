package main

import (
	"context"
	"fmt"
	"net/mail"
)

func (cli *commandLine) distributeCodes(to string) error {
	addr, err := mail.ParseAddress(to)
	if err != nil {
		return fmt.Errorf("invalid email address %q", to)
	}

	n, err := cli.voterSvc.DistributeCodes(context.Background(), *addr)
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Fprintln(cli.out, "No undistributed enrollment codes.")
		return nil
	}
	fmt.Fprintf(cli.out, "Distributed %d enrollment code(s) to %s\n", n, addr.Address)
	return nil
}
