package main

import (
	"context"
	"fmt"
)

func (cli *commandLine) reconcile(tranID, valID string) error {
	sub, err := cli.subSvc.Reconcile(context.Background(), tranID, valID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%s: %s\n", sub.TranID, sub.Status)
	return nil
}

func (cli *commandLine) reject(tranID string) error {
	sub, err := cli.subSvc.Reject(context.Background(), tranID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%s: %s\n", sub.TranID, sub.Status)
	return nil
}
