package main

import (
	"context"
	"fmt"

	echoapi "github.com/trezcool/admissions/apps/api/echo"
)

func (cli *commandLine) setDefault(slug string) error {
	tmpl, err := cli.tmplSvc.SetDefault(context.Background(), slug)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "default template: %s (%s)\n", tmpl.Slug, tmpl.Name)
	return nil
}

func (cli *commandLine) issueToken(subject string) error {
	token, err := echoapi.IssueAdminToken(subject, cli.conf)
	if err != nil {
		return err
	}
	fmt.Fprintln(cli.out, token)
	return nil
}
