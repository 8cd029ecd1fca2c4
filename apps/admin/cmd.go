package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/trezcool/admissions/core"
	"github.com/trezcool/admissions/core/submission"
	"github.com/trezcool/admissions/core/template"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	conf    *core.Config
	db      *sql.DB
	tmplSvc template.Service
	subSvc  submission.Service
	out     io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run a goose command (up, down, status, ...)")
	fmt.Fprintln(cli.out, "  setdefault -slug SLUG - make a template the default one")
	fmt.Fprintln(cli.out, "  reconcile -tran_id TRAN_ID -val_id VAL_ID - re-validate a pending payment with the gateway")
	fmt.Fprintln(cli.out, "  reject -tran_id TRAN_ID - reject a pending payment")
	fmt.Fprintln(cli.out, "  issuetoken -subject SUBJECT - mint an admin API token")
}

// command returns the sub-command of args, if any.
func command(args []string) string {
	if len(args) < 2 {
		return ""
	}
	return args[1]
}

// promptSecret reads a value from the terminal without echoing it.
func promptSecret(out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label+":")
	secret, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(out)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(secret)), nil
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	setDefaultCmd := flag.NewFlagSet("setdefault", flag.ContinueOnError)
	setDefaultSlug := setDefaultCmd.String("slug", "", "The slug of the template.")

	reconcileCmd := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	reconcileTranID := reconcileCmd.String("tran_id", "", "The transaction id of the submission.")
	reconcileValID := reconcileCmd.String("val_id", "", "The validation id issued by the gateway.")

	rejectCmd := flag.NewFlagSet("reject", flag.ContinueOnError)
	rejectTranID := rejectCmd.String("tran_id", "", "The transaction id of the submission.")

	issueTokenCmd := flag.NewFlagSet("issuetoken", flag.ContinueOnError)
	issueTokenSubject := issueTokenCmd.String("subject", "", "Who the token is issued to, eg. an email.")

	for _, fs := range []*flag.FlagSet{setDefaultCmd, reconcileCmd, rejectCmd, issueTokenCmd} {
		fs.SetOutput(cli.out)
	}

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "setdefault":
		if err := setDefaultCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *setDefaultSlug == "" {
			setDefaultCmd.Usage()
			return errHelp
		}
		return cli.setDefault(*setDefaultSlug)

	case "reconcile":
		if err := reconcileCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *reconcileTranID == "" || *reconcileValID == "" {
			reconcileCmd.Usage()
			return errHelp
		}
		return cli.reconcile(*reconcileTranID, *reconcileValID)

	case "reject":
		if err := rejectCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *rejectTranID == "" {
			rejectCmd.Usage()
			return errHelp
		}
		return cli.reject(*rejectTranID)

	case "issuetoken":
		if err := issueTokenCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *issueTokenSubject == "" {
			issueTokenCmd.Usage()
			return errHelp
		}
		return cli.issueToken(*issueTokenSubject)

	default:
		cli.printUsage()
		return errHelp
	}
}
