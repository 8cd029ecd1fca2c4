package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/admissions/apps/api/echo"
	"github.com/trezcool/admissions/core"
	"github.com/trezcool/admissions/core/catalog"
	"github.com/trezcool/admissions/core/submission"
	"github.com/trezcool/admissions/core/template"
	gatewaysvc "github.com/trezcool/admissions/services/gateway"
	rendersvc "github.com/trezcool/admissions/services/renderer"
	inmemdb "github.com/trezcool/admissions/storage/database/inmem"
	testutil "github.com/trezcool/admissions/tests"
)

type fixture struct {
	cli      *commandLine
	out      *bytes.Buffer
	tmplRepo template.Repository
	subRepo  submission.Repository
	gateway  *gatewaysvc.Sandbox
}

func setup(t *testing.T) *fixture {
	conf := new(core.Config)
	conf.SecretKey = "test-secret"
	conf.Server.JWTExpirationDelta = time.Hour

	logger := testutil.NewLogger()
	assets := testutil.NewAssetStore()
	db := inmemdb.Open()
	tmplRepo := inmemdb.NewTemplateRepository(db)
	subRepo := inmemdb.NewSubmissionRepository(db)
	gateway := gatewaysvc.NewSandbox()

	tmplSvc := template.NewService(tmplRepo, catalog.NewResolver(), assets, logger,
		template.Options{DefaultFee: decimal.RequireFromString("500")})
	subSvc := submission.NewService(subRepo, tmplSvc, gateway,
		rendersvc.NewPDFRenderer(assets, logger, rendersvc.Options{}), logger,
		submission.Options{Currency: "BDT", SuccessURL: "http://api.test/payment/success"})

	out := new(bytes.Buffer)
	return &fixture{
		cli:      &commandLine{conf: conf, tmplSvc: tmplSvc, subSvc: subSvc, out: out},
		out:      out,
		tmplRepo: tmplRepo,
		subRepo:  subRepo,
		gateway:  gateway,
	}
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	wantOut    string
}

func runCLITests(t *testing.T, f *fixture, tests []cliTest) {
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			f.out.Reset()
			err := f.cli.run(args)
			switch {
			case tt.wantErr != nil:
				assert.Equal(t, tt.wantErr, errors.Cause(err))
			case tt.wantErrStr != "":
				require.Error(t, err)
				assert.Equal(t, tt.wantErrStr, err.Error())
			default:
				require.NoError(t, err)
			}
			if tt.wantOut != "" {
				assert.Contains(t, f.out.String(), tt.wantOut)
			}
		})
	}
}

func Test_commandLine_usage(t *testing.T) {
	f := setup(t)
	runCLITests(t, f, []cliTest{
		{name: "no command", wantErr: errHelp, wantOut: "Usage:"},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp, wantOut: "issuetoken"},
		{name: "setdefault: no args", args: []string{"setdefault"}, wantErr: errHelp},
		{name: "reconcile: no val_id", args: []string{"reconcile", "-tran_id", "ADM1"}, wantErr: errHelp},
		{name: "reject: no args", args: []string{"reject"}, wantErr: errHelp},
		{name: "issuetoken: no args", args: []string{"issuetoken"}, wantErr: errHelp},
		{name: "unknown flag", args: []string{"reject", "-lol"}, wantErrStr: "flag provided but not defined: -lol"},
	})
}

func Test_commandLine_migrate(t *testing.T) {
	f := setup(t)

	origRun := runMigrationsFunc
	t.Cleanup(func() { runMigrationsFunc = origRun })
	runMigrationsFunc = func(db *sql.DB, command string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	runCLITests(t, f, []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "create", args: []string{"migrate", "create", "add_receipts", "sql"}},
	})
}

func Test_commandLine_setDefault(t *testing.T) {
	f := setup(t)
	testutil.CreateTemplate(t, f.tmplRepo, "spring", "Spring", true)
	testutil.CreateTemplate(t, f.tmplRepo, "autumn", "Autumn", false)

	runCLITests(t, f, []cliTest{
		{name: "unknown slug", args: []string{"setdefault", "-slug", "nope"}, wantErr: template.ErrNotFound},
		{name: "set", args: []string{"setdefault", "-slug", "Autumn"}, wantOut: "default template: autumn (Autumn)"},
	})

	tmpl, err := f.tmplRepo.GetDefaultTemplate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "autumn", tmpl.Slug)
}

func Test_commandLine_reconcileAndReject(t *testing.T) {
	f := setup(t)
	testutil.CreateTemplate(t, f.tmplRepo, template.BaselineSlug, "Admission Form", true)

	ctx := context.Background()
	res, err := f.cli.subSvc.InitPayment(ctx, submission.NewPayment{FormData: submission.FormData{"name": "Asha"}})
	require.NoError(t, err)
	valID := valIDFrom(t, res.RedirectURL)
	pending := testutil.CreateSubmission(t, f.subRepo, template.BaselineSlug, "Rafi", submission.StatusPending)

	runCLITests(t, f, []cliTest{
		{name: "reconcile unknown", args: []string{"reconcile", "-tran_id", "ADMNOPE", "-val_id", "x"}, wantErr: submission.ErrNotFound},
	})

	t.Run("reconcile forged", func(t *testing.T) {
		err := f.cli.run([]string{"admin", "reconcile", "-tran_id", res.TranID, "-val_id", "FORGED"})
		assert.True(t, core.IsGatewayIntegrity(err), "err = %v", err)
	})

	runCLITests(t, f, []cliTest{
		{name: "reconcile", args: []string{"reconcile", "-tran_id", res.TranID, "-val_id", valID}, wantOut: res.TranID + ": paid"},
		{name: "reject paid is a no-op", args: []string{"reject", "-tran_id", res.TranID}, wantOut: res.TranID + ": paid"},
		{name: "reject", args: []string{"reject", "-tran_id", pending.TranID}, wantOut: pending.TranID + ": rejected"},
	})
}

func Test_commandLine_issueToken(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.cli.run([]string{"admin", "issuetoken", "-subject", "ops@example.com"}))

	raw := strings.TrimSpace(f.out.String())
	claims := new(echoapi.Claims)
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(f.cli.conf.SecretKey), nil
	})
	require.NoError(t, err)
	assert.True(t, claims.IsAdmin)
	assert.Equal(t, "ops@example.com", claims.Subject)
}

func Test_promptSecret(t *testing.T) {
	origRead := readPasswordFunc
	t.Cleanup(func() { readPasswordFunc = origRead })
	readPasswordFunc = func(fd int) ([]byte, error) { return []byte(" s3cret \n"), nil }

	out := new(bytes.Buffer)
	secret, err := promptSecret(out, "Enter gateway store password")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", secret)
	assert.Contains(t, out.String(), "Enter gateway store password:")
}

func valIDFrom(t *testing.T, redirectURL string) string {
	u, err := url.Parse(redirectURL)
	require.NoError(t, err)
	return u.Query().Get("val_id")
}
