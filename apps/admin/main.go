package main

import (
	"log"
	"os"
	"strings"

	dig_container "github.com/trezcool/admissions/apps/api/di/dig"
	"github.com/trezcool/admissions/core"
	"github.com/trezcool/admissions/core/submission"
	"github.com/trezcool/admissions/core/template"
	"github.com/trezcool/admissions/storage/database"
)

var logger *log.Logger

func main() {
	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	os.Exit(run(os.Args))
}

func run(args []string) int {
	cli := &commandLine{conf: core.NewConfig(), out: os.Stdout}

	switch command(args) {
	case "migrate":
		db, err := database.Open(cli.conf)
		if err != nil {
			logger.Printf("error: %s\n", err)
			return 1
		}
		defer db.Close()
		cli.db = db.DB

	case "setdefault", "reconcile", "reject":
		c := dig_container.New()
		conf := cli.conf
		if command(args) == "reconcile" && strings.EqualFold(conf.Gateway.Provider, "sslcommerz") && conf.Gateway.StorePassword == "" {
			pwd, err := promptSecret(cli.out, "Enter gateway store password")
			if err != nil {
				logger.Printf("error: %s\n", err)
				return 1
			}
			if err = c.Decorate(func(conf *core.Config) *core.Config {
				conf.Gateway.StorePassword = pwd
				return conf
			}); err != nil {
				logger.Printf("error: %s\n", err)
				return 1
			}
		}

		var closeDB dig_container.DBCloser
		if err := c.Invoke(func(tmplSvc template.Service, subSvc submission.Service, closer dig_container.DBCloser) {
			cli.tmplSvc, cli.subSvc, closeDB = tmplSvc, subSvc, closer
		}); err != nil {
			logger.Printf("error: %s\n", err)
			return 1
		}
		defer func() {
			if err := closeDB(); err != nil {
				logger.Printf("error: closing database: %s\n", err)
			}
		}()
	}

	if err := cli.run(args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		return 1
	}
	return 0
}
