package dig_container

import (
	"fmt"
	"log"
	"os"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/admissions/apps/api/echo"
	"github.com/trezcool/admissions/core"
	"github.com/trezcool/admissions/core/catalog"
	"github.com/trezcool/admissions/core/submission"
	"github.com/trezcool/admissions/core/template"
	assetsvc "github.com/trezcool/admissions/services/assets"
	gatewaysvc "github.com/trezcool/admissions/services/gateway"
	logsvc "github.com/trezcool/admissions/services/logger"
	rendersvc "github.com/trezcool/admissions/services/renderer"
	"github.com/trezcool/admissions/storage/database"
	inmemdb "github.com/trezcool/admissions/storage/database/inmem"
	sqlxrepos "github.com/trezcool/admissions/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

type ValidationParam struct {
	dig.In
	Validate   *validator.Validate
	Translator ut.Translator
}

// DBCloser releases the database connections, if any.
type DBCloser func() error

type StorageResult struct {
	dig.Out
	Templates   template.Repository
	Submissions submission.Repository
	Closer      DBCloser
}

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	return logsvc.NewRollbarLogger(stdLogger, conf)
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	return logsvc.NewRollbarLogger(stdLogger, conf)
}

func newStorage(conf *core.Config, loggerParam DBLoggerParam) StorageResult {
	if conf.Database.InMemory {
		if !conf.IsDevOrTest() {
			loggerParam.Logger.Fatal("in-memory database is only allowed in DEV|TEST mode")
		}
		loggerParam.Logger.Info("using in-memory database")
		db := inmemdb.Open()
		return StorageResult{
			Templates:   inmemdb.NewTemplateRepository(db),
			Submissions: inmemdb.NewSubmissionRepository(db),
			Closer:      func() error { return nil },
		}
	}

	if err := database.CreateIfNotExist(conf); err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	db, err := database.Open(conf)
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	if err = database.Migrate(db.DB); err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return StorageResult{
		Templates:   sqlxrepos.NewTemplateRepository(db),
		Submissions: sqlxrepos.NewSubmissionRepository(db),
		Closer:      db.Close,
	}
}

func newGateway(conf *core.Config, logger core.Logger) submission.Gateway {
	switch strings.ToLower(conf.Gateway.Provider) {
	case "sandbox":
		if !conf.IsDevOrTest() {
			logger.Fatal("sandbox gateway is only allowed in DEV|TEST mode")
		}
		return gatewaysvc.NewSandbox()
	case "sslcommerz":
		return gatewaysvc.NewSSLCommerzFromConfig(conf)
	}
	logger.Fatal(fmt.Sprintf("unknown gateway provider %q", conf.Gateway.Provider))
	return nil
}

func newTemplateOptions(conf *core.Config) (template.Options, error) {
	fee, err := decimal.NewFromString(conf.Payment.DefaultFee)
	if err != nil {
		return template.Options{}, errors.Wrap(err, "parsing payment.defaultFee")
	}
	if !fee.IsPositive() {
		return template.Options{}, errors.Errorf("payment.defaultFee must be greater than 0, got %s", fee)
	}
	return template.Options{DefaultFee: fee}, nil
}

func newSubmissionOptions(conf *core.Config) submission.Options {
	base := strings.TrimRight(conf.Server.PublicBaseURL, "/")
	return submission.Options{
		Currency:    conf.Payment.Currency,
		ProductName: conf.Payment.ProductName,
		SuccessURL:  base + "/payment/success",
		FailURL:     base + "/payment/fail",
		CancelURL:   base + "/payment/cancel",
		IPNURL:      base + "/payment/ipn",
	}
}

func newRendererOptions(conf *core.Config) rendersvc.Options {
	return rendersvc.Options{Compress: !conf.Debug}
}

func newServer(
	conf *core.Config,
	logger core.Logger,
	tmplSvc template.Service,
	subSvc submission.Service,
	deps ValidationParam,
) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:          conf,
		Logger:        logger,
		TemplateSvc:   tmplSvc,
		SubmissionSvc: subSvc,
		Validate:      deps.Validate,
		Translator:    deps.Translator,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newStorage))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(core.NewValidator))
	must(c.Provide(catalog.NewResolver))
	must(c.Provide(assetsvc.NewDiskStoreFromConfig, dig.As(new(template.AssetStore), new(rendersvc.AssetOpener))))
	must(c.Provide(newGateway))
	must(c.Provide(newRendererOptions))
	must(c.Provide(rendersvc.NewPDFRenderer, dig.As(new(submission.Renderer))))
	must(c.Provide(newTemplateOptions))
	must(c.Provide(template.NewService))
	must(c.Provide(newSubmissionOptions))
	must(c.Provide(submission.NewService))
	must(c.Provide(newServer))

	if os.Getenv("DIG_VISUALIZE") != "" {
		_ = dig.Visualize(c, os.Stdout)
	}

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
