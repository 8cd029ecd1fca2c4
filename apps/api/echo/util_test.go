package echoapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/admissions/apps/api/echo"
	"github.com/trezcool/admissions/core"
	"github.com/trezcool/admissions/core/catalog"
	"github.com/trezcool/admissions/core/submission"
	"github.com/trezcool/admissions/core/template"
	gatewaysvc "github.com/trezcool/admissions/services/gateway"
	rendersvc "github.com/trezcool/admissions/services/renderer"
	inmemdb "github.com/trezcool/admissions/storage/database/inmem"
	testutil "github.com/trezcool/admissions/tests"
)

const (
	apiBaseURL      = "http://api.test"
	frontendBaseURL = "http://front.test"
)

var testCtx = context.Background()

type testApp struct {
	server   *Server
	conf     *core.Config
	db       *inmemdb.DB
	tmplRepo template.Repository
	subRepo  submission.Repository
	tmplSvc  template.Service
	subSvc   submission.Service
	assets   *testutil.AssetStore
	logger   *testutil.Logger
}

func newTestConfig() *core.Config {
	conf := new(core.Config)
	conf.AppName = "Admissions"
	conf.Env = "TEST"
	conf.TestMode = true
	conf.SecretKey = "test-secret"
	conf.FrontendBaseURL = frontendBaseURL
	conf.Server.PublicBaseURL = apiBaseURL
	conf.Server.DisableReqLogs = true
	conf.Server.JWTExpirationDelta = time.Hour
	conf.Payment.Currency = "BDT"
	return conf
}

func setup(t *testing.T) *testApp {
	conf := newTestConfig()
	logger := testutil.NewLogger()
	translator := core.NewTranslator()
	validate := core.NewValidator(translator)
	assets := testutil.NewAssetStore()

	// set up DB & repos
	db := inmemdb.Open()
	tmplRepo := inmemdb.NewTemplateRepository(db)
	subRepo := inmemdb.NewSubmissionRepository(db)

	// set up services
	tmplSvc := template.NewService(
		tmplRepo,
		catalog.NewResolver(),
		assets,
		logger,
		template.Options{DefaultFee: decimal.RequireFromString("500")},
	)
	subSvc := submission.NewService(
		subRepo,
		tmplSvc,
		gatewaysvc.NewSandbox(),
		rendersvc.NewPDFRenderer(assets, logger, rendersvc.Options{}),
		logger,
		submission.Options{
			Currency:    "BDT",
			ProductName: "Admission Form",
			SuccessURL:  apiBaseURL + "/payment/success",
			FailURL:     apiBaseURL + "/payment/fail",
			CancelURL:   apiBaseURL + "/payment/cancel",
			IPNURL:      apiBaseURL + "/payment/ipn",
		},
	)

	// set up server
	server := NewServer(ServerDeps{
		Conf:          conf,
		Logger:        logger,
		TemplateSvc:   tmplSvc,
		SubmissionSvc: subSvc,
		Validate:      validate,
		Translator:    translator,
	})
	return &testApp{
		server:   server,
		conf:     conf,
		db:       db,
		tmplRepo: tmplRepo,
		subRepo:  subRepo,
		tmplSvc:  tmplSvc,
		subSvc:   subSvc,
		assets:   assets,
		logger:   logger,
	}
}

func (app *testApp) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	app.server.ServeHTTP(rec, req)
	return rec
}

func (app *testApp) adminToken(t *testing.T) string {
	token, err := IssueAdminToken("ops@example.com", app.conf)
	require.NoError(t, err)
	return token
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) *http.Request {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func newRequest(method, path string, data ...[]byte) *http.Request {
	return newAuthRequest(method, path, "", data...)
}

func marshalObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshalObj() failed: %v", err)
	}
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
