package submission_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/admissions/core"
	"github.com/trezcool/admissions/core/catalog"
	"github.com/trezcool/admissions/core/submission"
	"github.com/trezcool/admissions/core/template"
	inmemdb "github.com/trezcool/admissions/storage/database/inmem"
	testutil "github.com/trezcool/admissions/tests"
)

// gateway approves every val_id registered with approve.
type gateway struct {
	mu        sync.Mutex
	initErr   error
	requests  []submission.PaymentRequest
	approved  map[string]submission.Validation // by val_id
	validates int
}

func newGateway() *gateway {
	return &gateway{approved: make(map[string]submission.Validation)}
}

func (gw *gateway) Init(ctx context.Context, req submission.PaymentRequest) (string, error) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if gw.initErr != nil {
		return "", gw.initErr
	}
	gw.requests = append(gw.requests, req)
	return "https://gateway.test/pay/" + req.TranID, nil
}

func (gw *gateway) Validate(ctx context.Context, tranID, valID string) (submission.Validation, error) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	gw.validates++
	if val, ok := gw.approved[valID]; ok {
		return val, nil
	}
	return submission.Validation{Status: "INVALID_TRANSACTION", ValID: valID}, nil
}

func (gw *gateway) approve(tranID, valID string, amount decimal.Decimal) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	gw.approved[valID] = submission.Validation{Status: "VALID", TranID: tranID, ValID: valID, Amount: amount, Currency: "BDT"}
}

type renderer struct {
	mu    sync.Mutex
	calls int
}

func (r *renderer) Render(ctx context.Context, doc submission.Document) ([]byte, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "%%PDF %s %s\n", doc.Template.Slug, doc.Submission.TranID)
	for _, fld := range doc.Fields {
		if !fld.Visible {
			break
		}
		v, _ := doc.Submission.FormData.Lookup(fld.Source)
		fmt.Fprintf(&b, "%s: %s\n", fld.Label, v)
	}
	return []byte(b.String()), nil
}

type fixture struct {
	db       *inmemdb.DB
	repo     submission.Repository
	tmplRepo template.Repository
	gateway  *gateway
	renderer *renderer
	logger   *testutil.Logger
	svc      submission.Service
}

func newFixture(t *testing.T) *fixture {
	db := inmemdb.Open()
	f := &fixture{
		db:       db,
		repo:     inmemdb.NewSubmissionRepository(db),
		tmplRepo: inmemdb.NewTemplateRepository(db),
		gateway:  newGateway(),
		renderer: &renderer{},
		logger:   testutil.NewLogger(),
	}
	tmplSvc := template.NewService(f.tmplRepo, catalog.NewResolver(), testutil.NewAssetStore(), f.logger, template.Options{DefaultFee: testutil.DefaultFee})
	f.svc = submission.NewService(f.repo, tmplSvc, f.gateway, f.renderer, f.logger, submission.Options{
		Currency:    "BDT",
		ProductName: "Admission form",
		SuccessURL:  "http://api.test/payment/success",
		FailURL:     "http://api.test/payment/fail",
		CancelURL:   "http://api.test/payment/cancel",
		IPNURL:      "http://api.test/payment/ipn",
	})
	return f
}

func (f *fixture) init(t *testing.T, slug string, data submission.FormData) submission.PaymentInit {
	res, err := f.svc.InitPayment(context.Background(), submission.NewPayment{TemplateSlug: slug, FormData: data})
	require.NoError(t, err)
	return res
}

func (f *fixture) status(t *testing.T, tranID string) submission.Status {
	sub, err := f.svc.Get(context.Background(), submission.GetFilter{TranID: tranID})
	require.NoError(t, err)
	return sub.Status
}

func TestNewTranID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := submission.NewTranID()
		assert.Len(t, id, 29)
		assert.True(t, strings.HasPrefix(id, "ADM"))
		assert.Regexp(t, `^[A-Z2-7]+$`, id)
		assert.False(t, seen[id], "duplicate tran_id %s", id)
		seen[id] = true
	}
}

func TestFormData_Lookup(t *testing.T) {
	fd := submission.FormData{
		"name":    "Asha",
		"age":     7,
		"address": map[string]interface{}{"present": "Dhaka"},
		"empty":   nil,
		"list":    []interface{}{"a"},
	}
	tests := []struct {
		path   string
		want   string
		wantOk bool
	}{
		{path: "name", want: "Asha", wantOk: true},
		{path: "age", want: "7", wantOk: true},
		{path: "address.present", want: "Dhaka", wantOk: true},
		{path: "address.permanent"},
		{path: "address"},
		{path: "name.first"},
		{path: "empty", wantOk: true},
		{path: "list"},
		{path: "missing"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := fd.Lookup(tt.path)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOk, ok)
		})
	}
}

// Scenarios A, B and C.
func TestService_paymentLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.CreateTemplate(t, f.tmplRepo, "t1-default", "T1", true)

	res := f.init(t, "T1-default", submission.FormData{"name": "Asha"})
	assert.NotEmpty(t, res.TranID)
	assert.Equal(t, "https://gateway.test/pay/"+res.TranID, res.RedirectURL)
	require.Len(t, f.gateway.requests, 1)
	req := f.gateway.requests[0]
	assert.True(t, req.Amount.Equal(testutil.DefaultFee))
	assert.Equal(t, "http://api.test/payment/success", req.SuccessURL)
	assert.Equal(t, "Asha", req.Customer.Name)

	// A: not paid yet
	_, err := f.svc.Download(ctx, res.TranID, "")
	assert.True(t, core.IsProcessing(err), "got %v", err)

	// B: gateway confirms
	f.gateway.approve(res.TranID, "V1", testutil.DefaultFee)
	sub, err := f.svc.Confirm(ctx, res.TranID, "V1", "success")
	require.NoError(t, err)
	assert.Equal(t, submission.StatusPaid, sub.Status)
	assert.Equal(t, "V1", sub.ValID.String)
	assert.True(t, sub.ConfirmedAt.Valid)

	file, err := f.svc.Download(ctx, res.TranID, "V1")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", file.ContentType)
	assert.Equal(t, "Admission_Form_Asha_"+res.TranID+".pdf", file.Filename)
	assert.Contains(t, string(file.Content), "Student Name: Asha")

	// C: a later failure report changes nothing
	sub, err = f.svc.Confirm(ctx, res.TranID, "V2", "failed")
	require.NoError(t, err)
	assert.Equal(t, submission.StatusPaid, sub.Status)
	assert.Equal(t, "V1", sub.ValID.String)
	assert.Equal(t, submission.StatusPaid, f.status(t, res.TranID))
}

func TestService_InitPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	validate := core.NewValidator(core.NewTranslator())

	t.Run("empty slug uses the default template", func(t *testing.T) {
		res := f.init(t, "", submission.FormData{"name": "Rafi"})
		sub, err := f.svc.Get(ctx, submission.GetFilter{TranID: res.TranID})
		require.NoError(t, err)
		assert.Equal(t, template.BaselineSlug, sub.TemplateSlug)
		assert.Equal(t, submission.StatusPending, sub.Status)
		assert.True(t, sub.Amount.Equal(testutil.DefaultFee))
		assert.Equal(t, "BDT", sub.Currency)
	})

	t.Run("form data is snapshotted", func(t *testing.T) {
		data := submission.FormData{"name": "Mita", "address": map[string]interface{}{"present": "Khulna"}}
		res := f.init(t, "", data)
		data["name"] = "changed"
		data["address"].(map[string]interface{})["present"] = "changed"

		sub, err := f.svc.Get(ctx, submission.GetFilter{TranID: res.TranID})
		require.NoError(t, err)
		assert.Equal(t, "Mita", sub.Applicant.Name)
		v, _ := sub.FormData.Lookup("address.present")
		assert.Equal(t, "Khulna", v)
	})

	tests := []struct {
		name      string
		np        submission.NewPayment
		wantField string
	}{
		{name: "unknown template", np: submission.NewPayment{TemplateSlug: "nope", FormData: submission.FormData{"name": "A"}}, wantField: "template_slug"},
		{name: "missing name", np: submission.NewPayment{FormData: submission.FormData{"email": "a@b.co"}}, wantField: "form_data.name"},
		{name: "blank name", np: submission.NewPayment{FormData: submission.FormData{"name": "  "}}, wantField: "form_data.name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before, err := f.svc.Query(ctx, nil, nil)
			require.NoError(t, err)

			_, err = f.svc.InitPayment(ctx, tt.np)
			verr, ok := errors.Cause(err).(*core.ValidationError)
			require.True(t, ok, "got %v", err)
			require.NotEmpty(t, verr.Fields)
			assert.Equal(t, tt.wantField, verr.Fields[0].Field)

			after, err := f.svc.Query(ctx, nil, nil)
			require.NoError(t, err)
			assert.Len(t, after, len(before), "nothing is written on validation errors")
		})
	}

	t.Run("bad email", func(t *testing.T) {
		np := submission.NewPayment{FormData: submission.FormData{"name": "A", "email": "not-an-email"}}
		err := np.Validate(validate)
		verr, ok := errors.Cause(err).(*core.ValidationError)
		require.True(t, ok, "got %v", err)
		assert.Equal(t, "form_data.email", verr.Fields[0].Field)
	})

	t.Run("gateway failure rejects the submission", func(t *testing.T) {
		f.gateway.initErr = errors.New("store suspended")
		defer func() { f.gateway.initErr = nil }()

		_, err := f.svc.InitPayment(ctx, submission.NewPayment{FormData: submission.FormData{"name": "A"}})
		require.Error(t, err)

		search := "A"
		subs, err := f.svc.Query(ctx, &submission.QueryFilter{Search: search, Status: submission.StatusRejected}, nil)
		require.NoError(t, err)
		assert.Len(t, subs, 1)
	})
}

func TestService_InitPayment_remintsOnCollision(t *testing.T) {
	f := newFixture(t)
	testutil.CreateTemplate(t, f.tmplRepo, "t1", "T1", true)
	taken := testutil.CreateSubmission(t, f.repo, "t1", "Old", submission.StatusPending)

	ids := []string{taken.TranID, taken.TranID, "ADMFRESH"}
	submission.SetMintFunc(f.svc, func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	})
	res := f.init(t, "t1", submission.FormData{"name": "New"})
	assert.Equal(t, "ADMFRESH", res.TranID)

	ids = []string{taken.TranID, taken.TranID, taken.TranID}
	_, err := f.svc.InitPayment(context.Background(), submission.NewPayment{FormData: submission.FormData{"name": "New"}})
	assert.Equal(t, submission.ErrDuplicateTranID, errors.Cause(err))
}

func TestService_Confirm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.CreateTemplate(t, f.tmplRepo, "t1", "T1", true)

	t.Run("failure rejects", func(t *testing.T) {
		res := f.init(t, "t1", submission.FormData{"name": "A"})
		sub, err := f.svc.Confirm(ctx, res.TranID, "", "cancelled")
		require.NoError(t, err)
		assert.Equal(t, submission.StatusRejected, sub.Status)

		// a later success cannot resurrect it
		f.gateway.approve(res.TranID, "V9", testutil.DefaultFee)
		sub, err = f.svc.Confirm(ctx, res.TranID, "V9", "success")
		require.NoError(t, err)
		assert.Equal(t, submission.StatusRejected, sub.Status)

		_, err = f.svc.Download(ctx, res.TranID, "")
		assert.True(t, core.IsRejected(err), "got %v", err)
	})

	t.Run("unknown tran_id", func(t *testing.T) {
		_, err := f.svc.Confirm(ctx, "ADMNOPE", "V1", "success")
		assert.True(t, core.IsNotFound(err))
	})

	t.Run("unknown status", func(t *testing.T) {
		res := f.init(t, "t1", submission.FormData{"name": "A"})
		_, err := f.svc.Confirm(ctx, res.TranID, "V1", "maybe")
		_, ok := errors.Cause(err).(*core.ValidationError)
		assert.True(t, ok, "got %v", err)
		assert.Equal(t, submission.StatusPending, f.status(t, res.TranID))
	})

	integrity := []struct {
		name   string
		valID  string
		setup  func(tranID string)
		reason string
	}{
		{name: "missing val_id", reason: "missing val_id"},
		{name: "forged val_id", valID: "FORGED", reason: "gateway reported status"},
		{
			name: "other transaction", valID: "V-OTHER",
			setup:  func(tranID string) { f.gateway.approve("ADMOTHER", "V-OTHER", testutil.DefaultFee) },
			reason: "tran_id mismatch",
		},
		{
			name: "amount mismatch", valID: "V-CHEAP",
			setup:  func(tranID string) { f.gateway.approve(tranID, "V-CHEAP", decimal.RequireFromString("5")) },
			reason: "amount mismatch",
		},
	}
	for _, tt := range integrity {
		t.Run(tt.name, func(t *testing.T) {
			res := f.init(t, "t1", submission.FormData{"name": "A"})
			if tt.setup != nil {
				tt.setup(res.TranID)
			}
			_, err := f.svc.Confirm(ctx, res.TranID, tt.valID, "success")
			require.True(t, core.IsGatewayIntegrity(err), "got %v", err)

			sub, err := f.svc.Get(ctx, submission.GetFilter{TranID: res.TranID})
			require.NoError(t, err)
			assert.Equal(t, submission.StatusPending, sub.Status)
			assert.True(t, sub.IsFlagged())
			assert.Contains(t, sub.FlagReason.String, tt.reason)
			assert.Contains(t, f.logger.Messages("error"), "payment failed gateway validation")

			_, err = f.svc.Download(ctx, res.TranID, tt.valID)
			assert.True(t, core.IsProcessing(err))
		})
	}

	t.Run("currency mismatch", func(t *testing.T) {
		res := f.init(t, "t1", submission.FormData{"name": "A"})
		f.gateway.mu.Lock()
		f.gateway.approved["V-USD"] = submission.Validation{Status: "VALIDATED", TranID: res.TranID, Amount: testutil.DefaultFee, Currency: "USD"}
		f.gateway.mu.Unlock()

		_, err := f.svc.Confirm(ctx, res.TranID, "V-USD", "success")
		assert.True(t, core.IsGatewayIntegrity(err))

		flagged := true
		subs, err := f.svc.Query(ctx, &submission.QueryFilter{Flagged: &flagged}, nil)
		require.NoError(t, err)
		assert.NotEmpty(t, subs)
	})
}

func TestService_Confirm_concurrentDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.CreateTemplate(t, f.tmplRepo, "t1", "T1", true)
	res := f.init(t, "t1", submission.FormData{"name": "A"})
	f.gateway.approve(res.TranID, "V1", testutil.DefaultFee)

	var wg sync.WaitGroup
	statuses := make([]submission.Status, 40)
	for i := range statuses {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := "success"
			if i%2 == 1 {
				status = "failed"
			}
			sub, err := f.svc.Confirm(ctx, res.TranID, "V1", status)
			if assert.NoError(t, err) {
				statuses[i] = sub.Status
			}
			// a racing download only ever sees pending or paid
			if _, err := f.svc.Download(ctx, res.TranID, ""); err != nil {
				assert.True(t, core.IsProcessing(err) || core.IsRejected(err), "got %v", err)
			}
		}(i)
	}
	wg.Wait()

	final := f.status(t, res.TranID)
	require.True(t, final.IsTerminal())
	for _, s := range statuses {
		assert.Equal(t, final, s, "every caller observes the single winning transition")
	}
}

func TestService_Download(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.CreateTemplate(t, f.tmplRepo, "t1", "T1", true)
	res := f.init(t, "t1", submission.FormData{"name": "Asha Rahman", "phone": "01700000000"})
	f.gateway.approve(res.TranID, "V1", testutil.DefaultFee)
	_, err := f.svc.Confirm(ctx, res.TranID, "V1", "VALID")
	require.NoError(t, err)

	first, err := f.svc.Download(ctx, res.TranID, "V1")
	require.NoError(t, err)
	assert.Equal(t, "Admission_Form_Asha_Rahman_"+res.TranID+".pdf", first.Filename)
	for i := 0; i < 5; i++ {
		again, err := f.svc.Download(ctx, res.TranID, "V1")
		require.NoError(t, err)
		assert.Equal(t, first.Content, again.Content)
	}
	before, err := f.svc.Get(ctx, submission.GetFilter{TranID: res.TranID})
	require.NoError(t, err)
	assert.Equal(t, 1, f.gateway.validates, "downloads never re-validate")

	tests := []struct {
		name    string
		tranID  string
		valID   string
		wantErr func(error) bool
	}{
		{name: "without val_id", tranID: res.TranID},
		{name: "wrong val_id", tranID: res.TranID, valID: "V2", wantErr: core.IsNotFound},
		{name: "unknown tran_id", tranID: "ADMNOPE", wantErr: core.IsNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Download(ctx, tt.tranID, tt.valID)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, tt.wantErr(err), "got %v", err)
		})
	}

	byID, err := f.svc.DownloadByID(ctx, before.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Content, byID.Content)

	after, err := f.svc.Get(ctx, submission.GetFilter{TranID: res.TranID})
	require.NoError(t, err)
	assert.Equal(t, before, after, "downloads do not modify the submission")
}

func TestService_ReconcileAndReject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.CreateTemplate(t, f.tmplRepo, "t1", "T1", true)

	res := f.init(t, "t1", submission.FormData{"name": "A"})
	_, err := f.svc.Confirm(ctx, res.TranID, "FORGED", "success")
	require.True(t, core.IsGatewayIntegrity(err))

	// the real val_id arrives through an operator
	f.gateway.approve(res.TranID, "V1", testutil.DefaultFee)
	sub, err := f.svc.Reconcile(ctx, res.TranID, "V1")
	require.NoError(t, err)
	assert.Equal(t, submission.StatusPaid, sub.Status)
	assert.True(t, sub.IsFlagged(), "flag history is kept")

	sub, err = f.svc.Reject(ctx, res.TranID)
	require.NoError(t, err)
	assert.Equal(t, submission.StatusPaid, sub.Status)

	other := f.init(t, "t1", submission.FormData{"name": "B"})
	sub, err = f.svc.Reject(ctx, other.TranID)
	require.NoError(t, err)
	assert.Equal(t, submission.StatusRejected, sub.Status)
}

func TestService_Query(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.CreateTemplate(t, f.tmplRepo, "t1", "T1", true)
	testutil.CreateTemplate(t, f.tmplRepo, "t2", "T2", false)
	testutil.CreateSubmission(t, f.repo, "t1", "Asha", submission.StatusPaid)
	testutil.CreateSubmission(t, f.repo, "t1", "Rafi", submission.StatusPending)
	testutil.CreateSubmission(t, f.repo, "t2", "Mita", submission.StatusRejected)

	tests := []struct {
		name      string
		filter    *submission.QueryFilter
		wantNames []string
	}{
		{name: "all", wantNames: []string{"Asha", "Mita", "Rafi"}},
		{name: "by status", filter: &submission.QueryFilter{Status: submission.StatusPaid}, wantNames: []string{"Asha"}},
		{name: "by template", filter: &submission.QueryFilter{TemplateSlug: "t1"}, wantNames: []string{"Asha", "Rafi"}},
		{name: "by search", filter: &submission.QueryFilter{Search: "mita"}, wantNames: []string{"Mita"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subs, err := f.svc.Query(ctx, tt.filter, nil)
			require.NoError(t, err)
			names := make([]string, 0, len(subs))
			for _, s := range subs {
				names = append(names, s.Applicant.Name)
			}
			assert.ElementsMatch(t, tt.wantNames, names)
		})
	}

	bad := submission.QueryFilter{Status: "refunded"}
	assert.Error(t, bad.Clean())
}
