package submission

import (
	"context"
	"encoding/base32"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/admissions/core"
	"github.com/trezcool/admissions/core/catalog"
	"github.com/trezcool/admissions/core/template"
)

var (
	// errors
	ErrNotFound        = core.NewNotFoundError("submission not found")
	ErrDuplicateTranID = errors.New("a submission with this tran_id already exists")
)

const (
	// gateways limit tran_id to 30 characters: ADM + 26 base32 characters fits
	tranIDPrefix    = "ADM"
	maxMintAttempts = 3
	pdfContentType  = "application/pdf"
)

var tranIDEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewTranID mints a URL-safe, collision-resistant transaction id from a random uuid.
func NewTranID() string {
	id := uuid.New()
	return tranIDPrefix + tranIDEncoding.EncodeToString(id[:])
}

type (
	Repository interface {
		// CreateSubmission returns ErrDuplicateTranID when the tran_id is taken.
		CreateSubmission(ctx context.Context, sub Submission) (Submission, error)
		GetSubmission(ctx context.Context, filter GetFilter) (Submission, error)
		QuerySubmissions(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Submission, error)
		// TransitionSubmission moves a pending submission to status, in a single compare-and-set.
		// When the submission is no longer pending, it is returned unchanged with ok == false.
		TransitionSubmission(ctx context.Context, tranID string, status Status, valID string, at time.Time) (sub Submission, ok bool, err error)
		FlagSubmission(ctx context.Context, tranID, reason string, at time.Time) (Submission, error)
	}

	PaymentRequest struct {
		TranID      string
		Amount      decimal.Decimal
		Currency    string
		ProductName string
		Customer    Applicant
		SuccessURL  string
		FailURL     string
		CancelURL   string
		IPNURL      string
	}

	// Validation is the gateway's server-side account of a transaction.
	Validation struct {
		Status   string
		TranID   string
		ValID    string
		Amount   decimal.Decimal
		Currency string // may be empty when the gateway does not report it
	}

	Gateway interface {
		// Init registers the payment and returns the URL the applicant must be redirected to.
		Init(ctx context.Context, req PaymentRequest) (string, error)
		Validate(ctx context.Context, tranID, valID string) (Validation, error)
	}

	// Document is everything a Renderer needs. Fields is the merged layout of Template.
	Document struct {
		Template   template.Template
		Fields     []catalog.FieldDefinition
		Submission Submission
	}

	Renderer interface {
		Render(ctx context.Context, doc Document) ([]byte, error)
	}

	Service interface {
		InitPayment(ctx context.Context, np NewPayment) (PaymentInit, error)
		Confirm(ctx context.Context, tranID, valID, gatewayStatus string) (Submission, error)
		Download(ctx context.Context, tranID, valID string) (File, error)
		DownloadByID(ctx context.Context, id string) (File, error)
		Get(ctx context.Context, filter GetFilter) (Submission, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Submission, error)
		Reconcile(ctx context.Context, tranID, valID string) (Submission, error)
		Reject(ctx context.Context, tranID string) (Submission, error)
	}

	Options struct {
		Currency    string
		ProductName string
		SuccessURL  string
		FailURL     string
		CancelURL   string
		IPNURL      string
	}

	service struct {
		repo      Repository
		templates template.Service
		gateway   Gateway
		renderer  Renderer
		logger    core.Logger
		opts      Options
		mintFunc  func() string
		nowFunc   func() time.Time
	}
)

var _ Service = (*service)(nil)

func NewService(
	repo Repository,
	templates template.Service,
	gateway Gateway,
	renderer Renderer,
	logger core.Logger,
	opts Options,
) Service {
	return &service{
		repo:      repo,
		templates: templates,
		gateway:   gateway,
		renderer:  renderer,
		logger:    logger,
		opts:      opts,
		mintFunc:  NewTranID,
		nowFunc:   func() time.Time { return time.Now().UTC() },
	}
}

func (svc *service) resolveTemplate(ctx context.Context, slug string) (template.Template, error) {
	if slug == "" {
		return svc.templates.GetDefault(ctx)
	}
	tmpl, err := svc.templates.Get(ctx, slug)
	if err != nil {
		if errors.Cause(err) == template.ErrNotFound {
			return template.Template{}, core.NewValidationError(err, core.FieldError{Field: "template_slug", Error: "unknown template"})
		}
		return template.Template{}, err
	}
	return tmpl, nil
}

// checkRequired ensures every visible required field has a non-blank answer.
func checkRequired(fields []catalog.FieldDefinition, data FormData) error {
	var flds []core.FieldError
	for _, f := range fields {
		if !f.Visible || !f.Required {
			continue
		}
		if v, ok := data.Lookup(f.Source); !ok || strings.TrimSpace(v) == "" {
			flds = append(flds, core.FieldError{Field: "form_data." + f.Source, Error: "this field is required"})
		}
	}
	if len(flds) > 0 {
		return core.NewValidationError(errors.New("missing required fields"), flds...)
	}
	return nil
}

func applicantFrom(data FormData) Applicant {
	get := func(path string) string {
		v, _ := data.Lookup(path)
		return core.CleanString(v)
	}
	return Applicant{Name: get("name"), Email: get("email"), Phone: get("phone")}
}

func (svc *service) InitPayment(ctx context.Context, np NewPayment) (PaymentInit, error) {
	tmpl, err := svc.resolveTemplate(ctx, np.TemplateSlug)
	if err != nil {
		return PaymentInit{}, errors.Wrap(err, "resolving template")
	}
	if err = checkRequired(tmpl.LayoutMetadata, np.FormData); err != nil {
		return PaymentInit{}, err
	}

	now := svc.nowFunc()
	sub := Submission{
		TemplateSlug: tmpl.Slug,
		Applicant:    applicantFrom(np.FormData),
		FormData:     np.FormData,
		Amount:       tmpl.Fee,
		Currency:     svc.opts.Currency,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for attempt := 1; ; attempt++ {
		sub.TranID = svc.mintFunc()
		created, err := svc.repo.CreateSubmission(ctx, sub)
		if err == nil {
			sub = created
			break
		}
		if errors.Cause(err) != ErrDuplicateTranID || attempt >= maxMintAttempts {
			return PaymentInit{}, errors.Wrap(err, "creating submission")
		}
	}

	redirectURL, err := svc.gateway.Init(ctx, PaymentRequest{
		TranID:      sub.TranID,
		Amount:      sub.Amount,
		Currency:    sub.Currency,
		ProductName: svc.opts.ProductName,
		Customer:    sub.Applicant,
		SuccessURL:  svc.opts.SuccessURL,
		FailURL:     svc.opts.FailURL,
		CancelURL:   svc.opts.CancelURL,
		IPNURL:      svc.opts.IPNURL,
	})
	if err != nil {
		// the applicant never reached the gateway: do not leave the row pending
		if _, _, rerr := svc.repo.TransitionSubmission(ctx, sub.TranID, StatusRejected, "", svc.nowFunc()); rerr != nil {
			svc.logger.Error("could not reject submission after gateway failure", errors.Wrap(rerr, sub.TranID))
		}
		return PaymentInit{}, errors.Wrap(err, "initiating gateway payment")
	}
	return PaymentInit{RedirectURL: redirectURL, TranID: sub.TranID}, nil
}

// integrityProblem compares the gateway's account of a transaction with the stored submission.
func integrityProblem(sub Submission, val Validation) string {
	status := strings.ToUpper(val.Status)
	switch {
	case status != "VALID" && status != "VALIDATED":
		return fmt.Sprintf("gateway reported status %q", val.Status)
	case val.TranID != sub.TranID:
		return fmt.Sprintf("tran_id mismatch: gateway reported %q", val.TranID)
	case !val.Amount.Equal(sub.Amount):
		return fmt.Sprintf("amount mismatch: expected %s, gateway reported %s", sub.Amount, val.Amount)
	case val.Currency != "" && !strings.EqualFold(val.Currency, sub.Currency):
		return fmt.Sprintf("currency mismatch: expected %s, gateway reported %s", sub.Currency, val.Currency)
	}
	return ""
}

// verify re-validates a success signal with the gateway. A mismatch flags the submission,
// which stays pending.
func (svc *service) verify(ctx context.Context, sub Submission, valID string) error {
	reason := "missing val_id"
	if valID != "" {
		val, err := svc.gateway.Validate(ctx, sub.TranID, valID)
		if err != nil {
			return errors.Wrap(err, "validating payment")
		}
		reason = integrityProblem(sub, val)
	}
	if reason == "" {
		return nil
	}

	if _, err := svc.repo.FlagSubmission(ctx, sub.TranID, reason, svc.nowFunc()); err != nil {
		svc.logger.Error("could not flag submission", errors.Wrap(err, sub.TranID))
	}
	integrityErr := &core.GatewayIntegrityError{TranID: sub.TranID, Reason: reason}
	svc.logger.Error("payment failed gateway validation", integrityErr, map[string]interface{}{
		"tran_id": sub.TranID,
		"val_id":  valID,
	})
	return integrityErr
}

func (svc *service) transition(ctx context.Context, tranID string, status Status, valID string) (Submission, error) {
	sub, ok, err := svc.repo.TransitionSubmission(ctx, tranID, status, valID, svc.nowFunc())
	if err != nil {
		return Submission{}, errors.Wrap(err, "updating submission status")
	}
	if !ok {
		svc.logger.Info("submission already confirmed", map[string]interface{}{"tran_id": tranID, "status": sub.Status})
	}
	return sub, nil
}

// Confirm applies a gateway result. Once a submission is paid or rejected, Confirm returns it
// unchanged regardless of its arguments.
func (svc *service) Confirm(ctx context.Context, tranID, valID, gatewayStatus string) (Submission, error) {
	tranID = core.CleanString(tranID)
	valID = core.CleanString(valID)

	sub, err := svc.repo.GetSubmission(ctx, GetFilter{TranID: tranID})
	if err != nil {
		return Submission{}, errors.Wrap(err, "getting submission")
	}
	if sub.Status.IsTerminal() {
		return sub, nil
	}

	outcome, err := ParseOutcome(gatewayStatus)
	if err != nil {
		return Submission{}, err
	}
	status := StatusRejected
	if outcome == OutcomeSuccess {
		if err = svc.verify(ctx, sub, valID); err != nil {
			return Submission{}, err
		}
		status = StatusPaid
	}
	return svc.transition(ctx, tranID, status, valID)
}

// Reconcile re-validates a pending submission with the gateway on an admin's request.
func (svc *service) Reconcile(ctx context.Context, tranID, valID string) (Submission, error) {
	return svc.Confirm(ctx, tranID, valID, "success")
}

func (svc *service) Reject(ctx context.Context, tranID string) (Submission, error) {
	return svc.Confirm(ctx, tranID, "", "rejected")
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9]+`)

// Filename derives the download name of a submission's document.
func Filename(sub Submission) string {
	name := strings.Trim(unsafeFilenameChars.ReplaceAllString(sub.Applicant.Name, "_"), "_")
	if name == "" {
		name = "Applicant"
	}
	return fmt.Sprintf("Admission_Form_%s_%s.pdf", name, sub.TranID)
}

func (svc *service) render(ctx context.Context, sub Submission) (File, error) {
	switch sub.Status {
	case StatusPending:
		return File{}, &core.ProcessingError{TranID: sub.TranID}
	case StatusRejected:
		return File{}, &core.RejectedError{TranID: sub.TranID}
	}

	tmpl, err := svc.templates.Get(ctx, sub.TemplateSlug)
	if err != nil {
		return File{}, errors.Wrap(err, "getting submission template")
	}
	content, err := svc.renderer.Render(ctx, Document{Template: tmpl, Fields: tmpl.LayoutMetadata, Submission: sub})
	if err != nil {
		return File{}, errors.Wrap(err, "rendering document")
	}
	return File{Filename: Filename(sub), ContentType: pdfContentType, Content: content}, nil
}

// Download never modifies the submission; it is safe to call any number of times.
func (svc *service) Download(ctx context.Context, tranID, valID string) (File, error) {
	sub, err := svc.repo.GetSubmission(ctx, GetFilter{TranID: core.CleanString(tranID)})
	if err != nil {
		return File{}, errors.Wrap(err, "getting submission")
	}
	valID = core.CleanString(valID)
	if sub.Status == StatusPaid && valID != "" && valID != sub.ValID.String {
		return File{}, ErrNotFound
	}
	return svc.render(ctx, sub)
}

func (svc *service) DownloadByID(ctx context.Context, id string) (File, error) {
	sub, err := svc.repo.GetSubmission(ctx, GetFilter{ID: core.CleanString(id)})
	if err != nil {
		return File{}, errors.Wrap(err, "getting submission")
	}
	return svc.render(ctx, sub)
}

func (svc *service) Get(ctx context.Context, filter GetFilter) (Submission, error) {
	sub, err := svc.repo.GetSubmission(ctx, filter)
	if err != nil {
		return Submission{}, errors.Wrap(err, "getting submission")
	}
	return sub, nil
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Submission, error) {
	subs, err := svc.repo.QuerySubmissions(ctx, filter, ordering)
	if err != nil {
		return nil, errors.Wrap(err, "querying submissions")
	}
	return subs, nil
}
