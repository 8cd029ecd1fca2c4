package submission

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/admissions/core"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusPaid     Status = "paid"
	StatusRejected Status = "rejected"
)

// IsTerminal reports whether no transition may leave status.
func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusRejected
}

func (s Status) IsValid() bool {
	return s == StatusPending || s.IsTerminal()
}

// Applicant is the identity snapshot taken from the form data at payment initiation.
type Applicant struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// FormData holds the applicant's answers. Values may be nested objects, addressed with dotted paths.
type FormData map[string]interface{}

// Lookup resolves a dotted source path ("address.present") to its string value.
func (fd FormData) Lookup(path string) (string, bool) {
	var cur interface{} = map[string]interface{}(fd)
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return "", false
		}
		if cur, ok = obj[part]; !ok {
			return "", false
		}
	}
	switch v := cur.(type) {
	case nil:
		return "", true
	case string:
		return v, true
	case map[string]interface{}, []interface{}:
		return "", false
	default:
		return fmt.Sprint(v), true
	}
}

type Submission struct {
	ID           string          `json:"id"`
	TemplateSlug string          `json:"template_slug"`
	TranID       string          `json:"tran_id"`
	Applicant    Applicant       `json:"applicant"`
	FormData     FormData        `json:"form_data"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Status       Status          `json:"status"`
	ValID        null.String     `json:"val_id"`
	FlagReason   null.String     `json:"flag_reason"` // set when a success signal failed re-validation
	FlaggedAt    null.Time       `json:"flagged_at"`
	ConfirmedAt  null.Time       `json:"confirmed_at"`
	CreatedAt    time.Time       `json:"created_at"` // UTC
	UpdatedAt    time.Time       `json:"updated_at"` // UTC
}

func (s Submission) IsFlagged() bool {
	return s.FlagReason.Valid
}

// NewPayment contains the information needed to start a payment.
// An empty TemplateSlug selects the default template.
type NewPayment struct {
	TemplateSlug string   `json:"template_slug" validate:"omitempty,max=64"`
	FormData     FormData `json:"form_data" validate:"required"`
}

func (np *NewPayment) Validate(validate *validator.Validate) error {
	np.TemplateSlug = core.CleanString(np.TemplateSlug, true /* lower */)
	if err := validate.Struct(np); err != nil {
		return err
	}
	if email, ok := np.FormData.Lookup("email"); ok && strings.TrimSpace(email) != "" {
		if err := validate.Var(strings.TrimSpace(email), "email"); err != nil {
			return core.NewValidationError(nil, core.FieldError{Field: "form_data.email", Error: "must be a valid email address"})
		}
	}
	return nil
}

type PaymentInit struct {
	RedirectURL string `json:"redirect_url"`
	TranID      string `json:"tran_id"`
}

// Confirmation is what the gateway's return path or IPN reports about a transaction.
type Confirmation struct {
	TranID string `json:"tran_id" query:"tran_id" form:"tran_id" validate:"required"`
	ValID  string `json:"val_id" query:"val_id" form:"val_id"`
	Status string `json:"status" query:"status" form:"status" validate:"required"`
}

// Outcome is a gateway-reported result, normalized.
type Outcome int

const (
	OutcomeSuccess Outcome = iota + 1
	OutcomeFailure
)

// ParseOutcome maps the status strings used by gateways and their return paths.
func ParseOutcome(status string) (Outcome, error) {
	switch strings.ToLower(core.CleanString(status)) {
	case "success", "valid", "validated", "paid":
		return OutcomeSuccess, nil
	case "failed", "fail", "failure", "cancel", "cancelled", "canceled", "rejected", "unattempted", "expired":
		return OutcomeFailure, nil
	}
	return 0, core.NewValidationError(nil, core.FieldError{Field: "status", Error: fmt.Sprintf("unknown gateway status %q", status)})
}

type GetFilter struct {
	ID     string
	TranID string
}

type QueryFilter struct {
	Search       string `query:"search"` // tran_id or applicant name/email
	Status       Status `query:"status"`
	TemplateSlug string `query:"template_slug"`
	Flagged      *bool  `query:"flagged"`
}

func (qf *QueryFilter) Clean() error {
	qf.Search = core.CleanString(qf.Search)
	qf.TemplateSlug = core.CleanString(qf.TemplateSlug, true /* lower */)
	qf.Status = Status(core.CleanString(string(qf.Status), true /* lower */))
	if qf.Status != "" && !qf.Status.IsValid() {
		return core.NewValidationError(nil, core.FieldError{Field: "status", Error: "must be one of pending, paid, rejected"})
	}
	return nil
}

// File is a rendered document ready to be streamed.
type File struct {
	Filename    string
	ContentType string
	Content     []byte
}
