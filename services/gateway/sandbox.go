package gatewaysvc

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/trezcool/admissions/core/submission"
)

// Sandbox approves every payment without leaving the process. DEV and TEST only.
type Sandbox struct {
	mu       sync.Mutex
	payments map[string]submission.PaymentRequest // by val_id
}

var _ submission.Gateway = (*Sandbox)(nil)

func NewSandbox() *Sandbox {
	return &Sandbox{payments: make(map[string]submission.PaymentRequest)}
}

// Init returns the success URL directly, as the gateway would after a successful payment.
func (gw *Sandbox) Init(ctx context.Context, req submission.PaymentRequest) (string, error) {
	valID := "SBX" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))
	gw.mu.Lock()
	gw.payments[valID] = req
	gw.mu.Unlock()

	q := url.Values{}
	q.Set("tran_id", req.TranID)
	q.Set("val_id", valID)
	q.Set("status", "VALID")
	sep := "?"
	if strings.Contains(req.SuccessURL, "?") {
		sep = "&"
	}
	return req.SuccessURL + sep + q.Encode(), nil
}

func (gw *Sandbox) Validate(ctx context.Context, tranID, valID string) (submission.Validation, error) {
	gw.mu.Lock()
	defer gw.mu.Unlock()

	req, ok := gw.payments[valID]
	if !ok {
		return submission.Validation{Status: "INVALID_TRANSACTION", ValID: valID}, nil
	}
	return submission.Validation{
		Status:   "VALID",
		TranID:   req.TranID,
		ValID:    valID,
		Amount:   req.Amount,
		Currency: req.Currency,
	}, nil
}
