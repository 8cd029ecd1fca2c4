package gatewaysvc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/admissions/core"
	"github.com/trezcool/admissions/core/submission"
)

const (
	initPath     = "/gwprocess/v4/api.php"
	validatePath = "/validator/api/validationserverAPI.php"
)

type SSLCommerzOptions struct {
	BaseURL       string
	StoreID       string
	StorePassword string
	Timeout       time.Duration
}

// SSLCommerz talks to the SSLCommerz session and validation APIs.
type SSLCommerz struct {
	opts   SSLCommerzOptions
	client *http.Client
}

var _ submission.Gateway = (*SSLCommerz)(nil)

func NewSSLCommerz(opts SSLCommerzOptions, client *http.Client) *SSLCommerz {
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &SSLCommerz{opts: opts, client: client}
}

func NewSSLCommerzFromConfig(conf *core.Config) *SSLCommerz {
	return NewSSLCommerz(SSLCommerzOptions{
		BaseURL:       conf.Gateway.BaseURL,
		StoreID:       conf.Gateway.StoreID,
		StorePassword: conf.Gateway.StorePassword,
		Timeout:       conf.Gateway.Timeout,
	}, nil)
}

type initResponse struct {
	Status         string `json:"status"`
	FailedReason   string `json:"failedreason"`
	SessionKey     string `json:"sessionkey"`
	GatewayPageURL string `json:"GatewayPageURL"`
}

type validationResponse struct {
	Status         string `json:"status"`
	TranID         string `json:"tran_id"`
	ValID          string `json:"val_id"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	CurrencyType   string `json:"currency_type"`
	CurrencyAmount string `json:"currency_amount"`
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func (gw *SSLCommerz) do(req *http.Request, dst interface{}) error {
	resp, err := gw.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "calling gateway")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "reading gateway response")
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("gateway responded with %d: %s", resp.StatusCode, body)
	}
	if err = json.Unmarshal(body, dst); err != nil {
		return errors.Wrap(err, "decoding gateway response")
	}
	return nil
}

func (gw *SSLCommerz) Init(ctx context.Context, req submission.PaymentRequest) (string, error) {
	form := url.Values{}
	form.Set("store_id", gw.opts.StoreID)
	form.Set("store_passwd", gw.opts.StorePassword)
	form.Set("total_amount", req.Amount.StringFixed(2))
	form.Set("currency", req.Currency)
	form.Set("tran_id", req.TranID)
	form.Set("success_url", req.SuccessURL)
	form.Set("fail_url", req.FailURL)
	form.Set("cancel_url", req.CancelURL)
	if req.IPNURL != "" {
		form.Set("ipn_url", req.IPNURL)
	}
	form.Set("cus_name", orDefault(req.Customer.Name, "Applicant"))
	form.Set("cus_email", orDefault(req.Customer.Email, "noreply@example.com"))
	form.Set("cus_phone", orDefault(req.Customer.Phone, "N/A"))
	form.Set("cus_add1", "N/A")
	form.Set("cus_city", "N/A")
	form.Set("cus_country", "Bangladesh")
	form.Set("shipping_method", "NO")
	form.Set("product_name", orDefault(req.ProductName, "Admission Form"))
	form.Set("product_category", "Education")
	form.Set("product_profile", "non-physical-goods")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, gw.opts.BaseURL+initPath, strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.Wrap(err, "building init request")
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp initResponse
	if err = gw.do(httpReq, &resp); err != nil {
		return "", err
	}
	if !strings.EqualFold(resp.Status, "SUCCESS") || resp.GatewayPageURL == "" {
		return "", errors.Errorf("gateway refused session: %s", orDefault(resp.FailedReason, resp.Status))
	}
	return resp.GatewayPageURL, nil
}

func (gw *SSLCommerz) Validate(ctx context.Context, tranID, valID string) (submission.Validation, error) {
	q := url.Values{}
	q.Set("val_id", valID)
	q.Set("store_id", gw.opts.StoreID)
	q.Set("store_passwd", gw.opts.StorePassword)
	q.Set("format", "json")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, gw.opts.BaseURL+validatePath+"?"+q.Encode(), nil)
	if err != nil {
		return submission.Validation{}, errors.Wrap(err, "building validation request")
	}

	var resp validationResponse
	if err = gw.do(httpReq, &resp); err != nil {
		return submission.Validation{}, err
	}

	val := submission.Validation{Status: resp.Status, TranID: resp.TranID, ValID: orDefault(resp.ValID, valID)}
	// currency_type/currency_amount describe the payment as initiated; amount/currency are in the store's currency
	amount, currency := resp.Amount, resp.Currency
	if resp.CurrencyType != "" && resp.CurrencyAmount != "" {
		amount, currency = resp.CurrencyAmount, resp.CurrencyType
	}
	if amount != "" {
		if val.Amount, err = decimal.NewFromString(amount); err != nil {
			return submission.Validation{}, errors.Wrapf(err, "parsing gateway amount %q", amount)
		}
	}
	val.Currency = currency
	return val, nil
}
