// Package client drives the applicant side of an admission payment against the HTTP API:
// it starts the payment, keeps the transaction id across the gateway redirect, then polls
// the download endpoint until the admission form is ready or the payment has failed.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"

	"github.com/trezcool/admissions/core/submission"
)

var (
	ErrNoSession       = errors.New("no pending admission payment in this session")
	ErrStillProcessing = errors.New("payment is still being processed")
)

// APIError is a non-2xx answer of the API.
type APIError struct {
	StatusCode int
	Body       map[string]interface{}
}

func (err *APIError) Error() string {
	if msg, ok := err.Body["error"].(string); ok {
		return fmt.Sprintf("api error %d: %s", err.StatusCode, msg)
	}
	return fmt.Sprintf("api error %d", err.StatusCode)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	session    SessionStore
	newBackoff func() *Backoff
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithBackoff(opts BackoffOptions) Option {
	return func(c *Client) { c.newBackoff = func() *Backoff { return NewBackoff(opts) } }
}

func New(baseURL string, session SessionStore, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		session:    session,
		newBackoff: func() *Backoff { return NewBackoff(DefaultBackoffOptions) },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func readAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	_ = json.NewDecoder(resp.Body).Decode(&apiErr.Body)
	return apiErr
}

// Begin starts a payment and remembers its transaction id. The caller must then send the
// applicant to the returned RedirectURL.
func (c *Client) Begin(ctx context.Context, templateSlug string, formData submission.FormData) (submission.PaymentInit, error) {
	body, err := json.Marshal(submission.NewPayment{TemplateSlug: templateSlug, FormData: formData})
	if err != nil {
		return submission.PaymentInit{}, errors.Wrap(err, "encoding payment")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payment/init", bytes.NewReader(body))
	if err != nil {
		return submission.PaymentInit{}, errors.Wrap(err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return submission.PaymentInit{}, errors.Wrap(err, "initiating payment")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return submission.PaymentInit{}, readAPIError(resp)
	}

	var res submission.PaymentInit
	if err = json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return submission.PaymentInit{}, errors.Wrap(err, "decoding payment init")
	}
	c.session.Set(SessionKey, res.TranID)
	return res, nil
}

// PendingTranID returns the transaction id kept in the session, if any.
func (c *Client) PendingTranID() (string, bool) {
	return c.session.Get(SessionKey)
}

// fetch makes one download attempt and classifies its outcome.
func (c *Client) fetch(ctx context.Context, tranID, valID string) (Result, error) {
	q := url.Values{}
	q.Set("tran_id", tranID)
	if valID != "" {
		q.Set("val_id", valID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/submissions/download?"+q.Encode(), nil)
	if err != nil {
		return Result{}, errors.Wrap(err, "building request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, errors.Wrap(err, "downloading admission form")
	}
	defer resp.Body.Close()

	res := Result{TranID: tranID}
	switch resp.StatusCode {
	case http.StatusOK:
		content, err := io.ReadAll(resp.Body)
		if err != nil {
			return Result{}, errors.Wrap(err, "reading admission form")
		}
		res.Kind = Ready
		res.Content = content
		if name, ok := ParseFilename(resp.Header.Get("Content-Disposition")); ok {
			res.Filename = name
		} else {
			res.Filename = "admission-form.pdf"
		}
	case http.StatusConflict:
		res.Kind = Processing
	default:
		res.Kind = Failed
		res.Err = readAPIError(resp)
	}
	return res, nil
}

// Resume polls for the admission form of the payment kept in the session. onProcessing, if
// not nil, is called before every wait with the number of the next attempt and the delay.
// Polling stops at the first terminal result, which also clears the session, or once the
// attempts are exhausted, with ErrStillProcessing. Cancel ctx to stop polling.
func (c *Client) Resume(ctx context.Context, valID string, onProcessing func(attempt int, delay time.Duration)) (Result, error) {
	tranID, ok := c.PendingTranID()
	if !ok || tranID == "" {
		return Result{}, ErrNoSession
	}

	policy := c.newBackoff()
	operation := func() (Result, error) {
		res, err := c.fetch(ctx, tranID, valID)
		if err != nil {
			if ctx.Err() != nil {
				return res, backoff.Permanent(ctx.Err())
			}
			return res, err // transport errors are retried too
		}
		if res.IsTerminal() {
			return res, nil
		}
		if !policy.ShouldRetry(res) {
			return res, backoff.Permanent(ErrStillProcessing)
		}
		return res, ErrStillProcessing
	}
	notify := func(_ error, delay time.Duration) {
		if onProcessing != nil {
			onProcessing(policy.Attempt(), delay)
		}
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithNotify(notify),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		return res, err
	}
	c.session.Delete(SessionKey)
	if res.Kind == Failed {
		return res, res.Err
	}
	return res, nil
}
