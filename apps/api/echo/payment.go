package echoapi

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/admissions/core"
	"github.com/trezcool/admissions/core/submission"
)

// PaymentReturnPath is where the browser lands on the frontend after the gateway.
const PaymentReturnPath = "/admission/payment-return"

// statuses forced by the gateway return path, whatever the query says
var returnStatuses = map[string]string{
	"success": "success",
	"fail":    "failed",
	"cancel":  "cancelled",
}

type paymentApi struct {
	svc         submission.Service
	validate    *validator.Validate
	logger      core.Logger
	metrics     *Metrics
	frontendURL string
}

func registerPaymentAPI(
	g *echo.Group,
	svc submission.Service,
	validate *validator.Validate,
	logger core.Logger,
	metrics *Metrics,
	frontendURL string,
) {
	api := paymentApi{
		svc:         svc,
		validate:    validate,
		logger:      logger,
		metrics:     metrics,
		frontendURL: strings.TrimRight(frontendURL, "/"),
	}

	pg := g.Group("/payment")
	pg.POST("/init", api.init)
	pg.POST("/ipn", api.ipn)
	for path := range returnStatuses {
		pg.Match([]string{http.MethodGet, http.MethodPost}, "/"+path, api.gatewayReturn(path))
	}
}

// Handlers

func (api *paymentApi) init(ctx echo.Context) error {
	var data submission.NewPayment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewPayment")
	}
	if err := data.Validate(api.validate); err != nil {
		api.metrics.observePaymentInit(err)
		return err
	}

	res, err := api.svc.InitPayment(ctx.Request().Context(), data)
	api.metrics.observePaymentInit(err)
	if err != nil {
		return errors.Wrap(err, "initiating payment")
	}
	return ctx.JSON(http.StatusOK, res)
}

// gatewayReturn confirms the payment the browser was sent back with, then redirects to the frontend.
// The browser never sees an API error page: failures are reported through the status param.
func (api *paymentApi) gatewayReturn(path string) echo.HandlerFunc {
	gatewayStatus := returnStatuses[path]
	return func(ctx echo.Context) error {
		var data submission.Confirmation
		if err := ctx.Bind(&data); err != nil {
			return errors.Wrap(err, "binding to Confirmation")
		}
		data.TranID = core.CleanString(data.TranID)
		data.ValID = core.CleanString(data.ValID)

		status := "error"
		sub, err := api.svc.Confirm(ctx.Request().Context(), data.TranID, data.ValID, gatewayStatus)
		api.metrics.observeConfirmation("return", string(sub.Status), err)
		if err == nil {
			status = string(sub.Status)
			if sub.ValID.Valid {
				data.ValID = sub.ValID.String
			}
		} else if !core.IsGatewayIntegrity(err) {
			api.logger.Warn("could not confirm payment on return", errors.Wrap(err, path), map[string]interface{}{"tran_id": data.TranID})
		}

		q := make(url.Values)
		q.Set("tran_id", data.TranID)
		q.Set("val_id", data.ValID)
		q.Set("status", status)
		return ctx.Redirect(http.StatusSeeOther, api.frontendURL+PaymentReturnPath+"?"+q.Encode())
	}
}

// ipn handles the gateway's server-to-server notification.
func (api *paymentApi) ipn(ctx echo.Context) error {
	var data submission.Confirmation
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Confirmation")
	}
	if err := api.validate.Struct(&data); err != nil {
		return err
	}

	sub, err := api.svc.Confirm(ctx.Request().Context(), data.TranID, data.ValID, data.Status)
	api.metrics.observeConfirmation("ipn", string(sub.Status), err)
	if err != nil {
		return errors.Wrap(err, "confirming payment")
	}
	return ctx.JSON(http.StatusOK, echo.Map{"tran_id": sub.TranID, "status": sub.Status})
}
