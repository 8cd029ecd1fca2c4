package echoapi

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/admissions/core/submission"
)

type submissionApi struct {
	svc     submission.Service
	metrics *Metrics
}

func registerSubmissionAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc submission.Service, metrics *Metrics) {
	api := submissionApi{svc: svc, metrics: metrics}

	sg := g.Group("/submissions")

	// correlated by tran_id (+ val_id), no account needed
	sg.GET("/download", api.download)

	// admin endpoints
	ag := sg.Group("", jwt, adminMiddleware())
	ag.GET("", api.query)
	ag.GET("/:id", api.retrieve)
	ag.GET("/:id/download", api.downloadByID)
}

func sendFile(ctx echo.Context, f submission.File) error {
	ctx.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", f.Filename))
	ctx.Response().Header().Set("Cache-Control", "no-store")
	return ctx.Blob(http.StatusOK, f.ContentType, f.Content)
}

// Handlers

func (api *submissionApi) download(ctx echo.Context) error {
	tranID, valID := ctx.QueryParam("tran_id"), ctx.QueryParam("val_id")
	f, err := api.svc.Download(ctx.Request().Context(), tranID, valID)
	api.metrics.observeDownload(err)
	if err != nil {
		return errors.Wrap(err, "downloading admission form")
	}
	return sendFile(ctx, f)
}

func (api *submissionApi) downloadByID(ctx echo.Context) error {
	f, err := api.svc.DownloadByID(ctx.Request().Context(), ctx.Param("id"))
	api.metrics.observeDownload(err)
	if err != nil {
		return errors.Wrap(err, "downloading admission form")
	}
	return sendFile(ctx, f)
}

func (api *submissionApi) query(ctx echo.Context) error {
	filter := new(submission.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []submission.Submission{})
	}
	if err := filter.Clean(); err != nil {
		return err
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	subs, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying submissions")
	}
	if subs == nil {
		subs = []submission.Submission{}
	}
	return ctx.JSON(http.StatusOK, subs)
}

func (api *submissionApi) retrieve(ctx echo.Context) error {
	sub, err := api.svc.Get(ctx.Request().Context(), submission.GetFilter{ID: ctx.Param("id")})
	if err != nil {
		return errors.Wrap(err, "getting submission")
	}
	return ctx.JSON(http.StatusOK, sub)
}
