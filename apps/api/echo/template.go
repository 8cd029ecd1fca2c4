package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/admissions/core/template"
)

type templateApi struct {
	svc      template.Service
	validate *validator.Validate
}

func registerTemplateAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc template.Service, validate *validator.Validate) {
	api := templateApi{svc: svc, validate: validate}

	tg := g.Group("/templates")

	// public endpoints
	tg.GET("", api.query)
	tg.GET("/default", api.retrieveDefault)
	tg.GET("/available-fields", api.availableFields)
	tg.GET("/:slug", api.retrieve)

	// admin endpoints
	ag := tg.Group("", jwt, adminMiddleware())
	ag.POST("", api.create)
	ag.PATCH("/:slug", api.update)
	ag.POST("/:slug/default", api.setDefault)
	ag.DELETE("/:slug", api.destroy)
}

// Handlers

func (api *templateApi) query(ctx echo.Context) error {
	filter := new(template.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []template.Template{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	tmpls, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying templates")
	}
	if tmpls == nil {
		tmpls = []template.Template{}
	}
	return ctx.JSON(http.StatusOK, tmpls)
}

func (api *templateApi) retrieveDefault(ctx echo.Context) error {
	tmpl, err := api.svc.GetDefault(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "getting default template")
	}
	return ctx.JSON(http.StatusOK, tmpl)
}

func (api *templateApi) availableFields(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.svc.AvailableFields())
}

func (api *templateApi) retrieve(ctx echo.Context) error {
	tmpl, err := api.svc.Get(ctx.Request().Context(), ctx.Param("slug"))
	if err != nil {
		return errors.Wrap(err, "getting template")
	}
	return ctx.JSON(http.StatusOK, tmpl)
}

func (api *templateApi) create(ctx echo.Context) error {
	var data template.NewTemplate
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewTemplate")
	}
	if err := data.Validate(ctx.Request().Context(), api.validate, api.svc); err != nil {
		return err
	}

	tmpl, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating template")
	}
	return ctx.JSON(http.StatusCreated, tmpl)
}

func (api *templateApi) update(ctx echo.Context) error {
	data, cleanup, err := bindTemplateUpdate(ctx)
	if err != nil {
		return err
	}
	defer cleanup()
	if err = data.Validate(api.validate, api.svc); err != nil {
		return err
	}

	tmpl, err := api.svc.Update(ctx.Request().Context(), ctx.Param("slug"), data)
	if err != nil {
		return errors.Wrap(err, "updating template")
	}
	return ctx.JSON(http.StatusOK, tmpl)
}

func (api *templateApi) setDefault(ctx echo.Context) error {
	tmpl, err := api.svc.SetDefault(ctx.Request().Context(), ctx.Param("slug"))
	if err != nil {
		return errors.Wrap(err, "setting default template")
	}
	return ctx.JSON(http.StatusOK, tmpl)
}

func (api *templateApi) destroy(ctx echo.Context) error {
	if err := api.svc.Delete(ctx.Request().Context(), ctx.Param("slug")); err != nil {
		return errors.Wrap(err, "deleting template")
	}
	return ctx.NoContent(http.StatusNoContent)
}
