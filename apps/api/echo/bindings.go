package echoapi

import (
	"encoding/json"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/admissions/core"
	"github.com/trezcool/admissions/core/template"
)

var orderingParam = "ordering"

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	data := ctx.QueryParams()
	if len(data) == 0 {
		return
	}
	val, ok := data[orderingParam]
	if !ok || len(val) == 0 || val[0] == "" {
		return
	}

	for _, field := range strings.Split(val[0], ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field != "" {
			ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
		}
	}
}

// multipart template updates: the JSON payload goes in the "data" part,
// files under the slot name and removals as "remove_<slot>=true".
const (
	multipartDataField    = "data"
	multipartRemovePrefix = "remove_"
	maxMultipartMemory    = 8 << 20
)

// bindTemplateUpdate reads an UpdateTemplate from a JSON or multipart/form-data body.
// The returned cleanup closes the uploaded files.
func bindTemplateUpdate(ctx echo.Context) (template.UpdateTemplate, func(), error) {
	var data template.UpdateTemplate
	noop := func() {}

	ctype := ctx.Request().Header.Get(echo.HeaderContentType)
	if !strings.HasPrefix(ctype, echo.MIMEMultipartForm) {
		if err := ctx.Bind(&data); err != nil {
			return data, noop, errors.Wrap(err, "binding to UpdateTemplate")
		}
		return data, noop, nil
	}

	if err := ctx.Request().ParseMultipartForm(maxMultipartMemory); err != nil {
		return data, noop, core.NewValidationError(errors.Wrap(err, "invalid multipart body"))
	}
	form := ctx.Request().MultipartForm

	if raw := form.Value[multipartDataField]; len(raw) > 0 && strings.TrimSpace(raw[0]) != "" {
		if err := json.Unmarshal([]byte(raw[0]), &data); err != nil {
			return data, noop, core.NewValidationError(nil, core.FieldError{Field: multipartDataField, Error: "must be a JSON object"})
		}
	}

	var opened []multipart.File
	cleanup := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}
	for _, slot := range template.AssetSlots {
		var change template.AssetChange
		files := form.File[slot]
		remove := false
		if vals := form.Value[multipartRemovePrefix+slot]; len(vals) > 0 {
			remove, _ = strconv.ParseBool(vals[0])
		}

		switch {
		case len(files) > 0 && remove:
			cleanup()
			return data, noop, core.NewValidationError(nil, core.FieldError{
				Field: slot,
				Error: "cannot replace and remove in the same request",
			})
		case len(files) > 0:
			fh := files[0]
			f, err := fh.Open()
			if err != nil {
				cleanup()
				return data, noop, errors.Wrapf(err, "opening %s upload", slot)
			}
			opened = append(opened, f)
			change.Replace(template.Upload{
				Filename:    fh.Filename,
				ContentType: fh.Header.Get(echo.HeaderContentType),
				Content:     f,
			})
		case remove:
			change.Remove()
		default:
			continue
		}
		if data.Assets == nil {
			data.Assets = make(map[string]template.AssetChange)
		}
		data.Assets[slot] = change
	}
	return data, cleanup, nil
}
