package rendersvc

import (
	"bytes"
	"context"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/pkg/errors"

	"github.com/trezcool/admissions/core"
	"github.com/trezcool/admissions/core/layout"
	"github.com/trezcool/admissions/core/submission"
)

// AssetOpener reads stored branding files.
type AssetOpener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

type Options struct {
	Compress bool
}

// PDFRenderer lays out admission forms on a single A4 page.
// The output only depends on its input: the document dates are pinned to the submission's.
type PDFRenderer struct {
	assets AssetOpener
	logger core.Logger
	opts   Options
}

var _ submission.Renderer = (*PDFRenderer)(nil)

func NewPDFRenderer(assets AssetOpener, logger core.Logger, opts Options) *PDFRenderer {
	return &PDFRenderer{assets: assets, logger: logger, opts: opts}
}

const (
	pageMargin  = 15.0
	labelWidth  = 60.0
	lineHeight  = 7.0
	logoSize    = 22.0
	headerBand  = 32.0
	footerSpace = 20.0
)

type rgb struct{ r, g, b int }

// parseHex reads #rgb and #rrggbb colors, falling back to def.
func parseHex(s string, def rgb) rgb {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return def
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return def
	}
	return rgb{r: int(v >> 16 & 0xff), g: int(v >> 8 & 0xff), b: int(v & 0xff)}
}

// coreFont maps a branding font onto one of the standard PDF fonts.
func coreFont(family string) string {
	switch strings.ToLower(strings.TrimSpace(family)) {
	case "times", "times new roman", "serif":
		return "Times"
	case "courier", "courier new", "monospace":
		return "Courier"
	}
	return "Helvetica"
}

func imageType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".png":
		return "PNG"
	case ".jpg", ".jpeg":
		return "JPG"
	case ".gif":
		return "GIF"
	}
	return ""
}

// registerImage loads an asset into pdf. Missing or broken assets are logged and skipped.
func (r *PDFRenderer) registerImage(ctx context.Context, pdf *fpdf.Fpdf, key string) bool {
	if key == "" || r.assets == nil {
		return false
	}
	typ := imageType(key)
	if typ == "" {
		return false
	}
	f, err := r.assets.Open(ctx, key)
	if err != nil {
		r.logger.Warn("could not open asset", errors.Wrap(err, key))
		return false
	}
	defer func() { _ = f.Close() }()

	pdf.RegisterImageOptionsReader(key, fpdf.ImageOptions{ImageType: typ}, f)
	if pdf.Err() {
		r.logger.Warn("could not load asset", errors.Wrap(pdf.Error(), key))
		pdf.ClearError()
		return false
	}
	return true
}

func documentDate(sub submission.Submission) time.Time {
	if sub.ConfirmedAt.Valid {
		return sub.ConfirmedAt.Time.UTC()
	}
	return sub.CreatedAt.UTC()
}

func (r *PDFRenderer) Render(ctx context.Context, doc submission.Document) ([]byte, error) {
	tmpl, sub := doc.Template, doc.Submission
	brand := tmpl.Branding
	primary := parseHex(brand.PrimaryColor, rgb{30, 58, 138})
	secondary := parseHex(brand.SecondaryColor, rgb{224, 231, 255})
	text := parseHex(brand.TextColor, rgb{17, 24, 39})
	font := coreFont(brand.FontFamily)

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(r.opts.Compress)
	pdf.SetCatalogSort(true)
	date := documentDate(sub)
	pdf.SetCreationDate(date)
	pdf.SetModificationDate(date)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(tr(tmpl.Name), false)
	pdf.SetCreator("admissions", false)
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, footerSpace)
	pdf.SetFooterFunc(func() {
		if brand.FooterText == "" {
			return
		}
		pdf.SetY(-footerSpace + 5)
		pdf.SetFont(font, "I", 9)
		pdf.SetTextColor(text.r, text.g, text.b)
		pdf.CellFormat(0, 5, tr(brand.FooterText), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()
	pageW, pageH := pdf.GetPageSize()
	contentW := pageW - 2*pageMargin

	if r.registerImage(ctx, pdf, brand.BackgroundAsset) {
		pdf.ImageOptions(brand.BackgroundAsset, 0, 0, pageW, pageH, false, fpdf.ImageOptions{ImageType: imageType(brand.BackgroundAsset)}, 0, "")
	}

	// header band
	pdf.SetFillColor(primary.r, primary.g, primary.b)
	pdf.Rect(0, 0, pageW, headerBand, "F")
	titleX := pageMargin
	if r.registerImage(ctx, pdf, brand.LogoAsset) {
		pdf.ImageOptions(brand.LogoAsset, pageMargin, (headerBand-logoSize)/2, logoSize, logoSize, false, fpdf.ImageOptions{ImageType: imageType(brand.LogoAsset)}, 0, "")
		titleX += logoSize + 5
	}
	header := brand.HeaderText
	if header == "" {
		header = tmpl.Name
	}
	pdf.SetXY(titleX, 10)
	pdf.SetFont(font, "B", 18)
	pdf.SetTextColor(255, 255, 255)
	pdf.CellFormat(pageW-titleX-pageMargin, 12, tr(header), "", 1, "L", false, 0, "")
	pdf.SetY(headerBand + 8)

	// fields
	pdf.SetDrawColor(secondary.r, secondary.g, secondary.b)
	for _, fld := range layout.VisibleFields(doc.Fields) {
		value, _ := sub.FormData.Lookup(fld.Source)
		pdf.SetFont(font, "B", 10)
		pdf.SetTextColor(text.r, text.g, text.b)
		pdf.SetFillColor(secondary.r, secondary.g, secondary.b)
		pdf.CellFormat(labelWidth, lineHeight, tr(fld.Label), "1", 0, "L", true, 0, "")
		pdf.SetFont(font, "", 10)
		if fld.Multiline {
			pdf.MultiCell(contentW-labelWidth, lineHeight, tr(value), "1", "L", false)
		} else {
			pdf.CellFormat(contentW-labelWidth, lineHeight, tr(value), "1", 1, "L", false, 0, "")
		}
	}

	// payment
	pdf.Ln(6)
	pdf.SetFont(font, "B", 11)
	pdf.SetTextColor(primary.r, primary.g, primary.b)
	pdf.CellFormat(contentW, lineHeight, "Payment", "B", 1, "L", false, 0, "")
	pdf.SetTextColor(text.r, text.g, text.b)
	rows := [][2]string{
		{"Transaction ID", sub.TranID},
		{"Amount", sub.Amount.StringFixed(2) + " " + sub.Currency},
		{"Status", strings.ToUpper(string(sub.Status))},
	}
	if sub.ConfirmedAt.Valid {
		rows = append(rows, [2]string{"Paid on", sub.ConfirmedAt.Time.UTC().Format("02 Jan 2006 15:04 MST")})
	}
	for _, row := range rows {
		pdf.SetFont(font, "B", 10)
		pdf.CellFormat(labelWidth, lineHeight, row[0], "", 0, "L", false, 0, "")
		pdf.SetFont(font, "", 10)
		pdf.CellFormat(contentW-labelWidth, lineHeight, tr(row[1]), "", 1, "L", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, errors.Wrap(err, "writing pdf")
	}
	return buf.Bytes(), nil
}
