package rendersvc

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/admissions/core/catalog"
	"github.com/trezcool/admissions/core/layout"
	"github.com/trezcool/admissions/core/submission"
	"github.com/trezcool/admissions/core/template"
	testutil "github.com/trezcool/admissions/tests"
)

func testDocument() submission.Document {
	created := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	fields := catalog.NewResolver().Resolve()
	return submission.Document{
		Template: template.Template{
			Slug: "default",
			Name: "Admission Form",
			Branding: template.Branding{
				PrimaryColor:   "#1e3a8a",
				SecondaryColor: "#eef",
				FontFamily:     "Helvetica",
				FooterText:     "Keep this form",
			},
			Fee:            decimal.RequireFromString("500"),
			LayoutMetadata: fields,
		},
		Fields: layout.Merge(fields, nil),
		Submission: submission.Submission{
			TemplateSlug: "default",
			TranID:       "ADMTESTTRANSACTION",
			Applicant:    submission.Applicant{Name: "Asha"},
			FormData: submission.FormData{
				"name":    "Asha",
				"class":   "Six",
				"address": map[string]interface{}{"present": "12 Lake Road\nDhaka"},
				"remarks": "internal",
			},
			Amount:      decimal.RequireFromString("500"),
			Currency:    "BDT",
			Status:      submission.StatusPaid,
			ValID:       null.StringFrom("VAL1"),
			ConfirmedAt: null.TimeFrom(created.Add(time.Minute)),
			CreatedAt:   created,
			UpdatedAt:   created,
		},
	}
}

func pngBytes(t *testing.T) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 20, B: 20, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPDFRenderer_Render(t *testing.T) {
	ctx := context.Background()
	r := NewPDFRenderer(testutil.NewAssetStore(), testutil.NewLogger(), Options{})

	first, err := r.Render(ctx, testDocument())
	require.NoError(t, err)
	second, err := r.Render(ctx, testDocument())
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(first, []byte("%PDF-")))
	assert.Equal(t, first, second, "same input renders the same bytes")
	assert.Contains(t, string(first), "(Asha)")
	assert.Contains(t, string(first), "(Student Name)")
	assert.Contains(t, string(first), "(ADMTESTTRANSACTION)")
	assert.NotContains(t, string(first), "Remarks", "hidden fields are not rendered")
	assert.NotContains(t, string(first), "internal")
}

func TestPDFRenderer_Render_compressed(t *testing.T) {
	r := NewPDFRenderer(nil, testutil.NewLogger(), Options{Compress: true})
	out, err := r.Render(context.Background(), testDocument())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
	assert.NotContains(t, string(out), "(Asha)")
}

func TestPDFRenderer_Render_assets(t *testing.T) {
	ctx := context.Background()
	assets := testutil.NewAssetStore()
	key, err := assets.Save(ctx, "default", template.SlotLogo, template.Upload{
		Filename: "logo.png",
		Content:  bytes.NewReader(pngBytes(t)),
	})
	require.NoError(t, err)

	t.Run("logo", func(t *testing.T) {
		logger := testutil.NewLogger()
		doc := testDocument()
		doc.Template.Branding.LogoAsset = key
		out, err := NewPDFRenderer(assets, logger, Options{}).Render(ctx, doc)
		require.NoError(t, err)
		assert.Contains(t, string(out), "/Subtype /Image")
		assert.Empty(t, logger.Messages("warning"))
	})

	t.Run("missing asset is skipped", func(t *testing.T) {
		logger := testutil.NewLogger()
		doc := testDocument()
		doc.Template.Branding.BackgroundAsset = "templates/default/background-gone.png"
		out, err := NewPDFRenderer(assets, logger, Options{}).Render(ctx, doc)
		require.NoError(t, err)
		assert.NotContains(t, string(out), "/Subtype /Image")
		assert.Equal(t, []string{"could not open asset"}, logger.Messages("warning"))
	})
}

func TestParseHex(t *testing.T) {
	def := rgb{1, 2, 3}
	tests := []struct {
		in   string
		want rgb
	}{
		{"#ff0000", rgb{255, 0, 0}},
		{"00ff00", rgb{0, 255, 0}},
		{"#abc", rgb{0xaa, 0xbb, 0xcc}},
		{"", def},
		{"#12345", def},
		{"#zzzzzz", def},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, parseHex(tc.in, def))
		})
	}
}
