package template

import (
	"context"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/trezcool/admissions/core"
	"github.com/trezcool/admissions/core/catalog"
)

// BaselineSlug is the slug of the template auto-created when none exists.
const BaselineSlug = "admission-form"

// Asset slots
const (
	SlotLogo       = "logo"
	SlotBackground = "background"
)

var AssetSlots = []string{SlotLogo, SlotBackground}

type Branding struct {
	PrimaryColor    string `json:"primary_color"`
	SecondaryColor  string `json:"secondary_color"`
	TextColor       string `json:"text_color"`
	FontFamily      string `json:"font_family"`
	HeaderText      string `json:"header_text"`
	FooterText      string `json:"footer_text"`
	LogoAsset       string `json:"logo_asset"`       // asset key; empty when not set
	BackgroundAsset string `json:"background_asset"` // asset key; empty when not set
}

func (b Branding) Asset(slot string) string {
	if slot == SlotBackground {
		return b.BackgroundAsset
	}
	return b.LogoAsset
}

func (b *Branding) SetAsset(slot, key string) {
	if slot == SlotBackground {
		b.BackgroundAsset = key
	} else {
		b.LogoAsset = key
	}
}

// baselineBranding is the fixed branding payload of the auto-created template.
var baselineBranding = Branding{
	PrimaryColor:   "#1e3a8a",
	SecondaryColor: "#e0e7ff",
	TextColor:      "#111827",
	FontFamily:     "Helvetica",
	HeaderText:     "Admission Form",
	FooterText:     "This form is valid only with a confirmed payment.",
}

type Template struct {
	ID             string                    `json:"id"`
	Slug           string                    `json:"slug"`
	Name           string                    `json:"name"`
	Branding       Branding                  `json:"branding"`
	Fee            decimal.Decimal           `json:"fee"`
	IsDefault      bool                      `json:"is_default"`
	LayoutMetadata []catalog.FieldDefinition `json:"layout_metadata"`
	CreatedAt      time.Time                 `json:"created_at"` // UTC
	UpdatedAt      time.Time                 `json:"updated_at"` // UTC
}

// BrandingInput holds the branding attributes an admin may set.
type BrandingInput struct {
	PrimaryColor   *string `json:"primary_color" validate:"omitempty,hexcolor"`
	SecondaryColor *string `json:"secondary_color" validate:"omitempty,hexcolor"`
	TextColor      *string `json:"text_color" validate:"omitempty,hexcolor"`
	FontFamily     *string `json:"font_family" validate:"omitempty,fontfamily"`
	HeaderText     *string `json:"header_text" validate:"omitempty,max=120"`
	FooterText     *string `json:"footer_text" validate:"omitempty,max=240"`
}

func (bi BrandingInput) apply(b *Branding) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = core.CleanString(*src)
		}
	}
	set(&b.PrimaryColor, bi.PrimaryColor)
	set(&b.SecondaryColor, bi.SecondaryColor)
	set(&b.TextColor, bi.TextColor)
	set(&b.FontFamily, bi.FontFamily)
	set(&b.HeaderText, bi.HeaderText)
	set(&b.FooterText, bi.FooterText)
}

// NewTemplate contains information needed to create a new Template.
type NewTemplate struct {
	Slug           string                    `json:"slug" validate:"required,max=64,slug"`
	Name           string                    `json:"name" validate:"required,notblank,max=120"`
	Branding       BrandingInput             `json:"branding"`
	Fee            *decimal.Decimal          `json:"fee"`
	IsDefault      bool                      `json:"is_default"`
	LayoutMetadata []catalog.FieldDefinition `json:"layout_metadata"`
}

func (nt *NewTemplate) Validate(ctx context.Context, validate *validator.Validate, svc Service) error {
	nt.Slug = core.CleanString(nt.Slug, true /* lower */)
	nt.Name = core.CleanString(nt.Name)

	if err := validate.Struct(nt); err != nil {
		return err
	}
	if err := validateFee(nt.Fee); err != nil {
		return err
	}
	if err := svc.ValidateLayout(nt.LayoutMetadata); err != nil {
		return err
	}
	return svc.CheckSlugUniqueness(ctx, nt.Slug)
}

// Upload is a new file for an asset slot.
type Upload struct {
	Filename    string
	ContentType string
	Content     io.Reader
}

// AssetChange is the pending change of one asset slot: keep (zero value), replace or remove.
// Replace and Remove are mutually exclusive: setting one clears the other.
type AssetChange struct {
	upload *Upload
	remove bool
}

func (ac *AssetChange) Replace(u Upload) {
	ac.upload = &u
	ac.remove = false
}

func (ac *AssetChange) Remove() {
	ac.upload = nil
	ac.remove = true
}

func (ac AssetChange) Upload() (Upload, bool) {
	if ac.upload == nil {
		return Upload{}, false
	}
	return *ac.upload, true
}

func (ac AssetChange) IsRemove() bool { return ac.remove }
func (ac AssetChange) IsKeep() bool   { return ac.upload == nil && !ac.remove }

// UpdateTemplate defines what information may be provided to modify an existing Template.
// nil fields are left unchanged.
type UpdateTemplate struct {
	Name           *string                   `json:"name" validate:"omitempty,notblank,max=120"`
	Branding       BrandingInput             `json:"branding"`
	Fee            *decimal.Decimal          `json:"fee"`
	LayoutMetadata []catalog.FieldDefinition `json:"layout_metadata"`
	Assets         map[string]AssetChange    `json:"-"` // by slot
}

func (ut *UpdateTemplate) Validate(validate *validator.Validate, svc Service) error {
	if ut.Name != nil {
		name := core.CleanString(*ut.Name)
		ut.Name = &name
	}
	if err := validate.Struct(ut); err != nil {
		return err
	}
	if err := validateFee(ut.Fee); err != nil {
		return err
	}
	for slot := range ut.Assets {
		if slot != SlotLogo && slot != SlotBackground {
			return core.NewValidationError(nil, core.FieldError{Field: slot, Error: "unknown asset slot"})
		}
	}
	return svc.ValidateLayout(ut.LayoutMetadata)
}

func validateFee(fee *decimal.Decimal) error {
	if fee != nil && !fee.IsPositive() {
		return core.NewValidationError(nil, core.FieldError{Field: "fee", Error: "must be greater than 0"})
	}
	return nil
}

type QueryFilter struct {
	Search    string `query:"search"`
	IsDefault *bool  `query:"is_default"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}
