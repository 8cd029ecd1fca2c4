package template

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/admissions/core"
	"github.com/trezcool/admissions/core/catalog"
	"github.com/trezcool/admissions/core/layout"
)

var (
	// errors
	ErrNotFound      = core.NewNotFoundError("template not found")
	ErrSlugExists    = errors.New("a template with this slug already exists")
	ErrTemplateInUse = errors.New("template is referenced by submissions")
	ErrDeleteDefault = errors.New("the default template cannot be deleted")
)

type (
	Repository interface {
		CheckSlugUniqueness(ctx context.Context, slug string) error
		CreateTemplate(ctx context.Context, tmpl Template) (Template, error)
		// EnsureBaseline inserts tmpl as the default template if, and only if, no template exists.
		// Concurrent calls must create at most one template.
		EnsureBaseline(ctx context.Context, tmpl Template) error
		QueryTemplates(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Template, error)
		GetTemplate(ctx context.Context, slug string) (Template, error)
		// GetDefaultTemplate returns ErrNotFound when no template is flagged default.
		GetDefaultTemplate(ctx context.Context) (Template, error)
		// SetDefaultTemplate clears is_default on every other template and sets it on slug atomically.
		SetDefaultTemplate(ctx context.Context, slug string) (Template, error)
		// UpdateTemplate runs fn on the current template and persists the result.
		// Updates of the same slug are serialized.
		UpdateTemplate(ctx context.Context, slug string, fn func(*Template) error) (Template, error)
		DeleteTemplate(ctx context.Context, slug string) error
	}

	// AssetStore keeps branding files (logos, backgrounds).
	AssetStore interface {
		Save(ctx context.Context, slug, slot string, upload Upload) (string, error)
		Delete(ctx context.Context, key string) error
	}

	Service interface {
		AvailableFields() []catalog.FieldDefinition
		// ValidateLayout rejects unknown and duplicate field names.
		ValidateLayout(fields []catalog.FieldDefinition) error
		CheckSlugUniqueness(ctx context.Context, slug string) error
		Create(ctx context.Context, nt NewTemplate) (Template, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Template, error)
		Get(ctx context.Context, slug string) (Template, error)
		GetDefault(ctx context.Context) (Template, error)
		SetDefault(ctx context.Context, slug string) (Template, error)
		Update(ctx context.Context, slug string, ut UpdateTemplate) (Template, error)
		Delete(ctx context.Context, slug string) error
	}

	Options struct {
		DefaultFee decimal.Decimal
	}

	service struct {
		repo    Repository
		catalog catalog.Resolver
		assets  AssetStore
		logger  core.Logger
		opts    Options
		nowFunc func() time.Time
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, resolver catalog.Resolver, assets AssetStore, logger core.Logger, opts Options) Service {
	return &service{
		repo:    repo,
		catalog: resolver,
		assets:  assets,
		logger:  logger,
		opts:    opts,
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
}

func (svc *service) AvailableFields() []catalog.FieldDefinition {
	return svc.catalog.Resolve()
}

func (svc *service) ValidateLayout(fields []catalog.FieldDefinition) error {
	problems := layout.Validate(svc.catalog.Resolve(), fields)
	if len(problems) == 0 {
		return nil
	}
	flds := make([]core.FieldError, 0, len(problems))
	for _, p := range problems {
		name := "layout_metadata"
		if p.Name != "" {
			name += "." + p.Name
		}
		flds = append(flds, core.FieldError{Field: name, Error: p.Message})
	}
	return core.NewValidationError(errors.New("invalid layout_metadata"), flds...)
}

func (svc *service) CheckSlugUniqueness(ctx context.Context, slug string) error {
	if err := svc.repo.CheckSlugUniqueness(ctx, slug); err != nil {
		if errors.Cause(err) == ErrSlugExists {
			return core.NewValidationError(err, core.FieldError{Field: "slug", Error: err.Error()})
		}
		return errors.Wrap(err, "checking slug uniqueness")
	}
	return nil
}

// merged re-merges the stored layout with the current catalog.
func (svc *service) merged(tmpl Template) Template {
	tmpl.LayoutMetadata = layout.Merge(svc.catalog.Resolve(), tmpl.LayoutMetadata)
	return tmpl
}

func (svc *service) mergedSlice(tmpls []Template) []Template {
	for i := range tmpls {
		tmpls[i] = svc.merged(tmpls[i])
	}
	return tmpls
}

func (svc *service) Create(ctx context.Context, nt NewTemplate) (Template, error) {
	now := svc.nowFunc()
	tmpl := Template{
		Slug:      nt.Slug,
		Name:      nt.Name,
		Branding:  baselineBranding,
		Fee:       svc.opts.DefaultFee,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tmpl.Branding.HeaderText = nt.Name
	nt.Branding.apply(&tmpl.Branding)
	if nt.Fee != nil {
		tmpl.Fee = *nt.Fee
	}
	if nt.LayoutMetadata != nil {
		tmpl.LayoutMetadata = layout.Merge(svc.catalog.Resolve(), nt.LayoutMetadata)
	} else {
		tmpl.LayoutMetadata = layout.Merge(svc.catalog.Resolve(), nil)
	}

	tmpl, err := svc.repo.CreateTemplate(ctx, tmpl)
	if err != nil {
		if errors.Cause(err) == ErrSlugExists {
			return Template{}, core.NewValidationError(ErrSlugExists, core.FieldError{Field: "slug", Error: ErrSlugExists.Error()})
		}
		return Template{}, errors.Wrap(err, "creating template")
	}
	if nt.IsDefault {
		return svc.SetDefault(ctx, tmpl.Slug)
	}
	return svc.merged(tmpl), nil
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Template, error) {
	tmpls, err := svc.repo.QueryTemplates(ctx, filter, ordering)
	if err != nil {
		return nil, errors.Wrap(err, "querying templates")
	}
	return svc.mergedSlice(tmpls), nil
}

func (svc *service) Get(ctx context.Context, slug string) (Template, error) {
	tmpl, err := svc.repo.GetTemplate(ctx, core.CleanString(slug, true /* lower */))
	if err != nil {
		return Template{}, errors.Wrap(err, "getting template")
	}
	return svc.merged(tmpl), nil
}

// resolveDefault returns the template flagged default, else the earliest created one.
func (svc *service) resolveDefault(ctx context.Context) (Template, bool, error) {
	tmpl, err := svc.repo.GetDefaultTemplate(ctx)
	if err == nil {
		return tmpl, true, nil
	}
	if errors.Cause(err) != ErrNotFound {
		return Template{}, false, errors.Wrap(err, "getting default template")
	}

	all, err := svc.repo.QueryTemplates(ctx, nil, []core.DBOrdering{{Field: "created_at", Ascending: true}})
	if err != nil {
		return Template{}, false, errors.Wrap(err, "querying templates")
	}
	for _, t := range all {
		if t.IsDefault {
			return t, true, nil
		}
	}
	if len(all) > 0 {
		return all[0], true, nil
	}
	return Template{}, false, nil
}

func (svc *service) baseline() Template {
	now := svc.nowFunc()
	return Template{
		Slug:           BaselineSlug,
		Name:           "Admission Form",
		Branding:       baselineBranding,
		Fee:            svc.opts.DefaultFee,
		IsDefault:      true,
		LayoutMetadata: catalog.AllVisible(svc.catalog.Resolve()),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// GetDefault resolves the active template from persisted state, auto-creating a baseline
// template when the store is empty.
func (svc *service) GetDefault(ctx context.Context) (Template, error) {
	tmpl, ok, err := svc.resolveDefault(ctx)
	if err != nil {
		return Template{}, err
	}
	if ok {
		return svc.merged(tmpl), nil
	}

	svc.logger.Info("no template found, creating baseline template", map[string]interface{}{"slug": BaselineSlug})
	if err = svc.repo.EnsureBaseline(ctx, svc.baseline()); err != nil {
		return Template{}, errors.Wrap(err, "creating baseline template")
	}

	tmpl, ok, err = svc.resolveDefault(ctx)
	if err != nil {
		return Template{}, err
	}
	if !ok {
		return Template{}, errors.New("no template found after baseline creation")
	}
	return svc.merged(tmpl), nil
}

func (svc *service) SetDefault(ctx context.Context, slug string) (Template, error) {
	tmpl, err := svc.repo.SetDefaultTemplate(ctx, core.CleanString(slug, true /* lower */))
	if err != nil {
		return Template{}, errors.Wrap(err, "setting default template")
	}
	return svc.merged(tmpl), nil
}

func (svc *service) Update(ctx context.Context, slug string, ut UpdateTemplate) (Template, error) {
	slug = core.CleanString(slug, true /* lower */)

	// store new files first; the row only points at them once committed
	saved := make(map[string]string, len(ut.Assets))
	for slot, change := range ut.Assets {
		if upload, ok := change.Upload(); ok {
			key, err := svc.assets.Save(ctx, slug, slot, upload)
			if err != nil {
				svc.discardAssets(ctx, saved)
				return Template{}, errors.Wrapf(err, "saving %s", slot)
			}
			saved[slot] = key
		}
	}

	var obsolete []string
	tmpl, err := svc.repo.UpdateTemplate(ctx, slug, func(tmpl *Template) error {
		obsolete = obsolete[:0]
		if ut.Name != nil {
			tmpl.Name = *ut.Name
		}
		ut.Branding.apply(&tmpl.Branding)
		if ut.Fee != nil {
			tmpl.Fee = *ut.Fee
		}
		if ut.LayoutMetadata != nil {
			tmpl.LayoutMetadata = layout.Merge(svc.catalog.Resolve(), ut.LayoutMetadata)
		}
		for slot, change := range ut.Assets {
			old := tmpl.Branding.Asset(slot)
			switch {
			case change.IsRemove():
				tmpl.Branding.SetAsset(slot, "")
			case !change.IsKeep():
				tmpl.Branding.SetAsset(slot, saved[slot])
			default:
				continue
			}
			if old != "" {
				obsolete = append(obsolete, old)
			}
		}
		tmpl.UpdatedAt = svc.nowFunc()
		return nil
	})
	if err != nil {
		svc.discardAssets(ctx, saved)
		return Template{}, errors.Wrap(err, "updating template")
	}

	for _, key := range obsolete {
		if err := svc.assets.Delete(ctx, key); err != nil {
			svc.logger.Warn("could not delete obsolete asset", errors.Wrap(err, key))
		}
	}
	return svc.merged(tmpl), nil
}

func (svc *service) discardAssets(ctx context.Context, keys map[string]string) {
	for _, key := range keys {
		if err := svc.assets.Delete(ctx, key); err != nil {
			svc.logger.Warn("could not discard asset", errors.Wrap(err, key))
		}
	}
}

func (svc *service) Delete(ctx context.Context, slug string) error {
	slug = core.CleanString(slug, true /* lower */)
	tmpl, err := svc.repo.GetTemplate(ctx, slug)
	if err != nil {
		return errors.Wrap(err, "getting template")
	}
	if tmpl.IsDefault {
		return core.NewValidationError(ErrDeleteDefault)
	}
	if err = svc.repo.DeleteTemplate(ctx, slug); err != nil {
		if errors.Cause(err) == ErrTemplateInUse {
			return core.NewValidationError(ErrTemplateInUse)
		}
		return errors.Wrap(err, "deleting template")
	}
	for _, slot := range AssetSlots {
		if key := tmpl.Branding.Asset(slot); key != "" {
			if err := svc.assets.Delete(ctx, key); err != nil {
				svc.logger.Warn("could not delete asset", errors.Wrap(err, key))
			}
		}
	}
	return nil
}
