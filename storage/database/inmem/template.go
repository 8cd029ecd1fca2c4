package inmemdb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/trezcool/admissions/core"
	"github.com/trezcool/admissions/core/catalog"
	"github.com/trezcool/admissions/core/template"
)

type templateRepository struct {
	db         *templateTable
	submission *submissionTable
}

var _ template.Repository = (*templateRepository)(nil) // interface compliance check

func NewTemplateRepository(db *DB) template.Repository {
	return &templateRepository{db: db.template, submission: db.submission}
}

func copyTemplate(tmpl template.Template) template.Template {
	if tmpl.LayoutMetadata != nil {
		fields := make([]catalog.FieldDefinition, len(tmpl.LayoutMetadata))
		copy(fields, tmpl.LayoutMetadata)
		tmpl.LayoutMetadata = fields
	}
	return tmpl
}

// query returns copies of all rows, in insertion order.
func (repo *templateRepository) query() []template.Template {
	rows := make([]*templateRow, 0, len(repo.db.t))
	for _, row := range repo.db.t {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })

	tmpls := make([]template.Template, 0, len(rows))
	for _, row := range rows {
		tmpls = append(tmpls, copyTemplate(row.tmpl))
	}
	return tmpls
}

func (repo *templateRepository) insert(tmpl template.Template) template.Template {
	repo.db.seq++
	tmpl.ID = uuid.New().String()
	tmpl = copyTemplate(tmpl)
	repo.db.t[tmpl.Slug] = &templateRow{tmpl: tmpl, seq: repo.db.seq}
	return copyTemplate(tmpl)
}

func (repo *templateRepository) CheckSlugUniqueness(ctx context.Context, slug string) error {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if _, ok := repo.db.t[slug]; ok {
		return template.ErrSlugExists
	}
	return nil
}

func (repo *templateRepository) CreateTemplate(ctx context.Context, tmpl template.Template) (template.Template, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.t[tmpl.Slug]; ok {
		return template.Template{}, template.ErrSlugExists
	}
	if tmpl.IsDefault {
		for _, row := range repo.db.t {
			row.tmpl.IsDefault = false
		}
	}
	return repo.insert(tmpl), nil
}

func (repo *templateRepository) EnsureBaseline(ctx context.Context, tmpl template.Template) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if len(repo.db.t) == 0 {
		tmpl.IsDefault = true
		repo.insert(tmpl)
	}
	return nil
}

func (repo *templateRepository) QueryTemplates(ctx context.Context, filter *template.QueryFilter, ordering []core.DBOrdering) ([]template.Template, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	all := repo.query()
	tmpls := make([]template.Template, 0, len(all))
	for _, tmpl := range all {
		if filter != nil {
			if filter.Search != "" && !containsFold(tmpl.Slug, filter.Search) && !containsFold(tmpl.Name, filter.Search) {
				continue
			}
			if filter.IsDefault != nil && tmpl.IsDefault != *filter.IsDefault {
				continue
			}
		}
		tmpls = append(tmpls, tmpl)
	}

	if len(ordering) > 0 {
		key := func(field string, i int) string {
			switch field {
			case "slug":
				return tmpls[i].Slug
			case "name":
				return tmpls[i].Name
			case "updated_at":
				return timeKey(tmpls[i].UpdatedAt)
			default:
				return timeKey(tmpls[i].CreatedAt)
			}
		}
		sort.SliceStable(tmpls, func(i, j int) bool { return less(ordering, key, i, j) })
	}
	return tmpls, nil
}

func (repo *templateRepository) GetTemplate(ctx context.Context, slug string) (template.Template, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if row, ok := repo.db.t[slug]; ok {
		return copyTemplate(row.tmpl), nil
	}
	return template.Template{}, template.ErrNotFound
}

func (repo *templateRepository) GetDefaultTemplate(ctx context.Context) (template.Template, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, tmpl := range repo.query() {
		if tmpl.IsDefault {
			return tmpl, nil
		}
	}
	return template.Template{}, template.ErrNotFound
}

func (repo *templateRepository) SetDefaultTemplate(ctx context.Context, slug string) (template.Template, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	target, ok := repo.db.t[slug]
	if !ok {
		return template.Template{}, template.ErrNotFound
	}
	for s, row := range repo.db.t {
		row.tmpl.IsDefault = s == slug
	}
	return copyTemplate(target.tmpl), nil
}

func (repo *templateRepository) UpdateTemplate(ctx context.Context, slug string, fn func(*template.Template) error) (template.Template, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	row, ok := repo.db.t[slug]
	if !ok {
		return template.Template{}, template.ErrNotFound
	}
	tmpl := copyTemplate(row.tmpl)
	if err := fn(&tmpl); err != nil {
		return template.Template{}, err
	}
	// immutable columns
	tmpl.ID, tmpl.Slug, tmpl.IsDefault, tmpl.CreatedAt = row.tmpl.ID, row.tmpl.Slug, row.tmpl.IsDefault, row.tmpl.CreatedAt
	row.tmpl = copyTemplate(tmpl)
	return tmpl, nil
}

func (repo *templateRepository) DeleteTemplate(ctx context.Context, slug string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.t[slug]; !ok {
		return template.ErrNotFound
	}

	repo.submission.mutex.RLock()
	defer repo.submission.mutex.RUnlock()
	for _, row := range repo.submission.t {
		if row.sub.TemplateSlug == slug {
			return template.ErrTemplateInUse
		}
	}
	delete(repo.db.t, slug)
	return nil
}
