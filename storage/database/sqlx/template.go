package sqlxrepos

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/admissions/core"
	"github.com/trezcool/admissions/core/catalog"
	"github.com/trezcool/admissions/core/template"
)

// serializes default switching and baseline creation across processes
const templateLockKey = 7_311_001

const (
	templateColumns = "id, slug, name, branding, fee, is_default, layout_metadata, created_at, updated_at"

	qTemplateExists  = "SELECT EXISTS (SELECT 1 FROM templates WHERE slug = $1)"
	qTemplateBySlug  = "SELECT " + templateColumns + " FROM templates WHERE slug = $1"
	qTemplateDefault = "SELECT " + templateColumns + " FROM templates WHERE is_default ORDER BY created_at ASC LIMIT 1"
	qTemplateCount   = "SELECT COUNT(*) FROM templates"
	qTemplateLock    = "SELECT pg_advisory_xact_lock($1)"
	qTemplateInsert  = "INSERT INTO templates (" + templateColumns + ") " +
		"VALUES (:id, :slug, :name, :branding, :fee, :is_default, :layout_metadata, :created_at, :updated_at)"
	qTemplateClearDefault = "UPDATE templates SET is_default = false WHERE is_default"
	qTemplateSetDefault   = "UPDATE templates SET is_default = (slug = $1) WHERE is_default OR slug = $1"
	qTemplateUpdate       = "UPDATE templates SET name = :name, branding = :branding, fee = :fee, " +
		"layout_metadata = :layout_metadata, updated_at = :updated_at WHERE id = :id"
	qTemplateDelete = "DELETE FROM templates WHERE slug = $1"
)

var templateOrderColumns = map[string]bool{"slug": true, "name": true, "created_at": true, "updated_at": true}

type templateRow struct {
	ID             string          `db:"id"`
	Slug           string          `db:"slug"`
	Name           string          `db:"name"`
	Branding       []byte          `db:"branding"`
	Fee            decimal.Decimal `db:"fee"`
	IsDefault      bool            `db:"is_default"`
	LayoutMetadata []byte          `db:"layout_metadata"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

func toTemplateRow(tmpl template.Template) (templateRow, error) {
	branding, err := marshalJSON(tmpl.Branding, "branding")
	if err != nil {
		return templateRow{}, err
	}
	fields := tmpl.LayoutMetadata
	if fields == nil {
		fields = []catalog.FieldDefinition{}
	}
	layoutData, err := marshalJSON(fields, "layout metadata")
	if err != nil {
		return templateRow{}, err
	}
	return templateRow{
		ID:             tmpl.ID,
		Slug:           tmpl.Slug,
		Name:           tmpl.Name,
		Branding:       branding,
		Fee:            tmpl.Fee,
		IsDefault:      tmpl.IsDefault,
		LayoutMetadata: layoutData,
		CreatedAt:      tmpl.CreatedAt.UTC(),
		UpdatedAt:      tmpl.UpdatedAt.UTC(),
	}, nil
}

func (row templateRow) template() (template.Template, error) {
	tmpl := template.Template{
		ID:        row.ID,
		Slug:      row.Slug,
		Name:      row.Name,
		Fee:       row.Fee,
		IsDefault: row.IsDefault,
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}
	if err := unmarshalJSON(row.Branding, &tmpl.Branding, "branding"); err != nil {
		return template.Template{}, err
	}
	if err := unmarshalJSON(row.LayoutMetadata, &tmpl.LayoutMetadata, "layout metadata"); err != nil {
		return template.Template{}, err
	}
	return tmpl, nil
}

type templateRepository struct {
	db core.DB
}

var _ template.Repository = (*templateRepository)(nil) // interface compliance check

func NewTemplateRepository(db core.DB) template.Repository {
	return &templateRepository{db: db}
}

// trapNoRowsErr maps psql "no rows" err to template.ErrNotFound
func (repo templateRepository) trapNoRowsErr(err error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return template.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo templateRepository) get(ctx context.Context, exec core.DBExecutor, query string, args ...interface{}) (template.Template, error) {
	var row templateRow
	if err := exec.GetContext(ctx, &row, query, args...); err != nil {
		return template.Template{}, repo.trapNoRowsErr(err, "selecting template")
	}
	return row.template()
}

func (repo templateRepository) insert(ctx context.Context, exec core.DBExecutor, tmpl template.Template) (template.Template, error) {
	tmpl.ID = uuid.New().String()
	row, err := toTemplateRow(tmpl)
	if err != nil {
		return template.Template{}, err
	}
	if _, err = sqlx.NamedExecContext(ctx, exec, qTemplateInsert, row); err != nil {
		if pqCode(err) == uniqueViolation {
			return template.Template{}, template.ErrSlugExists
		}
		return template.Template{}, errors.Wrap(err, "inserting template")
	}
	return row.template()
}

func (repo templateRepository) CheckSlugUniqueness(ctx context.Context, slug string) error {
	var exists bool
	if err := repo.db.GetContext(ctx, &exists, qTemplateExists, slug); err != nil {
		return errors.Wrap(err, "checking template slug")
	}
	if exists {
		return template.ErrSlugExists
	}
	return nil
}

func (repo templateRepository) CreateTemplate(ctx context.Context, tmpl template.Template) (template.Template, error) {
	if !tmpl.IsDefault {
		return repo.insert(ctx, repo.db, tmpl)
	}
	var created template.Template
	err := inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, qTemplateLock, templateLockKey); err != nil {
			return errors.Wrap(err, "locking templates")
		}
		if _, err := tx.ExecContext(ctx, qTemplateClearDefault); err != nil {
			return errors.Wrap(err, "clearing default template")
		}
		var err error
		created, err = repo.insert(ctx, tx, tmpl)
		return err
	})
	return created, err
}

func (repo templateRepository) EnsureBaseline(ctx context.Context, tmpl template.Template) error {
	return inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, qTemplateLock, templateLockKey); err != nil {
			return errors.Wrap(err, "locking templates")
		}
		var count int
		if err := tx.GetContext(ctx, &count, qTemplateCount); err != nil {
			return errors.Wrap(err, "counting templates")
		}
		if count > 0 {
			return nil
		}
		tmpl.IsDefault = true
		_, err := repo.insert(ctx, tx, tmpl)
		return err
	})
}

func (repo templateRepository) QueryTemplates(ctx context.Context, filter *template.QueryFilter, ordering []core.DBOrdering) ([]template.Template, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter != nil {
		if filter.Search != "" {
			args = append(args, likePattern(filter.Search))
			n := "$" + strconv.Itoa(len(args))
			where = append(where, "(slug ILIKE "+n+" OR name ILIKE "+n+")")
		}
		if filter.IsDefault != nil {
			args = append(args, *filter.IsDefault)
			where = append(where, "is_default = $"+strconv.Itoa(len(args)))
		}
	}
	query := "SELECT " + templateColumns + " FROM templates"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += orderBy(ordering, templateOrderColumns, "created_at ASC")

	var rows []templateRow
	if err := repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "selecting templates")
	}
	tmpls := make([]template.Template, 0, len(rows))
	for _, row := range rows {
		tmpl, err := row.template()
		if err != nil {
			return nil, err
		}
		tmpls = append(tmpls, tmpl)
	}
	return tmpls, nil
}

func (repo templateRepository) GetTemplate(ctx context.Context, slug string) (template.Template, error) {
	return repo.get(ctx, repo.db, qTemplateBySlug, slug)
}

func (repo templateRepository) GetDefaultTemplate(ctx context.Context) (template.Template, error) {
	return repo.get(ctx, repo.db, qTemplateDefault)
}

func (repo templateRepository) SetDefaultTemplate(ctx context.Context, slug string) (template.Template, error) {
	var tmpl template.Template
	err := inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, qTemplateLock, templateLockKey); err != nil {
			return errors.Wrap(err, "locking templates")
		}
		var err error
		if tmpl, err = repo.get(ctx, tx, qTemplateBySlug+" FOR UPDATE", slug); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, qTemplateSetDefault, slug); err != nil {
			return errors.Wrap(err, "setting default template")
		}
		tmpl.IsDefault = true
		return nil
	})
	return tmpl, err
}

func (repo templateRepository) UpdateTemplate(ctx context.Context, slug string, fn func(*template.Template) error) (template.Template, error) {
	var tmpl template.Template
	err := inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		current, err := repo.get(ctx, tx, qTemplateBySlug+" FOR UPDATE", slug)
		if err != nil {
			return err
		}
		tmpl = current
		if err = fn(&tmpl); err != nil {
			return err
		}
		// immutable columns
		tmpl.ID, tmpl.Slug, tmpl.IsDefault, tmpl.CreatedAt = current.ID, current.Slug, current.IsDefault, current.CreatedAt

		row, err := toTemplateRow(tmpl)
		if err != nil {
			return err
		}
		if _, err = sqlx.NamedExecContext(ctx, tx, qTemplateUpdate, row); err != nil {
			return errors.Wrap(err, "updating template")
		}
		return nil
	})
	if err != nil {
		return template.Template{}, err
	}
	return tmpl, nil
}

func (repo templateRepository) DeleteTemplate(ctx context.Context, slug string) error {
	res, err := repo.db.ExecContext(ctx, qTemplateDelete, slug)
	if err != nil {
		if pqCode(err) == foreignKeyViolation {
			return template.ErrTemplateInUse
		}
		return errors.Wrap(err, "deleting template")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "deleting template")
	}
	if n == 0 {
		return template.ErrNotFound
	}
	return nil
}
