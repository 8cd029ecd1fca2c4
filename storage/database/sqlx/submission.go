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
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/admissions/core"
	"github.com/trezcool/admissions/core/submission"
)

const (
	submissionColumns = "id, template_slug, tran_id, applicant, form_data, amount, currency, status, " +
		"val_id, flag_reason, flagged_at, confirmed_at, created_at, updated_at"

	qSubmissionInsert = "INSERT INTO submissions (" + submissionColumns + ") VALUES (:id, :template_slug, " +
		":tran_id, :applicant, :form_data, :amount, :currency, :status, :val_id, :flag_reason, :flagged_at, " +
		":confirmed_at, :created_at, :updated_at)"
	qSubmissionSelect = "SELECT " + submissionColumns + " FROM submissions"
	// only a pending row moves; the loser of a race matches nothing
	qSubmissionTransition = "UPDATE submissions SET status = $2, val_id = $3, confirmed_at = $4, updated_at = $4 " +
		"WHERE tran_id = $1 AND status = 'pending' RETURNING " + submissionColumns
	qSubmissionFlag = "UPDATE submissions SET flag_reason = $2, flagged_at = $3, updated_at = $3 " +
		"WHERE tran_id = $1 RETURNING " + submissionColumns
)

var submissionOrderColumns = map[string]bool{"tran_id": true, "status": true, "created_at": true, "updated_at": true}

type submissionRow struct {
	ID           string          `db:"id"`
	TemplateSlug string          `db:"template_slug"`
	TranID       string          `db:"tran_id"`
	Applicant    []byte          `db:"applicant"`
	FormData     []byte          `db:"form_data"`
	Amount       decimal.Decimal `db:"amount"`
	Currency     string          `db:"currency"`
	Status       string          `db:"status"`
	ValID        null.String     `db:"val_id"`
	FlagReason   null.String     `db:"flag_reason"`
	FlaggedAt    null.Time       `db:"flagged_at"`
	ConfirmedAt  null.Time       `db:"confirmed_at"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

func utc(t null.Time) null.Time {
	if t.Valid {
		t.Time = t.Time.UTC()
	}
	return t
}

func toSubmissionRow(sub submission.Submission) (submissionRow, error) {
	applicant, err := marshalJSON(sub.Applicant, "applicant")
	if err != nil {
		return submissionRow{}, err
	}
	formData := sub.FormData
	if formData == nil {
		formData = submission.FormData{}
	}
	data, err := marshalJSON(formData, "form data")
	if err != nil {
		return submissionRow{}, err
	}
	return submissionRow{
		ID:           sub.ID,
		TemplateSlug: sub.TemplateSlug,
		TranID:       sub.TranID,
		Applicant:    applicant,
		FormData:     data,
		Amount:       sub.Amount,
		Currency:     sub.Currency,
		Status:       string(sub.Status),
		ValID:        sub.ValID,
		FlagReason:   sub.FlagReason,
		FlaggedAt:    utc(sub.FlaggedAt),
		ConfirmedAt:  utc(sub.ConfirmedAt),
		CreatedAt:    sub.CreatedAt.UTC(),
		UpdatedAt:    sub.UpdatedAt.UTC(),
	}, nil
}

func (row submissionRow) submission() (submission.Submission, error) {
	sub := submission.Submission{
		ID:           row.ID,
		TemplateSlug: row.TemplateSlug,
		TranID:       row.TranID,
		Amount:       row.Amount,
		Currency:     row.Currency,
		Status:       submission.Status(row.Status),
		ValID:        row.ValID,
		FlagReason:   row.FlagReason,
		FlaggedAt:    utc(row.FlaggedAt),
		ConfirmedAt:  utc(row.ConfirmedAt),
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
	}
	if err := unmarshalJSON(row.Applicant, &sub.Applicant, "applicant"); err != nil {
		return submission.Submission{}, err
	}
	if err := unmarshalJSON(row.FormData, &sub.FormData, "form data"); err != nil {
		return submission.Submission{}, err
	}
	return sub, nil
}

type submissionRepository struct {
	db core.DB
}

var _ submission.Repository = (*submissionRepository)(nil) // interface compliance check

func NewSubmissionRepository(db core.DB) submission.Repository {
	return &submissionRepository{db: db}
}

// trapNoRowsErr maps psql "no rows" err to submission.ErrNotFound
func (repo submissionRepository) trapNoRowsErr(err error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return submission.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo submissionRepository) get(ctx context.Context, query string, args ...interface{}) (submission.Submission, error) {
	var row submissionRow
	if err := repo.db.GetContext(ctx, &row, query, args...); err != nil {
		return submission.Submission{}, repo.trapNoRowsErr(err, "selecting submission")
	}
	return row.submission()
}

func (repo submissionRepository) CreateSubmission(ctx context.Context, sub submission.Submission) (submission.Submission, error) {
	sub.ID = uuid.New().String()
	row, err := toSubmissionRow(sub)
	if err != nil {
		return submission.Submission{}, err
	}
	if _, err = sqlx.NamedExecContext(ctx, repo.db, qSubmissionInsert, row); err != nil {
		switch pqCode(err) {
		case uniqueViolation:
			return submission.Submission{}, submission.ErrDuplicateTranID
		case foreignKeyViolation:
			return submission.Submission{}, errors.Errorf("template %q does not exist", sub.TemplateSlug)
		}
		return submission.Submission{}, errors.Wrap(err, "inserting submission")
	}
	return row.submission()
}

func (repo submissionRepository) GetSubmission(ctx context.Context, filter submission.GetFilter) (submission.Submission, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.TranID != "" {
		args = append(args, filter.TranID)
		where = append(where, "tran_id = $"+strconv.Itoa(len(args)))
	}
	if filter.ID != "" {
		if _, err := uuid.Parse(filter.ID); err != nil {
			return submission.Submission{}, submission.ErrNotFound
		}
		args = append(args, filter.ID)
		where = append(where, "id = $"+strconv.Itoa(len(args)))
	}
	if len(where) == 0 {
		return submission.Submission{}, submission.ErrNotFound
	}
	return repo.get(ctx, qSubmissionSelect+" WHERE "+strings.Join(where, " AND "), args...)
}

func (repo submissionRepository) QuerySubmissions(ctx context.Context, filter *submission.QueryFilter, ordering []core.DBOrdering) ([]submission.Submission, error) {
	var (
		where []string
		args  []interface{}
	)
	param := func(v interface{}) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if filter != nil {
		if filter.Search != "" {
			n := param(likePattern(filter.Search))
			where = append(where, "(tran_id ILIKE "+n+" OR applicant->>'name' ILIKE "+n+" OR applicant->>'email' ILIKE "+n+")")
		}
		if filter.Status != "" {
			where = append(where, "status = "+param(string(filter.Status)))
		}
		if filter.TemplateSlug != "" {
			where = append(where, "template_slug = "+param(filter.TemplateSlug))
		}
		if filter.Flagged != nil {
			if *filter.Flagged {
				where = append(where, "flag_reason IS NOT NULL")
			} else {
				where = append(where, "flag_reason IS NULL")
			}
		}
	}
	query := qSubmissionSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += orderBy(ordering, submissionOrderColumns, "created_at DESC")

	var rows []submissionRow
	if err := repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "selecting submissions")
	}
	subs := make([]submission.Submission, 0, len(rows))
	for _, row := range rows {
		sub, err := row.submission()
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (repo submissionRepository) TransitionSubmission(ctx context.Context, tranID string, status submission.Status, valID string, at time.Time) (submission.Submission, bool, error) {
	var row submissionRow
	err := repo.db.GetContext(ctx, &row, qSubmissionTransition, tranID, string(status), null.NewString(valID, valID != ""), at.UTC())
	if err == nil {
		sub, err := row.submission()
		return sub, err == nil, err
	}
	if errors.Cause(err) != sql.ErrNoRows {
		return submission.Submission{}, false, errors.Wrap(err, "transitioning submission")
	}

	// already terminal, or unknown
	sub, err := repo.get(ctx, qSubmissionSelect+" WHERE tran_id = $1", tranID)
	if err != nil {
		return submission.Submission{}, false, err
	}
	return sub, false, nil
}

func (repo submissionRepository) FlagSubmission(ctx context.Context, tranID, reason string, at time.Time) (submission.Submission, error) {
	return repo.get(ctx, qSubmissionFlag, tranID, reason, at.UTC())
}
