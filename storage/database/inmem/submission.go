package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/admissions/core"
	"github.com/trezcool/admissions/core/submission"
)

type submissionRepository struct {
	db       *submissionTable
	template *templateTable
}

var _ submission.Repository = (*submissionRepository)(nil) // interface compliance check

func NewSubmissionRepository(db *DB) submission.Repository {
	return &submissionRepository{db: db.submission, template: db.template}
}

func copyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = copyValue(item)
		}
		return out
	case submission.FormData:
		return map[string]interface{}(copyFormData(val))
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}

func copyFormData(fd submission.FormData) submission.FormData {
	if fd == nil {
		return nil
	}
	out := make(submission.FormData, len(fd))
	for k, v := range fd {
		out[k] = copyValue(v)
	}
	return out
}

func copySubmission(sub submission.Submission) submission.Submission {
	sub.FormData = copyFormData(sub.FormData)
	return sub
}

func (repo *submissionRepository) CreateSubmission(ctx context.Context, sub submission.Submission) (submission.Submission, error) {
	// lock order: templates, then submissions
	repo.template.mutex.RLock()
	defer repo.template.mutex.RUnlock()
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.template.t[sub.TemplateSlug]; !ok {
		return submission.Submission{}, errors.Errorf("template %q does not exist", sub.TemplateSlug)
	}
	if _, ok := repo.db.t[sub.TranID]; ok {
		return submission.Submission{}, submission.ErrDuplicateTranID
	}

	repo.db.seq++
	sub.ID = uuid.New().String()
	sub = copySubmission(sub)
	repo.db.t[sub.TranID] = &submissionRow{sub: sub, seq: repo.db.seq}
	return copySubmission(sub), nil
}

func (repo *submissionRepository) GetSubmission(ctx context.Context, filter submission.GetFilter) (submission.Submission, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if filter.TranID != "" {
		if row, ok := repo.db.t[filter.TranID]; ok && (filter.ID == "" || row.sub.ID == filter.ID) {
			return copySubmission(row.sub), nil
		}
		return submission.Submission{}, submission.ErrNotFound
	}
	if filter.ID != "" {
		for _, row := range repo.db.t {
			if row.sub.ID == filter.ID {
				return copySubmission(row.sub), nil
			}
		}
	}
	return submission.Submission{}, submission.ErrNotFound
}

func (repo *submissionRepository) QuerySubmissions(ctx context.Context, filter *submission.QueryFilter, ordering []core.DBOrdering) ([]submission.Submission, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	rows := make([]*submissionRow, 0, len(repo.db.t))
	for _, row := range repo.db.t {
		sub := row.sub
		if filter != nil {
			if filter.Search != "" && !containsFold(sub.TranID, filter.Search) &&
				!containsFold(sub.Applicant.Name, filter.Search) && !containsFold(sub.Applicant.Email, filter.Search) {
				continue
			}
			if filter.Status != "" && sub.Status != filter.Status {
				continue
			}
			if filter.TemplateSlug != "" && sub.TemplateSlug != filter.TemplateSlug {
				continue
			}
			if filter.Flagged != nil && sub.IsFlagged() != *filter.Flagged {
				continue
			}
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })

	subs := make([]submission.Submission, 0, len(rows))
	for _, row := range rows {
		subs = append(subs, copySubmission(row.sub))
	}
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at"}}
	}
	key := func(field string, i int) string {
		switch field {
		case "tran_id":
			return subs[i].TranID
		case "status":
			return string(subs[i].Status)
		case "updated_at":
			return timeKey(subs[i].UpdatedAt)
		default:
			return timeKey(subs[i].CreatedAt)
		}
	}
	sort.SliceStable(subs, func(i, j int) bool { return less(ordering, key, i, j) })
	return subs, nil
}

func (repo *submissionRepository) TransitionSubmission(ctx context.Context, tranID string, status submission.Status, valID string, at time.Time) (submission.Submission, bool, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	row, ok := repo.db.t[tranID]
	if !ok {
		return submission.Submission{}, false, submission.ErrNotFound
	}
	if row.sub.Status != submission.StatusPending {
		return copySubmission(row.sub), false, nil
	}
	row.sub.Status = status
	row.sub.ValID = null.NewString(valID, valID != "")
	row.sub.ConfirmedAt = null.TimeFrom(at.UTC())
	row.sub.UpdatedAt = at.UTC()
	return copySubmission(row.sub), true, nil
}

func (repo *submissionRepository) FlagSubmission(ctx context.Context, tranID, reason string, at time.Time) (submission.Submission, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	row, ok := repo.db.t[tranID]
	if !ok {
		return submission.Submission{}, submission.ErrNotFound
	}
	row.sub.FlagReason = null.StringFrom(reason)
	row.sub.FlaggedAt = null.TimeFrom(at.UTC())
	row.sub.UpdatedAt = at.UTC()
	return copySubmission(row.sub), nil
}
