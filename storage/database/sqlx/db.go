package sqlxrepos

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/admissions/core"
)

// postgres error codes
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

func pqCode(err error) string {
	if pqErr, ok := errors.Cause(err).(*pq.Error); ok {
		return string(pqErr.Code)
	}
	return ""
}

// inTx runs fn in a transaction, committed when fn succeeds.
func inTx(ctx context.Context, db core.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

func marshalJSON(v interface{}, what string) ([]byte, error) {
	data, err := json.Marshal(v)
	return data, errors.Wrapf(err, "encoding %s", what)
}

func unmarshalJSON(data []byte, v interface{}, what string) error {
	if len(data) == 0 {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(data, v), "decoding %s", what)
}

// orderBy renders ordering against the allowed columns, falling back to def.
func orderBy(ordering []core.DBOrdering, columns map[string]bool, def string) string {
	parts := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		if columns[ord.Field] {
			parts = append(parts, ord.String())
		}
	}
	if len(parts) == 0 {
		return " ORDER BY " + def
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

// likePattern escapes s for a contains-match with ILIKE.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}
