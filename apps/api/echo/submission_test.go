package echoapi_test

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/admissions/core/submission"
	"github.com/trezcool/admissions/core/template"
	testutil "github.com/trezcool/admissions/tests"
)

func TestSubmissionAPI_admin(t *testing.T) {
	app := setup(t)
	token := app.adminToken(t)
	testutil.CreateTemplate(t, app.tmplRepo, template.BaselineSlug, "Admission Form", true)

	now := time.Now().UTC()
	paid := testutil.CreateSubmission(t, app.subRepo, template.BaselineSlug, "Asha", submission.StatusPaid, now.Add(-2*time.Hour))
	pending := testutil.CreateSubmission(t, app.subRepo, template.BaselineSlug, "Rafi", submission.StatusPending, now.Add(-time.Hour))
	rejected := testutil.CreateSubmission(t, app.subRepo, template.BaselineSlug, "Mina", submission.StatusRejected, now)

	list := func(t *testing.T, query string) []string {
		rec := app.do(newAuthRequest(http.MethodGet, "/submissions"+query, token))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var subs []submission.Submission
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &subs))
		names := make([]string, 0, len(subs))
		for _, s := range subs {
			names = append(names, s.Applicant.Name)
		}
		return names
	}

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{name: "newest first", query: "", want: []string{"Mina", "Rafi", "Asha"}},
		{name: "ordering", query: "?ordering=created_at", want: []string{"Asha", "Rafi", "Mina"}},
		{name: "by status", query: "?status=paid", want: []string{"Asha"}},
		{name: "search", query: "?search=raf", want: []string{"Rafi"}},
		{name: "search by tran_id", query: "?search=" + rejected.TranID, want: []string{"Mina"}},
		{name: "flagged", query: "?flagged=true", want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, list(t, tt.query))
		})
	}

	errTests := []httpTest{
		{
			name:     "unknown status",
			method:   http.MethodGet,
			path:     "/submissions?status=lost",
			token:    token,
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"status":"must be one of pending, paid, rejected"}`),
		},
		{
			name:     "list without token",
			method:   http.MethodGet,
			path:     "/submissions",
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "unknown id",
			method:   http.MethodGet,
			path:     "/submissions/00000000-0000-0000-0000-000000000000",
			token:    token,
			wantCode: http.StatusNotFound,
		},
		{
			name:     "download pending by id",
			method:   http.MethodGet,
			path:     "/submissions/" + pending.ID + "/download",
			token:    token,
			wantCode: http.StatusConflict,
			wantData: marshalObj(t, map[string]string{"status": "processing", "tran_id": pending.TranID}),
		},
	}
	for _, tt := range errTests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(newAuthRequest(tt.method, tt.path, tt.token))
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("retrieve", func(t *testing.T) {
		rec := app.do(newAuthRequest(http.MethodGet, "/submissions/"+paid.ID, token))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var sub submission.Submission
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
		assert.Equal(t, paid.TranID, sub.TranID)
		assert.Equal(t, submission.StatusPaid, sub.Status)
	})

	t.Run("download by id", func(t *testing.T) {
		rec := app.do(newAuthRequest(http.MethodGet, "/submissions/"+paid.ID+"/download", token))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.True(t, strings.HasPrefix(rec.Body.String(), "%PDF-"))
		assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	})
}

func TestMetrics(t *testing.T) {
	app := setup(t)
	testutil.CreateTemplate(t, app.tmplRepo, template.BaselineSlug, "Admission Form", true)
	sub := testutil.CreateSubmission(t, app.subRepo, template.BaselineSlug, "Asha", submission.StatusPending)

	rec := app.do(newRequest(http.MethodGet, "/submissions/download?tran_id="+sub.TranID))
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = app.do(newRequest(http.MethodGet, "/metrics"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `admissions_downloads_total{outcome="processing"} 1`)
}
