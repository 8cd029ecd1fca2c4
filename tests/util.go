package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trezcool/admissions/core"
	"github.com/trezcool/admissions/core/catalog"
	"github.com/trezcool/admissions/core/submission"
	"github.com/trezcool/admissions/core/template"
)

var DefaultFee = decimal.RequireFromString("500.00")

func CreateTemplate(
	t *testing.T,
	repo template.Repository,
	slug, name string,
	isDefault bool,
	createdAt ...time.Time,
) template.Template {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	tmpl := template.Template{
		Slug: slug,
		Name: name,
		Branding: template.Branding{
			PrimaryColor:   "#0f766e",
			SecondaryColor: "#ccfbf1",
			TextColor:      "#111827",
			FontFamily:     "Times",
			HeaderText:     name,
		},
		Fee:            DefaultFee,
		LayoutMetadata: catalog.NewResolver().Resolve(),
		CreatedAt:      tstamp,
		UpdatedAt:      tstamp,
	}
	tmpl, err := repo.CreateTemplate(context.Background(), tmpl)
	if err != nil {
		t.Fatalf("createTemplate() failed: %v", err)
	}
	if isDefault {
		if tmpl, err = repo.SetDefaultTemplate(context.Background(), slug); err != nil {
			t.Fatalf("createTemplate() failed: %v", err)
		}
	}
	return tmpl
}

func CreateSubmission(
	t *testing.T,
	repo submission.Repository,
	slug, name string,
	status submission.Status,
	createdAt ...time.Time,
) submission.Submission {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	sub := submission.Submission{
		TemplateSlug: slug,
		TranID:       submission.NewTranID(),
		Applicant:    submission.Applicant{Name: name},
		FormData:     submission.FormData{"name": name},
		Amount:       DefaultFee,
		Currency:     "BDT",
		Status:       submission.StatusPending,
		CreatedAt:    tstamp,
		UpdatedAt:    tstamp,
	}
	ctx := context.Background()
	sub, err := repo.CreateSubmission(ctx, sub)
	if err != nil {
		t.Fatalf("createSubmission() failed: %v", err)
	}
	if status != submission.StatusPending {
		valID := ""
		if status == submission.StatusPaid {
			valID = "VAL-" + sub.TranID
		}
		if sub, _, err = repo.TransitionSubmission(ctx, sub.TranID, status, valID, tstamp); err != nil {
			t.Fatalf("createSubmission() failed: %v", err)
		}
	}
	return sub
}

// LogEntry is one call recorded by Logger.
type LogEntry struct {
	Level string
	Msg   string
	Args  []interface{}
}

// Logger records log calls instead of reporting them.
type Logger struct {
	mu      sync.Mutex
	entries []LogEntry
}

var _ core.Logger = (*Logger)(nil)

func NewLogger() *Logger {
	return &Logger{}
}

func (l *Logger) log(level, msg string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, LogEntry{Level: level, Msg: msg, Args: args})
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.log("debug", msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log("info", msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log("warning", msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log("error", msg, args) }
func (l *Logger) Fatal(msg string, args ...interface{}) { l.log("critical", msg, args) }

// Messages returns the messages logged at level.
func (l *Logger) Messages(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var msgs []string
	for _, e := range l.entries {
		if e.Level == level {
			msgs = append(msgs, e.Msg)
		}
	}
	return msgs
}

// AssetStore keeps uploads in memory.
type AssetStore struct {
	mu      sync.Mutex
	Files   map[string][]byte
	Deleted []string
	seq     int
}

var _ template.AssetStore = (*AssetStore)(nil)

func NewAssetStore() *AssetStore {
	return &AssetStore{Files: make(map[string][]byte)}
}

func (s *AssetStore) Save(ctx context.Context, slug, slot string, upload template.Upload) (string, error) {
	content, err := io.ReadAll(upload.Content)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	key := fmt.Sprintf("templates/%s/%s-%d-%s", slug, slot, s.seq, upload.Filename)
	s.Files[key] = content
	return key, nil
}

func (s *AssetStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Files, key)
	s.Deleted = append(s.Deleted, key)
	return nil
}

func (s *AssetStore) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.Files[key]
	return ok
}

func (s *AssetStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.Files[key]
	if !ok {
		return nil, fmt.Errorf("asset %q not found", key)
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}
