package inmemdb

import (
	"strings"
	"sync"
	"time"

	"github.com/trezcool/admissions/core"
	"github.com/trezcool/admissions/core/submission"
	"github.com/trezcool/admissions/core/template"
)

type (
	// DB is a process-local store implementing the same contracts as the SQL repositories.
	DB struct {
		template   *templateTable
		submission *submissionTable
	}

	templateTable struct {
		t     map[string]*templateRow // by slug
		seq   int
		mutex sync.RWMutex
	}

	templateRow struct {
		tmpl template.Template
		seq  int // insertion order, breaks ordering ties
	}

	submissionTable struct {
		t     map[string]*submissionRow // by tran_id
		seq   int
		mutex sync.RWMutex
	}

	submissionRow struct {
		sub submission.Submission
		seq int
	}
)

func Open() *DB {
	return &DB{
		template:   &templateTable{t: make(map[string]*templateRow)},
		submission: &submissionTable{t: make(map[string]*submissionRow)},
	}
}

// less orders two rows by the first ordering field that differs.
func less(ordering []core.DBOrdering, value func(field string, i int) string, i, j int) bool {
	for _, ord := range ordering {
		vi, vj := value(ord.Field, i), value(ord.Field, j)
		if vi == vj {
			continue
		}
		if ord.Ascending {
			return vi < vj
		}
		return vi > vj
	}
	return false
}

// timeKey formats t with a fixed width so keys compare like the times they represent.
func timeKey(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000")
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
