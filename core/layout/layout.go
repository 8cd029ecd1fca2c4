// Package layout merges a template's stored presentation overrides with the field catalog.
//
// A stored layout is an ordered sequence of field entries. Positions are never persisted:
// they are recomputed from the sequence every time a layout is loaded, so fields added to
// or removed from the catalog cannot drift out of sync with saved layouts.
package layout

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/trezcool/admissions/core/catalog"
)

type keyedField struct {
	field catalog.FieldDefinition
	key   int
}

// Merge applies the stored overrides (label, visibility, multiline) to the catalog.
//
// The catalog is authoritative for existence, source and required-ness; the stored layout
// only for presentation. Stored entries unknown to the catalog are dropped. Fields missing
// from the stored layout keep their catalog defaults and come after the stored ones, in
// catalog order. The result lists all visible fields first, then all hidden fields, with
// relative order preserved in each group.
//
// Merge is idempotent: Merge(c, Merge(c, l)) == Merge(c, l).
func Merge(fields []catalog.FieldDefinition, stored []catalog.FieldDefinition) []catalog.FieldDefinition {
	positions := make(map[string]int, len(stored))
	for i, s := range stored {
		if _, dup := positions[s.Name]; !dup { // first occurrence wins
			positions[s.Name] = i
		}
	}

	seen := make(map[string]bool, len(fields))
	keyed := make([]keyedField, 0, len(fields))
	for i, c := range fields {
		if seen[c.Name] {
			continue
		}
		seen[c.Name] = true

		f := c
		key := len(stored) + i
		if pos, ok := positions[c.Name]; ok {
			s := stored[pos]
			if s.Label != "" {
				f.Label = s.Label
			}
			f.Visible = s.Visible
			f.Multiline = s.Multiline
			key = pos
		}
		keyed = append(keyed, keyedField{field: f, key: key})
	}
	sort.SliceStable(keyed, func(i, j int) bool { return keyed[i].key < keyed[j].key })

	merged := make([]catalog.FieldDefinition, 0, len(keyed))
	for _, kf := range keyed {
		if kf.field.Visible {
			merged = append(merged, kf.field)
		}
	}
	for _, kf := range keyed {
		if !kf.field.Visible {
			merged = append(merged, kf.field)
		}
	}
	return merged
}

// Names returns the ordered sequence of field names of a layout.
func Names(fields []catalog.FieldDefinition) []string {
	return catalog.Names(fields)
}

// VisibleFields returns the visible prefix of a merged layout.
func VisibleFields(merged []catalog.FieldDefinition) []catalog.FieldDefinition {
	for i, f := range merged {
		if !f.Visible {
			return merged[:i]
		}
	}
	return merged
}

// IsPartitioned reports whether no hidden field precedes a visible one.
func IsPartitioned(fields []catalog.FieldDefinition) bool {
	hiddenSeen := false
	for _, f := range fields {
		if !f.Visible {
			hiddenSeen = true
		} else if hiddenSeen {
			return false
		}
	}
	return true
}

// Problem describes an invalid entry of a layout submitted for storage.
type Problem struct {
	Index   int
	Name    string
	Message string
}

// Validate checks every name of stored against the catalog. Unknown names get a
// "did you mean" hint when a catalog name is close enough.
func Validate(fields []catalog.FieldDefinition, stored []catalog.FieldDefinition) []Problem {
	known := make(map[string]bool, len(fields))
	for _, f := range fields {
		known[f.Name] = true
	}
	names := catalog.Names(fields)

	var problems []Problem
	seen := make(map[string]bool, len(stored))
	for i, s := range stored {
		switch {
		case s.Name == "":
			problems = append(problems, Problem{Index: i, Message: "field name is required"})
		case !known[s.Name]:
			msg := fmt.Sprintf("unknown field %q", s.Name)
			if match := closestName(s.Name, names); match != "" {
				msg += fmt.Sprintf(", did you mean %q?", match)
			}
			problems = append(problems, Problem{Index: i, Name: s.Name, Message: msg})
		case seen[s.Name]:
			problems = append(problems, Problem{Index: i, Name: s.Name, Message: fmt.Sprintf("duplicate field %q", s.Name)})
		}
		seen[s.Name] = true
	}
	return problems
}

// suggestionCutoff is the minimum similarity ratio for a name to be suggested.
const suggestionCutoff = 0.7

func closestName(name string, names []string) string {
	var best string
	var bestRatio float64
	for _, candidate := range names {
		ratio := difflib.NewMatcher(strings.Split(name, ""), strings.Split(candidate, "")).Ratio()
		if ratio >= suggestionCutoff && ratio > bestRatio {
			best, bestRatio = candidate, ratio
		}
	}
	return best
}
