package timetable

import (
	"fmt"
	"sort"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"ttcatalog/internal/model"
	"ttcatalog/internal/sheet"
)

// Diagnostic records a row that was skipped.
type Diagnostic struct {
	Source string
	Line   int
	Key    model.CourseKey
	Reason SkipReason
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s:%d: %s: %s", d.Source, d.Line, d.Key, d.Reason)
}

// ExpandedRow pairs a normalized row with its occurrences.
type ExpandedRow struct {
	Row         NormalizedRow
	Occurrences []model.Occurrence
}

type courseEntry struct {
	code     string
	term     model.Term
	title    string
	sections *orderedmap.OrderedMap[string, []model.Occurrence]
}

// Builder folds the rows of one source file into courses.
//
// Courses are keyed by (code, term) and kept in first-seen order; the title
// comes from the first row of a course. Sections are keyed by section code,
// also in first-seen order.
type Builder struct {
	courses *orderedmap.OrderedMap[model.CourseKey, *courseEntry]
}

func NewBuilder() *Builder {
	return &Builder{courses: orderedmap.New[model.CourseKey, *courseEntry]()}
}

// Add registers the row's course and section and appends occ to the section,
// re-sorting it by start time. occ may be empty (skipped rows still create
// their course and section).
func (b *Builder) Add(row NormalizedRow, occ []model.Occurrence) {
	key := row.Key()
	entry, ok := b.courses.Get(key)
	if !ok {
		entry = &courseEntry{
			code:     row.CourseCode,
			term:     row.Term,
			title:    row.CourseTitle,
			sections: orderedmap.New[string, []model.Occurrence](),
		}
		b.courses.Set(key, entry)
	}

	times, ok := entry.sections.Get(row.SectionCode)
	if !ok {
		times = []model.Occurrence{}
	}
	if len(occ) > 0 {
		times = append(times, occ...)
		SortOccurrences(times)
	}
	entry.sections.Set(row.SectionCode, times)
}

// Courses returns the folded courses in first-seen order.
func (b *Builder) Courses() []model.Course {
	out := make([]model.Course, 0, b.courses.Len())
	for pair := b.courses.Oldest(); pair != nil; pair = pair.Next() {
		e := pair.Value
		c := model.Course{
			Code:     e.code,
			Term:     e.term,
			Title:    e.title,
			Subclass: make([]model.Section, 0, e.sections.Len()),
		}
		for sec := e.sections.Oldest(); sec != nil; sec = sec.Next() {
			c.Subclass = append(c.Subclass, model.Section{Name: sec.Key, Times: sec.Value})
		}
		out = append(out, c)
	}
	return out
}

// FoldRows folds already expanded rows into courses.
func FoldRows(rows []ExpandedRow) []model.Course {
	b := NewBuilder()
	for _, r := range rows {
		b.Add(r.Row, r.Occurrences)
	}
	return b.Courses()
}

// ProcessTable runs every row of t through Normalize and Expand, in source
// order, and folds the result. Skipped rows are reported as diagnostics.
// A missing header or a malformed date/time value aborts with an error.
func ProcessTable(t *sheet.Table) ([]model.Course, []Diagnostic, error) {
	cols, err := ResolveColumns(t)
	if err != nil {
		return nil, nil, err
	}

	b := NewBuilder()
	var diags []Diagnostic
	for _, raw := range t.Rows {
		row, skip, err := Normalize(raw, cols)
		if err != nil {
			return nil, diags, fmt.Errorf("%s:%d: %w", t.Name, raw.Line, err)
		}
		if skip != SkipNone {
			diags = append(diags, Diagnostic{Source: t.Name, Line: raw.Line, Key: row.Key(), Reason: skip})
			b.Add(row, nil)
			continue
		}

		occ, err := Expand(row)
		if err != nil {
			return nil, diags, fmt.Errorf("%s:%d: %w", t.Name, raw.Line, err)
		}
		b.Add(row, occ)
	}
	return b.Courses(), diags, nil
}

// Merge combines per-file catalogs in the given order. A course whose
// (code, term) was already seen replaces the earlier entry entirely. The
// result is stable-sorted by code, so entries with equal codes keep the
// order in which their keys were first seen.
func Merge(fileCatalogs [][]model.Course) []model.Course {
	// Set on an existing key keeps its original position.
	merged := orderedmap.New[model.CourseKey, model.Course]()
	for _, courses := range fileCatalogs {
		for _, c := range courses {
			merged.Set(c.Key(), c)
		}
	}

	out := make([]model.Course, 0, merged.Len())
	for pair := merged.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Code < out[j].Code
	})
	return out
}
