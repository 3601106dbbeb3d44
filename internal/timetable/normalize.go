package timetable

import (
	"fmt"
	"strings"
	"time"

	"ttcatalog/internal/model"
	"ttcatalog/internal/sheet"
)

// Column names expected in a timetable export.
const (
	ColTerm        = "TERM"
	ColCourseCode  = "COURSE CODE"
	ColSection     = "CLASS SECTION"
	ColCourseTitle = "COURSE TITLE"
	ColStartDate   = "START DATE"
	ColEndDate     = "END DATE"
	ColVenue       = "VENUE"
	ColStartTime   = "START TIME"
	ColEndTime     = "END TIME"
	// ColMonday is the first of seven consecutive weekday columns (MON..SUN).
	ColMonday = "MON"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

// weekdays in column order, Monday first.
var weekdays = [7]time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
	time.Friday, time.Saturday, time.Sunday,
}

// SkipReason tells why a row produced no occurrences.
type SkipReason int

const (
	SkipNone SkipReason = iota
	SkipMissingDate
	SkipMissingTime
	SkipNoWeekday
)

func (r SkipReason) String() string {
	switch r {
	case SkipMissingDate:
		return "start date or end date missing"
	case SkipMissingTime:
		return "start time or end time missing"
	case SkipNoWeekday:
		return "none of the weekday columns is set"
	default:
		return "ok"
	}
}

// MalformedValueError is returned when a present date or time cell
// cannot be parsed.
type MalformedValueError struct {
	Column string
	Value  string
	Err    error
}

func (e *MalformedValueError) Error() string {
	return fmt.Sprintf("malformed %s %q: %v", e.Column, e.Value, e.Err)
}

func (e *MalformedValueError) Unwrap() error { return e.Err }

// NormalizedRow is one timetable row mapped into typed fields.
//
// Dates are midnight UTC; StartTime/EndTime are offsets from midnight.
// Date, time and weekday fields are only meaningful when the row was not
// skipped.
type NormalizedRow struct {
	CourseCode  string
	SectionCode string
	CourseTitle string
	Term        model.Term

	StartDate time.Time
	EndDate   time.Time
	StartTime time.Duration
	EndTime   time.Duration

	Weekday    time.Weekday
	HasWeekday bool

	Venue string
}

// Key returns the (code, term) identity of the row's course.
func (r NormalizedRow) Key() model.CourseKey {
	return model.CourseKey{Code: r.CourseCode, Term: r.Term}
}

// Columns holds the resolved positions of the timetable columns of one table.
type Columns struct {
	Term, CourseCode, Section, CourseTitle int
	StartDate, EndDate, StartTime, EndTime int
	Venue                                  int
	Monday                                 int
}

// ResolveColumns looks up every required column in the table header.
// A missing column is returned as an error wrapping sheet.ErrMissingHeader.
func ResolveColumns(t *sheet.Table) (Columns, error) {
	var (
		c   Columns
		err error
	)
	lookups := []struct {
		name string
		dst  *int
	}{
		{ColTerm, &c.Term},
		{ColCourseCode, &c.CourseCode},
		{ColSection, &c.Section},
		{ColCourseTitle, &c.CourseTitle},
		{ColStartDate, &c.StartDate},
		{ColEndDate, &c.EndDate},
		{ColVenue, &c.Venue},
		{ColStartTime, &c.StartTime},
		{ColEndTime, &c.EndTime},
		{ColMonday, &c.Monday},
	}
	for _, l := range lookups {
		if *l.dst, err = t.Index(l.name); err != nil {
			return Columns{}, err
		}
	}
	return c, nil
}

// TranslateTerm maps a free-text term label such as "2022-23 Sem 1" onto a
// Term by case-insensitive suffix. Unknown labels map to TermNA.
func TranslateTerm(label string) model.Term {
	s := strings.ToLower(strings.TrimSpace(label))
	switch {
	case strings.HasSuffix(s, "sem 1"):
		return model.TermS1
	case strings.HasSuffix(s, "sem 2"):
		return model.TermS2
	case strings.HasSuffix(s, "sum sem"):
		return model.TermSS
	default:
		return model.TermNA
	}
}

// Normalize maps a raw row onto a NormalizedRow.
//
// Presence of the date pair, the time pair and a weekday flag is checked, in
// that order, before anything is parsed; the first missing one is returned
// as the SkipReason. A present but unparseable date or time yields a
// *MalformedValueError.
func Normalize(row sheet.Row, cols Columns) (NormalizedRow, SkipReason, error) {
	out := NormalizedRow{
		CourseCode:  text(row, cols.CourseCode),
		SectionCode: text(row, cols.Section),
		CourseTitle: text(row, cols.CourseTitle),
		Term:        TranslateTerm(text(row, cols.Term)),
		Venue:       text(row, cols.Venue),
	}

	startDate, endDate := text(row, cols.StartDate), text(row, cols.EndDate)
	if startDate == "" || endDate == "" {
		return out, SkipMissingDate, nil
	}
	startTime, endTime := text(row, cols.StartTime), text(row, cols.EndTime)
	if startTime == "" || endTime == "" {
		return out, SkipMissingTime, nil
	}

	// The last non-empty weekday column wins.
	for i, wd := range weekdays {
		if text(row, cols.Monday+i) != "" {
			out.Weekday = wd
			out.HasWeekday = true
		}
	}
	if !out.HasWeekday {
		return out, SkipNoWeekday, nil
	}

	var err error
	if out.StartDate, err = parseDate(ColStartDate, startDate); err != nil {
		return out, SkipNone, err
	}
	if out.EndDate, err = parseDate(ColEndDate, endDate); err != nil {
		return out, SkipNone, err
	}
	if out.StartTime, err = parseClock(ColStartTime, startTime); err != nil {
		return out, SkipNone, err
	}
	if out.EndTime, err = parseClock(ColEndTime, endTime); err != nil {
		return out, SkipNone, err
	}

	return out, SkipNone, nil
}

func text(row sheet.Row, i int) string {
	v, _ := row.Cell(i)
	return strings.TrimSpace(v)
}

func parseDate(col, v string) (time.Time, error) {
	d, err := time.ParseInLocation(dateLayout, v, time.UTC)
	if err != nil {
		return time.Time{}, &MalformedValueError{Column: col, Value: v, Err: err}
	}
	return d, nil
}

func parseClock(col, v string) (time.Duration, error) {
	t, err := time.Parse(clockLayout, v)
	if err != nil {
		return 0, &MalformedValueError{Column: col, Value: v, Err: err}
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
