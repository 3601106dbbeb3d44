package model

import (
	"time"
)

// Term is the academic sub-period a course offering belongs to.
type Term string

const (
	TermS1 Term = "s1" // first semester
	TermS2 Term = "s2" // second semester
	TermSS Term = "ss" // summer semester
	TermNA Term = "na" // anything else
)

// LocalTimeLayout is the ISO-8601 local timestamp form used in the catalog
// (no timezone offset).
const LocalTimeLayout = "2006-01-02T15:04:05"

// LocalTime is a wall-clock timestamp without a zone. Values are kept in UTC
// internally so that arithmetic never crosses a DST boundary.
type LocalTime struct {
	time.Time
}

// MarshalJSON renders the timestamp as "YYYY-MM-DDTHH:MM:SS".
func (t LocalTime) MarshalJSON() ([]byte, error) {
	b := make([]byte, 0, len(LocalTimeLayout)+2)
	b = append(b, '"')
	b = t.AppendFormat(b, LocalTimeLayout)
	b = append(b, '"')
	return b, nil
}

// UnmarshalJSON accepts the same form MarshalJSON produces.
func (t *LocalTime) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	s := string(data)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return &time.ParseError{Layout: LocalTimeLayout, Value: s}
	}
	parsed, err := time.ParseInLocation(LocalTimeLayout, s[1:len(s)-1], time.UTC)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

func (t LocalTime) String() string {
	return t.Format(LocalTimeLayout)
}

// Occurrence represents a single concrete meeting of a class section
// (after weekly recurrence expansion).
//
// Field order is alphabetical so encoding/json emits sorted keys.
type Occurrence struct {
	From  LocalTime `json:"from"`
	To    LocalTime `json:"to"`
	Venue string    `json:"venue"`
}

// Section groups the occurrences of one class section, sorted by From.
type Section struct {
	Name  string       `json:"name"`
	Times []Occurrence `json:"times"`
}

// Course is one course offering within one term.
type Course struct {
	Code     string    `json:"code"`
	Subclass []Section `json:"subclass"`
	Term     Term      `json:"term"`
	Title    string    `json:"title"`
}

// Key identifies a course offering across source files.
func (c Course) Key() CourseKey {
	return CourseKey{Code: c.Code, Term: c.Term}
}

// CourseKey is the (code, term) identity of a course offering.
type CourseKey struct {
	Code string
	Term Term
}

func (k CourseKey) String() string {
	return k.Code + "_" + string(k.Term)
}
