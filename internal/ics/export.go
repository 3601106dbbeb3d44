package ics

import (
	"fmt"
	"io"
	"time"

	ical "github.com/arran4/golang-ical"

	"ttcatalog/internal/model"
)

// floatingLayout is an iCalendar DATE-TIME without "Z" or TZID, i.e. a
// local ("floating") time. Catalog timestamps carry no zone either.
const floatingLayout = "20060102T150405"

// ExportOptions controls how a catalog is rendered as a calendar.
type ExportOptions struct {
	// Domain is the right-hand side of every UID (e.g. "hku").
	Domain string
	// Name is shown by clients as the calendar name (X-WR-CALNAME).
	Name string
	// Stamp is written as DTSTAMP on every event. Callers should pass a
	// value derived from the inputs so repeated exports are identical.
	Stamp time.Time
}

// BuildCalendar renders every occurrence of every section as one VEVENT.
// Events follow catalog order: course, then section, then start time.
func BuildCalendar(courses []model.Course, opts ExportOptions) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//ttcatalog//timetable catalog//EN")
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}
	domain := opts.Domain
	if domain == "" {
		domain = "ttcatalog"
	}
	stamp := opts.Stamp.UTC()

	for _, c := range courses {
		for _, sec := range c.Subclass {
			for i, occ := range sec.Times {
				uid := fmt.Sprintf("%s-%s-%s-%d-%s@%s",
					c.Code, c.Term, sec.Name, i, occ.From.Format(floatingLayout), domain)

				ev := cal.AddEvent(uid)
				ev.SetDtStampTime(stamp)
				ev.SetProperty(ical.ComponentPropertyDtStart, occ.From.Format(floatingLayout))
				ev.SetProperty(ical.ComponentPropertyDtEnd, occ.To.Format(floatingLayout))
				ev.SetSummary(summary(c, sec))
				if occ.Venue != "" {
					ev.SetLocation(occ.Venue)
				}
				ev.SetDescription(fmt.Sprintf("%s %s, section %s", c.Code, termLabel(c.Term), sec.Name))
			}
		}
	}
	return cal
}

// Write serializes the calendar for courses to w.
func Write(w io.Writer, courses []model.Course, opts ExportOptions) error {
	cal := BuildCalendar(courses, opts)
	if _, err := io.WriteString(w, cal.Serialize()); err != nil {
		return fmt.Errorf("ics: write: %w", err)
	}
	return nil
}

func summary(c model.Course, sec model.Section) string {
	if c.Title == "" {
		return fmt.Sprintf("%s (%s)", c.Code, sec.Name)
	}
	return fmt.Sprintf("%s %s (%s)", c.Code, c.Title, sec.Name)
}

func termLabel(t model.Term) string {
	switch t {
	case model.TermS1:
		return "Semester 1"
	case model.TermS2:
		return "Semester 2"
	case model.TermSS:
		return "Summer Semester"
	default:
		return "Other term"
	}
}
