package timetable

import (
	"fmt"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	"ttcatalog/internal/model"
)

var rruleWeekdays = map[time.Weekday]rrule.Weekday{
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
	time.Sunday:    rrule.SU,
}

// Expand turns a normalized row into its concrete weekly occurrences: one per
// date in [StartDate, EndDate] that falls on the row's weekday, ascending.
//
// The recurrence is a FREQ=WEEKLY rule anchored at the start date and start
// time, bounded by UNTIL at the end date and start time (inclusive). An
// inverted date range yields no occurrences. A reversed time range is kept
// as-is, so To may precede From.
func Expand(row NormalizedRow) ([]model.Occurrence, error) {
	if !row.HasWeekday {
		return nil, nil
	}
	if row.EndDate.Before(row.StartDate) {
		return []model.Occurrence{}, nil
	}

	wd, ok := rruleWeekdays[row.Weekday]
	if !ok {
		return nil, fmt.Errorf("expand: invalid weekday %d", row.Weekday)
	}

	r, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Wkst:      rrule.MO,
		Byweekday: []rrule.Weekday{wd},
		Dtstart:   row.StartDate.Add(row.StartTime),
		Until:     row.EndDate.Add(row.StartTime),
	})
	if err != nil {
		return nil, fmt.Errorf("expand: build rule for %s: %w", row.Key(), err)
	}

	starts := r.All()
	duration := row.EndTime - row.StartTime

	out := make([]model.Occurrence, 0, len(starts))
	for _, from := range starts {
		out = append(out, model.Occurrence{
			From:  model.LocalTime{Time: from},
			To:    model.LocalTime{Time: from.Add(duration)},
			Venue: row.Venue,
		})
	}
	return out, nil
}

// SortOccurrences orders occurrences by From, keeping the relative order
// of equal starts.
func SortOccurrences(occ []model.Occurrence) {
	sort.SliceStable(occ, func(i, j int) bool {
		return occ[i].From.Before(occ[j].From.Time)
	})
}
