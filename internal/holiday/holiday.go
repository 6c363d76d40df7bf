// Package holiday counts business days against a country's public holiday
// calendar.
package holiday

import (
	"strings"
	"time"

	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/ca"
	"github.com/rickar/cal/v2/de"
	"github.com/rickar/cal/v2/fr"
	"github.com/rickar/cal/v2/gb"
	"github.com/rickar/cal/v2/ie"
	"github.com/rickar/cal/v2/nl"
	"github.com/rickar/cal/v2/nz"
	"github.com/rickar/cal/v2/us"
)

// DefaultCountry is used when no country is configured.
const DefaultCountry = "US"

// maxSpan bounds BusinessDays so a far-off due date cannot loop for long.
const maxSpan = 5 * 366

var countries = map[string]struct {
	name     string
	holidays []*cal.Holiday
}{
	"US": {"United States", us.Holidays},
	"GB": {"United Kingdom", gb.Holidays},
	"DE": {"Germany", de.Holidays},
	"FR": {"France", fr.Holidays},
	"CA": {"Canada", ca.Holidays},
	"NZ": {"New Zealand", nz.Holidays},
	"IE": {"Ireland", ie.Holidays},
	"NL": {"Netherlands", nl.Holidays},
}

// Calendar is a business calendar for one country. The zero value counts
// weekdays only.
type Calendar struct {
	Country string
	bc      *cal.BusinessCalendar
}

// New returns the calendar for an ISO country code. Unknown codes and
// "NONE" fall back to weekdays only.
func New(country string) *Calendar {
	code := strings.ToUpper(strings.TrimSpace(country))
	if code == "" {
		code = DefaultCountry
	}
	c := &Calendar{Country: code}
	if def, ok := countries[code]; ok {
		c.bc = cal.NewBusinessCalendar()
		c.bc.Name = def.name
		c.bc.AddHoliday(def.holidays...)
	}
	return c
}

// IsWorkday reports whether t falls on a business day.
func (c *Calendar) IsWorkday(t time.Time) bool {
	if c == nil || c.bc == nil {
		return !cal.IsWeekend(t)
	}
	return c.bc.IsWorkday(t)
}

// BusinessDays counts the business days after from up to and including to.
// It is negative when to lies before from.
func (c *Calendar) BusinessDays(from, to time.Time) int {
	start := truncateDay(from)
	end := truncateDay(to)

	sign := 1
	if end.Before(start) {
		start, end = end, start
		sign = -1
	}

	n := 0
	for d, i := start.AddDate(0, 0, 1), 0; !d.After(end) && i < maxSpan; d, i = d.AddDate(0, 0, 1), i+1 {
		if c.IsWorkday(d) {
			n++
		}
	}
	return sign * n
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
