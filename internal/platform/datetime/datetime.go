// Package datetime turns client supplied date/time strings into absolute
// instants using a single clinic time zone policy.
package datetime

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clinic/clinic/internal/platform/apperr"
)

var (
	ErrInvalidDateFormat = errors.New("invalid date format")
	ErrMissingOffset     = errors.New("timezone offset required")
)

// DateLayout is the accepted layout for day queries.
const DateLayout = "2006-01-02"

var offsetLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
}

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// Normalizer parses instants. Input without an offset is read in Location,
// or rejected when RequireOffset is set.
type Normalizer struct {
	Location      *time.Location
	RequireOffset bool
}

func NewNormalizer(loc *time.Location, requireOffset bool) *Normalizer {
	if loc == nil {
		loc = time.Local
	}
	return &Normalizer{Location: loc, RequireOffset: requireOffset}
}

func invalid(s string, cause error) error {
	return &apperr.Error{
		Kind:    apperr.KindValidation,
		Message: fmt.Sprintf("%s: %q", cause.Error(), s),
		Err:     cause,
	}
}

// Parse returns the absolute instant named by s.
func (n *Normalizer) Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, invalid(s, ErrInvalidDateFormat)
	}
	for _, layout := range offsetLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	for _, layout := range localLayouts {
		t, err := time.ParseInLocation(layout, s, n.Location)
		if err != nil {
			continue
		}
		if n.RequireOffset {
			return time.Time{}, invalid(s, ErrMissingOffset)
		}
		return t, nil
	}
	return time.Time{}, invalid(s, ErrInvalidDateFormat)
}

// DayRange expands YYYY-MM-DD to [00:00:00.000, 23:59:59.999] in Location.
func (n *Normalizer) DayRange(date string) (time.Time, time.Time, error) {
	day, err := time.ParseInLocation(DateLayout, strings.TrimSpace(date), n.Location)
	if err != nil {
		return time.Time{}, time.Time{}, invalid(date, ErrInvalidDateFormat)
	}
	end := day.AddDate(0, 0, 1).Add(-time.Millisecond)
	return day, end, nil
}

// Window resolves a listing window. Explicit start/end win over date.
func (n *Normalizer) Window(date, start, end string) (time.Time, time.Time, error) {
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	if start != "" || end != "" {
		if start == "" || end == "" {
			return time.Time{}, time.Time{}, apperr.Validation("start and end must be given together")
		}
		from, err := n.Parse(start)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to, err := n.Parse(end)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		if to.Before(from) {
			return time.Time{}, time.Time{}, apperr.Validation("end must not be before start")
		}
		return from, to, nil
	}
	if strings.TrimSpace(date) != "" {
		return n.DayRange(date)
	}
	return time.Time{}, time.Time{}, apperr.Validation("either date or start and end are required")
}

// BeforeNow reports whether t is strictly earlier than now at second granularity.
func BeforeNow(t, now time.Time) bool {
	return t.Truncate(time.Second).Before(now.Truncate(time.Second))
}
