// Package calendar maps named venue profiles to trading sessions: open and
// close instants, trading days and holiday or early-close overrides.
package calendar

import (
	"time"

	"github.com/helix-lab/tradewind/pkg/errors"
)

// Profile names a built-in venue schedule.
type Profile string

const (
	// ProfileUSEquity is the standard US equities session, 09:30-16:00
	// America/New_York, Monday through Friday.
	ProfileUSEquity Profile = "us_equity"
	// Profile247 trades around the clock with day boundaries at midnight UTC.
	Profile247 Profile = "24/7"
	// Profile245 trades around the clock Monday through Friday UTC.
	Profile245 Profile = "24/5"
)

// Overrides layers venue-specific exceptions over a profile. Dates use the
// 2006-01-02 layout in the venue's location.
type Overrides struct {
	// Holidays are full-day closures.
	Holidays []string `yaml:"holidays"`
	// EarlyCloses maps a date to its special close, as "15:04" local time.
	EarlyCloses map[string]string `yaml:"early_closes"`
}

// Calendar answers session questions for one venue profile.
type Calendar struct {
	profile     Profile
	loc         *time.Location
	openOffset  time.Duration // from local midnight
	closeOffset time.Duration
	weekend     map[time.Weekday]bool
	holidays    map[string]bool
	earlyCloses map[string]time.Duration
}

// New builds a calendar for the named profile. An unknown profile is a
// construction error, never a run-time one.
func New(profile Profile, overrides Overrides) (*Calendar, error) {
	cal := &Calendar{
		profile:     profile,
		weekend:     map[time.Weekday]bool{},
		holidays:    map[string]bool{},
		earlyCloses: map[string]time.Duration{},
	}

	switch profile {
	case ProfileUSEquity:
		loc, err := time.LoadLocation("America/New_York")
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to load venue timezone", err)
		}

		cal.loc = loc
		cal.openOffset = 9*time.Hour + 30*time.Minute
		cal.closeOffset = 16 * time.Hour
		cal.weekend[time.Saturday] = true
		cal.weekend[time.Sunday] = true
	case Profile247:
		cal.loc = time.UTC
		cal.openOffset = 0
		cal.closeOffset = 24 * time.Hour
	case Profile245:
		cal.loc = time.UTC
		cal.openOffset = 0
		cal.closeOffset = 24 * time.Hour
		cal.weekend[time.Saturday] = true
		cal.weekend[time.Sunday] = true
	default:
		return nil, errors.Newf(errors.ErrCodeUnknownVenueProfile, "unknown venue profile %q", profile)
	}

	for _, day := range overrides.Holidays {
		if _, err := time.ParseInLocation("2006-01-02", day, cal.loc); err != nil {
			return nil, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "invalid holiday date %q", day)
		}

		cal.holidays[day] = true
	}

	for day, closeAt := range overrides.EarlyCloses {
		parsed, err := time.Parse("15:04", closeAt)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "invalid early close %q for %s", closeAt, day)
		}

		cal.earlyCloses[day] = time.Duration(parsed.Hour())*time.Hour + time.Duration(parsed.Minute())*time.Minute
	}

	return cal, nil
}

// Profile returns the venue profile this calendar was built from.
func (c *Calendar) Profile() Profile { return c.profile }

// IsTradingDay reports whether the venue trades at all on the day containing t.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	local := t.In(c.loc)
	if c.weekend[local.Weekday()] {
		return false
	}

	return !c.holidays[local.Format("2006-01-02")]
}

func (c *Calendar) closeOffsetFor(local time.Time) time.Duration {
	if early, ok := c.earlyCloses[local.Format("2006-01-02")]; ok {
		return early
	}

	return c.closeOffset
}

func (c *Calendar) sessionBounds(local time.Time) (time.Time, time.Time) {
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)

	return midnight.Add(c.openOffset), midnight.Add(c.closeOffsetFor(local))
}

// IsOpen reports whether the venue is open at instant t. The close instant is
// exclusive.
func (c *Calendar) IsOpen(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}

	local := t.In(c.loc)
	open, closeAt := c.sessionBounds(local)

	return !local.Before(open) && local.Before(closeAt)
}

// NextOpen returns t itself when the venue is already open, otherwise the
// first future session open.
func (c *Calendar) NextOpen(t time.Time) time.Time {
	local := t.In(c.loc)
	if c.IsOpen(t) {
		return local
	}

	for i := 0; i < 366; i++ {
		if c.IsTradingDay(local) {
			open, _ := c.sessionBounds(local)
			if !open.Before(local) {
				return open
			}
		}

		local = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc).AddDate(0, 0, 1)
	}

	// A venue closed for a full year would be a configuration bug.
	return local
}

// NextClose returns the first session close strictly after t.
func (c *Calendar) NextClose(t time.Time) time.Time {
	local := t.In(c.loc)

	for i := 0; i < 366; i++ {
		if c.IsTradingDay(local) {
			_, closeAt := c.sessionBounds(local)
			if closeAt.After(local) {
				return closeAt
			}
		}

		local = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc).AddDate(0, 0, 1)
	}

	return local
}
