package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// dateFormat recognizes one literal timestamp layout embedded in a message.
// build returns the display strings and the absolute time; a non-nil error
// means the display strings are usable but the calendar date is not.
type dateFormat struct {
	name  string
	re    *regexp.Regexp
	build func(m []string, loc *time.Location) (date, clock string, ts time.Time, err error)
}

// extractDate tries formats in order and stops at the first match.
// Without a match, or with an invalid calendar date, the timestamp is now.
func extractDate(formats []dateFormat, body string, now time.Time, loc *time.Location) (date, clock string, ts time.Time) {
	for _, f := range formats {
		m := f.re.FindStringSubmatch(body)
		if m == nil {
			continue
		}
		date, clock, ts, err := f.build(m, loc)
		if err != nil {
			return date, clock, now
		}
		return date, clock, ts
	}
	return "", "", now
}

var (
	// on 25/12/25 at 5:22 PM
	shortDateRe = regexp.MustCompile(`(?i)\bon (\d{1,2}/\d{1,2}/\d{2}) at (\d{1,2}:\d{2} [AP]M)`)

	// on 28/12/2025 at 07:10 PM
	longDateRe = regexp.MustCompile(`(?i)\bon (\d{2}/\d{2}/\d{4}) at (\d{1,2}:\d{2} [AP]M)`)

	// at 2025-12-28 08:15:41 PM
	isoDate12hRe = regexp.MustCompile(`(?i)\bat (\d{4}-\d{2}-\d{2}) (\d{2}:\d{2}:\d{2}) ([AP]M)`)

	// on 01/09/2025 00:52:55
	longDate24hRe = regexp.MustCompile(`\bon (\d{2}/\d{2}/\d{4}) (\d{2}:\d{2}:\d{2})`)
)

// shortDateFormat reads two-digit years as 20YY.
var shortDateFormat = dateFormat{
	name: "DD/MM/YY at h:mm AM",
	re:   shortDateRe,
	build: func(m []string, loc *time.Location) (string, string, time.Time, error) {
		date, clock := m[1], m[2]
		parts := strings.Split(date, "/")
		day, _ := strconv.Atoi(parts[0])
		month, _ := strconv.Atoi(parts[1])
		yy, _ := strconv.Atoi(parts[2])
		hm, err := time.Parse("3:04 PM", strings.ToUpper(clock))
		if err != nil {
			return date, clock, time.Time{}, err
		}
		ts, err := calendarTime(2000+yy, month, day, hm.Hour(), hm.Minute(), 0, loc)
		return date, clock, ts, err
	},
}

var longDateFormat = dateFormat{
	name: "DD/MM/YYYY at hh:mm AM",
	re:   longDateRe,
	build: func(m []string, loc *time.Location) (string, string, time.Time, error) {
		date, clock := m[1], m[2]
		ts, err := time.ParseInLocation("02/01/2006 3:04 PM", date+" "+strings.ToUpper(clock), loc)
		return date, clock, ts, err
	},
}

// isoDate12hFormat is displayed as DD/MM/YYYY and h:mm AM.
var isoDate12hFormat = dateFormat{
	name: "YYYY-MM-DD hh:mm:ss AM",
	re:   isoDate12hRe,
	build: func(m []string, loc *time.Location) (string, string, time.Time, error) {
		ymd := strings.Split(m[1], "-")
		date := ymd[2] + "/" + ymd[1] + "/" + ymd[0]
		period := strings.ToUpper(m[3])
		ts, err := time.ParseInLocation("2006-01-02 03:04:05 PM", m[1]+" "+m[2]+" "+period, loc)
		if err != nil {
			return date, strings.TrimLeft(m[2][:5], "0") + " " + period, time.Time{}, err
		}
		return date, ts.Format("3:04 PM"), ts, nil
	},
}

// longDate24hFormat is displayed with a 12-hour clock.
var longDate24hFormat = dateFormat{
	name: "DD/MM/YYYY HH:mm:ss",
	re:   longDate24hRe,
	build: func(m []string, loc *time.Location) (string, string, time.Time, error) {
		date := m[1]
		ts, err := time.ParseInLocation("02/01/2006 15:04:05", date+" "+m[2], loc)
		if err != nil {
			return date, m[2][:5], time.Time{}, err
		}
		return date, ts.Format("3:04 PM"), ts, nil
	},
}

// calendarTime rejects dates that time.Date would silently normalize,
// such as 31/02.
func calendarTime(year, month, day, hour, minute, sec int, loc *time.Location) (time.Time, error) {
	if month < 1 || month > 12 {
		return time.Time{}, fmt.Errorf("month %d out of range", month)
	}
	ts := time.Date(year, time.Month(month), day, hour, minute, sec, 0, loc)
	if ts.Day() != day || int(ts.Month()) != month || ts.Year() != year {
		return time.Time{}, fmt.Errorf("invalid date %02d/%02d/%d", day, month, year)
	}
	return ts, nil
}
