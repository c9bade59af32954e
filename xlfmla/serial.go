package xlfmla

import (
	"math"
	"strings"
	"time"
)

// Serial dates count days from the epoch of the workbook's date system:
// 1899-12-31 is day 0 in the 1900 system, which also counts the
// nonexistent 1900-02-29 as day 60. In the 1904 system 1904-01-01 is day 0.

var jdnDelta = [2]int{2415080 - 61, 2416482 - 1}

const (
	// maxSerial1900 is the first day past 9999-12-31.
	maxSerial1900 = 2958466
	maxSerial1904 = 2958466 - 1462
	// leapBugSerial is 1900-02-29 in the 1900 system.
	leapBugSerial = 60
)

func maxSerial(datemode int) int {
	if datemode == 1 {
		return maxSerial1904
	}
	return maxSerial1900
}

// jdnFromCivil is the Julian day number of a proleptic Gregorian date.
func jdnFromCivil(year, month, day int) int {
	yp := year + 4716
	var mp int
	if month <= 2 {
		yp--
		mp = month + 9
	} else {
		mp = month - 3
	}
	return (1461 * yp / 4) + ((979*mp + 16) / 32) + day - 1364 - (((yp + 184) / 100) * 3 / 4)
}

func civilFromJDN(jdn int) (year, month, day int) {
	yreg := ((((jdn*4+274277)/146097)*3/4)+jdn+1363)*4 + 3
	mp := ((yreg%1461)/4)*535 + 333
	day = ((mp % 16384) / 535) + 1
	mp >>= 14
	if mp >= 10 {
		return (yreg / 1461) - 4715, mp - 9, day
	}
	return (yreg / 1461) - 4716, mp + 3, day
}

// serialFromDate converts a calendar date to a day number. Months and days
// out of range roll over into neighbouring months and years, as DATE does.
func serialFromDate(year, month, day, datemode int) (int, bool) {
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	year, month, day = t.Year(), int(t.Month()), t.Day()
	days := jdnFromCivil(year, month, day) - jdnDelta[datemode]
	if datemode == 0 && days < 61 {
		// Before 1900-03-01 the leap bug does not shift the count yet.
		days = jdnFromCivil(year, month, day) - jdnFromCivil(1899, 12, 31)
	}
	if days < 0 || days >= maxSerial(datemode) {
		return 0, false
	}
	return days, true
}

// dateFromSerial is the calendar date of a day number. Day 0 of the 1900
// system reads as 1900-01-00.
func dateFromSerial(days, datemode int) (year, month, day int) {
	if datemode == 0 {
		switch {
		case days == 0:
			return 1900, 1, 0
		case days == leapBugSerial:
			return 1900, 2, 29
		case days < leapBugSerial:
			return civilFromJDN(jdnFromCivil(1899, 12, 31) + days)
		}
	}
	return civilFromJDN(days + jdnDelta[datemode])
}

// splitSerial separates a serial date-time into whole days and seconds,
// rounding to the nearest second.
func splitSerial(serial float64) (days, seconds int) {
	days = int(math.Floor(serial))
	seconds = int(math.Round((serial - float64(days)) * 86400))
	if seconds >= 86400 {
		days++
		seconds -= 86400
	}
	return days, seconds
}

// serialFromTime converts a wall-clock time to a serial date-time.
func serialFromTime(t time.Time, datemode int) (float64, bool) {
	days, ok := serialFromDate(t.Year(), int(t.Month()), t.Day(), datemode)
	if !ok {
		return 0, false
	}
	secs := t.Hour()*3600 + t.Minute()*60 + t.Second()
	return float64(days) + float64(secs)/86400, true
}

var (
	dateLayouts = []string{
		"2006-01-02", "2006/1/2", "1/2/2006", "1-2-2006",
		"2-Jan-2006", "2 Jan 2006", "Jan 2, 2006", "Jan 2 2006",
		"2-January-2006", "2 January 2006", "January 2, 2006", "January 2 2006",
	}
	timeLayouts = []string{
		"15:04", "15:04:05", "3:04 PM", "3:04:05 PM", "3:04PM", "3:04:05PM", "3 PM", "3PM",
	}
)

// parseDateText reads date and time text in the 1900 date system.
func parseDateText(s string) (float64, bool) {
	return parseDateTextMode(s, 0)
}

// parseDateTextMode reads a date, a time or a date followed by a time.
// A bare time is the fraction of a day.
func parseDateTextMode(s string, datemode int) (float64, bool) {
	s = strings.ToUpper(strings.Join(strings.Fields(s), " "))
	if s == "" {
		return 0, false
	}
	for _, tl := range timeLayouts {
		if t, err := time.Parse(tl, s); err == nil {
			return float64(t.Hour()*3600+t.Minute()*60+t.Second()) / 86400, true
		}
	}
	for _, dl := range dateLayouts {
		if t, err := time.Parse(dl, s); err == nil {
			return serialFromTime(t, datemode)
		}
		for _, tl := range timeLayouts {
			if t, err := time.Parse(dl+" "+tl, s); err == nil {
				return serialFromTime(t, datemode)
			}
		}
	}
	return 0, false
}
