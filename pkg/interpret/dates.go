package interpret

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateFormat is the canonical parameter encoding for extracted dates.
const DateFormat = "2006-01-02"

var monthNames = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

var (
	// day/month with optional year, European order: 1/7, 01-07-2026, 1.7.26
	numericDateRe = regexp.MustCompile(`\b(\d{1,2})[/.-](\d{1,2})(?:[/.-](\d{2,4}))?\b`)

	// "July 1st", "July 1 2026"
	monthDayRe = regexp.MustCompile(`(?i)\b(january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sept|sep|oct|nov|dec)\s+(\d{1,2})(?:st|nd|rd|th)?(?:,?\s+(\d{4}))?\b`)

	// "1st July", "1 July 2026"
	dayMonthRe = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+(?:of\s+)?(january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sept|sep|oct|nov|dec)(?:,?\s+(\d{4}))?\b`)

	relativeDayRe = regexp.MustCompile(`(?i)\b(today|tomorrow)\b`)

	weekdayRe = regexp.MustCompile(`(?i)\b(?:(next|this)\s+)?(sunday|monday|tuesday|wednesday|thursday|friday|saturday)\b`)
)

// FindDate scans text for the first date literal and resolves it against the
// reference date. Recognised forms: numeric day/month with optional year,
// "Month Day" and "Day Month" with optional ordinal suffixes, and relative
// phrases (today, tomorrow, next Saturday). The returned span covers the
// matched text so callers can strip it before further extraction.
func FindDate(text string, ref time.Time) (time.Time, []int, bool) {
	if loc := monthDayRe.FindStringSubmatchIndex(text); loc != nil {
		month := monthNames[strings.ToLower(text[loc[2]:loc[3]])]
		day, _ := strconv.Atoi(text[loc[4]:loc[5]])
		year, hasYear := matchedYear(text, loc, 3)
		if d, ok := buildDate(year, month, day, ref, hasYear); ok {
			return d, loc[0:2], true
		}
	}
	if loc := dayMonthRe.FindStringSubmatchIndex(text); loc != nil {
		day, _ := strconv.Atoi(text[loc[2]:loc[3]])
		month := monthNames[strings.ToLower(text[loc[4]:loc[5]])]
		year, hasYear := matchedYear(text, loc, 3)
		if d, ok := buildDate(year, month, day, ref, hasYear); ok {
			return d, loc[0:2], true
		}
	}
	if loc := numericDateRe.FindStringSubmatchIndex(text); loc != nil {
		day, _ := strconv.Atoi(text[loc[2]:loc[3]])
		monthNum, _ := strconv.Atoi(text[loc[4]:loc[5]])
		if monthNum >= 1 && monthNum <= 12 {
			year, hasYear := matchedYear(text, loc, 3)
			if d, ok := buildDate(year, time.Month(monthNum), day, ref, hasYear); ok {
				return d, loc[0:2], true
			}
		}
	}
	if loc := relativeDayRe.FindStringSubmatchIndex(text); loc != nil {
		day := refDay(ref)
		if strings.EqualFold(text[loc[2]:loc[3]], "tomorrow") {
			day = day.AddDate(0, 0, 1)
		}
		return day, loc[0:2], true
	}
	if loc := weekdayRe.FindStringSubmatchIndex(text); loc != nil {
		target := weekdayNames[strings.ToLower(text[loc[4]:loc[5]])]
		return nextWeekday(ref, target), loc[0:2], true
	}
	return time.Time{}, nil, false
}

func matchedYear(text string, loc []int, group int) (int, bool) {
	if loc[2*group] < 0 {
		return 0, false
	}
	year, _ := strconv.Atoi(text[loc[2*group]:loc[2*group+1]])
	if year < 100 {
		year += 2000
	}
	return year, true
}

// buildDate validates day-of-month and resolves a missing year to the next
// occurrence on or after the reference date.
func buildDate(year int, month time.Month, day int, ref time.Time, hasYear bool) (time.Time, bool) {
	if day < 1 || day > 31 {
		return time.Time{}, false
	}
	y := year
	if !hasYear {
		y = ref.Year()
	}
	d := time.Date(y, month, day, 0, 0, 0, 0, ref.Location())
	if d.Month() != month || d.Day() != day {
		// e.g. 31 February
		return time.Time{}, false
	}
	if !hasYear && d.Before(refDay(ref)) {
		d = time.Date(y+1, month, day, 0, 0, 0, 0, ref.Location())
		if d.Month() != month {
			return time.Time{}, false
		}
	}
	return d, true
}

// nextWeekday returns the next strictly-future occurrence of the weekday.
func nextWeekday(ref time.Time, target time.Weekday) time.Time {
	day := refDay(ref)
	delta := (int(target) - int(day.Weekday()) + 7) % 7
	if delta == 0 {
		delta = 7
	}
	return day.AddDate(0, 0, delta)
}

func refDay(ref time.Time) time.Time {
	return time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, ref.Location())
}

var (
	timeAmPmRe = regexp.MustCompile(`(?i)\b(?:at\s+)?(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b`)
	time24Re   = regexp.MustCompile(`\b(?:at\s+)?([01]?\d|2[0-3]):([0-5]\d)\b`)
)

// FindTime scans text for a time-of-day literal ("2pm", "2:30 pm", "14:00")
// and returns it normalised to HH:MM, with the matched span.
func FindTime(text string) (string, []int, bool) {
	if loc := timeAmPmRe.FindStringSubmatchIndex(text); loc != nil {
		hour, _ := strconv.Atoi(text[loc[2]:loc[3]])
		minute := 0
		if loc[4] >= 0 {
			minute, _ = strconv.Atoi(text[loc[4]:loc[5]])
		}
		meridiem := strings.ToLower(text[loc[6]:loc[7]])
		if hour >= 1 && hour <= 12 {
			if meridiem == "pm" && hour != 12 {
				hour += 12
			}
			if meridiem == "am" && hour == 12 {
				hour = 0
			}
			return formatClock(hour, minute), loc[0:2], true
		}
	}
	if loc := time24Re.FindStringSubmatchIndex(text); loc != nil {
		hour, _ := strconv.Atoi(text[loc[2]:loc[3]])
		minute, _ := strconv.Atoi(text[loc[4]:loc[5]])
		return formatClock(hour, minute), loc[0:2], true
	}
	return "", nil, false
}

func formatClock(hour, minute int) string {
	return twoDigits(hour) + ":" + twoDigits(minute)
}

func twoDigits(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
