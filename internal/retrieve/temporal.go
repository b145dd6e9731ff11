package retrieve

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TemporalWindow is a parsed valid-time interval to filter candidates by,
// per spec.md §4.5's optional temporal filtering stage.
type TemporalWindow struct {
	Start time.Time
	End   time.Time
}

var (
	relativeDayRe   = regexp.MustCompile(`(?i)\b(yesterday|today|tomorrow)\b`)
	relativeUnitRe  = regexp.MustCompile(`(?i)\blast (week|month|year)\b`)
	agoRe           = regexp.MustCompile(`(?i)\b(\d+)\s+(day|week|month|year)s?\s+ago\b`)
)

// ParseTemporalExpression extracts a coarse valid-time window from natural
// language and a confidence in [0,1], matching spec.md §4.5's "parse
// natural-language time expressions ... when confidence exceeds
// temporal_confidence_threshold" contract. There is no NLP/date-parsing
// library anywhere in the retrieval pack, so this stays a small set of
// regex rules over relative-day phrasing rather than reaching for an
// unrelated ecosystem dependency (recorded in DESIGN.md).
func ParseTemporalExpression(query string) (TemporalWindow, float64) {
	now := timeNow()
	lc := strings.ToLower(query)

	switch {
	case relativeDayRe.MatchString(lc):
		m := relativeDayRe.FindString(lc)
		day := dayOffset(m)
		start := truncateToDay(now.AddDate(0, 0, day))
		return TemporalWindow{Start: start, End: start.Add(24 * time.Hour)}, 0.9
	case agoRe.MatchString(lc):
		m := agoRe.FindStringSubmatch(lc)
		n, _ := strconv.Atoi(m[1])
		start := subtractUnit(now, n, m[2])
		return TemporalWindow{Start: start, End: now}, 0.75
	case relativeUnitRe.MatchString(lc):
		m := relativeUnitRe.FindStringSubmatch(lc)
		start := subtractUnit(now, 1, m[1])
		return TemporalWindow{Start: start, End: now}, 0.7
	}
	return TemporalWindow{}, 0
}

func dayOffset(word string) int {
	switch word {
	case "yesterday":
		return -1
	case "tomorrow":
		return 1
	default:
		return 0
	}
}

func subtractUnit(t time.Time, n int, unit string) time.Time {
	switch unit {
	case "day":
		return t.AddDate(0, 0, -n)
	case "week":
		return t.AddDate(0, 0, -7*n)
	case "month":
		return t.AddDate(0, -n, 0)
	case "year":
		return t.AddDate(-n, 0, 0)
	default:
		return t
	}
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// timeNow is overridable in tests.
var timeNow = time.Now
