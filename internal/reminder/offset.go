package reminder

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var leadRe = regexp.MustCompile(`\b(\d+|an?|one|two|three|four|five|six|ten|fifteen|twenty|thirty|forty five|half an?)\s*(minutes?|mins?|hours?|hrs?|days?)\b`)

var leadWords = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "ten": 10, "fifteen": 15, "twenty": 20, "thirty": 30, "forty five": 45,
}

// ParseLead reads a lead time such as "2 hours before", "in 2 hours",
// "30 min" or "half an hour before". It needs both an amount and a unit.
func ParseLead(expr string) (time.Duration, bool) {
	expr = strings.ToLower(strings.Join(strings.Fields(expr), " "))
	m := leadRe.FindStringSubmatch(expr)
	if m == nil {
		return 0, false
	}

	unit := unitOf(m[2])
	if strings.HasPrefix(m[1], "half") {
		return unit / 2, true
	}

	n, ok := leadWords[m[1]]
	if !ok {
		var err error
		n, err = strconv.Atoi(m[1])
		if err != nil {
			return 0, false
		}
	}
	return time.Duration(n) * unit, true
}

func unitOf(s string) time.Duration {
	switch {
	case strings.HasPrefix(s, "d"):
		return 24 * time.Hour
	case strings.HasPrefix(s, "h"):
		return time.Hour
	default:
		return time.Minute
	}
}
