package timeutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FormatDuration renders d in the largest-units-first style used in the
// settings file and status text, e.g. "1d 17h" or "9m 30s". Zero renders
// as "0s".
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}

	var parts []string
	appendPart := func(n int64, suffix string) {
		if n > 0 {
			parts = append(parts, strconv.FormatInt(n, 10)+suffix)
		}
	}

	appendPart(int64(d/(24*time.Hour)), "d")
	d %= 24 * time.Hour
	appendPart(int64(d/time.Hour), "h")
	d %= time.Hour
	appendPart(int64(d/time.Minute), "m")
	d %= time.Minute
	appendPart(int64(d/time.Second), "s")

	if len(parts) == 0 {
		return "0s"
	}
	return strings.Join(parts, " ")
}

// ParseDuration parses the duration syntax accepted in the settings file:
// Go duration syntax extended with day ("d") and week ("w") units, and
// optional whitespace between components ("1d 12h", "7d", "90m").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	var total time.Duration
	rest := s
	for rest != "" {
		rest = strings.TrimLeft(rest, " \t")
		if rest == "" {
			break
		}

		i := 0
		for i < len(rest) && (rest[i] >= '0' && rest[i] <= '9' || rest[i] == '.') {
			i++
		}
		if i == 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		value, err := strconv.ParseFloat(rest[:i], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %v", s, err)
		}

		j := i
		for j < len(rest) && rest[j] != ' ' && rest[j] != '\t' && !(rest[j] >= '0' && rest[j] <= '9') {
			j++
		}
		unit := rest[i:j]
		rest = rest[j:]

		var base time.Duration
		switch unit {
		case "w", "week", "weeks":
			base = 7 * 24 * time.Hour
		case "d", "day", "days":
			base = 24 * time.Hour
		case "h", "hour", "hours":
			base = time.Hour
		case "m", "min", "minute", "minutes":
			base = time.Minute
		case "s", "sec", "second", "seconds":
			base = time.Second
		case "ms":
			base = time.Millisecond
		default:
			return 0, fmt.Errorf("invalid duration %q: unknown unit %q", s, unit)
		}
		total += time.Duration(value * float64(base))
	}

	return total, nil
}
