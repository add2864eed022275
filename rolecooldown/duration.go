package rolecooldown

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
)

const day = 24 * time.Hour

var cooldownUnits = map[rune]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': day,
}

// ParseCooldown parses a space-separated list of time frames, each a
// whole number followed by s, m, h or d, and returns their sum.
// "8s 69m 28h 1d" is 2d 05:09:08.
//
// Time frames with no (or an unknown) unit are ignored, except when the
// input is a single bare number, which is treated as seconds. Input
// made up of several bare numbers is rejected.
func ParseCooldown(input string) (time.Duration, error) {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return 0, fmt.Errorf("%w: empty input", ErrInvalidCooldown)
	}

	if !strings.ContainsAny(strings.ToLower(input), "smhd") {
		if len(fields) > 1 {
			return 0, fmt.Errorf("%w: %q has no units", ErrInvalidCooldown, input)
		}
		n, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidCooldown, input)
		}
		total, ok := addTimeFrame(0, n, time.Second)
		if !ok {
			return 0, fmt.Errorf("%w: %q is too long", ErrInvalidCooldown, input)
		}
		return total, nil
	}

	var total time.Duration
	for _, field := range fields {
		runes := []rune(strings.ToLower(field))
		unit, ok := cooldownUnits[runes[len(runes)-1]]
		if !ok {
			continue
		}
		number := string(runes[:len(runes)-1])
		if number == "" || strings.IndexFunc(number, notDigit) != -1 {
			continue
		}
		n, err := strconv.ParseInt(number, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidCooldown, field)
		}
		if total, ok = addTimeFrame(total, n, unit); !ok {
			return 0, fmt.Errorf("%w: %q is too long", ErrInvalidCooldown, input)
		}
	}

	if total <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCooldown, input)
	}
	return total, nil
}

// addTimeFrame returns total + n*unit, or false if the result doesn't
// fit in a time.Duration
func addTimeFrame(total time.Duration, n int64, unit time.Duration) (time.Duration, bool) {
	if n > math.MaxInt64/int64(unit) {
		return total, false
	}
	frame := time.Duration(n) * unit
	if total > math.MaxInt64-frame {
		return total, false
	}
	return total + frame, true
}

func notDigit(r rune) bool {
	return !unicode.IsDigit(r)
}

// FormatCooldown formats d as "Xd HH:MM:SS", truncated to the second
func FormatCooldown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := d / day
	d -= days * day
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second

	return fmt.Sprintf("%dd %02d:%02d:%02d", days, hours, minutes, seconds)
}

// discordRelativeTimestamp returns markdown that discord renders as the
// time relative to t, ex: "in 5 minutes"
func discordRelativeTimestamp(t time.Time) string {
	return fmt.Sprintf("<t:%d:R>", t.Unix())
}

func roleMention(roleID string) string {
	return fmt.Sprintf("<@&%s>", roleID)
}
