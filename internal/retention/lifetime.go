package retention

import (
	"math"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/sysmetricsd/internal/errors"
)

const (
	day = 24 * time.Hour

	// DefaultLifetime keeps one year of samples.
	DefaultLifetime = 365 * day

	// MaxLifetimeDays is the longest lifetime a time.Duration can hold.
	MaxLifetimeDays = int64(math.MaxInt64 / int64(day))
)

var unitDays = map[byte]int64{
	'd': 1,
	'w': 7,
	'm': 30,
	'y': 365,
}

// ParseLifetime parses <N><unit> where unit is d (days), w (7 days),
// m (30 days) or y (365 days). N must be a positive integer.
func ParseLifetime(s string) (time.Duration, error) {
	errFactory := errors.New()

	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return 0, errFactory.WithData(ErrInvalidLifetime, struct {
			Value  string
			Reason string
		}{
			Value:  s,
			Reason: "expected <number><d|w|m|y>",
		})
	}

	unit := s[len(s)-1]
	perUnit, ok := unitDays[unit]
	if !ok {
		return 0, errFactory.WithData(ErrInvalidLifetime, struct {
			Value  string
			Reason string
		}{
			Value:  s,
			Reason: "unknown lifetime unit, use d, w, m or y",
		})
	}

	n, err := strconv.ParseInt(s[:len(s)-1], 10, 32)
	if err != nil || n <= 0 {
		return 0, errFactory.WithData(ErrInvalidLifetime, struct {
			Value  string
			Reason string
		}{
			Value:  s,
			Reason: "lifetime must be a positive whole number of units",
		})
	}

	if n*perUnit > MaxLifetimeDays {
		return 0, errFactory.WithData(ErrInvalidLifetime, struct {
			Value  string
			Reason string
		}{
			Value:  s,
			Reason: "lifetime exceeds " + strconv.FormatInt(MaxLifetimeDays, 10) + " days",
		})
	}

	return time.Duration(n*perUnit) * day, nil
}

// Days reports d in whole and fractional days.
func Days(d time.Duration) float64 {
	return d.Hours() / 24
}
