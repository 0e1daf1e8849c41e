package bulk

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// Delay is either fixed (Min == Max) or a uniform range drawn per account.
type Delay struct {
	Min, Max time.Duration
}

func Fixed(d time.Duration) Delay { return Delay{Min: d, Max: d} }

func Between(min, max time.Duration) Delay {
	if max < min {
		min, max = max, min
	}
	return Delay{Min: min, Max: max}
}

func (d Delay) IsRange() bool { return d.Max > d.Min }

func (d Delay) draw(rng *rand.Rand) time.Duration {
	if !d.IsRange() {
		return max(d.Min, 0)
	}
	return d.Min + time.Duration(rng.Int63n(int64(d.Max-d.Min)+1))
}

func (d Delay) String() string {
	if d.IsRange() {
		return d.Min.String() + "-" + d.Max.String()
	}
	return d.Min.String()
}

var ErrBadInterval = errors.New("interval must be N or MIN-MAX minutes")

// ParseMinutes accepts "N" or "MIN-MAX" in whole minutes.
func ParseMinutes(s string) (Delay, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	lo, hi, isRange := strings.Cut(s, "-")
	a, err := parseMinutes(lo)
	if err != nil {
		return Delay{}, err
	}
	if !isRange {
		return Fixed(a), nil
	}
	b, err := parseMinutes(hi)
	if err != nil {
		return Delay{}, err
	}
	if b < a {
		return Delay{}, fmt.Errorf("%w: min %s exceeds max %s", ErrBadInterval, lo, hi)
	}
	return Between(a, b), nil
}

func parseMinutes(s string) (time.Duration, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 24*60 {
		return 0, ErrBadInterval
	}
	return time.Duration(n) * time.Minute, nil
}
