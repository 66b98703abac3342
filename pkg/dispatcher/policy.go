package dispatcher

import (
	"fmt"
	"math"
	"time"
)

// Policy bounds the retries of one request.
type Policy struct {
	// MaxAttempts counts the first attempt too.
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	// Jitter adds up to this fraction of the computed delay.
	Jitter float64
}

var DefaultPolicy = Policy{
	MaxAttempts: 4,
	BaseDelay:   3 * time.Second,
	Multiplier:  2,
	MaxDelay:    60 * time.Second,
	Jitter:      0.2,
}

func (p Policy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	case p.BaseDelay < 0:
		return fmt.Errorf("base delay must not be negative, got %s", p.BaseDelay)
	case p.Multiplier < 1:
		return fmt.Errorf("multiplier must be at least 1, got %g", p.Multiplier)
	case p.MaxDelay < p.BaseDelay:
		return fmt.Errorf("max delay %s is below base delay %s", p.MaxDelay, p.BaseDelay)
	case p.Jitter < 0 || p.Jitter > 1:
		return fmt.Errorf("jitter must be within [0, 1], got %g", p.Jitter)
	}
	return nil
}

// Delay is the wait before retry number retry (zero based). r is a random
// value in [0, 1) scaling the jitter. The result never exceeds MaxDelay.
func (p Policy) Delay(retry int, r float64) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(retry))
	d += d * p.Jitter * r
	if d >= float64(p.MaxDelay) || math.IsInf(d, 0) || math.IsNaN(d) {
		return p.MaxDelay
	}
	return time.Duration(d)
}
