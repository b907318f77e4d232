package verify

import (
	"strconv"
	"strings"
	"time"
)

// DefaultToleranceSeconds is the accepted clock skew between sender and receiver.
const DefaultToleranceSeconds = 300

// CheckTimestamp reports whether ts (epoch seconds) lies within tolerance
// seconds of now. A negative tolerance never accepts.
func CheckTimestamp(ts, tolerance int64, now time.Time) bool {
	if tolerance < 0 {
		return false
	}
	return absDiff(now.Unix(), ts) <= uint64(tolerance)
}

// absDiff returns |a - b| without overflowing for extreme inputs.
func absDiff(a, b int64) uint64 {
	if a >= b {
		return uint64(a) - uint64(b)
	}
	return uint64(b) - uint64(a)
}

// ParseTimestamp parses a decimal epoch-seconds header value. Values outside
// the int64 range, signs-only, and anything non-numeric are rejected.
func ParseTimestamp(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// TimestampGate rejects requests whose claimed send time is outside the
// allowed skew window.
type TimestampGate struct {
	// Tolerance in seconds.
	Tolerance int64
	// Now defaults to time.Now.
	Now func() time.Time
}

// Check reports whether ts is acceptable.
func (g TimestampGate) Check(ts int64) bool {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	return CheckTimestamp(ts, g.Tolerance, now())
}

// CheckString parses raw and checks it. Unparseable input fails closed.
func (g TimestampGate) CheckString(raw string) bool {
	ts, ok := ParseTimestamp(raw)
	if !ok {
		return false
	}
	return g.Check(ts)
}
