package core

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

const microsPerSecond = 1_000_000

// Timestamp is an instant held as whole microseconds since the Unix epoch.
// Every envelope header carries one. The value is always UTC based,
// regardless of the local timezone of the process that produced it.
type Timestamp struct {
	us  int64
	utc time.Time
}

// EncodeTimestamp returns the whole microseconds elapsed since the epoch for t.
// t is normalized to UTC first so the result is independent of its location.
func EncodeTimestamp(t time.Time) int64 {
	t = t.UTC()
	return t.Unix()*microsPerSecond + int64(t.Nanosecond()/1000)
}

// DecodeTimestamp reconstructs the UTC instant for a microsecond count.
// Division is floored so instants before 1970 round-trip as well.
func DecodeTimestamp(us int64) time.Time {
	sec := us / microsPerSecond
	rem := us % microsPerSecond
	if rem < 0 {
		sec--
		rem += microsPerSecond
	}
	return time.Unix(sec, rem*1000).UTC()
}

// Now returns the current instant truncated to microseconds.
func Now() Timestamp {
	ts, _ := NewTimestamp(time.Now())
	return ts
}

// NewTimestamp builds a Timestamp from either an instant or an integer
// microsecond count. Decoded JSON numbers (float64, json.Number) are accepted
// when they hold an integral value. Any other input is an invalid argument.
func NewTimestamp(v interface{}) (Timestamp, error) {
	switch x := v.(type) {
	case time.Time:
		us := EncodeTimestamp(x)
		return Timestamp{us: us, utc: DecodeTimestamp(us)}, nil
	case *time.Time:
		if x == nil {
			return Timestamp{}, fmt.Errorf("nil time: %w", ErrInvalidArgument)
		}
		return NewTimestamp(*x)
	case int64:
		return Timestamp{us: x, utc: DecodeTimestamp(x)}, nil
	case int:
		return NewTimestamp(int64(x))
	case int32:
		return NewTimestamp(int64(x))
	case uint32:
		return NewTimestamp(int64(x))
	case uint64:
		if x > math.MaxInt64 {
			return Timestamp{}, fmt.Errorf("timestamp %d overflows int64: %w", x, ErrInvalidArgument)
		}
		return NewTimestamp(int64(x))
	case float64:
		// float64(MaxInt64) rounds up to 2^63, which no int64 holds.
		if x != math.Trunc(x) || x >= math.MaxInt64 || x < math.MinInt64 {
			return Timestamp{}, fmt.Errorf("timestamp %v is not an integer: %w", x, ErrInvalidArgument)
		}
		return NewTimestamp(int64(x))
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return Timestamp{}, fmt.Errorf("timestamp %q is not an integer: %w", x.String(), ErrInvalidArgument)
		}
		return NewTimestamp(n)
	default:
		return Timestamp{}, fmt.Errorf("expected a time.Time or an integer, got %T: %w", v, ErrInvalidArgument)
	}
}

// Int64 returns the microsecond count.
func (t Timestamp) Int64() int64 { return t.us }

// UTC returns the instant in UTC.
func (t Timestamp) UTC() time.Time { return t.utc }

func (t Timestamp) String() string {
	return t.utc.Format(time.RFC3339Nano)
}
