package domain

import "time"

// Timeframe is one of the closed set of candle resolutions the store
// understands. M1 is the base timeframe; the rest are derived from it.
type Timeframe string

const (
	M1  Timeframe = "M1"
	M5  Timeframe = "M5"
	M15 Timeframe = "M15"
	M30 Timeframe = "M30"
	H1  Timeframe = "H1"
	H4  Timeframe = "H4"
	D1  Timeframe = "D1"
)

// Timeframes lists every supported resolution, M1 first, in ascending
// duration order — the order rebuildHigherTimeframes iterates in.
var Timeframes = []Timeframe{M1, M5, M15, M30, H1, H4, D1}

// DerivedTimeframes is Timeframes without the base M1 resolution.
var DerivedTimeframes = []Timeframe{M5, M15, M30, H1, H4, D1}

// Duration returns the fixed wall-clock span of one candle at this timeframe.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case M1:
		return time.Minute
	case M5:
		return 5 * time.Minute
	case M15:
		return 15 * time.Minute
	case M30:
		return 30 * time.Minute
	case H1:
		return time.Hour
	case H4:
		return 4 * time.Hour
	case D1:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Valid reports whether tf is one of the seven supported resolutions.
func (tf Timeframe) Valid() bool {
	return tf.Duration() > 0
}

// Align floors t to the previous multiple of tf's duration. Minute-level
// timeframes (including H1, H4) are anchored at the Unix epoch; D1 is
// anchored at 00:00 UTC, which for a UTC epoch coincides with the epoch
// anchor but is expressed separately for clarity.
func Align(t time.Time, tf Timeframe) time.Time {
	t = t.UTC()
	dur := tf.Duration()
	if dur <= 0 {
		return t
	}
	if tf == D1 {
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	floored := t.Truncate(dur)
	return floored
}

// Slots enumerates the ordered set of bucket-start instants in [from, to)
// at the given timeframe: align(from,tf), align(from,tf)+dur, ... strictly
// less than to.
func Slots(from, to time.Time, tf Timeframe) []time.Time {
	dur := tf.Duration()
	if dur <= 0 || !to.After(from) {
		return nil
	}
	var out []time.Time
	cur := Align(from, tf)
	for cur.Before(to) {
		out = append(out, cur)
		cur = cur.Add(dur)
	}
	return out
}
