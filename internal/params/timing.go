package params

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Timing is one entry of the fixed detection cadence table.
type Timing struct {
	Millis int    `json:"ms"`
	Title  string `json:"title"`
}

// Period returns the tick interval.
func (t Timing) Period() time.Duration {
	return time.Duration(t.Millis) * time.Millisecond
}

// DefaultTimingMillis is the cadence a new session starts with.
const DefaultTimingMillis = 100

var timingMillis = []int{10, 30, 50, 70, 100, 300, 500, 700, 1000, 2000, 3000, 5000, 7000, 10000}

// Timings returns the table in ascending order.
func Timings() []Timing {
	out := make([]Timing, len(timingMillis))
	for i, ms := range timingMillis {
		out[i] = Timing{Millis: ms, Title: timingTitle(ms)}
	}
	return out
}

// DefaultTiming returns the 100 ms entry.
func DefaultTiming() Timing {
	t, _ := LookupTiming(DefaultTimingMillis)
	return t
}

// LookupTiming finds the entry for ms.
func LookupTiming(ms int) (Timing, error) {
	for _, v := range timingMillis {
		if v == ms {
			return Timing{Millis: ms, Title: timingTitle(ms)}, nil
		}
	}
	return Timing{}, errors.Wrapf(ErrInvalid, "timing %dms is not in the table", ms)
}

func timingTitle(ms int) string {
	if ms < 1000 {
		return fmt.Sprintf("%d ms", ms)
	}
	return fmt.Sprintf("%d s", ms/1000)
}
