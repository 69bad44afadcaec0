package audio

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidDuration is returned when a non-positive duration is planned.
var ErrInvalidDuration = errors.New("audio duration must be positive")

// Unit is a contiguous interval of the source timeline, in seconds.
// Units from one source are contiguous, non-overlapping, and collectively
// cover the whole file.
type Unit struct {
	Index int
	Start float64
	End   float64
}

// Duration returns the unit length in seconds.
func (u Unit) Duration() float64 { return u.End - u.Start }

func (u Unit) String() string {
	return fmt.Sprintf("unit %d [%.2fs, %.2fs)", u.Index, u.Start, u.End)
}

// PlanUnits decides how a file of totalSec seconds is split for processing.
// Files at or below chunkSec stay whole: a single unit covering [0, total).
// Longer files are cut into chunkSec-sized units with a shorter tail; an
// empty tail (exact multiple) is dropped so every unit keeps start < end.
func PlanUnits(totalSec, chunkSec float64) ([]Unit, error) {
	if totalSec <= 0 {
		return nil, fmt.Errorf("%w: got %.2fs", ErrInvalidDuration, totalSec)
	}
	if chunkSec <= 0 {
		return nil, fmt.Errorf("%w: chunk duration %.2fs", ErrInvalidDuration, chunkSec)
	}

	if totalSec <= chunkSec {
		return []Unit{{Index: 0, Start: 0, End: totalSec}}, nil
	}

	numChunks := int(math.Floor(totalSec/chunkSec)) + 1
	units := make([]Unit, 0, numChunks)
	for i := 0; i < numChunks; i++ {
		start := float64(i) * chunkSec
		end := math.Min(start+chunkSec, totalSec)
		if start >= end {
			break // empty tail when totalSec is an exact multiple
		}
		units = append(units, Unit{Index: i, Start: start, End: end})
	}
	return units, nil
}
