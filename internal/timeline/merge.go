// Package timeline rebases chunk-local segment streams onto the global
// file timeline and fuses transcription with diarization into
// speaker-labeled utterances.
package timeline

import (
	"fmt"

	"github.com/snarg/meetscribe/internal/audio"
	"github.com/snarg/meetscribe/internal/diarize"
	"github.com/snarg/meetscribe/internal/transcribe"
)

// Tolerance is the slack allowed at chunk seams before an overlap is
// treated as an upstream ordering bug rather than floating-point noise.
const Tolerance = 0.01

// ConsistencyError reports a rebased stream that violates the
// monotonicity invariant. It always indicates a bug upstream and is never
// silently corrected.
type ConsistencyError struct {
	Index   int
	PrevEnd float64
	Start   float64
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("timeline inconsistency at segment %d: start %.3fs precedes previous end %.3fs",
		e.Index, e.Start, e.PrevEnd)
}

// MergeSegments rebases each unit's locally-timed transcript segments by
// the unit's start offset and concatenates them in unit order. It trusts
// the given ordering and does not re-sort; perUnit[i] must belong to
// units[i].
func MergeSegments(units []audio.Unit, perUnit [][]transcribe.Segment) ([]transcribe.Segment, error) {
	if len(units) != len(perUnit) {
		return nil, fmt.Errorf("got %d units but %d segment streams", len(units), len(perUnit))
	}

	var merged []transcribe.Segment
	prevEnd := 0.0
	for i, u := range units {
		for _, s := range perUnit[i] {
			g := transcribe.Segment{
				Start: s.Start + u.Start,
				End:   s.End + u.Start,
				Text:  s.Text,
			}
			if g.Start < prevEnd-Tolerance {
				return nil, &ConsistencyError{Index: len(merged), PrevEnd: prevEnd, Start: g.Start}
			}
			merged = append(merged, g)
			prevEnd = g.End
		}
	}
	return merged, nil
}

// MergeTurns does for diarization turns what MergeSegments does for
// transcript segments. Used only on the degraded per-chunk diarization
// path; labels are expected to be namespaced per chunk before merging
// because each chunk's label space is independent.
func MergeTurns(units []audio.Unit, perUnit [][]diarize.Turn) ([]diarize.Turn, error) {
	if len(units) != len(perUnit) {
		return nil, fmt.Errorf("got %d units but %d turn streams", len(units), len(perUnit))
	}

	var merged []diarize.Turn
	prevEnd := 0.0
	for i, u := range units {
		for _, t := range perUnit[i] {
			g := diarize.Turn{
				Start:   t.Start + u.Start,
				End:     t.End + u.Start,
				Speaker: t.Speaker,
			}
			if g.Start < prevEnd-Tolerance {
				return nil, &ConsistencyError{Index: len(merged), PrevEnd: prevEnd, Start: g.Start}
			}
			merged = append(merged, g)
			prevEnd = g.End
		}
	}
	return merged, nil
}
