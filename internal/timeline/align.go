package timeline

import (
	"github.com/snarg/meetscribe/internal/diarize"
	"github.com/snarg/meetscribe/internal/transcribe"
)

// UnknownSpeaker labels utterances no diarization turn covers.
const UnknownSpeaker = "UNKNOWN"

// Utterance is one speaker-attributed transcript segment, globally timed.
type Utterance struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker"`
}

// Align attributes each transcript segment to the speaker turn covering
// the segment's midpoint. Utterance boundaries from the two models rarely
// line up exactly; the midpoint is the single point most likely to fall
// inside the turn that was active while most of the segment was spoken.
// A segment whose midpoint no turn covers gets UnknownSpeaker.
//
// Both streams must be ordered; the scan is a two-pointer sweep, O(n+m).
// If upstream ever produced overlapping turns, the first turn in stream
// order wins, which keeps the output deterministic.
func Align(segments []transcribe.Segment, turns []diarize.Turn) []Utterance {
	out := make([]Utterance, 0, len(segments))
	j := 0
	for _, s := range segments {
		mid := (s.Start + s.End) / 2

		for j < len(turns) && turns[j].End < mid {
			j++
		}

		speaker := UnknownSpeaker
		if j < len(turns) && turns[j].Start <= mid && mid <= turns[j].End {
			speaker = turns[j].Speaker
		}

		out = append(out, Utterance{
			Start:   s.Start,
			End:     s.End,
			Text:    s.Text,
			Speaker: speaker,
		})
	}
	return out
}

// CountSpeakers returns the number of distinct speaker labels in the
// aligned stream, not counting UnknownSpeaker.
func CountSpeakers(utterances []Utterance) int {
	seen := make(map[string]struct{}, 4)
	for _, u := range utterances {
		if u.Speaker != UnknownSpeaker {
			seen[u.Speaker] = struct{}{}
		}
	}
	return len(seen)
}
