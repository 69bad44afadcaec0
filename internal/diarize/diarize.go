package diarize

import "fmt"

// Turn is one speaker turn. Timestamps are seconds relative to the audio
// unit that produced it. Speaker labels are opaque identifiers valid only
// within a single diarization call: "SPEAKER_00" from one call and
// "SPEAKER_00" from another may be different people, which is why the
// pipeline diarizes the whole file in one call whenever it can.
type Turn struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// Result is the normalized output of one diarization call.
type Result struct {
	Turns       []Turn
	NumSpeakers int
}

// Hints are optional speaker-count bounds passed to the capability.
// Zero values mean no hint.
type Hints struct {
	MinSpeakers int
	MaxSpeakers int
}

// Failure is a non-success response from the diarization capability.
type Failure struct {
	StatusCode int
	Message    string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("diarization failed (status %d): %s", f.StatusCode, f.Message)
}
