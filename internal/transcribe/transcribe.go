package transcribe

import "fmt"

// Segment is one transcribed utterance. Timestamps are seconds relative to
// the start of the audio unit that produced it; the timeline package rebases
// them onto the global file timeline.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result is the normalized output of one transcription call.
type Result struct {
	Segments []Segment
	Language string
	Duration float64 // audio duration in seconds, 0 if the service omits it
}

// Failure is a non-success response from the transcription capability.
type Failure struct {
	StatusCode int
	Message    string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("transcription failed (status %d): %s", f.StatusCode, f.Message)
}
