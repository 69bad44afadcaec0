package audio

import (
	"fmt"
	"os"

	"github.com/go-audio/wav"
)

// Info describes a PCM WAV file.
type Info struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Duration   float64 // seconds
}

// Probe reads the WAV header and returns stream parameters without
// decoding the sample data. Duration is counted from the PCM data chunk,
// not the RIFF size: the RIFF size includes header bytes and would
// overstate the duration, handing the planner a phantom tail chunk on
// files that are an exact multiple of the chunk length.
func Probe(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	d.ReadInfo()
	if !d.IsValidFile() {
		return Info{}, fmt.Errorf("not a valid wav file: %s", path)
	}
	if err := d.FwdToPCM(); err != nil {
		return Info{}, fmt.Errorf("wav pcm chunk: %w", err)
	}

	bytesPerFrame := int64(d.NumChans) * int64(d.BitDepth) / 8
	var duration float64
	if bytesPerFrame > 0 && d.SampleRate > 0 {
		frames := d.PCMLen() / bytesPerFrame
		duration = float64(frames) / float64(d.SampleRate)
	}

	return Info{
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
		BitDepth:   int(d.BitDepth),
		Duration:   duration,
	}, nil
}
