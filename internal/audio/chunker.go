package audio

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const readFrames = 4096

// SplitWAV slices src into one WAV file per unit, cutting at exact frame
// boundaries (frame = round(seconds * rate)) and preserving sample format
// and channel count. Units are assumed contiguous in order, so the source
// is read once, sequentially; the final unit absorbs any frames left by
// header rounding. Concatenating the outputs in order reproduces the
// source frame sequence exactly.
//
// The caller owns the returned files and must delete them after use. On
// error any files written so far are removed.
func SplitWAV(srcPath, outDir string, units []Unit) (paths []string, err error) {
	if len(units) == 0 {
		return nil, fmt.Errorf("no units to split")
	}

	f, err := os.Open(srcPath)
	if err != nil {
		return nil, fmt.Errorf("open source wav: %w", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	d.ReadInfo()
	if !d.IsValidFile() {
		return nil, fmt.Errorf("not a valid wav file: %s", srcPath)
	}

	rate := int(d.SampleRate)
	ch := int(d.NumChans)
	depth := int(d.BitDepth)
	format := &gaudio.Format{NumChannels: ch, SampleRate: rate}
	readBuf := &gaudio.IntBuffer{Format: format, Data: make([]int, readFrames*ch), SourceBitDepth: depth}

	defer func() {
		if err != nil {
			for _, p := range paths {
				os.Remove(p)
			}
			paths = nil
		}
	}()

	base := strings.TrimSuffix(filepath.Base(srcPath), filepath.Ext(srcPath))
	var carry []int // samples decoded but not yet assigned to a unit

	for i, u := range units {
		chunkPath := filepath.Join(outDir, fmt.Sprintf("%s_chunk_%02d.wav", base, u.Index))
		out, cerr := os.Create(chunkPath)
		if cerr != nil {
			return paths, fmt.Errorf("create chunk file: %w", cerr)
		}
		paths = append(paths, chunkPath)

		enc := wav.NewEncoder(out, rate, depth, ch, 1)

		last := i == len(units)-1
		startFrame := int64(math.Round(u.Start * float64(rate)))
		endFrame := int64(math.Round(u.End * float64(rate)))
		want := (endFrame - startFrame) * int64(ch)

		for last || want > 0 {
			if len(carry) == 0 {
				n, rerr := d.PCMBuffer(readBuf)
				if rerr != nil {
					out.Close()
					return paths, fmt.Errorf("read pcm: %w", rerr)
				}
				if n == 0 {
					break // EOF
				}
				carry = readBuf.Data[:n]
			}

			take := carry
			if !last && int64(len(take)) > want {
				take = take[:want]
			}
			werr := enc.Write(&gaudio.IntBuffer{Format: format, Data: take, SourceBitDepth: depth})
			if werr != nil {
				out.Close()
				return paths, fmt.Errorf("write chunk %d: %w", u.Index, werr)
			}
			carry = carry[len(take):]
			want -= int64(len(take))
		}

		if werr := enc.Close(); werr != nil {
			out.Close()
			return paths, fmt.Errorf("finalize chunk %d: %w", u.Index, werr)
		}
		if werr := out.Close(); werr != nil {
			return paths, fmt.Errorf("close chunk %d: %w", u.Index, werr)
		}
	}

	return paths, nil
}
