package output

import (
	"fmt"
	"strings"
)

const headerRule = "================================================================================"

// RenderText produces the human-readable transcript: a header block,
// then utterances grouped by speaker turn with [MM:SS - MM:SS] stamps.
// Minutes are unbounded so a stamp past the first hour reads 61:05.
func RenderText(tr *Transcript) string {
	var b strings.Builder

	b.WriteString("MEETING TRANSCRIPTION\n")
	b.WriteString(headerRule + "\n\n")
	fmt.Fprintf(&b, "Processing date: %s\n", tr.Metadata.ProcessedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Duration: %.1f sec\n", tr.Metadata.DurationSeconds)
	fmt.Fprintf(&b, "Number of speakers: %d\n", tr.Metadata.NumSpeakers)
	fmt.Fprintf(&b, "Language: %s\n", tr.Metadata.Language)
	b.WriteString("\n" + headerRule + "\n")

	currentSpeaker := ""
	for _, u := range tr.Transcript {
		if u.Speaker != currentSpeaker {
			fmt.Fprintf(&b, "\n[%s]\n", u.Speaker)
			currentSpeaker = u.Speaker
		}
		fmt.Fprintf(&b, "  [%s - %s] %s\n", stamp(u.Start), stamp(u.End), strings.TrimSpace(u.Text))
	}

	return b.String()
}

func stamp(sec float64) string {
	return fmt.Sprintf("%02d:%02d", int(sec)/60, int(sec)%60)
}
