package timeline

import (
	"errors"
	"math"
	"testing"

	"github.com/snarg/meetscribe/internal/audio"
	"github.com/snarg/meetscribe/internal/diarize"
	"github.com/snarg/meetscribe/internal/transcribe"
)

func TestMergeSegments_RebasesByUnitOffset(t *testing.T) {
	// Spec scenario: a segment at local [10,15) in the second of two
	// 1800s units lands at global [1810,1815).
	units := []audio.Unit{
		{Index: 0, Start: 0, End: 1800},
		{Index: 1, Start: 1800, End: 3600},
	}
	perUnit := [][]transcribe.Segment{
		{{Start: 5, End: 9, Text: "первый"}},
		{{Start: 10, End: 15, Text: "второй"}},
	}

	merged, err := MergeSegments(units, perUnit)
	if err != nil {
		t.Fatalf("MergeSegments: %v", err)
	}
	if len(merged) != 2 {
		t.Fatalf("merged %d segments, want 2", len(merged))
	}
	if merged[0].Start != 5 || merged[0].End != 9 {
		t.Errorf("segment 0 = [%.0f, %.0f), want [5, 9)", merged[0].Start, merged[0].End)
	}
	if merged[1].Start != 1810 || merged[1].End != 1815 {
		t.Errorf("segment 1 = [%.0f, %.0f), want [1810, 1815)", merged[1].Start, merged[1].End)
	}
	if merged[1].Text != "второй" {
		t.Errorf("segment 1 text = %q", merged[1].Text)
	}
}

func TestMergeSegments_Monotonicity(t *testing.T) {
	units := []audio.Unit{
		{Index: 0, Start: 0, End: 30},
		{Index: 1, Start: 30, End: 60},
		{Index: 2, Start: 60, End: 75},
	}
	perUnit := [][]transcribe.Segment{
		{{Start: 0, End: 10, Text: "a"}, {Start: 12, End: 29.5, Text: "b"}},
		{{Start: 1, End: 14, Text: "c"}},
		{{Start: 0.2, End: 11, Text: "d"}},
	}

	merged, err := MergeSegments(units, perUnit)
	if err != nil {
		t.Fatalf("MergeSegments: %v", err)
	}
	for i := 1; i < len(merged); i++ {
		if merged[i].Start < merged[i-1].End-Tolerance {
			t.Errorf("segment %d start %.2f overlaps previous end %.2f", i, merged[i].Start, merged[i-1].End)
		}
	}
}

func TestMergeSegments_OverlapWithinToleranceAccepted(t *testing.T) {
	units := []audio.Unit{{Index: 0, Start: 0, End: 60}}
	perUnit := [][]transcribe.Segment{
		{{Start: 0, End: 10.005, Text: "a"}, {Start: 10.0, End: 20, Text: "b"}},
	}
	if _, err := MergeSegments(units, perUnit); err != nil {
		t.Fatalf("overlap of 5ms should be within tolerance, got %v", err)
	}
}

func TestMergeSegments_InconsistentOrderingFails(t *testing.T) {
	// Second unit's stream claims to start before the first one ended by
	// far more than the float tolerance: upstream bug, must fail loudly.
	units := []audio.Unit{
		{Index: 0, Start: 0, End: 30},
		{Index: 1, Start: 10, End: 40}, // overlapping unit: broken plan
	}
	perUnit := [][]transcribe.Segment{
		{{Start: 0, End: 25, Text: "a"}},
		{{Start: 0, End: 5, Text: "b"}},
	}

	_, err := MergeSegments(units, perUnit)
	var cerr *ConsistencyError
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %v, want *ConsistencyError", err)
	}
	if cerr.Index != 1 {
		t.Errorf("inconsistency index = %d, want 1", cerr.Index)
	}
}

func TestMergeSegments_LengthMismatch(t *testing.T) {
	units := []audio.Unit{{Index: 0, Start: 0, End: 30}}
	if _, err := MergeSegments(units, nil); err == nil {
		t.Fatal("expected error for unit/stream count mismatch")
	}
}

func TestMergeTurns_RebasesAndChecks(t *testing.T) {
	units := []audio.Unit{
		{Index: 0, Start: 0, End: 1800},
		{Index: 1, Start: 1800, End: 2400},
	}
	perUnit := [][]diarize.Turn{
		{{Start: 0, End: 1700, Speaker: "chunk0:SPEAKER_00"}},
		{{Start: 2, End: 500, Speaker: "chunk1:SPEAKER_00"}},
	}

	merged, err := MergeTurns(units, perUnit)
	if err != nil {
		t.Fatalf("MergeTurns: %v", err)
	}
	if math.Abs(merged[1].Start-1802) > 1e-9 {
		t.Errorf("turn 1 start = %.2f, want 1802", merged[1].Start)
	}
	if merged[0].Speaker == merged[1].Speaker {
		t.Error("namespaced labels from different chunks must stay distinct")
	}
}
