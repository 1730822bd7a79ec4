package merge

import (
	"context"
	"testing"

	"redub/internal/config"
	"redub/internal/pipeline"
	"redub/internal/segments"
)

func TestAssignSpeakersByMaxOverlap(t *testing.T) {
	segs := []segments.Segment{{Start: 0, End: 2, Text: "hello there"}}
	turns := []segments.Turn{
		{Start: 0, End: 0.5, Speaker: "SPEAKER_00"},
		{Start: 0.5, End: 2, Speaker: "SPEAKER_01"},
	}
	got := AssignSpeakers(segs, turns)
	if got[0].Speaker != "SPEAKER_01" {
		t.Fatalf("speaker = %q", got[0].Speaker)
	}
}

func TestAssignSpeakersTieGoesToEarliestTurn(t *testing.T) {
	segs := []segments.Segment{{Start: 0, End: 2, Text: "split evenly"}}
	turns := []segments.Turn{
		{Start: 1, End: 2, Speaker: "SPEAKER_01"},
		{Start: 0, End: 1, Speaker: "SPEAKER_00"},
	}
	got := AssignSpeakers(segs, turns)
	if got[0].Speaker != "SPEAKER_00" {
		t.Fatalf("speaker = %q", got[0].Speaker)
	}
}

func TestAssignSpeakersNoOverlapIsUnknown(t *testing.T) {
	segs := []segments.Segment{{Start: 10, End: 11, Text: "orphan"}}
	turns := []segments.Turn{{Start: 0, End: 1, Speaker: "SPEAKER_00"}}
	got := AssignSpeakers(segs, turns)
	if got[0].Speaker != segments.UnknownSpeaker {
		t.Fatalf("speaker = %q", got[0].Speaker)
	}
}

func TestMergeDropsEmptyText(t *testing.T) {
	segs := []segments.Segment{
		{Start: 0, End: 1, Text: "um uh"},
		{Start: 1, End: 2, Text: "real words"},
	}
	turns := []segments.Turn{{Start: 0, End: 2, Speaker: "SPEAKER_00"}}
	got := Merge(segs, turns, Options{})
	if len(got) != 1 || got[0].Text != "real words" {
		t.Fatalf("merged = %#v", got)
	}
}

func TestAbsorbShortIntoPrevious(t *testing.T) {
	segs := []segments.Segment{
		{Start: 0, End: 2, Speaker: "SPEAKER_00", Text: "long one"},
		{Start: 2, End: 2.2, Speaker: "SPEAKER_00", Text: "yes"},
		{Start: 2.2, End: 4, Speaker: "SPEAKER_01", Text: "another"},
	}
	got := AbsorbShort(segs, 0.5)
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].End != 2.2 || got[0].Text != "long one yes" {
		t.Fatalf("absorbed = %#v", got[0])
	}
}

func TestAbsorbShortKeepsLeadingFragment(t *testing.T) {
	segs := []segments.Segment{
		{Start: 0, End: 0.3, Speaker: "SPEAKER_00", Text: "so"},
		{Start: 0.3, End: 2, Speaker: "SPEAKER_00", Text: "anyway"},
	}
	got := AbsorbShort(segs, 0.5)
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].Text != "so" || got[0].End != 0.3 {
		t.Fatalf("leading fragment changed: %#v", got[0])
	}
	if got[1].Start != 0.3 || got[1].Text != "anyway" {
		t.Fatalf("following segment changed: %#v", got[1])
	}
}

func TestAbsorbShortKeepsIsolatedFragment(t *testing.T) {
	segs := []segments.Segment{
		{Start: 0, End: 2, Speaker: "SPEAKER_00", Text: "one"},
		{Start: 2, End: 2.2, Speaker: "SPEAKER_01", Text: "hm yes"},
		{Start: 2.2, End: 4, Speaker: "SPEAKER_00", Text: "two"},
	}
	got := AbsorbShort(segs, 0.5)
	if len(got) != 3 {
		t.Fatalf("len = %d", len(got))
	}
}

func TestSmoothSpeakersFixesOutlier(t *testing.T) {
	segs := []segments.Segment{
		{Speaker: "A", Text: "1"},
		{Speaker: "A", Text: "2"},
		{Speaker: "B", Text: "3"},
		{Speaker: "A", Text: "4"},
		{Speaker: "A", Text: "5"},
	}
	got := SmoothSpeakers(segs, 3)
	if got[2].Speaker != "A" {
		t.Fatalf("outlier kept: %q", got[2].Speaker)
	}
	if got[0].Speaker != "A" || got[4].Speaker != "A" {
		t.Fatal("boundary labels changed")
	}
}

func TestSmoothSpeakersLeavesBoundaries(t *testing.T) {
	segs := []segments.Segment{
		{Speaker: "B", Text: "1"},
		{Speaker: "A", Text: "2"},
		{Speaker: "A", Text: "3"},
	}
	got := SmoothSpeakers(segs, 3)
	if got[0].Speaker != "B" {
		t.Fatalf("first label changed: %q", got[0].Speaker)
	}
}

func TestStepExecuteWritesMergedArtifact(t *testing.T) {
	cfg := config.Default()
	env := &pipeline.Env{Workdir: t.TempDir(), Config: &cfg}

	segs := []segments.Segment{{Start: 0, End: 2, Text: "hello there"}}
	turns := []segments.Turn{{Start: 0, End: 2, Speaker: "SPEAKER_00"}}
	if err := segments.WriteArtifact(env.Workdir, segments.TranscriptFile, segs); err != nil {
		t.Fatal(err)
	}
	if err := segments.WriteArtifact(env.Workdir, segments.DiarizationFile, turns); err != nil {
		t.Fatal(err)
	}

	step := New()
	if err := step.Execute(context.Background(), env); err != nil {
		t.Fatalf("execute: %v", err)
	}
	got, err := segments.ReadSegments(env.Workdir, segments.MergedFile)
	if err != nil {
		t.Fatalf("read merged: %v", err)
	}
	if len(got) != 1 || got[0].Speaker != "SPEAKER_00" {
		t.Fatalf("merged = %#v", got)
	}
}

func TestStepExecuteMissingTranscript(t *testing.T) {
	cfg := config.Default()
	env := &pipeline.Env{Workdir: t.TempDir(), Config: &cfg}
	if err := New().Execute(context.Background(), env); err == nil {
		t.Fatal("expected error")
	}
}
