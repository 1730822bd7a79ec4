// Package segments defines the data model shared across pipeline steps and
// the JSON artifact files that connect them.
package segments

// UnknownSpeaker labels transcript segments that overlap no diarization turn.
const UnknownSpeaker = "UNKNOWN"

// Segment is one span of transcribed speech. Translation is filled in by the
// translation step and left empty before it.
type Segment struct {
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Speaker     string  `json:"speaker,omitempty"`
	Text        string  `json:"text"`
	Translation string  `json:"translation,omitempty"`
}

// Duration returns the source span length in seconds.
func (s Segment) Duration() float64 {
	if s.End <= s.Start {
		return 0
	}
	return s.End - s.Start
}

// SpokenText returns the translation when present, falling back to the
// source text.
func (s Segment) SpokenText() string {
	if s.Translation != "" {
		return s.Translation
	}
	return s.Text
}

// Turn is one diarization span attributed to a single speaker.
type Turn struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// Overlap returns how many seconds of the given span fall inside the turn.
func (t Turn) Overlap(start, end float64) float64 {
	lo := max(t.Start, start)
	hi := min(t.End, end)
	if hi <= lo {
		return 0
	}
	return hi - lo
}

// ManifestEntry records one synthesized clip produced by the synthesis step.
type ManifestEntry struct {
	Index    int     `json:"index"`
	Speaker  string  `json:"speaker"`
	Text     string  `json:"text"`
	Audio    string  `json:"audio"`
	Duration float64 `json:"duration"`
	Cached   bool    `json:"cached,omitempty"`
}

// TimelineEntry maps one source segment to its placement in the rendered
// output. Rate is the realized playback-speed factor applied to the clip.
type TimelineEntry struct {
	Index       int     `json:"index"`
	Speaker     string  `json:"speaker"`
	SourceStart float64 `json:"source_start"`
	SourceEnd   float64 `json:"source_end"`
	TargetStart float64 `json:"target_start"`
	TargetEnd   float64 `json:"target_end"`
	Rate        float64 `json:"rate"`
}
