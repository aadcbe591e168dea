package domain

// FlagTag marks an observation attached to an analysis.
type FlagTag string

const (
	FlagHighRisk      FlagTag = "high_dyslexia_risk"
	FlagSlowReader    FlagTag = "slow_reader"
	FlagHyperactivity FlagTag = "hyperactivity_flag"
	FlagHighPause     FlagTag = "high_pause"
	FlagInattention   FlagTag = "inattention_flag"
)

// BackendTag names the tier that produced an analysis.
type BackendTag string

const (
	BackendRemote     BackendTag = "remote"
	BackendLocal      BackendTag = "local"
	BackendGenerative BackendTag = "generative"
	BackendHeuristic  BackendTag = "heuristic"
)

// AnalysisResult is the scored analysis of one answer. It is immutable once built.
type AnalysisResult struct {
	SourceText    string             `json:"text"`
	Transcription string             `json:"transcription,omitempty"`
	Score         int                `json:"score"`
	Feedback      string             `json:"feedback"`
	Flags         []FlagTag          `json:"flags"`
	RawFeatures   map[string]float64 `json:"features,omitempty"`
	BackendUsed   BackendTag         `json:"backend_used"`
}

// HasFlag reports whether f is present.
func (a *AnalysisResult) HasFlag(f FlagTag) bool {
	for _, have := range a.Flags {
		if have == f {
			return true
		}
	}
	return false
}

// ResponseText is the text the answer was judged on: the transcription when present.
func (a *AnalysisResult) ResponseText() string {
	if a.Transcription != "" {
		return a.Transcription
	}
	return a.SourceText
}
