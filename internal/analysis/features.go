package analysis

import (
	"strings"

	"github.com/ashureev/childassess/internal/domain"
)

// Speech thresholds in words per second and silence share.
const (
	slowSpeechRate = 1.0
	fastSpeechRate = 3.0
	highPauseRatio = 0.4
)

// AudioFeatures describes a recording independently of its transcript.
type AudioFeatures struct {
	DurationSeconds float64
	SilenceSeconds  float64
	// PauseRatio, when set, is used as reported instead of SilenceSeconds/DurationSeconds.
	PauseRatio *float64
}

// FeatureExtractor measures a stored recording.
type FeatureExtractor interface {
	Extract(path string) (AudioFeatures, error)
}

// AudioFlags derives speech-rate and pause flags. A zero duration yields zero
// rates and no flags.
func AudioFlags(f AudioFeatures, wordCount int) ([]domain.FlagTag, map[string]float64) {
	var speechRate, pauseRatio float64
	if f.DurationSeconds > 0 {
		speechRate = float64(wordCount) / f.DurationSeconds
		if f.PauseRatio != nil {
			pauseRatio = *f.PauseRatio
		} else {
			pauseRatio = f.SilenceSeconds / f.DurationSeconds
		}
	}

	raw := map[string]float64{
		"duration_seconds": f.DurationSeconds,
		"speech_rate_wps":  speechRate,
		"pause_ratio":      pauseRatio,
	}
	if f.DurationSeconds <= 0 {
		return nil, raw
	}

	var flags []domain.FlagTag
	if speechRate < slowSpeechRate {
		flags = append(flags, domain.FlagSlowReader)
	}
	if speechRate > fastSpeechRate {
		flags = append(flags, domain.FlagHyperactivity)
	}
	if pauseRatio > highPauseRatio {
		flags = append(flags, domain.FlagHighPause, domain.FlagInattention)
	}
	return flags, raw
}

// WordCount counts whitespace-separated words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// featuresFromReport reads the features object of a local-model reply.
func featuresFromReport(m map[string]float64) (AudioFeatures, bool) {
	duration, ok := m["duration_seconds"]
	if !ok {
		return AudioFeatures{}, false
	}
	f := AudioFeatures{DurationSeconds: duration}
	if pr, ok := m["pause_ratio"]; ok {
		f.PauseRatio = &pr
	}
	return f, true
}

func mergeFlags(base []domain.FlagTag, extra ...domain.FlagTag) []domain.FlagTag {
	out := make([]domain.FlagTag, 0, len(base)+len(extra))
	seen := make(map[domain.FlagTag]struct{}, len(base)+len(extra))
	for _, f := range append(append([]domain.FlagTag{}, base...), extra...) {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
