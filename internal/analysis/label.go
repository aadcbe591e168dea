// Package analysis scores a single answer through an ordered chain of
// backends, degrading to a deterministic heuristic when every backend fails.
package analysis

import (
	"fmt"
	"math"
	"strings"

	"github.com/ashureev/childassess/internal/domain"
)

// Label is the normalized class reported by a classifier backend.
type Label int

const (
	// LabelNegative is the control class.
	LabelNegative Label = iota
	// LabelPositive is the at-risk class.
	LabelPositive
)

func (l Label) String() string {
	if l == LabelPositive {
		return "positive"
	}
	return "negative"
}

var positiveVocabulary = map[string]struct{}{
	"label_1":  {},
	"1":        {},
	"dyslexia": {},
	"positive": {},
}

// ParseLabel maps a backend label (string or number) to a Label.
// Anything outside the positive vocabulary is negative.
func ParseLabel(raw any) Label {
	if raw == nil {
		return LabelNegative
	}
	s := strings.ToLower(strings.TrimSpace(fmt.Sprint(raw)))
	if _, ok := positiveVocabulary[s]; ok {
		return LabelPositive
	}
	return LabelNegative
}

// Classification is a label with the probability the backend reported for it.
type Classification struct {
	Label       Label
	Probability float64
}

// Risk returns the canonical probability of the at-risk class.
// A negative label only carries risk when the backend was confident in it,
// and then the risk is the complement.
func (c Classification) Risk() float64 {
	p := clamp01(c.Probability)
	if c.Label == LabelPositive {
		return p
	}
	if p > 0.5 {
		return 1 - p
	}
	return 0
}

// Score converts a risk probability to a 0-100 score where high risk is low.
func Score(risk float64) int {
	s := int(math.Round((1 - clamp01(risk)) * 100))
	return clampScore(s)
}

const (
	highRiskBelow = 60
	normalFrom    = 80
)

// Verdict returns the feedback message and flags for a risk-derived score.
func Verdict(score int, risk float64) (string, []domain.FlagTag) {
	switch {
	case score < highRiskBelow:
		return fmt.Sprintf("We detected patterns common in dyslexia (Risk: %d%%).", int(math.Round(risk*100))),
			[]domain.FlagTag{domain.FlagHighRisk}
	case score < normalFrom:
		return "Reading patterns are mostly normal with slight deviations.", nil
	default:
		return "Reading patterns indicate standard development.", nil
	}
}

func clamp01(p float64) float64 {
	if math.IsNaN(p) || p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
