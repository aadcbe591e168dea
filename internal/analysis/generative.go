package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/ashureev/childassess/internal/llm"
)

// defaultGenerativeScore is used when the generator replies without parseable JSON.
const defaultGenerativeScore = 75

var errEmptyGeneration = errors.New("empty generative reply")

// GenerativeScorer asks a text generator to score an answer.
type GenerativeScorer struct {
	gen llm.Generator
}

// NewGenerativeScorer wraps gen. A nil gen yields a scorer that is never configured.
func NewGenerativeScorer(gen llm.Generator) *GenerativeScorer {
	return &GenerativeScorer{gen: gen}
}

// Configured reports whether a generator is available.
func (g *GenerativeScorer) Configured() bool {
	return g != nil && g.gen != nil
}

// Score returns a 0-100 score and feedback for content.
func (g *GenerativeScorer) Score(ctx context.Context, content string) (int, string, error) {
	prompt := fmt.Sprintf(
		"Analyze this response for a child's language assessment.\n"+
			"Transcript: '%s'\n"+
			"If the text is empty or nonsense, give a low score (10-30). "+
			"If it is a good sentence, give a high score (80-100).\n"+
			"Task: Provide a valid JSON with keys 'score' (integer 0-100) and 'feedback' (string).",
		content)

	reply, err := g.gen.Generate(ctx, prompt)
	if err != nil {
		return 0, "", fmt.Errorf("generate score: %w", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return 0, "", fmt.Errorf("%w: %v", ErrMalformedResponse, errEmptyGeneration)
	}

	score, feedback := parseScoreReply(reply)
	return score, feedback, nil
}

func parseScoreReply(reply string) (int, string) {
	block, ok := llm.FirstFlatObject(reply)
	if !ok {
		return defaultGenerativeScore, reply
	}
	var parsed struct {
		Score    *float64 `json:"score"`
		Feedback *string  `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(block), &parsed); err != nil {
		return defaultGenerativeScore, reply
	}

	score := defaultGenerativeScore
	if parsed.Score != nil {
		score = clampScore(int(math.Round(*parsed.Score)))
	}
	feedback := reply
	if parsed.Feedback != nil {
		feedback = *parsed.Feedback
	}
	return score, feedback
}

// heuristicScore is the last-resort score: longer answers are assumed better.
func heuristicScore(content string) (int, string) {
	if WordCount(content) > 3 {
		return 80, "Basic analysis completed."
	}
	return 40, "Basic analysis completed."
}
