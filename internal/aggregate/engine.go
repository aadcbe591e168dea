// Package aggregate merges the per-answer analyses or the chat transcript of a
// session into one categorical verdict.
package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/ashureev/childassess/internal/domain"
	"github.com/ashureev/childassess/internal/llm"
)

// Language categories.
const (
	CategoryExcellent      = "Excellent"
	CategoryGood           = "Good"
	CategoryNeedsAttention = "Needs Attention"
)

// CategoryModerate is the neutral screening category.
const CategoryModerate = "Moderate"

var (
	languageCategories = []string{CategoryExcellent, CategoryGood, CategoryNeedsAttention}
	mentalCategories   = []string{CategoryGood, CategoryModerate, CategoryNeedsAttention}
)

// Input is everything a verdict is built from.
type Input struct {
	SessionID string
	Kind      domain.SessionKind
	Age       int
	Answers   []domain.AnswerItem
	Chat      []domain.ChatTurn
	// History holds prior categorized sessions of the same user, newest first.
	History []domain.SessionSummary
}

// Engine builds final results. Without a generator every verdict comes from
// the deterministic fallback.
type Engine struct {
	gen     llm.Generator
	timeout time.Duration
	logger  *slog.Logger
}

// NewEngine creates an aggregation engine. gen may be nil.
func NewEngine(gen llm.Generator, timeout time.Duration, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{gen: gen, timeout: timeout, logger: logger}
}

type verdict struct {
	Category *string `json:"category"`
	Summary  *string `json:"summary"`
	Analysis *string `json:"analysis"`
}

// Aggregate returns the final result for in. It never fails.
func (e *Engine) Aggregate(ctx context.Context, in Input) domain.FinalResult {
	if in.Kind == domain.KindMental {
		return e.aggregateChat(ctx, in)
	}
	return e.aggregateAnswers(ctx, in)
}

func (e *Engine) generate(ctx context.Context, sessionID, prompt string) string {
	if e.gen == nil {
		return ""
	}
	genCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	reply, err := e.gen.Generate(genCtx, prompt)
	if err != nil {
		e.logger.Warn("Summary generation failed", "session_id", sessionID, "error", err)
		return ""
	}
	return reply
}

func (e *Engine) aggregateAnswers(ctx context.Context, in Input) domain.FinalResult {
	answers := slices.Clone(in.Answers)
	slices.SortStableFunc(answers, func(a, b domain.AnswerItem) int {
		return a.QuestionIndex - b.QuestionIndex
	})

	var (
		breakdown  []domain.AnswerBrief
		transcript strings.Builder
		total      int
	)
	for i, a := range answers {
		if a.Analysis == nil {
			continue
		}
		breakdown = append(breakdown, domain.AnswerBrief{Question: a.QuestionText, Analysis: *a.Analysis})
		total += a.Analysis.Score
		fmt.Fprintf(&transcript, "Q%d: %s\nResponse: %s\nScore: %d\nNotes: %s\n\n",
			i+1, a.QuestionText, a.Analysis.ResponseText(), a.Analysis.Score, a.Analysis.Feedback)
	}
	var mean float64
	if len(breakdown) > 0 {
		mean = float64(total) / float64(len(breakdown))
	}

	result := domain.FinalResult{Score: &mean, Breakdown: breakdown}

	reply := e.generate(ctx, in.SessionID, languagePrompt(in.Age, transcript.String()))
	if v, ok := parseVerdict(reply, languageCategories, false); ok {
		result.Category = *v.Category
		result.Summary = valueOr(v.Summary, "✔ Good effort shown.")
		result.AnalysisText = valueOr(v.Analysis, reply)
		aggregations.WithLabelValues(string(domain.KindLanguage), "generated").Inc()
		return result
	}

	result.Category = categoryForMean(mean)
	result.Summary = "✔ Assessment completed."
	result.AnalysisText = fmt.Sprintf("Average score across %d answers: %.1f.", len(breakdown), mean)
	aggregations.WithLabelValues(string(domain.KindLanguage), "fallback").Inc()
	e.logger.Info("Language verdict from score thresholds", "session_id", in.SessionID, "mean", mean, "category", result.Category)
	return result
}

func (e *Engine) aggregateChat(ctx context.Context, in Input) domain.FinalResult {
	reply := e.generate(ctx, in.SessionID, chatPrompt(in.Chat, in.History))

	result := domain.FinalResult{
		Category:     CategoryModerate,
		Summary:      "We have recorded your responses.",
		AnalysisText: "Assessment complete.",
	}
	if v, ok := parseVerdict(reply, mentalCategories, true); ok {
		result.Category = *v.Category
		result.Summary = valueOr(v.Summary, result.Summary)
		result.AnalysisText = valueOr(v.Analysis, result.AnalysisText)
		aggregations.WithLabelValues(string(domain.KindMental), "generated").Inc()
		return result
	}

	// The unparsed reply still carries a weak signal.
	switch {
	case strings.Contains(reply, "Attention"):
		result.Category = CategoryNeedsAttention
	case strings.Contains(reply, "Good"):
		result.Category = CategoryGood
	}
	aggregations.WithLabelValues(string(domain.KindMental), "fallback").Inc()
	e.logger.Info("Screening verdict from fallback", "session_id", in.SessionID, "category", result.Category)
	return result
}

// parseVerdict extracts the first JSON block of reply and checks its category.
func parseVerdict(reply string, categories []string, stripFences bool) (verdict, bool) {
	if strings.TrimSpace(reply) == "" {
		return verdict{}, false
	}
	body := reply
	if stripFences {
		body = llm.FencedBody(reply)
	}
	block, ok := llm.GreedyObject(body)
	if !ok {
		return verdict{}, false
	}
	var v verdict
	if err := json.Unmarshal([]byte(block), &v); err != nil {
		return verdict{}, false
	}
	if v.Category == nil || !slices.Contains(categories, *v.Category) {
		return verdict{}, false
	}
	return v, true
}

func categoryForMean(mean float64) string {
	switch {
	case mean > 80:
		return CategoryExcellent
	case mean > 60:
		return CategoryGood
	default:
		return CategoryNeedsAttention
	}
}

func valueOr(s *string, fallback string) string {
	if s == nil || *s == "" {
		return fallback
	}
	return *s
}
