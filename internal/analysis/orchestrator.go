package analysis

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/ashureev/childassess/internal/config"
	"github.com/ashureev/childassess/internal/domain"
)

const defaultFeedback = "Assessment completed."

// Content is one answer to analyze: typed text, a stored recording, or both.
type Content struct {
	Text      string
	AudioPath string
}

// Tiers are the collaborators of an Orchestrator. Nil members are unconfigured.
type Tiers struct {
	Remote     Backend
	Local      Backend
	Generative *GenerativeScorer
	Extractor  FeatureExtractor
}

// Timeouts bound each tier independently.
type Timeouts struct {
	Remote     time.Duration
	Local      time.Duration
	Generative time.Duration
}

// TimeoutsFromConfig copies the tier timeouts from cfg.
func TimeoutsFromConfig(cfg config.AnalysisConfig) Timeouts {
	return Timeouts{Remote: cfg.RemoteTimeout, Local: cfg.LocalTimeout, Generative: cfg.GenerativeTimeout}
}

// Orchestrator runs the tiers in fixed priority and always produces a result.
type Orchestrator struct {
	tiers    Tiers
	timeouts Timeouts
	logger   *slog.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(tiers Tiers, timeouts Timeouts, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{tiers: tiers, timeouts: timeouts, logger: logger}
}

// Analyze scores c. It never fails: when every backend is unavailable the
// heuristic tier answers. Its wall-clock time is bounded by the sum of the
// tier timeouts.
func (o *Orchestrator) Analyze(ctx context.Context, c Content) domain.AnalysisResult {
	start := time.Now()
	hasAudio := c.AudioPath != "" && fileExists(c.AudioPath)

	var (
		report  *Report
		fetched domain.BackendTag
	)
	if rep, failure := o.backendTier(ctx, domain.BackendRemote, o.tiers.Remote, o.timeouts.Remote, c, hasAudio); failure == nil {
		report, fetched = rep, domain.BackendRemote
	} else {
		o.recordFailure(failure)
	}
	// The local model only handles audio; failed text goes straight to the generative tier.
	if report == nil && hasAudio {
		if rep, failure := o.backendTier(ctx, domain.BackendLocal, o.tiers.Local, o.timeouts.Local, c, true); failure == nil {
			report, fetched = rep, domain.BackendLocal
		} else {
			o.recordFailure(failure)
		}
	}

	result := domain.AnalysisResult{
		SourceText: c.Text,
		Feedback:   defaultFeedback,
	}
	scoredBy := fetched
	if report != nil {
		result.Transcription = report.Transcription
		result.Flags = mergeFlags(nil, report.Flags...)
		if report.Classification != nil {
			risk := report.Classification.Risk()
			result.Score = Score(risk)
			feedback, flags := Verdict(result.Score, risk)
			result.Feedback = feedback
			result.Flags = mergeFlags(result.Flags, flags...)
		}
	}
	if result.SourceText == "" {
		result.SourceText = result.Transcription
	}

	// Audio flags do not depend on the answering tier. Without a transcript the word count is zero.
	if hasAudio {
		o.applyAudioFlags(&result, report, c.AudioPath)
	}

	if result.Score == 0 {
		if score, feedback, failure := o.generativeTier(ctx, result.SourceText); failure == nil {
			result.Score, result.Feedback = score, feedback
			scoredBy = domain.BackendGenerative
		} else {
			o.recordFailure(failure)
		}
	}

	if result.Score == 0 {
		result.Score, result.Feedback = heuristicScore(result.SourceText)
		scoredBy = domain.BackendHeuristic
		tierOutcomes.WithLabelValues(string(domain.BackendHeuristic), "ok").Inc()
	}

	result.BackendUsed = fetched
	if result.BackendUsed == "" {
		result.BackendUsed = scoredBy
	}
	if result.Flags == nil {
		result.Flags = []domain.FlagTag{}
	}
	result.Score = clampScore(result.Score)

	analysisDuration.WithLabelValues(string(scoredBy)).Observe(time.Since(start).Seconds())
	o.logger.Debug("Answer analyzed",
		"backend_used", result.BackendUsed,
		"scored_by", scoredBy,
		"score", result.Score,
		"flags", len(result.Flags),
		"duration", time.Since(start))
	return result
}

func (o *Orchestrator) backendTier(ctx context.Context, tier domain.BackendTag, b Backend, timeout time.Duration, c Content, audio bool) (*Report, *TierFailure) {
	if b == nil {
		return nil, &TierFailure{Tier: tier, Kind: FailureUnconfigured}
	}
	if !audio && c.Text == "" {
		return nil, &TierFailure{Tier: tier, Kind: FailureUnconfigured, Err: errNothingToSend}
	}

	tierCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		rep Report
		err error
	)
	if audio {
		rep, err = b.AnalyzeAudio(tierCtx, c.AudioPath)
	} else {
		rep, err = b.AnalyzeText(tierCtx, c.Text)
	}
	if err != nil {
		return nil, newTierFailure(tier, err)
	}
	tierOutcomes.WithLabelValues(string(tier), "ok").Inc()
	return &rep, nil
}

func (o *Orchestrator) generativeTier(ctx context.Context, content string) (int, string, *TierFailure) {
	if !o.tiers.Generative.Configured() {
		return 0, "", &TierFailure{Tier: domain.BackendGenerative, Kind: FailureUnconfigured}
	}
	if content == "" {
		return 0, "", &TierFailure{Tier: domain.BackendGenerative, Kind: FailureUnconfigured, Err: errNothingToSend}
	}

	tierCtx, cancel := context.WithTimeout(ctx, o.timeouts.Generative)
	defer cancel()

	score, feedback, err := o.tiers.Generative.Score(tierCtx, content)
	if err != nil {
		return 0, "", newTierFailure(domain.BackendGenerative, err)
	}
	tierOutcomes.WithLabelValues(string(domain.BackendGenerative), "ok").Inc()
	return score, feedback, nil
}

func (o *Orchestrator) applyAudioFlags(result *domain.AnalysisResult, report *Report, path string) {
	var (
		features AudioFeatures
		ok       bool
	)
	if report != nil && report.Features != nil {
		features, ok = featuresFromReport(report.Features)
	}
	if !ok && o.tiers.Extractor != nil {
		var err error
		features, err = o.tiers.Extractor.Extract(path)
		if err != nil {
			o.logger.Debug("Audio features unavailable", "path", path, "error", err)
			return
		}
		ok = true
	}
	if !ok {
		return
	}

	flags, raw := AudioFlags(features, WordCount(result.Transcription))
	result.Flags = mergeFlags(result.Flags, flags...)
	result.RawFeatures = raw
}

func (o *Orchestrator) recordFailure(f *TierFailure) {
	tierOutcomes.WithLabelValues(string(f.Tier), f.Kind.String()).Inc()
	if f.Kind == FailureUnconfigured {
		o.logger.Debug("Analysis tier skipped", "tier", f.Tier, "reason", f.Error())
		return
	}
	o.logger.Warn("Analysis tier failed", "tier", f.Tier, "kind", f.Kind.String(), "error", f.Err)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
