package analysis

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/childassess/internal/domain"
)

// ErrMalformedResponse marks a backend reply that could not be interpreted.
var ErrMalformedResponse = errors.New("malformed backend response")

// Backend is a classifier service reachable over the analysis HTTP contract.
type Backend interface {
	AnalyzeText(ctx context.Context, text string) (Report, error)
	AnalyzeAudio(ctx context.Context, path string) (Report, error)
}

// Report is a backend reply reduced to what scoring needs.
type Report struct {
	Transcription  string
	Classification *Classification
	Flags          []domain.FlagTag
	Features       map[string]float64
}

// FailureKind classifies why a tier produced nothing.
type FailureKind int

const (
	// FailureTransport covers network errors, timeouts and non-200 replies.
	FailureTransport FailureKind = iota
	// FailureMalformed covers replies that are not the expected JSON.
	FailureMalformed
	// FailureUnconfigured means the tier has no endpoint or credentials.
	FailureUnconfigured
)

func (k FailureKind) String() string {
	switch k {
	case FailureTransport:
		return "transport"
	case FailureMalformed:
		return "malformed"
	case FailureUnconfigured:
		return "unconfigured"
	default:
		return "unknown"
	}
}

// TierFailure is the failed outcome of one tier.
type TierFailure struct {
	Tier domain.BackendTag
	Kind FailureKind
	Err  error
}

func (f *TierFailure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s tier %s", f.Tier, f.Kind)
	}
	return fmt.Sprintf("%s tier %s: %v", f.Tier, f.Kind, f.Err)
}

func (f *TierFailure) Unwrap() error {
	return f.Err
}

func newTierFailure(tier domain.BackendTag, err error) *TierFailure {
	kind := FailureTransport
	if errors.Is(err, ErrMalformedResponse) {
		kind = FailureMalformed
	}
	return &TierFailure{Tier: tier, Kind: kind, Err: err}
}

var errNothingToSend = errors.New("no content for this tier")
