package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/childassess/internal/domain"
)

const maxReplyBytes = 1 << 20

// HTTPBackend calls a classifier service exposing /analyze/text and /analyze/audio.
// The remote tunnel and the local model server share this contract.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
	tunnel  bool
}

// HTTPBackendOption configures an HTTPBackend.
type HTTPBackendOption func(*HTTPBackend)

// WithTunnelBypass sends the header that skips the tunnel provider's interstitial page.
func WithTunnelBypass() HTTPBackendOption {
	return func(b *HTTPBackend) { b.tunnel = true }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPBackendOption {
	return func(b *HTTPBackend) { b.client = c }
}

// NewHTTPBackend creates a backend for baseURL with a per-request timeout.
func NewHTTPBackend(baseURL string, timeout time.Duration, opts ...HTTPBackendOption) *HTTPBackend {
	b := &HTTPBackend{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AnalyzeText posts {text} and expects {predicted_label, probability}.
func (b *HTTPBackend) AnalyzeText(ctx context.Context, text string) (Report, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return Report{}, fmt.Errorf("encode text request: %w", err)
	}
	data, err := b.post(ctx, "/analyze/text", "application/json", bytes.NewReader(body))
	if err != nil {
		return Report{}, err
	}

	var reply classifierReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return Report{}, fmt.Errorf("%w: decode text reply: %v", ErrMalformedResponse, err)
	}
	if reply.PredictedLabel == nil && reply.Probability == nil {
		return Report{}, fmt.Errorf("%w: text reply has no label", ErrMalformedResponse)
	}
	return Report{Classification: reply.classification()}, nil
}

// AnalyzeAudio uploads the recording as multipart field "file".
func (b *HTTPBackend) AnalyzeAudio(ctx context.Context, path string) (Report, error) {
	audio, err := os.ReadFile(path)
	if err != nil {
		return Report{}, fmt.Errorf("read audio: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(path)))
	header.Set("Content-Type", "audio/webm")
	part, err := mw.CreatePart(header)
	if err != nil {
		return Report{}, fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return Report{}, fmt.Errorf("write multipart part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Report{}, fmt.Errorf("close multipart writer: %w", err)
	}

	data, err := b.post(ctx, "/analyze/audio", mw.FormDataContentType(), &body)
	if err != nil {
		return Report{}, err
	}

	var reply audioReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return Report{}, fmt.Errorf("%w: decode audio reply: %v", ErrMalformedResponse, err)
	}
	return reply.report()
}

func (b *HTTPBackend) post(ctx context.Context, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if b.tunnel {
		req.Header.Set("Bypass-Tunnel-Reminder", "true")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s reply: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("post %s: status %d: %s", path, resp.StatusCode, truncate(string(data), 200))
	}
	return data, nil
}

// classifierReply is the label pair, either top-level (text) or under "analysis" (audio).
type classifierReply struct {
	PredictedLabel any      `json:"predicted_label"`
	Probability    *float64 `json:"probability"`
}

func (r classifierReply) classification() *Classification {
	c := &Classification{Label: ParseLabel(r.PredictedLabel)}
	if r.Probability != nil {
		c.Probability = *r.Probability
	}
	return c
}

// audioReply accepts both the remote shape {transcript, analysis:{predicted_label, probability}}
// and the local shape {transcription, analysis:{flags}, features:{...}}.
type audioReply struct {
	Transcript    *string `json:"transcript"`
	Transcription *string `json:"transcription"`
	Analysis      *struct {
		classifierReply
		Flags []string `json:"flags"`
	} `json:"analysis"`
	Features map[string]any `json:"features"`
}

func (r audioReply) report() (Report, error) {
	var rep Report
	switch {
	case r.Transcript != nil:
		rep.Transcription = *r.Transcript
	case r.Transcription != nil:
		rep.Transcription = *r.Transcription
	case r.Analysis == nil:
		return Report{}, fmt.Errorf("%w: audio reply has neither transcript nor analysis", ErrMalformedResponse)
	}

	if r.Analysis != nil {
		if r.Analysis.PredictedLabel != nil || r.Analysis.Probability != nil {
			rep.Classification = r.Analysis.classification()
		}
		for _, f := range r.Analysis.Flags {
			rep.Flags = append(rep.Flags, domain.FlagTag(f))
		}
	}
	if len(r.Features) > 0 {
		rep.Features = make(map[string]float64, len(r.Features))
		for k, v := range r.Features {
			if n, ok := v.(float64); ok {
				rep.Features[k] = n
			}
		}
	}
	return rep, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
