package analysis

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/go-audio/wav"
)

// silenceTopDB is how far below the loudest frame a frame must fall to count as silence.
const silenceTopDB = 20.0

const frameSamples = 512

// ErrUnsupportedAudio is returned for recordings the extractor cannot decode.
var ErrUnsupportedAudio = errors.New("unsupported audio format")

// WAVExtractor measures PCM WAV recordings.
type WAVExtractor struct{}

// Extract implements FeatureExtractor.
func (WAVExtractor) Extract(path string) (AudioFeatures, error) {
	f, err := os.Open(path)
	if err != nil {
		return AudioFeatures{}, fmt.Errorf("open audio: %w", err)
	}
	defer func() { _ = f.Close() }()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return AudioFeatures{}, ErrUnsupportedAudio
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return AudioFeatures{}, fmt.Errorf("decode pcm: %w", err)
	}
	if buf.Format == nil || buf.Format.SampleRate <= 0 {
		return AudioFeatures{}, ErrUnsupportedAudio
	}

	channels := buf.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}
	mono := make([]float64, len(buf.Data)/channels)
	for i := range mono {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[i*channels+c])
		}
		mono[i] = sum / float64(channels)
	}

	rate := float64(buf.Format.SampleRate)
	return AudioFeatures{
		DurationSeconds: float64(len(mono)) / rate,
		SilenceSeconds:  silentDuration(mono, rate),
	}, nil
}

// silentDuration sums the frames whose RMS energy is more than silenceTopDB below
// the loudest frame.
func silentDuration(samples []float64, rate float64) float64 {
	if len(samples) == 0 {
		return 0
	}

	var energies []float64
	var peak float64
	for start := 0; start < len(samples); start += frameSamples {
		end := min(start+frameSamples, len(samples))
		var sq float64
		for _, s := range samples[start:end] {
			sq += s * s
		}
		rms := math.Sqrt(sq / float64(end-start))
		energies = append(energies, rms)
		peak = max(peak, rms)
	}
	if peak == 0 {
		return float64(len(samples)) / rate
	}

	threshold := peak * math.Pow(10, -silenceTopDB/20)
	var silent int
	for i, e := range energies {
		if e >= threshold {
			continue
		}
		start := i * frameSamples
		silent += min(start+frameSamples, len(samples)) - start
	}
	return float64(silent) / rate
}
