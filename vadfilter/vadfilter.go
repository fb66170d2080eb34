// Package vadfilter wraps silero-vad-go as an optional secondary corroborator
// for AudioBuffer's primary level-threshold voice-activity signal,
// grounded on the teacher's speech.NewDetector setup in call/live_captions.go.
package vadfilter

import (
	"encoding/binary"
	"fmt"

	"github.com/streamer45/silero-vad-go/speech"
)

const (
	DefaultWindowSizeInSamples  = 512
	DefaultThreshold            = 0.5
	DefaultMinSilenceDurationMs = 350
	DefaultSpeechPadMs          = 200
)

// Config configures a Detector. Zero tuning fields (window size, threshold,
// minimum silence, speech pad) take the teacher's tuned defaults; ModelPath
// and SampleRate are required.
type Config struct {
	ModelPath            string
	SampleRate           int
	WindowSizeInSamples  int
	Threshold            float32
	MinSilenceDurationMs int
	SpeechPadMs          int
}

func (c Config) setDefaults() Config {
	if c.WindowSizeInSamples == 0 {
		c.WindowSizeInSamples = DefaultWindowSizeInSamples
	}
	if c.Threshold == 0 {
		c.Threshold = DefaultThreshold
	}
	if c.MinSilenceDurationMs == 0 {
		c.MinSilenceDurationMs = DefaultMinSilenceDurationMs
	}
	if c.SpeechPadMs == 0 {
		c.SpeechPadMs = DefaultSpeechPadMs
	}
	return c
}

// Detector adds a model-based decision alongside the level-threshold VAD
// used by AudioBuffer: a frame it judges as speech also refreshes the
// last-voice timestamp. It never overrides a level reading above the
// threshold.
type Detector struct {
	sd *speech.Detector
}

// New loads the silero ONNX model at cfg.ModelPath.
func New(cfg Config) (*Detector, error) {
	cfg = cfg.setDefaults()
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("invalid ModelPath: should not be empty")
	}
	if cfg.SampleRate == 0 {
		return nil, fmt.Errorf("invalid SampleRate: should not be zero")
	}

	sd, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            cfg.ModelPath,
		SampleRate:           cfg.SampleRate,
		WindowSize:           cfg.WindowSizeInSamples,
		Threshold:            cfg.Threshold,
		MinSilenceDurationMs: cfg.MinSilenceDurationMs,
		SpeechPadMs:          cfg.SpeechPadMs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create speech detector: %w", err)
	}

	return &Detector{sd: sd}, nil
}

// HasVoice reports whether any speech segment was detected in pcm (S16LE).
// A detection error is treated conservatively as "no voice" rather than
// propagated, since this is only a corroborating signal.
func (d *Detector) HasVoice(pcm []byte) bool {
	samples := pcmToFloat32(pcm)
	segments, err := d.sd.Detect(samples)
	if err != nil {
		return false
	}
	return len(segments) > 0
}

// Reset clears internal detector state between sessions.
func (d *Detector) Reset() error {
	return d.sd.Reset()
}

// Destroy releases the underlying ONNX runtime session.
func (d *Detector) Destroy() error {
	return d.sd.Destroy()
}

func pcmToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		samples[i] = float32(s) / 32768.0
	}
	return samples
}
