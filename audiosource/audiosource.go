// Package audiosource defines the AudioSource capability consumed by the
// pipeline (spec.md §6) and provides a WebRTC-track-based implementation
// alongside simple in-memory/file sources used by tests and headless
// daemons.
package audiosource

import "context"

// AudioSource is the capability the pipeline drives: it must emit S16LE
// 16 kHz mono PCM via the DataFunc it was constructed with, and peak-level
// readings via the LevelFunc, and never block its caller on STT.
type AudioSource interface {
	Start(ctx context.Context) error
	Stop() error
}

// DataFunc receives a chunk of S16LE PCM at 16 kHz mono.
type DataFunc func(pcm []byte)

// LevelFunc receives a peak amplitude reading in [0, 1].
type LevelFunc func(level float32)

// peakLevel computes the peak-amplitude reading of a block of [-1, 1]
// float32 samples.
func peakLevel(samples []float32) float32 {
	var peak float32
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}

// float32ToPCM converts [-1, 1] float32 samples to S16LE PCM bytes.
func float32ToPCM(samples []float32) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(s * 32767)
		pcm[i*2] = byte(v)
		pcm[i*2+1] = byte(v >> 8)
	}
	return pcm
}
