// Package audiobuffer turns a variable-rate PCM byte stream into a bounded
// rolling window of fixed-size frames, and tracks when voice activity was
// last observed.
package audiobuffer

import (
	"context"
	"sync"
	"time"

	"github.com/loopcaption/livecaption/metrics"
)

const (
	// DefaultSampleRate is the only sample rate the pipeline accepts: 16kHz mono.
	DefaultSampleRate = 16000
	// BytesPerSample is fixed for S16LE PCM.
	BytesPerSample = 2
	// DefaultMaxFrames bounds the rolling session window to 30s (120 * 0.25s).
	DefaultMaxFrames = 120
	// DefaultVoiceThreshold is the peak-amplitude level above which audio counts as voice.
	DefaultVoiceThreshold = 0.05

	// signalBacklog bounds how many pending frame-ready signals we buffer; once
	// full, additional pushes don't enqueue a new wakeup but the frame is still
	// appended to the ready queue, so no audio is ever lost.
	signalBacklog = 4096
	levelSubBuf   = 8
)

// FrameSize returns the frame length in bytes for the given sample rate,
// per spec: sample_rate * bytes_per_sample / 4 (0.25s worth of audio).
func FrameSize(sampleRate int) int {
	return sampleRate * BytesPerSample / 4
}

// VoiceDetector is an optional secondary voice-activity signal (e.g.
// vadfilter.Detector) consulted per-frame in Push, additively alongside
// the level-threshold check ReportLevel already performs. Its verdict
// can only arm last_voice_at earlier/more often, never suppress it: the
// level-threshold contract from spec.md §4.1 is unchanged when no
// detector is attached.
type VoiceDetector interface {
	HasVoice(pcm []byte) bool
}

// Config configures an AudioBuffer. Zero values fall back to spec defaults.
type Config struct {
	SampleRate     int
	MaxFrames      int
	VoiceThreshold float64

	// VoiceDetector, if set, corroborates level-threshold voice detection
	// against a model-based verdict per carved frame.
	VoiceDetector VoiceDetector

	// Metrics, if set, records window evictions and buffered duration. A
	// nil value disables recording without needing a separate code path.
	Metrics *metrics.Metrics
}

func (c *Config) setDefaults() {
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.MaxFrames == 0 {
		c.MaxFrames = DefaultMaxFrames
	}
	if c.VoiceThreshold == 0 {
		c.VoiceThreshold = DefaultVoiceThreshold
	}
}

// AudioBuffer accepts raw PCM pushes from a capture thread, carves them into
// fixed-size frames and maintains the bounded rolling session window that
// the segmenter snapshots for STT inference.
//
// push/ReportLevel may be called concurrently with WaitForFrame,
// TryConsumeFrame, DrainIntoWindow, Snapshot, ByteCount and ClearSession; a
// single mutex guards the accumulator, ready queue and session window.
type AudioBuffer struct {
	cfg Config

	mu          sync.Mutex
	accumulator []byte
	ready       [][]byte
	window      [][]byte
	windowBytes int

	lastVoiceAt time.Time

	frameSignal chan struct{}

	levelMu   sync.Mutex
	levelSubs []chan float32
}

// New constructs an AudioBuffer. cfg is copied; zero fields take spec defaults.
func New(cfg Config) *AudioBuffer {
	cfg.setDefaults()
	return &AudioBuffer{
		cfg:         cfg,
		frameSignal: make(chan struct{}, signalBacklog),
	}
}

func (b *AudioBuffer) frameSize() int {
	return FrameSize(b.cfg.SampleRate)
}

// Push appends raw bytes to the scratch accumulator. While the accumulator
// holds at least one frame's worth of bytes, it carves a frame off into the
// ready queue and signals availability. Odd trailing bytes (malformed,
// non-frame-aligned pushes) are carried over into the next Push rather than
// rejected — no operation here can fail.
func (b *AudioBuffer) Push(data []byte) {
	if len(data) == 0 {
		return
	}

	frameSize := b.frameSize()

	b.mu.Lock()
	b.accumulator = append(b.accumulator, data...)
	var voiceFrames [][]byte
	for len(b.accumulator) >= frameSize {
		frame := make([]byte, frameSize)
		copy(frame, b.accumulator[:frameSize])
		b.accumulator = b.accumulator[frameSize:]
		b.ready = append(b.ready, frame)
		if b.cfg.VoiceDetector != nil {
			voiceFrames = append(voiceFrames, frame)
		}

		select {
		case b.frameSignal <- struct{}{}:
		default:
		}
	}
	b.mu.Unlock()

	for _, frame := range voiceFrames {
		if b.cfg.VoiceDetector.HasVoice(frame) {
			b.mu.Lock()
			b.lastVoiceAt = time.Now()
			b.mu.Unlock()
		}
	}
}

// ReportLevel updates the last-voice-activity timestamp when level exceeds
// the configured voice threshold, and publishes the level to subscribers
// (e.g. a UI level meter).
func (b *AudioBuffer) ReportLevel(level float32) {
	if float64(level) > b.cfg.VoiceThreshold {
		b.mu.Lock()
		b.lastVoiceAt = time.Now()
		b.mu.Unlock()
	}

	b.levelMu.Lock()
	for _, ch := range b.levelSubs {
		select {
		case ch <- level:
		default:
		}
	}
	b.levelMu.Unlock()
}

// Levels returns a channel of reported levels for UI consumption (e.g. a
// meter widget). The channel is closed when ctx is done.
func (b *AudioBuffer) Levels(ctx context.Context) <-chan float32 {
	ch := make(chan float32, levelSubBuf)
	b.levelMu.Lock()
	b.levelSubs = append(b.levelSubs, ch)
	b.levelMu.Unlock()

	go func() {
		<-ctx.Done()
		b.levelMu.Lock()
		defer b.levelMu.Unlock()
		for i, sub := range b.levelSubs {
			if sub == ch {
				b.levelSubs = append(b.levelSubs[:i], b.levelSubs[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch
}

// WaitForFrame cooperatively waits until at least one ready frame likely
// exists. A stale wakeup (queue already drained by a direct TryConsumeFrame
// call) is harmless: the caller simply finds nothing to consume and loops.
func (b *AudioBuffer) WaitForFrame(ctx context.Context) error {
	select {
	case <-b.frameSignal:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryConsumeFrame moves one frame from the ready queue into the session
// window, evicting the oldest window frame if over MaxFrames. Returns false
// if the ready queue was empty.
func (b *AudioBuffer) TryConsumeFrame() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consumeOneLocked()
}

func (b *AudioBuffer) consumeOneLocked() bool {
	if len(b.ready) == 0 {
		return false
	}
	frame := b.ready[0]
	b.ready = b.ready[1:]
	b.appendToWindowLocked(frame)
	return true
}

// DrainIntoWindow moves every queued frame into the session window. Used
// while STT is busy so audio is retained rather than dropped from the queue.
func (b *AudioBuffer) DrainIntoWindow() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.consumeOneLocked() {
	}
}

func (b *AudioBuffer) appendToWindowLocked(frame []byte) {
	b.window = append(b.window, frame)
	b.windowBytes += len(frame)

	for len(b.window) > b.cfg.MaxFrames {
		oldest := b.window[0]
		b.window = b.window[1:]
		b.windowBytes -= len(oldest)
		b.cfg.Metrics.FramesDroppedInc()
	}

	b.reportBufferedSecondsLocked()
}

func (b *AudioBuffer) reportBufferedSecondsLocked() {
	bytesPerSecond := b.cfg.SampleRate * BytesPerSample
	b.cfg.Metrics.SetBufferedSeconds(float64(b.windowBytes) / float64(bytesPerSecond))
}

// Snapshot returns a contiguous copy of the current session window, in frame order.
func (b *AudioBuffer) Snapshot() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]byte, 0, b.windowBytes)
	for _, f := range b.window {
		out = append(out, f...)
	}
	return out
}

// ByteCount returns the current session window size in bytes.
func (b *AudioBuffer) ByteCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.windowBytes
}

// ClearSession empties the session window (the ready queue and accumulator
// are untouched: in-flight capture data is never discarded by a clear).
func (b *AudioBuffer) ClearSession() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.window = nil
	b.windowBytes = 0
	b.reportBufferedSecondsLocked()
}

// SecondsSinceLastVoice reports how long it has been since a level above the
// voice threshold was reported, or since the VoiceDetector (if any) judged a
// pushed frame as voice. Before any voice has ever been observed it
// returns a very large value so stale-silence checks never fire spuriously.
func (b *AudioBuffer) SecondsSinceLastVoice() float64 {
	b.mu.Lock()
	last := b.lastVoiceAt
	b.mu.Unlock()

	if last.IsZero() {
		return time.Hour.Seconds()
	}
	return time.Since(last).Seconds()
}
