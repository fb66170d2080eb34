// Package segmenter implements the cooperative loop that consumes audio
// frames, throttles calls into an STT worker, filters hallucinated and
// tagged output, and emits an ordered (text, final) event stream driven by
// a silence timer and length safeties.
package segmenter

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/loopcaption/livecaption/metrics"
)

const (
	DefaultSilenceMs             = 800
	DefaultInferenceIntervalMs   = 300
	DefaultMinInferFrames        = 2
	DefaultMaxSegmentFrames      = 100
	DefaultStaleSilenceS         = 3
	DefaultTagHoldS              = 4
	DefaultFrameSize             = 8000
	silenceTimerResolution       = 50 * time.Millisecond
	significantWordMinLen        = 2 // len(w) > 2 is "significant", kept verbatim per spec open question
	hallucinationMinOldWords     = 3
	hallucinationMinSignificance = 2
)

// Event is one observable segmentation output: a partial or final caption.
type Event struct {
	Text  string
	Final bool
}

// AudioWindow is the subset of audiobuffer.AudioBuffer the segmenter drives.
type AudioWindow interface {
	WaitForFrame(ctx context.Context) error
	TryConsumeFrame() bool
	DrainIntoWindow()
	ByteCount() int
	Snapshot() []byte
	ClearSession()
	SecondsSinceLastVoice() float64
}

// Transcriber is the subset of sttengine.Worker the segmenter drives.
type Transcriber interface {
	Busy() bool
	Transcribe(pcm []byte) string
}

// Config holds the segmenter's tunables; zero fields take spec defaults.
type Config struct {
	SilenceMs           int
	InferenceIntervalMs int
	MinInferFrames      int
	MaxSegmentFrames    int
	StaleSilenceS       int
	TagHoldS            int
	FrameSize           int

	// Metrics, if set, records busy-worker drain events, inference calls
	// and hallucination-driven early commits. A nil value disables
	// recording without needing a separate code path.
	Metrics *metrics.Metrics
}

func (c *Config) setDefaults() {
	if c.SilenceMs == 0 {
		c.SilenceMs = DefaultSilenceMs
	}
	if c.InferenceIntervalMs == 0 {
		c.InferenceIntervalMs = DefaultInferenceIntervalMs
	}
	if c.MinInferFrames == 0 {
		c.MinInferFrames = DefaultMinInferFrames
	}
	if c.MaxSegmentFrames == 0 {
		c.MaxSegmentFrames = DefaultMaxSegmentFrames
	}
	if c.StaleSilenceS == 0 {
		c.StaleSilenceS = DefaultStaleSilenceS
	}
	if c.TagHoldS == 0 {
		c.TagHoldS = DefaultTagHoldS
	}
	if c.FrameSize == 0 {
		c.FrameSize = DefaultFrameSize
	}
}

var (
	bracketTagRE = regexp.MustCompile(`\[.*?\]`)
	parenTagRE   = regexp.MustCompile(`\(.*?\)`)
)

const musicGlyph = "♪"

// Segmenter is the state machine described by spec.md §4.3. It is not safe
// for concurrent Run calls; the silence-timer and inference-loop goroutines
// it spawns internally share state through an internal mutex.
type Segmenter struct {
	cfg     Config
	audio   AudioWindow
	worker  Transcriber
	limiter *rate.Limiter
	metrics *metrics.Metrics

	events chan Event

	mu             sync.Mutex
	lastPartial    string
	committed      bool
	tagStreakStart time.Time
}

// New constructs a Segmenter wired to audio and worker. cfg's zero fields
// take spec defaults.
func New(audio AudioWindow, worker Transcriber, cfg Config) *Segmenter {
	cfg.setDefaults()
	return &Segmenter{
		cfg:       cfg,
		audio:     audio,
		worker:    worker,
		limiter:   rate.NewLimiter(rate.Every(time.Duration(cfg.InferenceIntervalMs)*time.Millisecond), 1),
		metrics:   cfg.Metrics,
		events:    make(chan Event, 16),
		committed: true,
	}
}

// Events returns the ordered (text, final) event stream. It is closed when
// Run returns.
func (s *Segmenter) Events() <-chan Event {
	return s.events
}

// Run drives the silence timer and inference loop until ctx is cancelled,
// closing the events channel on return.
func (s *Segmenter) Run(ctx context.Context) error {
	defer close(s.events)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.runSilenceTimer(ctx) })
	g.Go(func() error { return s.runInferenceLoop(ctx) })
	return g.Wait()
}

func (s *Segmenter) emit(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

// runSilenceTimer models the cancellable one-shot "commit on silence" timer
// as a periodic deadline comparison (per the design note in spec.md §9:
// "in a single-threaded cooperative environment, it becomes a deadline
// compared on each loop iteration"), rather than a literal timer.Reset,
// which avoids the classic stop/drain race and naturally re-arms whenever
// AudioBuffer.ReportLevel bumps last_voice_at.
func (s *Segmenter) runSilenceTimer(ctx context.Context) error {
	ticker := time.NewTicker(silenceTimerResolution)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.maybeCommitOnSilence(ctx)
		}
	}
}

func (s *Segmenter) maybeCommitOnSilence(ctx context.Context) {
	s.mu.Lock()
	committed := s.committed
	partial := s.lastPartial
	s.mu.Unlock()

	if committed || partial == "" {
		return
	}
	if s.audio.SecondsSinceLastVoice()*1000 < float64(s.cfg.SilenceMs) {
		return
	}

	s.mu.Lock()
	// Re-check under lock: the inference loop may have committed or revised
	// last_partial between our unlocked read above and now.
	if s.committed || s.lastPartial == "" {
		s.mu.Unlock()
		return
	}
	text := s.lastPartial
	s.committed = true
	s.lastPartial = ""
	s.mu.Unlock()

	s.audio.ClearSession()
	s.emit(ctx, Event{Text: text, Final: true})
}

func (s *Segmenter) runInferenceLoop(ctx context.Context) error {
	for {
		if err := s.audio.WaitForFrame(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if s.worker.Busy() {
			s.audio.DrainIntoWindow()
			s.metrics.WindowPressureDropsInc()
			continue
		}

		if !s.audio.TryConsumeFrame() {
			continue
		}

		if s.audio.ByteCount() < s.cfg.MinInferFrames*s.cfg.FrameSize {
			continue
		}

		if !s.limiter.Allow() {
			continue
		}

		snapshot := s.audio.Snapshot()
		start := time.Now()
		raw := s.worker.Transcribe(snapshot)
		s.metrics.ObserveInference(time.Since(start).Seconds())
		if raw == "" {
			continue
		}

		text, keep := s.applyFilters(raw, time.Now())
		if !keep {
			continue
		}

		if s.handleHallucinationDrop(ctx, text) {
			continue
		}

		s.updatePartial(ctx, text)

		if s.audio.SecondsSinceLastVoice() > float64(s.cfg.StaleSilenceS) {
			s.audio.ClearSession()
		}
	}
}

// applyFilters implements spec.md §4.3.3's ordered text filters.
func (s *Segmenter) applyFilters(raw string, now time.Time) (string, bool) {
	trimmedRaw := strings.TrimSpace(raw)
	stripped := strings.TrimSpace(stripTags(trimmedRaw))

	isPureTag := len(stripped) < 2 && len(trimmedRaw) >= 2

	var out string

	s.mu.Lock()
	if !isPureTag {
		s.tagStreakStart = time.Time{}
		s.mu.Unlock()

		out = stripped
		if len([]rune(strings.TrimSpace(out))) < 2 {
			return "", false
		}
	} else {
		if s.tagStreakStart.IsZero() {
			s.tagStreakStart = now
		}
		streakStart := s.tagStreakStart
		s.mu.Unlock()

		if now.Sub(streakStart) < time.Duration(s.cfg.TagHoldS)*time.Second {
			return "", false
		}
		out = trimmedRaw
	}

	if isSilenceHallucination(out) {
		return "", false
	}

	return out, true
}

func stripTags(s string) string {
	s = bracketTagRE.ReplaceAllString(s, "")
	s = parenTagRE.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, musicGlyph, "")
	return strings.TrimSpace(s)
}

func isSilenceHallucination(s string) bool {
	t := strings.TrimSpace(s)
	return strings.EqualFold(t, "thank you") || strings.EqualFold(t, "thank you.")
}

// handleHallucinationDrop implements spec.md §4.3.4. Returns true if it
// handled this tick (the caller must not also run the normal partial
// update for the same text).
func (s *Segmenter) handleHallucinationDrop(ctx context.Context, text string) bool {
	s.mu.Lock()
	oldPartial := s.lastPartial
	s.mu.Unlock()

	old := strings.Fields(oldPartial)
	newWords := strings.Fields(text)

	if !(len(old) >= hallucinationMinOldWords && len(newWords) > 0 && len(newWords) < len(old)) {
		return false
	}

	newSet := make(map[string]struct{}, len(newWords))
	for _, w := range newWords {
		newSet[strings.ToLower(w)] = struct{}{}
	}

	oldSignificant := 0
	match := 0
	for _, w := range old {
		if len(w) > significantWordMinLen {
			oldSignificant++
			if _, ok := newSet[strings.ToLower(w)]; ok {
				match++
			}
		}
	}

	if oldSignificant < hallucinationMinSignificance || match != 0 {
		return false
	}

	s.mu.Lock()
	s.lastPartial = text
	s.committed = false
	s.mu.Unlock()

	s.audio.ClearSession()
	s.metrics.HallucinationCommitInc()
	s.emit(ctx, Event{Text: oldPartial, Final: true})
	s.emit(ctx, Event{Text: text, Final: false})

	return true
}

// updatePartial implements spec.md §4.3.5.
func (s *Segmenter) updatePartial(ctx context.Context, text string) {
	s.mu.Lock()
	s.lastPartial = text

	if s.audio.ByteCount() >= s.cfg.MaxSegmentFrames*s.cfg.FrameSize {
		s.committed = true
		s.lastPartial = ""
		s.mu.Unlock()

		s.audio.ClearSession()
		s.emit(ctx, Event{Text: text, Final: true})
		return
	}

	s.committed = false
	s.mu.Unlock()

	s.emit(ctx, Event{Text: text, Final: false})
}

// Reset clears the segmenter's internal state and the underlying session
// window, as if a clear_session() had just occurred. Used by the owning
// pipeline on explicit user action (e.g. "clear captions").
func (s *Segmenter) Reset() {
	s.mu.Lock()
	s.lastPartial = ""
	s.committed = true
	s.tagStreakStart = time.Time{}
	s.mu.Unlock()
	s.audio.ClearSession()
}
