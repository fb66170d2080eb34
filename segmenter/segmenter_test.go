package segmenter

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/loopcaption/livecaption/metrics"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

// fakeAudio is a minimal, in-memory AudioWindow test double: every Push
// makes exactly one frame available, and voice timestamps are driven
// explicitly rather than via a real rolling buffer.
type fakeAudio struct {
	mu             sync.Mutex
	frameCh        chan struct{}
	pendingFrames  int
	windowBytes    int
	lastVoice      time.Time
	clearedCount   int
	frameSize      int
}

func newFakeAudio(frameSize int) *fakeAudio {
	return &fakeAudio{
		frameCh:   make(chan struct{}, 4096),
		lastVoice: time.Now(),
		frameSize: frameSize,
	}
}

func (f *fakeAudio) pushFrame() {
	f.mu.Lock()
	f.pendingFrames++
	f.lastVoice = time.Now()
	f.mu.Unlock()
	select {
	case f.frameCh <- struct{}{}:
	default:
	}
}

func (f *fakeAudio) WaitForFrame(ctx context.Context) error {
	select {
	case <-f.frameCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeAudio) TryConsumeFrame() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pendingFrames == 0 {
		return false
	}
	f.pendingFrames--
	f.windowBytes += f.frameSize
	return true
}

func (f *fakeAudio) DrainIntoWindow() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windowBytes += f.pendingFrames * f.frameSize
	f.pendingFrames = 0
}

func (f *fakeAudio) ByteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.windowBytes
}

func (f *fakeAudio) Snapshot() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return make([]byte, f.windowBytes)
}

func (f *fakeAudio) ClearSession() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windowBytes = 0
	f.pendingFrames = 0
	f.clearedCount++
}

func (f *fakeAudio) SecondsSinceLastVoice() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return time.Since(f.lastVoice).Seconds()
}

func (f *fakeAudio) markSilentSince(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastVoice = time.Now().Add(-d)
}

// scriptedWorker returns canned texts in order, one per Transcribe call,
// repeating the last entry once exhausted.
type scriptedWorker struct {
	mu     sync.Mutex
	texts  []string
	idx    int
	busy   bool
	callCt int
}

func (w *scriptedWorker) Busy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.busy
}

func (w *scriptedWorker) Transcribe(pcm []byte) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callCt++
	if len(w.texts) == 0 {
		return ""
	}
	i := w.idx
	if i >= len(w.texts) {
		i = len(w.texts) - 1
	} else {
		w.idx++
	}
	return w.texts[i]
}

func testConfig() Config {
	return Config{
		SilenceMs:           150,
		InferenceIntervalMs: 1,
		MinInferFrames:      1,
		MaxSegmentFrames:    1000,
		StaleSilenceS:       3,
		TagHoldS:            1,
		FrameSize:           1,
	}
}

func collectEvents(t *testing.T, s *Segmenter, n int, timeout time.Duration) []Event {
	t.Helper()
	var got []Event
	deadline := time.After(timeout)
	for len(got) < n {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for %d events, got %d: %+v", n, len(got), got)
		}
	}
	return got
}

func TestBasicCommitOnSilence(t *testing.T) {
	audio := newFakeAudio(1)
	worker := &scriptedWorker{texts: []string{"hello there friend"}}
	s := New(audio, worker, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	audio.pushFrame()
	events := collectEvents(t, s, 1, time.Second)
	require.Equal(t, "hello there friend", events[0].Text)
	require.False(t, events[0].Final)

	final := collectEvents(t, s, 1, time.Second)
	require.True(t, final[0].Final)
	require.Equal(t, "hello there friend", final[0].Text)
}

func TestThrottleLimitsInferenceRate(t *testing.T) {
	audio := newFakeAudio(1)
	worker := &scriptedWorker{texts: []string{"one", "two", "three"}}
	cfg := testConfig()
	cfg.InferenceIntervalMs = 500
	cfg.SilenceMs = 100000
	s := New(audio, worker, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	for i := 0; i < 5; i++ {
		audio.pushFrame()
	}
	time.Sleep(100 * time.Millisecond)

	worker.mu.Lock()
	calls := worker.callCt
	worker.mu.Unlock()
	require.LessOrEqual(t, calls, 1, "throttle should prevent more than one inference within the interval")
}

func TestLengthSafetyForcesFinal(t *testing.T) {
	audio := newFakeAudio(10)
	worker := &scriptedWorker{texts: []string{"a very long running segment of speech"}}
	cfg := testConfig()
	cfg.MaxSegmentFrames = 1
	cfg.SilenceMs = 100000
	s := New(audio, worker, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	audio.pushFrame()
	events := collectEvents(t, s, 1, time.Second)
	require.True(t, events[0].Final, "byte_count >= max_segment_frames*frame_size should force an immediate final")
}

func TestHallucinationDropCommitsOldStartsNew(t *testing.T) {
	audio := newFakeAudio(1)
	worker := &scriptedWorker{texts: []string{
		"the quick brown fox jumps",
		"yes",
	}}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	cfg := testConfig()
	cfg.SilenceMs = 100000
	cfg.Metrics = m
	s := New(audio, worker, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	audio.pushFrame()
	first := collectEvents(t, s, 1, time.Second)
	require.Equal(t, "the quick brown fox jumps", first[0].Text)
	require.False(t, first[0].Final)

	// Wait out the inference interval so the second frame is not throttled.
	time.Sleep(10 * time.Millisecond)
	audio.pushFrame()
	next := collectEvents(t, s, 2, time.Second)
	require.True(t, next[0].Final)
	require.Equal(t, "the quick brown fox jumps", next[0].Text)
	require.False(t, next[1].Final)
	require.Equal(t, "yes", next[1].Text)

	require.Equal(t, float64(1), counterValue(t, m.HallucinationCommits))
}

func TestPureTagSurfacesOnceHoldExpires(t *testing.T) {
	audio := newFakeAudio(1)
	worker := &scriptedWorker{texts: []string{"[music]"}}
	cfg := testConfig()
	cfg.TagHoldS = 1
	s := New(audio, worker, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	// The first tag output starts the streak and is held back; a tag output
	// arriving after tag_hold_s has elapsed is emitted.
	audio.pushFrame()
	time.Sleep(1100 * time.Millisecond)
	audio.pushFrame()
	events := collectEvents(t, s, 1, time.Second)
	require.Equal(t, "[music]", events[0].Text, "a tag held past tag_hold_s surfaces as-is, unstripped")
}

func TestPureTagSuppressedBeforeHoldExpires(t *testing.T) {
	audio := newFakeAudio(1)
	worker := &scriptedWorker{texts: []string{"[music]"}}
	cfg := testConfig()
	cfg.TagHoldS = 10
	cfg.SilenceMs = 100000
	s := New(audio, worker, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	audio.pushFrame()
	time.Sleep(50 * time.Millisecond)

	select {
	case ev := <-s.Events():
		t.Fatalf("pure tag should be suppressed while within tag_hold_s, got %+v", ev)
	default:
	}
}

func TestSilenceHallucinationThankYouDropped(t *testing.T) {
	audio := newFakeAudio(1)
	worker := &scriptedWorker{texts: []string{"Thank you."}}
	s := New(audio, worker, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	audio.pushFrame()
	time.Sleep(200 * time.Millisecond)

	select {
	case ev := <-s.Events():
		t.Fatalf("'Thank you.' should be dropped as a silence hallucination, got %+v", ev)
	default:
	}
}

func TestBelowMinInferFramesNeverCallsWorker(t *testing.T) {
	audio := newFakeAudio(1)
	worker := &scriptedWorker{texts: []string{"should not appear"}}
	cfg := testConfig()
	cfg.MinInferFrames = 5
	s := New(audio, worker, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	audio.pushFrame()
	time.Sleep(50 * time.Millisecond)

	worker.mu.Lock()
	calls := worker.callCt
	worker.mu.Unlock()
	require.Equal(t, 0, calls)
}

func TestBusyWorkerDrainsIntoWindowInstead(t *testing.T) {
	audio := newFakeAudio(1)
	worker := &scriptedWorker{busy: true}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	cfg := testConfig()
	cfg.Metrics = m
	s := New(audio, worker, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	audio.pushFrame()
	time.Sleep(50 * time.Millisecond)

	require.Equal(t, 0, audio.pendingFrames, "busy path should drain pending frames into the window")
	require.Equal(t, 1, audio.ByteCount())
	require.Greater(t, counterValue(t, m.WindowPressureDrops), float64(0))
}

func TestInferenceIsObservedInMetrics(t *testing.T) {
	audio := newFakeAudio(1)
	worker := &scriptedWorker{texts: []string{"hello there friend"}}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	cfg := testConfig()
	cfg.Metrics = m
	s := New(audio, worker, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	audio.pushFrame()
	collectEvents(t, s, 1, time.Second)

	require.Equal(t, float64(1), counterValue(t, m.InferenceTotal))
}

func TestStripTagsRemovesBracketsParensAndMusicGlyph(t *testing.T) {
	got := stripTags("hello [noise] world (laughs) ♪ again")
	require.Equal(t, "hello  world  again", strings.Join(strings.Fields(got), "  "))
}

func TestReset(t *testing.T) {
	audio := newFakeAudio(1)
	worker := &scriptedWorker{}
	s := New(audio, worker, testConfig())
	s.lastPartial = "in flight"
	s.committed = false

	s.Reset()

	require.Equal(t, "", s.lastPartial)
	require.True(t, s.committed)
	require.Equal(t, 1, audio.clearedCount)
}
