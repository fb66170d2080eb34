package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loopcaption/livecaption/audiobuffer"
	"github.com/loopcaption/livecaption/audiosource"
	"github.com/loopcaption/livecaption/segmenter"
	"github.com/loopcaption/livecaption/sttengine"
)

type stubEngine struct {
	mu    sync.Mutex
	texts []string
	idx   int
}

func (e *stubEngine) Transcribe(ctx context.Context, pcm []byte) ([]sttengine.Segment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.texts) == 0 {
		return nil, nil
	}
	i := e.idx
	if i >= len(e.texts) {
		i = len(e.texts) - 1
	}
	e.idx++
	return []sttengine.Segment{{Text: e.texts[i]}}, nil
}

func (e *stubEngine) Destroy() error { return nil }

// channelNewSource builds a pipeline.NewSource backed by a ChannelSource,
// capturing it in *src so tests can drive it directly.
func channelNewSource(src **audiosource.ChannelSource) NewSource {
	return func(onData audiosource.DataFunc, onLevel audiosource.LevelFunc) (audiosource.AudioSource, error) {
		*src = audiosource.NewChannelSource(onData, onLevel)
		return *src, nil
	}
}

func failingNewSource(onData audiosource.DataFunc, onLevel audiosource.LevelFunc) (audiosource.AudioSource, error) {
	return nil, fmt.Errorf("device busy")
}

func testSegmenterConfig() segmenter.Config {
	return segmenter.Config{
		SilenceMs:           50,
		InferenceIntervalMs: 1,
		MinInferFrames:      1,
		MaxSegmentFrames:    1000,
		StaleSilenceS:       3,
		TagHoldS:            0,
		FrameSize:           1,
	}
}

func TestNewFailsWithAudioSourceError(t *testing.T) {
	opts := Options{Segmenter: testSegmenterConfig(), ModelPath: "/models/fake.bin", Language: "en"}

	_, err := New(failingNewSource, &stubEngine{}, opts)
	require.Error(t, err)

	var asErr *AudioSourceError
	require.ErrorAs(t, err, &asErr)
}

func TestStartForwardsSegmentsToOnSegmentAndRenderer(t *testing.T) {
	var mu sync.Mutex
	var segments []string
	var lines []string

	var src *audiosource.ChannelSource
	opts := Options{
		Segmenter: testSegmenterConfig(),
		ModelPath: "/models/fake.bin",
		Language:  "en",
		OnSegment: func(text string, final bool) {
			mu.Lock()
			segments = append(segments, text)
			mu.Unlock()
		},
		SetLine1: func(s string) {
			mu.Lock()
			lines = append(lines, s)
			mu.Unlock()
		},
	}

	engine := &stubEngine{texts: []string{"hello there"}}
	p, err := New(channelNewSource(&src), engine, opts)
	require.NoError(t, err)

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	// One full buffer frame, so the audio buffer signals a frame to the segmenter.
	src.Push(make([]byte, audiobuffer.FrameSize(audiobuffer.DefaultSampleRate)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(segments) > 0 && len(lines) > 0
	}, time.Second, 5*time.Millisecond)
}

func TestSetLevelReceivesReportedLevels(t *testing.T) {
	var mu sync.Mutex
	var levels []float32

	var src *audiosource.ChannelSource
	opts := Options{
		Segmenter: testSegmenterConfig(),
		ModelPath: "/models/fake.bin",
		Language:  "en",
		SetLevel: func(level float32) {
			mu.Lock()
			levels = append(levels, level)
			mu.Unlock()
		},
	}

	p, err := New(channelNewSource(&src), &stubEngine{}, opts)
	require.NoError(t, err)

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	src.PushLevel(0.42)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(levels) > 0
	}, time.Second, 5*time.Millisecond)
}

func TestStopIsIdempotent(t *testing.T) {
	var src *audiosource.ChannelSource
	opts := Options{Segmenter: testSegmenterConfig(), ModelPath: "/models/fake.bin", Language: "en"}
	p, err := New(channelNewSource(&src), &stubEngine{}, opts)
	require.NoError(t, err)

	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())
}

func TestStopWithoutStartIsNoOp(t *testing.T) {
	var src *audiosource.ChannelSource
	opts := Options{Segmenter: testSegmenterConfig(), ModelPath: "/models/fake.bin", Language: "en"}
	p, err := New(channelNewSource(&src), &stubEngine{}, opts)
	require.NoError(t, err)

	require.NoError(t, p.Stop())
}

func TestSessionIDIsUnique(t *testing.T) {
	var src1, src2 *audiosource.ChannelSource
	opts := Options{Segmenter: testSegmenterConfig(), ModelPath: "/models/fake.bin", Language: "en"}

	p1, err := New(channelNewSource(&src1), &stubEngine{}, opts)
	require.NoError(t, err)
	p2, err := New(channelNewSource(&src2), &stubEngine{}, opts)
	require.NoError(t, err)

	require.NotEqual(t, p1.SessionID(), p2.SessionID())
}
