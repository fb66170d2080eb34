// Package pipeline wires AudioBuffer, STTWorker, Segmenter and
// OutputRenderer into the single facade an owning application drives, per
// spec.md §4.5.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/loopcaption/livecaption/audiobuffer"
	"github.com/loopcaption/livecaption/audiosource"
	"github.com/loopcaption/livecaption/metrics"
	"github.com/loopcaption/livecaption/renderer"
	"github.com/loopcaption/livecaption/segmenter"
	"github.com/loopcaption/livecaption/sttengine"
)

// AudioSourceError wraps a failure to start audio capture. Per spec.md §7
// it is reported to the UI synchronously and the pipeline remains stopped.
type AudioSourceError struct {
	Err error
}

func (e *AudioSourceError) Error() string {
	return fmt.Sprintf("audio source error: %s", e.Err)
}

func (e *AudioSourceError) Unwrap() error { return e.Err }

// Options configures a Pipeline. Zero-valued sub-configs take their
// package's own defaults.
type Options struct {
	AudioBuffer audiobuffer.Config
	Segmenter   segmenter.Config
	Renderer    renderer.Config

	ModelPath string
	Language  string

	Metrics *metrics.Metrics

	// SetLine1, SetLine2 and SetLevel are the UI-facing outputs described
	// by spec.md §6. Any may be nil.
	SetLine1 func(string)
	SetLine2 func(string)
	SetLevel func(float32)

	// OnSegment receives the pre-renderer (text, final) stream, separately
	// from whatever the renderer does with the same events.
	OnSegment func(text string, final bool)
}

// Pipeline is the facade described by spec.md §4.5. Construct one with
// New, call Start, and Stop when the session ends; a Pipeline is not
// reusable after Stop.
type Pipeline struct {
	sessionID string
	modelPath string

	audioSource audiosource.AudioSource
	buffer      *audiobuffer.AudioBuffer
	worker      *sttengine.Worker
	seg         *segmenter.Segmenter
	rend        *renderer.Renderer
	metrics     *metrics.Metrics

	onSegment func(text string, final bool)
	setLevel  func(float32)

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewSource builds the audio source this pipeline should drive, wired to
// push decoded PCM and level readings into the pipeline's own buffer. The
// buffer doesn't exist until New runs, which is why the audio source is
// built from a constructor rather than passed in ready-made.
type NewSource func(onData audiosource.DataFunc, onLevel audiosource.LevelFunc) (audiosource.AudioSource, error)

// New constructs every pipeline component, including the audio source
// (via newSource, wired to the buffer's Push/ReportLevel), but does not
// start capture or the inference loop — call Start for that.
func New(newSource NewSource, engine sttengine.Engine, opts Options) (*Pipeline, error) {
	bufferCfg := opts.AudioBuffer
	bufferCfg.Metrics = opts.Metrics

	segmenterCfg := opts.Segmenter
	segmenterCfg.Metrics = opts.Metrics

	p := &Pipeline{
		sessionID: uuid.NewString(),
		modelPath: opts.ModelPath,
		buffer:    audiobuffer.New(bufferCfg),
		worker:    sttengine.NewWorker(engine, opts.Language, opts.Metrics),
		metrics:   opts.Metrics,
		onSegment: opts.OnSegment,
		setLevel:  opts.SetLevel,
	}

	src, err := newSource(p.buffer.Push, p.buffer.ReportLevel)
	if err != nil {
		return nil, &AudioSourceError{Err: err}
	}
	p.audioSource = src

	p.seg = segmenter.New(p.buffer, p.worker, segmenterCfg)
	p.rend = renderer.New(opts.Renderer, opts.SetLine1, opts.SetLine2)

	return p, nil
}

// SessionID identifies this pipeline instance for log correlation.
func (p *Pipeline) SessionID() string {
	return p.sessionID
}

// Levels exposes the buffer's level stream directly, for callers that want
// push-style level consumption instead of (or in addition to) the
// Options.SetLevel callback.
func (p *Pipeline) Levels(ctx context.Context) <-chan float32 {
	return p.buffer.Levels(ctx)
}

// Start initializes the STT model and begins audio capture and
// segmentation. A non-nil error is either an *AudioSourceError or a
// *sttengine.ModelError (via errors.As), both surfaced synchronously per
// spec.md §7; the pipeline is left stopped on failure.
func (p *Pipeline) Start(ctx context.Context) error {
	if err := p.worker.Initialize(p.modelPath); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)

	if err := p.audioSource.Start(runCtx); err != nil {
		cancel()
		return &AudioSourceError{Err: err}
	}

	g, gctx := errgroup.WithContext(runCtx)
	// Subscribe before Start returns so no level reported afterwards is missed.
	levels := p.buffer.Levels(gctx)
	g.Go(func() error { return p.seg.Run(gctx) })
	g.Go(func() error { return p.forwardEvents(gctx) })
	g.Go(func() error { return p.forwardLevels(levels) })

	p.mu.Lock()
	p.cancel = cancel
	p.group = g
	p.mu.Unlock()

	return nil
}

// forwardLevels fans the buffer's level stream out to the UI-facing
// set_level callback (spec.md §6); the data path itself already flows
// straight into buffer.Push via the DataFunc the caller configured on the
// audio source.
func (p *Pipeline) forwardLevels(levels <-chan float32) error {
	for level := range levels {
		p.metrics.SetAudioLevel(float64(level))
		if p.setLevel != nil {
			p.setLevel(level)
		}
	}
	return nil
}

func (p *Pipeline) forwardEvents(ctx context.Context) error {
	for {
		select {
		case ev, ok := <-p.seg.Events():
			if !ok {
				return nil
			}
			if ev.Final {
				p.metrics.SegmentFinalizedInc()
			}
			if p.onSegment != nil {
				p.onSegment(ev.Text, ev.Final)
			}
			p.rend.OnText(ev.Text, ev.Final)
		case <-ctx.Done():
			return nil
		}
	}
}

// Stop cancels the inference loop, waits for it to exit, and releases the
// audio source and STT worker. Safe to call once; a second call is a
// no-op.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	cancel := p.cancel
	group := p.group
	p.cancel = nil
	p.group = nil
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	var runErr error
	if group != nil {
		runErr = group.Wait()
	}

	if err := p.audioSource.Stop(); err != nil {
		slog.Error("pipeline: audio source stop failed", slog.String("err", err.Error()))
	}
	if err := p.worker.Destroy(); err != nil {
		slog.Error("pipeline: stt worker destroy failed", slog.String("err", err.Error()))
	}

	return runErr
}
