// Package sttengine wraps an external speech-to-text engine behind a
// single-flight, non-reentrant Worker.
package sttengine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/loopcaption/livecaption/metrics"
)

// Segment is one piece of recognized text, optionally tagged with the
// language the engine believes it was spoken in.
type Segment struct {
	Text     string
	Language string
}

// Engine is the capability an external STT backend exposes to the Worker.
// Implementations: whispercpp.Engine, azure.Engine.
type Engine interface {
	// Transcribe recognizes text from a buffer of S16LE PCM samples.
	Transcribe(ctx context.Context, pcm []byte) ([]Segment, error)
	Destroy() error
}

// Initializer is implemented by engines that need an explicit model load
// step before the first Transcribe call.
type Initializer interface {
	Initialize(modelRef string) error
}

// ModelError wraps a failure to load an STT model (missing or corrupt file).
type ModelError struct {
	ModelRef string
	Err      error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("stt model error (%s): %s", e.ModelRef, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// TranscribeError wraps a transient engine failure. Per spec, callers treat
// it as "produced empty text" and continue; it is never returned up the
// stack, only logged.
type TranscribeError struct {
	Err error
}

func (e *TranscribeError) Error() string {
	return fmt.Sprintf("stt transcribe error: %s", e.Err)
}

func (e *TranscribeError) Unwrap() error { return e.Err }

// Worker is a single-flight adapter over an Engine: at most one Transcribe
// call runs at a time. A caller that arrives while a transcription is in
// flight gets an empty string back immediately rather than waiting — this
// is why a plain sync.Mutex.TryLock is used instead of x/sync/singleflight,
// whose Do would instead block the second caller and hand it a shared
// result.
type Worker struct {
	engine   Engine
	language string
	metrics  *metrics.Metrics

	callMu sync.Mutex
	busy   atomic.Bool
}

// NewWorker wraps engine. language is the single configured output
// language: segments tagged with any other language are dropped. m may be
// nil, in which case busy-rejections simply aren't recorded.
func NewWorker(engine Engine, language string, m *metrics.Metrics) *Worker {
	return &Worker{engine: engine, language: language, metrics: m}
}

// Initialize loads the underlying model, if the engine requires an explicit
// load step. It is idempotent on success.
func (w *Worker) Initialize(modelRef string) error {
	init, ok := w.engine.(Initializer)
	if !ok {
		return nil
	}
	if err := init.Initialize(modelRef); err != nil {
		return &ModelError{ModelRef: modelRef, Err: err}
	}
	return nil
}

// Busy reports whether a transcription is currently in flight.
func (w *Worker) Busy() bool {
	return w.busy.Load()
}

// Transcribe recognizes text from pcm. If the worker is already busy it
// returns the empty string immediately without touching the engine.
// Otherwise it sets busy, calls the engine, concatenates the recognized
// segments (dropping any whose language tag doesn't match the configured
// language) and returns the trimmed result. Engine faults are logged and
// treated as empty text.
func (w *Worker) Transcribe(pcm []byte) string {
	if !w.callMu.TryLock() {
		w.metrics.STTWorkerBusyRejectionInc()
		return ""
	}
	w.busy.Store(true)
	defer func() {
		w.busy.Store(false)
		w.callMu.Unlock()
	}()

	segments, err := w.engine.Transcribe(context.Background(), pcm)
	if err != nil {
		slog.Error("stt transcribe failed, treating as empty result",
			slog.String("err", (&TranscribeError{Err: err}).Error()))
		return ""
	}

	var sb strings.Builder
	for _, seg := range segments {
		if seg.Language != "" && w.language != "" && !strings.EqualFold(seg.Language, w.language) {
			continue
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(text)
	}

	return strings.TrimSpace(sb.String())
}

// Destroy releases the underlying engine's resources.
func (w *Worker) Destroy() error {
	return w.engine.Destroy()
}
