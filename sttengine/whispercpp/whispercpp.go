// Package whispercpp adapts a whisper.cpp model to sttengine.Engine via cgo,
// grounded on the teacher's apis/whisper.cpp/context.go binding, generalized
// with the live-captions-tuned parameters (NoContext, AudioContext,
// SingleSegment) it used only ad hoc at the call site.
package whispercpp

// #cgo LDFLAGS: -l:libwhisper.a -lm -lstdc++
// #include <whisper.h>
// #include <stdlib.h>
import "C"

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"runtime"
	"unsafe"

	"github.com/loopcaption/livecaption/sttengine"
)

// Config configures a whisper.cpp-backed Engine tuned for short, single-shot
// live-caption inferences rather than batch transcription.
type Config struct {
	// ModelFile is the path to the GGML model to load.
	ModelFile string
	// NumThreads is the number of CPU threads whisper_full should use.
	NumThreads int
	// Language pins recognition to a single language (e.g. "en").
	Language string
	// AudioContext bounds how much audio context whisper keeps internally;
	// a bit more than 10s of samples is the teacher's live-captions value.
	AudioContext int
}

func (c Config) setDefaults() Config {
	if c.NumThreads == 0 {
		c.NumThreads = 2
	}
	if c.Language == "" {
		c.Language = "en"
	}
	if c.AudioContext == 0 {
		c.AudioContext = 512
	}
	return c
}

func (c Config) validate() error {
	if c.ModelFile == "" {
		return fmt.Errorf("invalid ModelFile: should not be empty")
	}
	if numCPU := runtime.NumCPU(); c.NumThreads < 1 || c.NumThreads > numCPU {
		return fmt.Errorf("invalid NumThreads: should be in the range [1, %d]", numCPU)
	}
	if _, err := os.Stat(c.ModelFile); err != nil {
		return fmt.Errorf("invalid ModelFile: failed to stat model file: %w", err)
	}
	return nil
}

// Engine is an sttengine.Engine backed by a whisper.cpp context.
type Engine struct {
	cfg Config
	ctx *C.struct_whisper_context
}

// NewEngine loads a GGML model file and returns a ready-to-use Engine.
func NewEngine(cfg Config) (*Engine, error) {
	cfg = cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}

	path := C.CString(cfg.ModelFile)
	defer C.free(unsafe.Pointer(path))

	ctx := C.whisper_init_from_file(path)
	if ctx == nil {
		return nil, fmt.Errorf("failed to load model file")
	}

	return &Engine{cfg: cfg, ctx: ctx}, nil
}

// Initialize satisfies sttengine.Initializer: whisper.cpp models are loaded
// eagerly in NewEngine, so this only re-validates the model path.
func (e *Engine) Initialize(modelRef string) error {
	if _, err := os.Stat(modelRef); err != nil {
		return fmt.Errorf("failed to stat model file: %w", err)
	}
	return nil
}

// Transcribe converts S16LE PCM to the float32 samples whisper.cpp expects
// and runs a single-segment, no-context inference suited to short live
// caption windows.
func (e *Engine) Transcribe(ctx context.Context, pcm []byte) ([]sttengine.Segment, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("pcm buffer should not be empty")
	}

	samples := pcmToFloat32(pcm)

	lang := C.CString(e.cfg.Language)
	defer C.free(unsafe.Pointer(lang))

	params := C.whisper_full_default_params(C.WHISPER_SAMPLING_GREEDY)
	params.no_context = C.bool(true)
	params.single_segment = C.bool(true)
	params.print_progress = C.bool(false)
	params.n_threads = C.int(e.cfg.NumThreads)
	params.audio_ctx = C.int(e.cfg.AudioContext)
	params.language = lang

	ret := C.whisper_full(e.ctx, params, (*C.float)(&samples[0]), C.int(len(samples)))
	if ret != 0 {
		return nil, fmt.Errorf("whisper_full failed with code %d", ret)
	}

	n := int(C.whisper_full_n_segments(e.ctx))
	segments := make([]sttengine.Segment, n)
	for i := 0; i < n; i++ {
		segments[i].Text = C.GoString(C.whisper_full_get_segment_text(e.ctx, C.int(i)))
		segments[i].Language = e.cfg.Language
	}

	return segments, nil
}

// Destroy releases the underlying whisper.cpp context.
func (e *Engine) Destroy() error {
	if e.ctx == nil {
		return fmt.Errorf("context is not initialized")
	}
	C.whisper_free(e.ctx)
	e.ctx = nil
	return nil
}

// pcmToFloat32 converts S16LE PCM samples to the [-1, 1] float32 samples
// whisper.cpp operates on.
func pcmToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		samples[i] = float32(s) / 32768.0
	}
	return samples
}
