// Package azure adapts Azure Cognitive Services Speech to sttengine.Engine,
// grounded on the teacher's apis/azure/speech_recognizer.go and its
// WAV-wrapping of float32 PCM (wav.go).
package azure

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/Microsoft/cognitive-services-speech-sdk-go/audio"
	"github.com/Microsoft/cognitive-services-speech-sdk-go/common"
	"github.com/Microsoft/cognitive-services-speech-sdk-go/speech"

	"github.com/loopcaption/livecaption/sttengine"
)

const (
	audioSampleRate = 16000
	audioBitDepth   = 16
	audioChannels   = 1
)

// Config configures an Azure-backed Engine.
type Config struct {
	SpeechKey    string
	SpeechRegion string
	Language     string
	DataDir      string
}

func (c Config) validate() error {
	if c.SpeechKey == "" {
		return fmt.Errorf("invalid SpeechKey: should not be empty")
	}
	if c.SpeechRegion == "" {
		return fmt.Errorf("invalid SpeechRegion: should not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("invalid DataDir: should not be empty")
	}
	return nil
}

// Engine is an sttengine.Engine backed by Azure's continuous speech
// recognizer, run in one-shot mode per call (mirroring the teacher's
// batch-transcription Transcribe method rather than its streaming one,
// since the Worker already serializes calls one window at a time).
type Engine struct {
	cfg          Config
	speechConfig *speech.SpeechConfig
}

// NewEngine builds the long-lived SpeechConfig shared by every Transcribe call.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}

	speechConfig, err := speech.NewSpeechConfigFromSubscription(cfg.SpeechKey, cfg.SpeechRegion)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech config: %w", err)
	}
	if err := speechConfig.SetProperty(common.SpeechLogFilename, filepath.Join(cfg.DataDir, "azure.log")); err != nil {
		return nil, fmt.Errorf("failed to set log property: %w", err)
	}
	if cfg.Language != "" {
		if err := speechConfig.SetSpeechRecognitionLanguage(cfg.Language); err != nil {
			return nil, fmt.Errorf("failed to set recognition language: %w", err)
		}
	}

	return &Engine{cfg: cfg, speechConfig: speechConfig}, nil
}

func (e *Engine) initRecognizer() (*speech.SpeechRecognizer, *audio.AudioConfig, *audio.PushAudioInputStream, error) {
	stream, err := audio.CreatePushAudioInputStream()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create audio stream: %w", err)
	}

	audioConfig, err := audio.NewAudioConfigFromStreamInput(stream)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create audio config: %w", err)
	}

	recognizer, err := speech.NewSpeechRecognizerFromConfig(e.speechConfig, audioConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create speech recognizer: %w", err)
	}

	return recognizer, audioConfig, stream, nil
}

// Transcribe wraps pcm in a WAV container, feeds it through a short-lived
// recognizer session and waits for the recognized result or timeout.
func (e *Engine) Transcribe(ctx context.Context, pcm []byte) ([]sttengine.Segment, error) {
	samples := pcmToFloat32(pcm)
	inputDuration := time.Duration(float32(len(samples))/float32(audioSampleRate)) * time.Second

	recognizer, audioConfig, stream, err := e.initRecognizer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize recognizer: %w", err)
	}
	defer func() {
		stream.CloseStream()
		audioConfig.Close()
		recognizer.Close()
	}()

	resultsCh := make(chan speech.SpeechRecognitionResult, 1)
	errCh := make(chan error, 1)
	eosCh := make(chan struct{})

	recognizer.Recognized(func(event speech.SpeechRecognitionEventArgs) {
		defer event.Close()
		if event.Result.Reason == common.NoMatch || len(event.Result.Text) == 0 {
			return
		}
		resultsCh <- event.Result
	})
	recognizer.Canceled(func(event speech.SpeechRecognitionCanceledEventArgs) {
		defer event.Close()
		if event.Reason == common.EndOfStream {
			close(eosCh)
		} else if event.Reason == common.Error {
			errCh <- fmt.Errorf("%s", event.ErrorDetails)
		}
	})

	if err := <-recognizer.StartContinuousRecognitionAsync(); err != nil {
		return nil, fmt.Errorf("failed to start recognizer: %w", err)
	}
	defer func() {
		if err := <-recognizer.StopContinuousRecognitionAsync(); err != nil {
			slog.Error("failed to stop recognizer", slog.String("err", err.Error()))
		}
	}()

	if err := stream.Write(f32PCMToWAV(samples)); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}
	// Flushes any remaining audio data.
	stream.CloseStream()

	timeoutCh := time.After(max(inputDuration*2, 10*time.Second))

	var segments []sttengine.Segment
	for {
		select {
		case result := <-resultsCh:
			segments = append(segments, sttengine.Segment{Text: result.Text, Language: e.cfg.Language})
		case <-timeoutCh:
			return nil, fmt.Errorf("timed out waiting for transcription")
		case err := <-errCh:
			return nil, fmt.Errorf("transcription failed: %w", err)
		case <-eosCh:
			return segments, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Destroy releases the SpeechConfig.
func (e *Engine) Destroy() error {
	if e.speechConfig != nil {
		e.speechConfig.Close()
	}
	return nil
}

// f32PCMToWAV wraps float32 samples in a WAV (16-bit PCM, mono, 16kHz) container.
func f32PCMToWAV(samples []float32) []byte {
	const wavHeaderLen = 44
	wav := make([]byte, wavHeaderLen+len(samples)*2)
	pcm := wav[wavHeaderLen:]

	copy(wav[0:4], "RIFF")
	binary.LittleEndian.PutUint32(wav[4:], uint32(len(wav)-8))
	copy(wav[8:12], "WAVE")
	copy(wav[12:16], "fmt ")
	binary.LittleEndian.PutUint32(wav[16:], 16)
	binary.LittleEndian.PutUint16(wav[20:], 1)
	binary.LittleEndian.PutUint16(wav[22:], audioChannels)
	binary.LittleEndian.PutUint32(wav[24:], audioSampleRate)
	binary.LittleEndian.PutUint32(wav[28:], (audioSampleRate*audioBitDepth*audioChannels)/8)
	binary.LittleEndian.PutUint16(wav[32:], (audioBitDepth*audioChannels)/8)
	binary.LittleEndian.PutUint16(wav[34:], audioBitDepth)
	copy(wav[36:40], "data")
	binary.LittleEndian.PutUint32(wav[40:], uint32(len(samples)*2))

	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s*32768.0))
	}

	return wav
}

// pcmToFloat32 converts S16LE PCM to [-1, 1] float32 samples.
func pcmToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		samples[i] = float32(s) / 32768.0
	}
	return samples
}
