// Command livecaptiond is a minimal daemon that wires a WebRTC audio
// source and a whisper.cpp engine into the pipeline, printing live
// captions to stdout. It exists to exercise the library end to end; a
// real application would drive github.com/loopcaption/livecaption/pipeline
// directly and forward its callbacks into its own UI toolkit.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/loopcaption/livecaption/audiobuffer"
	"github.com/loopcaption/livecaption/audiosource"
	"github.com/loopcaption/livecaption/config"
	"github.com/loopcaption/livecaption/metrics"
	"github.com/loopcaption/livecaption/pipeline"
	"github.com/loopcaption/livecaption/renderer"
	"github.com/loopcaption/livecaption/segmenter"
	"github.com/loopcaption/livecaption/sttengine/whispercpp"
	"github.com/loopcaption/livecaption/vadfilter"
)

const startTimeout = 30 * time.Second

func slogReplaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.SourceKey {
		source := a.Value.Any().(*slog.Source)
		source.File = filepath.Base(source.File)
	}
	return a
}

func main() {
	dataDir, err := os.UserCacheDir()
	if err != nil {
		dataDir = os.TempDir()
	}
	dataDir = filepath.Join(dataDir, "livecaption")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		slog.Error("failed to create data dir", slog.String("err", err.Error()))
		os.Exit(1)
	}

	logFile, err := os.Create(filepath.Join(dataDir, "livecaptiond.log"))
	if err != nil {
		slog.Error("failed to create log file", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer logFile.Close()

	logWriter := io.MultiWriter(os.Stdout, logFile)
	logger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		AddSource:   true,
		Level:       slog.LevelInfo,
		ReplaceAttr: slogReplaceAttr,
	}))
	slog.SetDefault(logger)

	settingsPath, err := config.AppDataPath()
	if err != nil {
		slog.Error("failed to resolve settings path", slog.String("err", err.Error()))
		os.Exit(1)
	}
	cfg := config.LoadOrDefaults(settingsPath)
	if err := cfg.IsValid(); err != nil {
		slog.Error("invalid settings, check model_path", slog.String("err", err.Error()))
		os.Exit(1)
	}

	reg := metrics.New(nil)

	engine, err := whispercpp.NewEngine(whispercpp.Config{
		ModelFile:  cfg.ModelPath,
		NumThreads: cfg.NumThreads,
		Language:   cfg.Language,
	})
	if err != nil {
		slog.Error("failed to load whisper.cpp model", slog.String("err", err.Error()))
		os.Exit(1)
	}

	newSource := func(onData audiosource.DataFunc, onLevel audiosource.LevelFunc) (audiosource.AudioSource, error) {
		return audiosource.NewWebRTCTrackSource(onData, onLevel)
	}

	bufferCfg := audiobuffer.Config{}
	if cfg.VADModelPath != "" {
		detector, err := vadfilter.New(vadfilter.Config{
			ModelPath:  cfg.VADModelPath,
			SampleRate: audiobuffer.DefaultSampleRate,
		})
		if err != nil {
			slog.Warn("failed to load VAD model, continuing with level-threshold detection only",
				slog.String("err", err.Error()))
		} else {
			defer detector.Destroy()
			bufferCfg.VoiceDetector = detector
		}
	}

	p, err := pipeline.New(newSource, engine, pipeline.Options{
		AudioBuffer: bufferCfg,
		Segmenter:   segmenterConfigFrom(cfg),
		Renderer:    rendererConfigFrom(cfg),
		ModelPath:   cfg.ModelPath,
		Language:    cfg.Language,
		Metrics:     reg,
		SetLine1: func(s string) {
			fmt.Printf("\r\033[K%s\n", s)
		},
		SetLine2: func(s string) {
			fmt.Printf("\r\033[K%s", s)
		},
		OnSegment: func(text string, final bool) {
			logger.Debug("segment", slog.String("text", text), slog.Bool("final", final))
		},
	})
	if err != nil {
		slog.Error("failed to construct pipeline", slog.String("err", err.Error()))
		os.Exit(1)
	}

	slog.Info("starting livecaptiond", slog.String("sessionID", p.SessionID()))

	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	if err := p.Start(ctx); err != nil {
		cancel()
		slog.Error("failed to start pipeline", slog.String("err", err.Error()))
		os.Exit(1)
	}
	cancel()

	slog.Info("livecaptiond has started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	slog.Info("received shutdown signal, stopping")
	if err := p.Stop(); err != nil {
		slog.Error("failed to stop pipeline cleanly", slog.String("err", err.Error()))
		os.Exit(1)
	}

	slog.Info("livecaptiond has finished, exiting")
}

func segmenterConfigFrom(cfg config.Config) segmenter.Config {
	return segmenter.Config{
		SilenceMs:           cfg.SegmenterSilenceMs,
		InferenceIntervalMs: cfg.SegmenterInferenceIntervalMs,
	}
}

func rendererConfigFrom(cfg config.Config) renderer.Config {
	return renderer.Config{
		ShowAudioTags:   cfg.ShowAudioTags,
		FilterProfanity: cfg.FilterProfanity,
		CharsPerLine:    cfg.RendererCharsPerLine,
	}
}
