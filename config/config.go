// Package config holds the pipeline's persisted and environment-derived
// settings, following the teacher's SetDefaults/IsValid/ToEnv/FromEnv/
// ToMap/FromMap convention from cmd/transcriber/config/config.go.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
)

const (
	NumThreadsDefault                   = 2
	SegmenterSilenceMsDefault           = 800
	SegmenterInferenceIntervalMsDefault = 300
	RendererCharsPerLineDefault         = 48
	LanguageDefault                     = "en"
)

// TranscribeAPI selects which STT engine adapter backs the pipeline.
type TranscribeAPI string

const (
	TranscribeAPIWhisperCPP TranscribeAPI = "whisper.cpp"
	TranscribeAPIAzure      TranscribeAPI = "azure"
)

func (a TranscribeAPI) IsValid() bool {
	switch a {
	case TranscribeAPIWhisperCPP, TranscribeAPIAzure:
		return true
	default:
		return false
	}
}

// CaptionStyle is a UI-only display preset; the pipeline passes it through
// unexamined.
type CaptionStyle string

const (
	CaptionStyleDefaultStyle CaptionStyle = "Default"
	CaptionStyleWhiteOnBlack CaptionStyle = "WhiteOnBlack"
	CaptionStyleSmallCaps    CaptionStyle = "SmallCaps"
	CaptionStyleLargeText    CaptionStyle = "LargeText"
	CaptionStyleYellowOnBlue CaptionStyle = "YellowOnBlue"
)

func (c CaptionStyle) IsValid() bool {
	switch c {
	case CaptionStyleDefaultStyle, CaptionStyleWhiteOnBlack, CaptionStyleSmallCaps, CaptionStyleLargeText, CaptionStyleYellowOnBlue:
		return true
	default:
		return false
	}
}

// WindowPosition is one of the 8 anchor positions for the caption window;
// UI-only.
type WindowPosition string

const (
	WindowPositionTopLeft      WindowPosition = "TopLeft"
	WindowPositionTopCenter    WindowPosition = "TopCenter"
	WindowPositionTopRight     WindowPosition = "TopRight"
	WindowPositionMiddleLeft   WindowPosition = "MiddleLeft"
	WindowPositionMiddleRight  WindowPosition = "MiddleRight"
	WindowPositionBottomLeft   WindowPosition = "BottomLeft"
	WindowPositionBottomCenter WindowPosition = "BottomCenter"
	WindowPositionBottomRight  WindowPosition = "BottomRight"
)

func (p WindowPosition) IsValid() bool {
	switch p {
	case WindowPositionTopLeft, WindowPositionTopCenter, WindowPositionTopRight,
		WindowPositionMiddleLeft, WindowPositionMiddleRight,
		WindowPositionBottomLeft, WindowPositionBottomCenter, WindowPositionBottomRight:
		return true
	default:
		return false
	}
}

// WindowGeometry is the optional persisted window placement.
type WindowGeometry struct {
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
	X      int `json:"x,omitempty"`
	Y      int `json:"y,omitempty"`
}

// Config is the pipeline's full set of tunables and UI preferences, per
// spec.md §6's enumerated configuration.
type Config struct {
	IncludeMicrophone bool           `json:"include_microphone"`
	FilterProfanity   bool           `json:"filter_profanity"`
	ShowAudioTags     bool           `json:"show_audio_tags"`
	CaptionStyle      CaptionStyle   `json:"caption_style"`
	WindowPosition    WindowPosition `json:"window_position"`
	Geometry          WindowGeometry `json:"geometry"`

	TranscribeAPI TranscribeAPI `json:"transcribe_api"`
	ModelPath     string        `json:"model_path"`
	VADModelPath  string        `json:"vad_model_path"`
	Language      string        `json:"language"`
	NumThreads    int           `json:"num_threads"`

	SegmenterSilenceMs           int `json:"segmenter_silence_ms"`
	SegmenterInferenceIntervalMs int `json:"segmenter_inference_interval_ms"`
	RendererCharsPerLine         int `json:"renderer_chars_per_line"`
}

// SetDefaults fills unset fields with the documented defaults.
func (cfg *Config) SetDefaults() {
	if cfg.TranscribeAPI == "" {
		cfg.TranscribeAPI = TranscribeAPIWhisperCPP
	}
	if cfg.Language == "" {
		cfg.Language = LanguageDefault
	}
	if cfg.NumThreads == 0 {
		cfg.NumThreads = NumThreadsDefault
	}
	if cfg.CaptionStyle == "" {
		cfg.CaptionStyle = CaptionStyleDefaultStyle
	}
	if cfg.WindowPosition == "" {
		cfg.WindowPosition = WindowPositionBottomCenter
	}
	if cfg.SegmenterSilenceMs == 0 {
		cfg.SegmenterSilenceMs = SegmenterSilenceMsDefault
	}
	if cfg.SegmenterInferenceIntervalMs == 0 {
		cfg.SegmenterInferenceIntervalMs = SegmenterInferenceIntervalMsDefault
	}
	if cfg.RendererCharsPerLine == 0 {
		cfg.RendererCharsPerLine = RendererCharsPerLineDefault
	}
}

// IsValid reports whether cfg's enumerated fields hold recognized values.
func (cfg Config) IsValid() error {
	if !cfg.TranscribeAPI.IsValid() {
		return fmt.Errorf("TranscribeAPI value is not valid")
	}
	if !cfg.CaptionStyle.IsValid() {
		return fmt.Errorf("CaptionStyle value is not valid")
	}
	if !cfg.WindowPosition.IsValid() {
		return fmt.Errorf("WindowPosition value is not valid")
	}
	if cfg.TranscribeAPI == TranscribeAPIWhisperCPP && cfg.ModelPath == "" {
		return fmt.Errorf("ModelPath cannot be empty when TranscribeAPI is %q", TranscribeAPIWhisperCPP)
	}
	if cfg.SegmenterSilenceMs < 0 {
		return fmt.Errorf("SegmenterSilenceMs cannot be negative")
	}
	if cfg.SegmenterInferenceIntervalMs < 0 {
		return fmt.Errorf("SegmenterInferenceIntervalMs cannot be negative")
	}
	return nil
}

// ToEnv renders cfg as NAME=value pairs, mirroring the teacher's ToEnv.
func (cfg Config) ToEnv() []string {
	return []string{
		fmt.Sprintf("INCLUDE_MICROPHONE=%t", cfg.IncludeMicrophone),
		fmt.Sprintf("FILTER_PROFANITY=%t", cfg.FilterProfanity),
		fmt.Sprintf("SHOW_AUDIO_TAGS=%t", cfg.ShowAudioTags),
		fmt.Sprintf("CAPTION_STYLE=%s", cfg.CaptionStyle),
		fmt.Sprintf("WINDOW_POSITION=%s", cfg.WindowPosition),
		fmt.Sprintf("TRANSCRIBE_API=%s", cfg.TranscribeAPI),
		fmt.Sprintf("MODEL_PATH=%s", cfg.ModelPath),
		fmt.Sprintf("VAD_MODEL_PATH=%s", cfg.VADModelPath),
		fmt.Sprintf("LANGUAGE=%s", cfg.Language),
		fmt.Sprintf("NUM_THREADS=%d", cfg.NumThreads),
		fmt.Sprintf("SEGMENTER_SILENCE_MS=%d", cfg.SegmenterSilenceMs),
		fmt.Sprintf("SEGMENTER_INFERENCE_INTERVAL_MS=%d", cfg.SegmenterInferenceIntervalMs),
		fmt.Sprintf("RENDERER_CHARS_PER_LINE=%d", cfg.RendererCharsPerLine),
	}
}

// FromEnv builds a Config from the process environment.
func FromEnv() Config {
	var cfg Config
	cfg.IncludeMicrophone, _ = strconv.ParseBool(os.Getenv("INCLUDE_MICROPHONE"))
	cfg.FilterProfanity, _ = strconv.ParseBool(os.Getenv("FILTER_PROFANITY"))
	cfg.ShowAudioTags, _ = strconv.ParseBool(os.Getenv("SHOW_AUDIO_TAGS"))
	cfg.CaptionStyle = CaptionStyle(os.Getenv("CAPTION_STYLE"))
	cfg.WindowPosition = WindowPosition(os.Getenv("WINDOW_POSITION"))
	cfg.TranscribeAPI = TranscribeAPI(os.Getenv("TRANSCRIBE_API"))
	cfg.ModelPath = os.Getenv("MODEL_PATH")
	cfg.VADModelPath = os.Getenv("VAD_MODEL_PATH")
	cfg.Language = os.Getenv("LANGUAGE")
	cfg.NumThreads, _ = strconv.Atoi(os.Getenv("NUM_THREADS"))
	cfg.SegmenterSilenceMs, _ = strconv.Atoi(os.Getenv("SEGMENTER_SILENCE_MS"))
	cfg.SegmenterInferenceIntervalMs, _ = strconv.Atoi(os.Getenv("SEGMENTER_INFERENCE_INTERVAL_MS"))
	cfg.RendererCharsPerLine, _ = strconv.Atoi(os.Getenv("RENDERER_CHARS_PER_LINE"))
	return cfg
}

// ToMap renders cfg as the JSON-friendly map used by ToMap/FromMap-style
// settings persistence.
func (cfg Config) ToMap() map[string]any {
	return map[string]any{
		"include_microphone":              cfg.IncludeMicrophone,
		"filter_profanity":                cfg.FilterProfanity,
		"show_audio_tags":                 cfg.ShowAudioTags,
		"caption_style":                   string(cfg.CaptionStyle),
		"window_position":                 string(cfg.WindowPosition),
		"transcribe_api":                  string(cfg.TranscribeAPI),
		"model_path":                      cfg.ModelPath,
		"vad_model_path":                  cfg.VADModelPath,
		"language":                        cfg.Language,
		"num_threads":                     cfg.NumThreads,
		"segmenter_silence_ms":            cfg.SegmenterSilenceMs,
		"segmenter_inference_interval_ms": cfg.SegmenterInferenceIntervalMs,
		"renderer_chars_per_line":         cfg.RendererCharsPerLine,
		"width":                           cfg.Geometry.Width,
		"height":                          cfg.Geometry.Height,
		"x":                               cfg.Geometry.X,
		"y":                               cfg.Geometry.Y,
	}
}

// FromMap populates cfg from a map decoded from JSON (where numbers arrive
// as float64). Unknown keys are ignored; missing keys leave the
// corresponding field at its zero value for a later SetDefaults call.
func (cfg *Config) FromMap(m map[string]any) {
	cfg.IncludeMicrophone, _ = m["include_microphone"].(bool)
	cfg.FilterProfanity, _ = m["filter_profanity"].(bool)
	cfg.ShowAudioTags, _ = m["show_audio_tags"].(bool)
	if v, ok := m["caption_style"].(string); ok {
		cfg.CaptionStyle = CaptionStyle(v)
	}
	if v, ok := m["window_position"].(string); ok {
		cfg.WindowPosition = WindowPosition(v)
	}
	if v, ok := m["transcribe_api"].(string); ok {
		cfg.TranscribeAPI = TranscribeAPI(v)
	}
	if v, ok := m["model_path"].(string); ok {
		cfg.ModelPath = v
	}
	if v, ok := m["vad_model_path"].(string); ok {
		cfg.VADModelPath = v
	}
	if v, ok := m["language"].(string); ok {
		cfg.Language = v
	}
	cfg.NumThreads = intFromAny(m["num_threads"])
	cfg.SegmenterSilenceMs = intFromAny(m["segmenter_silence_ms"])
	cfg.SegmenterInferenceIntervalMs = intFromAny(m["segmenter_inference_interval_ms"])
	cfg.RendererCharsPerLine = intFromAny(m["renderer_chars_per_line"])
	cfg.Geometry.Width = intFromAny(m["width"])
	cfg.Geometry.Height = intFromAny(m["height"])
	cfg.Geometry.X = intFromAny(m["x"])
	cfg.Geometry.Y = intFromAny(m["y"])
}

// intFromAny handles the int-or-float64 ambiguity JSON decoding introduces,
// the same way the teacher's FromMap does for its numeric fields.
func intFromAny(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

// AppDataPath returns the path to this application's settings file inside
// the platform's per-user app-data directory.
func AppDataPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve user config dir: %w", err)
	}
	return filepath.Join(dir, "livecaption", "settings.json"), nil
}

// Load reads and parses the settings file at path. A missing file yields a
// zero-value Config (not an error); the caller is expected to follow with
// SetDefaults. A present-but-unreadable/corrupt file is a ConfigError.
func Load(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, &ConfigError{Path: path, Err: err}
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return cfg, &ConfigError{Path: path, Err: err}
	}
	cfg.FromMap(m)

	return cfg, nil
}

// Save writes cfg to path as JSON, creating parent directories as needed.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg.ToMap(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}

	return nil
}

// ConfigError wraps a failure to read or parse the settings file. Per
// spec.md §7, this is logged and defaults are applied rather than
// propagated as a fatal error.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error (%s): %s", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// LoadOrDefaults loads path, logging and falling back to defaults on any
// ConfigError.
func LoadOrDefaults(path string) Config {
	cfg, err := Load(path)
	if err != nil {
		slog.Error("failed to load settings, applying defaults", slog.String("err", err.Error()))
		cfg = Config{}
	}
	cfg.SetDefaults()
	return cfg
}
