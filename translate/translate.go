// Package translate provides the renderer's optional translation hook, with
// a Gemini-backed implementation grounded on MatchaCake-LiveSub's
// internal/translate/gemini.go, adapted to the opaque Translate(text)
// string signature the renderer's pre-filter hook calls into (no error
// return: failures fall back to the original text rather than propagating).
package translate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"google.golang.org/genai"
)

const fallbackDegradeWindow = 30 * time.Second

// GeminiTranslator translates text from SourceLang to TargetLang using the
// Gemini API, falling back to a secondary model on 429/503 and
// auto-recovering once the degrade window elapses.
type GeminiTranslator struct {
	client        *genai.Client
	model         string
	fallbackModel string
	sourceLang    string
	targetLang    string
	callTimeout   time.Duration

	degraded  atomic.Bool
	recoverAt atomic.Int64 // unix millis
}

// Config configures a GeminiTranslator.
type Config struct {
	APIKey        string
	Model         string
	FallbackModel string
	SourceLang    string
	TargetLang    string
	CallTimeout   time.Duration
}

func (c Config) setDefaults() Config {
	if c.Model == "" {
		c.Model = "gemini-2.5-flash"
	}
	if c.FallbackModel == "" {
		c.FallbackModel = "gemini-2.0-flash"
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 5 * time.Second
	}
	return c
}

// NewGeminiTranslator constructs a renderer.Translator backed by Gemini.
func NewGeminiTranslator(ctx context.Context, cfg Config) (*GeminiTranslator, error) {
	cfg = cfg.setDefaults()
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("invalid APIKey: should not be empty")
	}
	if cfg.SourceLang == "" || cfg.TargetLang == "" {
		return nil, fmt.Errorf("invalid SourceLang/TargetLang: should not be empty")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiTranslator{
		client:        client,
		model:         cfg.Model,
		fallbackModel: cfg.FallbackModel,
		sourceLang:    cfg.SourceLang,
		targetLang:    cfg.TargetLang,
		callTimeout:   cfg.CallTimeout,
	}, nil
}

// Translate implements renderer.Translator. On any failure it logs and
// returns text unchanged, since the renderer's hook is opaque and has no
// error channel of its own.
func (t *GeminiTranslator) Translate(text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.callTimeout)
	defer cancel()

	result, err := t.translate(ctx, text)
	if err != nil {
		slog.Error("gemini translate failed, passing text through untranslated",
			slog.String("err", err.Error()))
		return text
	}
	return result
}

func (t *GeminiTranslator) translate(ctx context.Context, text string) (string, error) {
	prompt := fmt.Sprintf(
		"Translate the following %s text to %s. "+
			"Output ONLY the translation, nothing else. "+
			"Keep it natural and concise (suitable for a live caption line). "+
			"For proper nouns and person names, output their romanization instead of translating them.\n\n%s",
		t.sourceLang, t.targetLang, text,
	)

	model := t.activeModel()
	resp, err := t.client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		if isRateLimited(err) {
			if !t.degraded.Load() {
				slog.Warn("gemini rate limited, falling back",
					slog.String("from", model), slog.String("to", t.fallbackModel))
			}
			t.degraded.Store(true)
			t.recoverAt.Store(time.Now().Add(fallbackDegradeWindow).UnixMilli())

			resp, err = t.client.Models.GenerateContent(ctx, t.fallbackModel, genai.Text(prompt), nil)
			if err != nil {
				return "", fmt.Errorf("gemini translate (fallback): %w", err)
			}
		} else {
			return "", fmt.Errorf("gemini translate: %w", err)
		}
	}

	return strings.TrimSpace(resp.Text()), nil
}

func isRateLimited(err error) bool {
	s := err.Error()
	return strings.Contains(s, "429") || strings.Contains(s, "503") ||
		strings.Contains(s, "RESOURCE_EXHAUSTED") || strings.Contains(s, "UNAVAILABLE")
}

// activeModel returns the current model, auto-recovering from degraded
// state once the recovery window has elapsed.
func (t *GeminiTranslator) activeModel() string {
	if t.degraded.Load() {
		if time.Now().UnixMilli() >= t.recoverAt.Load() {
			t.degraded.Store(false)
			slog.Info("gemini translate recovered from rate limit", slog.String("model", t.model))
			return t.model
		}
		return t.fallbackModel
	}
	return t.model
}

// Close releases the translator. The genai client has no explicit close.
func (t *GeminiTranslator) Close() {}
