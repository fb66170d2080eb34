// Package metrics exposes the pipeline's Prometheus counters and gauges.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "livecaption"

// Metrics bundles every counter/gauge the pipeline updates. A nil
// *Metrics is safe to call methods on (they become no-ops), so components
// that are constructed without one (tests, headless tooling) don't need a
// separate code path.
type Metrics struct {
	FramesDropped           prometheus.Counter
	WindowPressureDrops     prometheus.Counter
	InferenceTotal          prometheus.Counter
	InferenceDuration       prometheus.Histogram
	HallucinationCommits    prometheus.Counter
	SegmentsFinalized       prometheus.Counter
	AudioLevel              prometheus.Gauge
	BufferedSeconds         prometheus.Gauge
	STTWorkerBusyRejections prometheus.Counter
}

// New registers the pipeline's metrics against reg and returns the bundle.
// Pass prometheus.DefaultRegisterer for process-wide collection, or a
// fresh prometheus.NewRegistry() in tests to avoid collisions between
// parallel test runs.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Audio frames dropped because the rolling buffer was at capacity.",
		}),
		WindowPressureDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "window_pressure_drops_total",
			Help:      "Times queued frames were drained into the session window because the STT worker was busy.",
		}),
		InferenceTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_total",
			Help:      "Total number of transcription calls issued to the STT worker.",
		}),
		InferenceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Wall-clock duration of individual transcription calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		HallucinationCommits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hallucination_commits_total",
			Help:      "Partials committed early because a later transcription looked like a hallucinated restart.",
		}),
		SegmentsFinalized: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_finalized_total",
			Help:      "Segments finalized, whether by silence, hallucination drop, or the length safety valve.",
		}),
		AudioLevel: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audio_level",
			Help:      "Most recent peak-amplitude reading in [0, 1].",
		}),
		BufferedSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffered_seconds",
			Help:      "Seconds of audio currently held in the rolling buffer.",
		}),
		STTWorkerBusyRejections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_worker_busy_rejections_total",
			Help:      "Transcription attempts skipped because the single-flight STT worker was already busy.",
		}),
	}
}

// FramesDroppedInc increments the frames-dropped counter. Safe on a nil
// *Metrics.
func (m *Metrics) FramesDroppedInc() {
	if m == nil {
		return
	}
	m.FramesDropped.Inc()
}

// WindowPressureDropsInc increments the window-pressure-drop counter. Safe
// on a nil *Metrics.
func (m *Metrics) WindowPressureDropsInc() {
	if m == nil {
		return
	}
	m.WindowPressureDrops.Inc()
}

// ObserveInference records one completed transcription call.
func (m *Metrics) ObserveInference(seconds float64) {
	if m == nil {
		return
	}
	m.InferenceTotal.Inc()
	m.InferenceDuration.Observe(seconds)
}

// HallucinationCommitInc increments the hallucination-commit counter.
func (m *Metrics) HallucinationCommitInc() {
	if m == nil {
		return
	}
	m.HallucinationCommits.Inc()
}

// SegmentFinalizedInc increments the segment-finalized counter.
func (m *Metrics) SegmentFinalizedInc() {
	if m == nil {
		return
	}
	m.SegmentsFinalized.Inc()
}

// SetAudioLevel records the most recent peak-amplitude reading.
func (m *Metrics) SetAudioLevel(level float64) {
	if m == nil {
		return
	}
	m.AudioLevel.Set(level)
}

// SetBufferedSeconds records how much audio the rolling buffer currently
// holds.
func (m *Metrics) SetBufferedSeconds(seconds float64) {
	if m == nil {
		return
	}
	m.BufferedSeconds.Set(seconds)
}

// STTWorkerBusyRejectionInc increments the busy-rejection counter.
func (m *Metrics) STTWorkerBusyRejectionInc() {
	if m == nil {
		return
	}
	m.STTWorkerBusyRejections.Inc()
}
