// WebRTC track ingestion, grounded on the teacher's handling of inbound
// voice tracks in call/tracks.go: read RTP off a remote track in a tight
// loop, decode Opus, and hand PCM downstream — generalized here from a
// Mattermost call's per-participant track to a single local audio source
// fed by a WebRTC PeerConnection's one audio track ("OS loopback" stand-in).
package audiosource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/loopcaption/livecaption/audiosource/opus"
)

const (
	webrtcOpusSampleRate = 48000
	outSampleRate        = 16000
	audioChannels        = 1
	maxOpusFrameSamples  = 5760 // 120ms at 48kHz, libopus's largest frame
)

// WebRTCTrackSource reads a single remote Opus audio track from a
// PeerConnection and emits decoded 16 kHz mono PCM.
type WebRTCTrackSource struct {
	onData  DataFunc
	onLevel LevelFunc

	pc     *webrtc.PeerConnection
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWebRTCTrackSource builds a PeerConnection configured to receive one
// audio track, using pion's default interceptor registry (NACK, RTCP
// reports and the other pion defaults) the way a typical pion application
// wires one up.
func NewWebRTCTrackSource(onData DataFunc, onLevel LevelFunc) (*WebRTCTrackSource, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register default codecs: %w", err)
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("failed to register default interceptors: %w", err)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i))

	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio); err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to add audio transceiver: %w", err)
	}

	src := &WebRTCTrackSource{onData: onData, onLevel: onLevel, pc: pc, done: make(chan struct{})}

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if track.Codec().MimeType != webrtc.MimeTypeOpus {
			slog.Warn("audiosource: ignoring unsupported codec for track", slog.String("mimeType", track.Codec().MimeType))
			return
		}
		go src.readTrack(track)
	})

	return src, nil
}

// PeerConnection exposes the underlying connection so the owning
// application can complete signaling (SDP offer/answer exchange).
func (s *WebRTCTrackSource) PeerConnection() *webrtc.PeerConnection {
	return s.pc
}

// Start is a no-op beyond recording the cancellation context: track
// processing begins as soon as OnTrack fires, which depends on signaling
// completed by the owning application.
func (s *WebRTCTrackSource) Start(ctx context.Context) error {
	_, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	return nil
}

// Stop tears down the peer connection, which ends any in-flight track
// reads.
func (s *WebRTCTrackSource) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.pc.Close()
}

// lostPacketCount returns how many RTP sequence numbers were skipped between
// the previous packet and hdr, per RFC 3550's unsigned 16-bit wraparound
// arithmetic. Returns 0 before a first packet has been seen.
func lostPacketCount(hdr rtp.Header, lastSeq uint16, haveLastSeq bool) uint16 {
	if !haveLastSeq {
		return 0
	}
	return hdr.SequenceNumber - lastSeq - 1
}

func (s *WebRTCTrackSource) readTrack(track *webrtc.TrackRemote) {
	dec, err := opus.NewDecoder(outSampleRate, audioChannels)
	if err != nil {
		slog.Error("audiosource: failed to create opus decoder", slog.String("err", err.Error()))
		return
	}
	defer func() {
		if err := dec.Destroy(); err != nil {
			slog.Error("audiosource: failed to destroy opus decoder", slog.String("err", err.Error()))
		}
	}()

	samples := make([]float32, maxOpusFrameSamples*audioChannels)

	var lastSeq uint16
	haveLastSeq := false

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Error("audiosource: failed to read RTP packet", slog.String("err", err.Error()))
			}
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}

		if lost := lostPacketCount(pkt.Header, lastSeq, haveLastSeq); lost > 0 {
			slog.Warn("audiosource: dropped RTP packets",
				slog.Uint64("count", uint64(lost)), slog.Uint64("ssrc", uint64(pkt.Header.SSRC)))
		}
		lastSeq = pkt.Header.SequenceNumber
		haveLastSeq = true

		n, err := dec.Decode(pkt.Payload, samples)
		if err != nil {
			slog.Error("audiosource: opus decode failed", slog.String("err", err.Error()))
			continue
		}

		frame := samples[:n]
		if s.onLevel != nil {
			s.onLevel(peakLevel(frame))
		}
		if s.onData != nil {
			s.onData(float32ToPCM(frame))
		}
	}
}
