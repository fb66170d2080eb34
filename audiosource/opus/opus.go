// Package opus wraps libopus decoding via cgo, grounded on the teacher's
// opus/opus.go binding. Only decoding is kept: this pipeline is
// receive-only (it consumes an inbound WebRTC Opus track), so the
// teacher's Encoder half has no caller here and was dropped rather than
// carried as dead code.
package opus

// #cgo linux LDFLAGS: -l:libopus.a -lm
// #cgo darwin LDFLAGS: -lopus
// #include <opus.h>
import "C"

import "fmt"

// Decoder decodes Opus packets to float32 PCM samples, optionally at a
// sample rate other than the stream's original encode rate — libopus
// supports decoding directly to 8/12/16/24/48 kHz, which is how this
// package produces 16 kHz samples straight from a 48 kHz WebRTC track
// without a separate resampling pass.
type Decoder struct {
	dec      *C.OpusDecoder
	rate     int
	channels int
}

// NewDecoder creates a decoder targeting rate/channels.
func NewDecoder(rate, channels int) (*Decoder, error) {
	var d Decoder
	var errCode C.int

	d.dec = C.opus_decoder_create(C.int(rate), C.int(channels), &errCode)
	d.rate = rate
	d.channels = channels

	if errCode != 0 {
		return nil, fmt.Errorf("failed to create opus decoder: %d", errCode)
	}

	return &d, nil
}

// Decode decodes one Opus packet into samples, returning the number of
// samples written per channel.
func (d *Decoder) Decode(data []byte, samples []float32) (int, error) {
	if d.dec == nil {
		return 0, fmt.Errorf("decoder is not initialized")
	}
	if len(data) == 0 {
		return 0, fmt.Errorf("data should not be empty")
	}
	if len(samples) == 0 {
		return 0, fmt.Errorf("samples should not be empty")
	}
	if cap(samples)%d.channels != 0 {
		return 0, fmt.Errorf("invalid samples capacity")
	}

	ret := int(C.opus_decode_float(d.dec, (*C.uchar)(&data[0]), C.int(len(data)),
		(*C.float)(&samples[0]), C.int(cap(samples)/d.channels), 0))
	if ret < 0 {
		return 0, fmt.Errorf("decode failed with code %d", ret)
	}

	return ret, nil
}

// Destroy releases the underlying decoder.
func (d *Decoder) Destroy() error {
	if d.dec == nil {
		return fmt.Errorf("decoder is not initialized")
	}
	C.opus_decoder_destroy(d.dec)
	d.dec = nil
	return nil
}
