package audiosource

import (
	"context"
	"encoding/binary"
	"os"
	"time"
)

// FileSource replays a raw S16LE 16kHz mono PCM file as if it were live
// audio, chunked at a fixed interval. Useful for headless daemons and
// integration tests that don't have a real capture device.
type FileSource struct {
	path      string
	chunkSize int
	interval  time.Duration
	onData    DataFunc
	onLevel   LevelFunc

	stopCh chan struct{}
}

// NewFileSource reads path in chunkSize-byte chunks, emitted every
// interval.
func NewFileSource(path string, chunkSize int, interval time.Duration, onData DataFunc, onLevel LevelFunc) *FileSource {
	return &FileSource{
		path:      path,
		chunkSize: chunkSize,
		interval:  interval,
		onData:    onData,
		onLevel:   onLevel,
		stopCh:    make(chan struct{}),
	}
}

func (f *FileSource) Start(ctx context.Context) error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return err
	}

	go func() {
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()

		for offset := 0; offset < len(data); {
			select {
			case <-ctx.Done():
				return
			case <-f.stopCh:
				return
			case <-ticker.C:
				end := offset + f.chunkSize
				if end > len(data) {
					end = len(data)
				}
				chunk := data[offset:end]
				offset = end

				if f.onLevel != nil {
					f.onLevel(peakLevel(pcmToFloat32(chunk)))
				}
				if f.onData != nil {
					f.onData(chunk)
				}
			}
		}
	}()

	return nil
}

func (f *FileSource) Stop() error {
	close(f.stopCh)
	return nil
}

// ChannelSource is an AudioSource driven entirely by test code: calling
// Push/PushLevel replays as the corresponding capability events.
type ChannelSource struct {
	onData  DataFunc
	onLevel LevelFunc
}

// NewChannelSource builds a source whose Push/PushLevel methods directly
// invoke the configured callbacks, bypassing any real capture device.
func NewChannelSource(onData DataFunc, onLevel LevelFunc) *ChannelSource {
	return &ChannelSource{onData: onData, onLevel: onLevel}
}

func (c *ChannelSource) Start(ctx context.Context) error { return nil }
func (c *ChannelSource) Stop() error                     { return nil }

// Push delivers pcm as if captured live.
func (c *ChannelSource) Push(pcm []byte) {
	if c.onData != nil {
		c.onData(pcm)
	}
}

// PushLevel delivers a peak-amplitude reading.
func (c *ChannelSource) PushLevel(level float32) {
	if c.onLevel != nil {
		c.onLevel(level)
	}
}

func pcmToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		samples[i] = float32(s) / 32768.0
	}
	return samples
}
