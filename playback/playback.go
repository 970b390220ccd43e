// Package playback streams rendered blocks to the default audio
// device. The renderer's float64 stereo blocks are serialized as
// interleaved little-endian float32 frames and pulled by the device
// through an io.Reader, so the render path runs on the audio
// library's own feeder goroutine.
package playback

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// ErrStopped is reported by the stream reader after Close.
var ErrStopped = errors.New("playback: stopped")

// bytesPerFrame is one stereo float32 frame on the wire.
const bytesPerFrame = 8

// Renderer produces the audio stream one stereo block at a time.
type Renderer interface {
	BlockSize() int
	RenderBlock(left, right []float64) error
}

// blockReader adapts a Renderer to the byte stream the audio device
// consumes. Reads of any size are served from a carry buffer holding
// at most one rendered block.
type blockReader struct {
	renderer Renderer

	mu      sync.Mutex
	left    []float64
	right   []float64
	carry   []byte
	pending []byte // unread tail of carry
	err     error
}

func newBlockReader(r Renderer) *blockReader {
	blockSize := r.BlockSize()
	return &blockReader{
		renderer: r,
		left:     make([]float64, blockSize),
		right:    make([]float64, blockSize),
		carry:    make([]byte, blockSize*bytesPerFrame),
	}
}

// Read renders blocks on demand and serves them as interleaved
// float32 LE bytes. Short reads leave the remainder for the next call.
func (b *blockReader) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.err != nil {
		return 0, b.err
	}

	total := 0
	for total < len(p) {
		if len(b.pending) == 0 {
			if err := b.renderer.RenderBlock(b.left, b.right); err != nil {
				b.err = err
				if total > 0 {
					return total, nil
				}
				return 0, err
			}
			b.fillCarry()
		}

		n := copy(p[total:], b.pending)
		b.pending = b.pending[n:]
		total += n
	}

	return total, nil
}

func (b *blockReader) fillCarry() {
	for i := range b.left {
		binary.LittleEndian.PutUint32(b.carry[i*bytesPerFrame:], math.Float32bits(float32(b.left[i])))
		binary.LittleEndian.PutUint32(b.carry[i*bytesPerFrame+4:], math.Float32bits(float32(b.right[i])))
	}
	b.pending = b.carry
}

// stop makes all further reads fail.
func (b *blockReader) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err == nil {
		b.err = ErrStopped
	}
}

// Player owns the audio device context and the feeder stream.
type Player struct {
	reader *blockReader
	ctx    *oto.Context
	player *oto.Player
}

// NewPlayer opens the default audio device at the given sample rate
// and connects it to the renderer. Playback starts with Start.
func NewPlayer(r Renderer, sampleRate int) (*Player, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("playback: invalid sample rate %d", sampleRate)
	}

	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 2,
		Format:       oto.FormatFloat32LE,
	}

	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("playback: open audio device: %w", err)
	}
	<-ready

	reader := newBlockReader(r)
	return &Player{
		reader: reader,
		ctx:    ctx,
		player: ctx.NewPlayer(reader),
	}, nil
}

// Start begins pulling blocks from the renderer.
func (p *Player) Start() {
	p.player.Play()
}

// Close stops the stream and releases the device player. The device
// may still drain its internal buffer.
func (p *Player) Close() error {
	p.reader.stop()
	return p.player.Close()
}

// Latency reports the buffered duration between renderer and device
// for the given block size and sample rate, assuming one block in the
// carry buffer.
func Latency(blockSize, sampleRate int) time.Duration {
	return time.Duration(blockSize) * time.Second / time.Duration(sampleRate)
}

var _ io.Reader = (*blockReader)(nil)
