package audio

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Item is a rendered mix queued for preview.
type Item struct {
	ID   string
	Name string
	Path string
}

type decodedItem struct {
	info    Item
	samples Buffer
}

// Player decodes queued mixes and outputs PCM frames at real-time rate,
// one mix after another, for the preview stream.
type Player struct {
	itemCh  chan Item
	frameCh chan []int16
	skipCh  chan struct{}
	decode  func(ctx context.Context, path string) (Buffer, error)
	log     *zap.Logger

	mu       sync.RWMutex
	current  Item
	position time.Duration
	duration time.Duration
}

// PlayerOption configures a Player.
type PlayerOption func(*Player)

// WithDecoder replaces the ffmpeg decoder used for queued mixes.
func WithDecoder(fn func(ctx context.Context, path string) (Buffer, error)) PlayerOption {
	return func(p *Player) { p.decode = fn }
}

// NewPlayer creates a preview player.
func NewPlayer(logger *zap.Logger, opts ...PlayerOption) *Player {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Player{
		itemCh:  make(chan Item, 8),
		frameCh: make(chan []int16, 100),
		skipCh:  make(chan struct{}, 1),
		decode:  DecodeFile,
		log:     logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Frames returns the channel of outgoing PCM frames (20ms each).
func (p *Player) Frames() <-chan []int16 {
	return p.frameCh
}

// Enqueue adds a mix to the queue. It reports false when the queue is full.
func (p *Player) Enqueue(it Item) bool {
	select {
	case p.itemCh <- it:
		return true
	default:
		return false
	}
}

// QueueSize returns the number of mixes waiting in the queue.
func (p *Player) QueueSize() int {
	return len(p.itemCh)
}

// Skip interrupts the current mix.
func (p *Player) Skip() {
	select {
	case p.skipCh <- struct{}{}:
	default:
	}
}

// Status returns current playback info.
func (p *Player) Status() (item Item, position, duration time.Duration) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current, p.position, p.duration
}

// Run starts playback. Blocks until ctx is cancelled.
func (p *Player) Run(ctx context.Context) {
	defer close(p.frameCh)

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	// Background decoder: converts file paths to decoded PCM
	decodedCh := make(chan *decodedItem, 2)
	go func() {
		defer close(decodedCh)
		for {
			select {
			case <-ctx.Done():
				return
			case it := <-p.itemCh:
				samples, err := p.decode(ctx, it.Path)
				if err != nil {
					p.log.Warn("preview decode failed", zap.String("output_id", it.ID), zap.Error(err))
					continue
				}
				select {
				case decodedCh <- &decodedItem{info: it, samples: samples}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-decodedCh:
			if !ok {
				return
			}
			p.play(ctx, ticker, d)
			p.setItem(Item{}, 0)
		}
	}
}

// play paces one mix out frame by frame until it ends or is skipped.
func (p *Player) play(ctx context.Context, ticker *time.Ticker, d *decodedItem) {
	totalFrames := len(d.samples) / FrameSamples
	p.setItem(d.info, totalFrames)
	p.log.Info("preview playing", zap.String("output_id", d.info.ID), zap.Int("frames", totalFrames))

	for i := 0; i < totalFrames; i++ {
		if !p.sendFrame(ctx, ticker, d.samples[i*FrameSamples:(i+1)*FrameSamples]) {
			return
		}
		p.updatePosition(i)
	}
}

// sendFrame waits for the ticker then sends a frame. Returns false on skip or cancel.
func (p *Player) sendFrame(ctx context.Context, ticker *time.Ticker, frame []int16) bool {
	select {
	case <-ctx.Done():
		return false
	case <-p.skipCh:
		p.log.Info("preview skipped")
		return false
	case <-ticker.C:
	}

	select {
	case p.frameCh <- frame:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *Player) setItem(it Item, totalFrames int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = it
	p.position = 0
	p.duration = time.Duration(totalFrames) * FrameDuration
}

func (p *Player) updatePosition(frameIdx int) {
	p.mu.Lock()
	p.position = time.Duration(frameIdx) * FrameDuration
	p.mu.Unlock()
}
