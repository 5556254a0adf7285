package session

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"golang.org/x/image/draw"
)

// rawFrame is one screencast frame as captured.
type rawFrame struct {
	Seq    int
	Data   []byte
	Width  int
	Height int
}

// frameQueue holds at most one pending frame. A push while a frame is
// pending replaces it, so the consumer always gets the latest frame.
type frameQueue struct {
	mu      sync.Mutex
	pending *rawFrame
	signal  chan struct{}
}

func newFrameQueue() *frameQueue {
	return &frameQueue{signal: make(chan struct{}, 1)}
}

// push stores f and reports whether an unconsumed frame was dropped.
func (q *frameQueue) push(f rawFrame) (replaced bool) {
	q.mu.Lock()
	replaced = q.pending != nil
	q.pending = &f
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return replaced
}

func (q *frameQueue) pop() (rawFrame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending == nil {
		return rawFrame{}, false
	}
	f := *q.pending
	q.pending = nil
	return f, true
}

func (q *frameQueue) clear() {
	q.mu.Lock()
	q.pending = nil
	q.mu.Unlock()
}

func (q *frameQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending == nil {
		return 0
	}
	return 1
}

// consume delivers frames to handle one at a time until ctx ends.
func (q *frameQueue) consume(ctx context.Context, handle func(rawFrame)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.signal:
		}
		if f, ok := q.pop(); ok {
			handle(f)
		}
	}
}

// frameOptimizer downscales and re-encodes frames within a deadline.
type frameOptimizer struct {
	maxWidth int
	quality  int
	deadline time.Duration
}

// optimize returns the optimized frame, or the raw frame with ok false
// when processing fails or misses the deadline.
func (o frameOptimizer) optimize(ctx context.Context, f rawFrame) (rawFrame, bool) {
	ctx, cancel := context.WithTimeout(ctx, o.deadline)
	defer cancel()

	type result struct {
		frame rawFrame
		err   error
	}
	done := make(chan result, 1)
	go func() {
		out, err := o.reencode(f)
		done <- result{out, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return f, false
		}
		return r.frame, true
	case <-ctx.Done():
		return f, false
	}
}

func (o frameOptimizer) reencode(f rawFrame) (rawFrame, error) {
	src, _, err := image.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return f, err
	}
	var img image.Image = src
	b := src.Bounds()
	if o.maxWidth > 0 && b.Dx() > o.maxWidth {
		h := b.Dy() * o.maxWidth / b.Dx()
		dst := image.NewRGBA(image.Rect(0, 0, o.maxWidth, h))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
		img = dst
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: o.quality}); err != nil {
		return f, err
	}
	out := f
	out.Data = buf.Bytes()
	out.Width, out.Height = img.Bounds().Dx(), img.Bounds().Dy()
	return out, nil
}
