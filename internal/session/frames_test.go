package session

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/browserflow/internal/config"
	"github.com/shehryarbajwa/browserflow/internal/selector"
	"github.com/shehryarbajwa/browserflow/pkg/models"
)

func TestFrameQueueKeepsLatest(t *testing.T) {
	q := newFrameQueue()
	assert.False(t, q.push(rawFrame{Seq: 1}))
	assert.True(t, q.push(rawFrame{Seq: 2}))
	assert.True(t, q.push(rawFrame{Seq: 3}))
	assert.Equal(t, 1, q.len())

	f, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, 3, f.Seq)
	assert.Equal(t, 0, q.len())

	_, ok = q.pop()
	assert.False(t, ok)
}

func TestFrameQueueClear(t *testing.T) {
	q := newFrameQueue()
	q.push(rawFrame{Seq: 1})
	q.clear()
	assert.Equal(t, 0, q.len())
}

func TestFrameQueueConsumeDeliversLatest(t *testing.T) {
	q := newFrameQueue()
	ctx, cancel := context.WithCancel(context.Background())

	var (
		mu  sync.Mutex
		got []int
	)
	for i := 1; i <= 3; i++ {
		q.push(rawFrame{Seq: i})
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		q.consume(ctx, func(f rawFrame) {
			mu.Lock()
			got = append(got, f.Seq)
			mu.Unlock()
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []int{3}, got)
}

func TestFrameQueueConsumerNeverSeesBacklog(t *testing.T) {
	q := newFrameQueue()
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	var seen []int

	done := make(chan struct{})
	go func() {
		defer close(done)
		q.consume(ctx, func(f rawFrame) {
			seen = append(seen, f.Seq)
			if f.Seq == 1 {
				<-release
			}
		})
	}()

	q.push(rawFrame{Seq: 1})
	require.Eventually(t, func() bool { return q.len() == 0 }, time.Second, 5*time.Millisecond)
	for i := 2; i <= 10; i++ {
		q.push(rawFrame{Seq: i})
		assert.LessOrEqual(t, q.len(), 1)
	}
	close(release)
	require.Eventually(t, func() bool { return q.len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []int{1, 10}, seen)
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		for y := range h {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func TestOptimizeDownscalesWideFrames(t *testing.T) {
	o := frameOptimizer{maxWidth: 100, quality: 60, deadline: 2 * time.Second}
	in := rawFrame{Seq: 1, Data: testJPEG(t, 400, 200), Width: 400, Height: 200}

	out, ok := o.optimize(context.Background(), in)
	require.True(t, ok)
	assert.Equal(t, 100, out.Width)
	assert.Equal(t, 50, out.Height)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out.Data))
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Width)
}

func TestOptimizeKeepsNarrowFrames(t *testing.T) {
	o := frameOptimizer{maxWidth: 900, quality: 60, deadline: 2 * time.Second}
	out, ok := o.optimize(context.Background(), rawFrame{Data: testJPEG(t, 320, 240), Width: 320, Height: 240})
	require.True(t, ok)
	assert.Equal(t, 320, out.Width)
	assert.Equal(t, 240, out.Height)
}

func TestOptimizeFallsBackToRawFrame(t *testing.T) {
	o := frameOptimizer{maxWidth: 900, quality: 60, deadline: time.Second}
	in := rawFrame{Seq: 7, Data: []byte("not an image"), Width: 10, Height: 10}

	out, ok := o.optimize(context.Background(), in)
	assert.False(t, ok)
	assert.Equal(t, in, out)
}

func TestDeliverFrameReportsViewportSize(t *testing.T) {
	cfg := config.Default().Session
	cfg.ViewportWidth, cfg.ViewportHeight = 1280, 720
	cfg.OptimizeMaxWidth = 200
	cfg.OptimizeDeadline = 2 * time.Second

	tests := []struct {
		name  string
		frame rawFrame
	}{
		{"downscaled", rawFrame{Seq: 1, Data: testJPEG(t, 640, 360), Width: 640, Height: 360}},
		{"raw fallback", rawFrame{Seq: 2, Data: []byte("not an image"), Width: 2560, Height: 1440}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(Options{
				ID:     "s1",
				Config: cfg,
				Synth:  selector.New(selector.DefaultOptions()),
				Logger: zap.NewNop(),
			})
			defer func() { _ = s.SwitchOff(context.Background()) }()
			sink := &sinkLog{}
			s.Attach(sink)

			s.deliverFrame(tt.frame)

			got, ok := sink.find(models.EventScreencast)
			require.True(t, ok)
			frame, ok := got.(models.ScreencastFrame)
			require.True(t, ok)
			assert.Equal(t, "s1", frame.SessionID)
			assert.Equal(t, 1280, frame.Width)
			assert.Equal(t, 720, frame.Height)
			assert.NotEmpty(t, frame.Image)
		})
	}
}
