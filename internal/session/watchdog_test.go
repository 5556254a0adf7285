package session

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWatchdogCheck(t *testing.T) {
	tests := []struct {
		name       string
		inUse      uint64
		soft, hard int32
	}{
		{"below soft", 99, 0, 0},
		{"at soft", 100, 1, 0},
		{"between limits", 110, 1, 0},
		{"at hard", 120, 1, 1},
		{"above hard", 500, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var soft, hard atomic.Int32
			w := newWatchdog(time.Hour, 100,
				func() uint64 { return tt.inUse },
				func(uint64) { soft.Add(1) },
				func(uint64) { hard.Add(1) },
			)
			w.check()
			assert.Equal(t, tt.soft, soft.Load())
			assert.Equal(t, tt.hard, hard.Load())
		})
	}
}

func TestWatchdogSamplesOnInterval(t *testing.T) {
	var soft atomic.Int32
	w := newWatchdog(5*time.Millisecond, 1,
		func() uint64 { return 10 },
		func(uint64) { soft.Add(1) },
		func(uint64) {},
	)
	w.start()
	w.start()
	assert.Eventually(t, func() bool { return soft.Load() >= 2 }, time.Second, time.Millisecond)
	w.Stop()
	w.Stop()

	n := soft.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, soft.Load(), "no samples after Stop")
}

func TestWatchdogStopWithoutStart(t *testing.T) {
	w := newWatchdog(time.Millisecond, 1, nil, func(uint64) {}, func(uint64) {})
	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a watchdog that never started")
	}
}
