package session

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// hardLimitFactor scales the soft memory limit to the hard one.
const hardLimitFactor = 1.2

// watchdog samples memory on an interval. Crossing the soft limit calls
// onSoft, crossing the hard limit calls onSoft and then onHard.
type watchdog struct {
	interval time.Duration
	soft     uint64
	sample   func() uint64
	onSoft   func(inUse uint64)
	onHard   func(inUse uint64)

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func newWatchdog(interval time.Duration, softLimit uint64, sample func() uint64, onSoft, onHard func(uint64)) *watchdog {
	if sample == nil {
		sample = heapInUse
	}
	return &watchdog{
		interval: interval,
		soft:     softLimit,
		sample:   sample,
		onSoft:   onSoft,
		onHard:   onHard,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (w *watchdog) start() {
	if w.started.CompareAndSwap(false, true) {
		go w.run()
	}
}

func (w *watchdog) run() {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *watchdog) check() {
	inUse := w.sample()
	if inUse < w.soft {
		return
	}
	w.onSoft(inUse)
	if float64(inUse) >= float64(w.soft)*hardLimitFactor {
		w.onHard(inUse)
	}
}

// Stop ends sampling and waits for the loop to exit. It is safe to call
// more than once and on a watchdog that never started.
func (w *watchdog) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	if w.started.Load() {
		<-w.done
	}
}

func heapInUse() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapInuse
}
