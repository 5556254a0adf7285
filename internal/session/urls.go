package session

import (
	"sync"

	"github.com/shehryarbajwa/browserflow/pkg/models"
)

// urlTracker suppresses navigation notifications for the page that was
// announced last.
type urlTracker struct {
	mu   sync.Mutex
	last string
}

// shouldEmitURLChange reports whether raw differs from the last emitted
// url after normalization and, if so, remembers it.
func (t *urlTracker) shouldEmitURLChange(raw string) bool {
	n := models.NormalizeURL(raw)
	t.mu.Lock()
	defer t.mu.Unlock()
	if n == t.last {
		return false
	}
	t.last = n
	return true
}

func (t *urlTracker) reset() {
	t.mu.Lock()
	t.last = ""
	t.mu.Unlock()
}

// nextActiveIndex picks the tab that becomes active when the tab at
// closing is closed: the following tab, else the preceding one. It
// returns -1 when closing the last tab. The index is into the list before
// removal.
func nextActiveIndex(count, closing int) int {
	switch {
	case closing < 0 || closing >= count || count <= 1:
		return -1
	case closing+1 < count:
		return closing + 1
	default:
		return closing - 1
	}
}
