package browser

import (
	"context"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
)

const lifecycleNetworkIdle = "networkIdle"

// navTracker collects main-document statuses and networkIdle lifecycle
// events per loader so Goto can wait on the navigation it started.
type navTracker struct {
	mu     sync.Mutex
	status map[string]int
	idle   map[string]bool
	notify chan struct{}
}

func newNavTracker() *navTracker {
	return &navTracker{
		status: make(map[string]int),
		idle:   make(map[string]bool),
		notify: make(chan struct{}, 1),
	}
}

func (t *navTracker) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = make(map[string]int)
	t.idle = make(map[string]bool)
}

// handle is registered as a chromedp target listener and runs on the target's goroutine.
func (t *navTracker) handle(ev interface{}) {
	switch ev := ev.(type) {
	case *network.EventResponseReceived:
		if ev.Type != network.ResourceTypeDocument || ev.Response == nil {
			return
		}
		t.mu.Lock()
		if _, seen := t.status[string(ev.LoaderID)]; !seen {
			t.status[string(ev.LoaderID)] = int(ev.Response.Status)
		}
		t.mu.Unlock()
	case *page.EventLifecycleEvent:
		if ev.Name != lifecycleNetworkIdle {
			return
		}
		t.mu.Lock()
		t.idle[string(ev.LoaderID)] = true
		t.mu.Unlock()
	default:
		return
	}

	select {
	case t.notify <- struct{}{}:
	default:
	}
}

// waitIdle blocks until loaderID reached networkIdle or ctx is done. A
// same-document navigation has no loader and returns immediately.
func (t *navTracker) waitIdle(ctx context.Context, loaderID string) (int, error) {
	for {
		t.mu.Lock()
		idle, status := t.idle[loaderID], t.status[loaderID]
		t.mu.Unlock()

		if idle || loaderID == "" {
			return status, nil
		}
		select {
		case <-t.notify:
		case <-ctx.Done():
			return status, ctx.Err()
		}
	}
}
