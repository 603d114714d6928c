package gotrue

import (
	"sync"
	"sync/atomic"

	"github.com/goliatone/go-authstate"
)

type subscriber struct {
	fn     authstate.ChangeFunc
	active atomic.Bool
}

// notifier delivers change events to subscribers one at a time, in emit
// order. A subscriber removed mid dispatch gets nothing further.
type notifier struct {
	mu   sync.Mutex
	subs []*subscriber

	dispatch sync.Mutex
}

func (n *notifier) subscribe(fn authstate.ChangeFunc) authstate.Subscription {
	if fn == nil {
		return authstate.SubscriptionFunc(nil)
	}

	sub := &subscriber{fn: fn}
	sub.active.Store(true)

	n.mu.Lock()
	n.subs = append(n.subs, sub)
	n.mu.Unlock()

	return authstate.SubscriptionFunc(func() {
		if !sub.active.CompareAndSwap(true, false) {
			return
		}
		n.mu.Lock()
		defer n.mu.Unlock()
		for i, s := range n.subs {
			if s == sub {
				n.subs = append(n.subs[:i:i], n.subs[i+1:]...)
				return
			}
		}
	})
}

func (n *notifier) emit(event authstate.ChangeEvent) {
	n.dispatch.Lock()
	defer n.dispatch.Unlock()

	n.mu.Lock()
	subs := append([]*subscriber(nil), n.subs...)
	n.mu.Unlock()

	for _, s := range subs {
		if s.active.Load() {
			s.fn(event)
		}
	}
}

func (n *notifier) len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}
