package events

import (
	"sync"
	"sync/atomic"
)

// AccountScoped is implemented by payloads that belong to one account,
// letting subscribers follow a single session's stream.
type AccountScoped interface {
	AccountKey() string
}

// Bus is a lightweight pub/sub broker using channels. Publishing never
// blocks; a subscriber that cannot keep up loses events and the loss is
// counted.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Event][]*subscriber
	dropped uint64
}

type subscriber struct {
	ch      chan any
	account string // empty matches every account
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]*subscriber)}
}

// Subscribe registers a listener for an event and returns the channel
// and an unsubscribe function.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	return b.subscribe(e, "", buffer)
}

// SubscribeAccount registers a listener that only receives payloads
// scoped to the given account. Payloads that carry no account never
// match.
func (b *Bus) SubscribeAccount(e Event, account string, buffer int) (<-chan any, func()) {
	return b.subscribe(e, account, buffer)
}

func (b *Bus) subscribe(e Event, account string, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{ch: make(chan any, buffer), account: account}
	b.subs[e] = append(b.subs[e], sub)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[e]
		for i, s := range subs {
			if s == sub {
				close(s.ch)
				b.subs[e] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}

	return sub.ch, unsub
}

// Publish fans the payload out to matching subscribers without
// blocking.
func (b *Bus) Publish(e Event, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[e] {
		if sub.account != "" {
			scoped, ok := payload.(AccountScoped)
			if !ok || scoped.AccountKey() != sub.account {
				continue
			}
		}
		select {
		case sub.ch <- payload:
		default:
			atomic.AddUint64(&b.dropped, 1)
		}
	}
}

// Dropped reports how many events were lost to slow subscribers.
func (b *Bus) Dropped() uint64 {
	return atomic.LoadUint64(&b.dropped)
}
