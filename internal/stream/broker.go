package stream

import "sync"

const subscriberBuffer = 128

// Broker fans run events out to watch subscribers (the WebSocket endpoint).
// Slow subscribers lose events rather than blocking the run.
type Broker struct {
	mu   sync.RWMutex
	runs map[string][]chan Event
}

func NewBroker() *Broker {
	return &Broker{runs: map[string][]chan Event{}}
}

// Subscribe returns a channel of events for runID plus a cancel func. The
// channel is closed when the run finishes or the subscription is canceled.
func (b *Broker) Subscribe(runID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.runs[runID] = append(b.runs[runID], ch)
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.runs[runID]
			for i, c := range subs {
				if c == ch {
					b.runs[runID] = append(subs[:i], subs[i+1:]...)
					close(ch)
					return
				}
			}
		})
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber of runID. Full subscriber buffers
// drop the event for that subscriber only.
func (b *Broker) Publish(runID string, ev Event) {
	b.mu.RLock()
	subs := append([]chan Event(nil), b.runs[runID]...)
	b.mu.RUnlock()
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// CloseRun closes all subscriptions for runID.
func (b *Broker) CloseRun(runID string) {
	b.mu.Lock()
	subs := b.runs[runID]
	delete(b.runs, runID)
	b.mu.Unlock()
	for _, ch := range subs {
		close(ch)
	}
}
