package transfer

import (
	"context"
	"sync"
	"time"

	"dardanelles/internal/gateway/repository/catalog"
)

type EventType string

const (
	EventStored     EventType = "stored"
	EventDownloaded EventType = "downloaded"
)

// Event announces a catalog change to watchers.
type Event struct {
	Type  EventType     `json:"type"`
	Entry catalog.Entry `json:"entry"`
	At    time.Time     `json:"at"`
}

// Feed fans events out to subscribers. A slow subscriber loses its oldest
// pending event rather than blocking publishers.
type Feed struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	buffer int
}

func NewFeed(buffer int) *Feed {
	if buffer <= 0 {
		buffer = 16
	}
	return &Feed{subs: make(map[int]chan Event), buffer: buffer}
}

// Subscribe registers a subscriber until ctx is done or cancel is called.
// The returned channel is closed on unsubscribe.
func (f *Feed) Subscribe(ctx context.Context) (<-chan Event, func()) {
	ch := make(chan Event, f.buffer)
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = ch
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			close(ch)
			f.mu.Unlock()
		})
	}
	stop := context.AfterFunc(ctx, cancel)
	return ch, func() {
		stop()
		cancel()
	}
}

func (f *Feed) Publish(ev Event) {
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		pushEvent(ch, ev)
	}
}

// Subscribers reports the number of live subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func pushEvent(out chan Event, ev Event) {
	select {
	case out <- ev:
		return
	default:
	}
	select {
	case <-out:
	default:
	}
	select {
	case out <- ev:
	default:
	}
}
