package loader

import (
	"time"

	"go.uber.org/zap"
)

// EventType names a lifecycle notification
type EventType string

const (
	EventLoadingStarted EventType = "loading-started"
	EventLoaded         EventType = "loaded"
	EventError          EventType = "error"
	EventUnloaded       EventType = "unloaded"
)

// Event is one lifecycle notification
type Event struct {
	Type     EventType
	Module   string
	Source   string
	Duration time.Duration // load duration; zero for unload events
	Err      error
}

// Subscribe registers a lifecycle listener. The returned cancel
// function detaches it; Close detaches all listeners. A listener that
// falls behind loses events rather than blocking loads.
func (l *Loader) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	l.subMu.Lock()
	l.subID++
	id := l.subID
	l.subs[id] = ch
	l.subMu.Unlock()

	return ch, func() {
		l.subMu.Lock()
		if sub, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(sub)
		}
		l.subMu.Unlock()
	}
}

func (l *Loader) emit(ev Event) {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	for _, ch := range l.subs {
		select {
		case ch <- ev:
		default:
			Logger().Warn("event dropped, subscriber not keeping up",
				zap.String("type", string(ev.Type)),
				zap.String("module", ev.Module))
		}
	}
}
