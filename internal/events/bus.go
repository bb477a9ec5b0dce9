// Package events fans report lifecycle events out to subscribers such as push
// notifications and the Supabase realtime feed.
package events

import (
	"log"
	"sync"
	"time"
)

type Type string

const (
	ReportCreated     Type = "report.created"
	AnalysisStarted   Type = "analysis.started"
	AnalysisCompleted Type = "analysis.completed"
	AnalysisFailed    Type = "analysis.failed"
)

type Event struct {
	Type     Type
	ReportID int64
	UserID   string
	AIStatus string
	At       time.Time
}

type Handler func(Event)

// Bus delivers each published event to its subscribers on separate goroutines.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Type][]Handler
	wg          sync.WaitGroup
}

func NewBus() *Bus {
	return &Bus{subscribers: make(map[Type][]Handler)}
}

func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[t] = append(b.subscribers[t], h)
}

func (b *Bus) SubscribeMultiple(types []Type, h Handler) {
	for _, t := range types {
		b.Subscribe(t, h)
	}
}

// Publish never blocks on handlers. A nil Bus drops the event.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[e.Type]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.wg.Add(1)
		go func(h Handler) {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[events] handler for %s on report %d panicked: %v", e.Type, e.ReportID, r)
				}
			}()
			h(e)
		}(h)
	}
}

// Wait blocks until every handler started so far has returned.
func (b *Bus) Wait() {
	b.wg.Wait()
}
