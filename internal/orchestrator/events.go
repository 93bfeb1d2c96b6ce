package orchestrator

import (
	"time"

	"platformctl/internal/config"
	"platformctl/internal/services"
	"platformctl/pkg/logging"
)

// EventType names a lifecycle step.
type EventType string

const (
	EventPreflight       EventType = "preflight"
	EventCleanupFinished EventType = "cleanup-finished"
	EventTierStarted     EventType = "tier-started"
	EventTierFinished    EventType = "tier-finished"
	EventServiceStarting EventType = "service-starting"
	EventServiceFinished EventType = "service-finished"
	EventServiceStopped  EventType = "service-stopped"
	EventRunFinished     EventType = "run-finished"
)

// Event is published to subscribers as the run progresses.
type Event struct {
	Type      EventType
	Tier      config.Tier
	Service   string
	Phase     services.Phase
	Skipped   bool
	Message   string
	Error     string
	Timestamp time.Time
}

// Subscribe returns a channel of lifecycle events. Slow subscribers lose
// events rather than stall the run.
func (o *Orchestrator) Subscribe() <-chan Event {
	ch := make(chan Event, 100)

	o.subMu.Lock()
	o.subscribers = append(o.subscribers, ch)
	o.subMu.Unlock()

	return ch
}

func (o *Orchestrator) publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = o.now()
	}

	// don't hold the lock while sending
	o.subMu.RLock()
	subscribers := make([]chan<- Event, len(o.subscribers))
	copy(subscribers, o.subscribers)
	o.subMu.RUnlock()

	for _, ch := range subscribers {
		select {
		case ch <- event:
		default:
			logging.Warn("Orchestrator", "Dropped %s event for %s (subscriber channel full)", event.Type, event.Service)
		}
	}
}
