package sshmanager

import (
	"log"
	"time"

	"github.com/gluk-w/filessh/internal/logutil"
)

// EventType identifies the type of connection event.
type EventType string

const (
	EventConnected            EventType = "connected"
	EventDisconnected         EventType = "disconnected"
	EventChannelFailed        EventType = "channel_failed"
	EventHealthCheckFailed    EventType = "health_check_failed"
	EventHealthCheckRecovered EventType = "health_check_recovered"
)

// ConnectionEvent represents a state change event for the session.
type ConnectionEvent struct {
	Session   string    `json:"session"`
	Type      EventType `json:"type"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}

// maxEvents limits the number of stored events.
const maxEvents = 100

// emitEvent records a connection event in the ring buffer and logs it.
func (g *Guardian) emitEvent(eventType EventType, details string) {
	event := ConnectionEvent{
		Session:   g.name,
		Type:      eventType,
		Details:   details,
		Timestamp: time.Now(),
	}

	g.eventsMu.Lock()
	g.events = append(g.events, event)
	if len(g.events) > maxEvents {
		g.events = g.events[len(g.events)-maxEvents:]
	}
	g.eventsMu.Unlock()

	log.Printf("[ssh] event %s/%s: %s", logutil.SanitizeForLog(g.name), eventType, logutil.SanitizeForLog(details))
}

// Events returns all stored connection events, oldest first.
func (g *Guardian) Events() []ConnectionEvent {
	g.eventsMu.RLock()
	defer g.eventsMu.RUnlock()
	result := make([]ConnectionEvent, len(g.events))
	copy(result, g.events)
	return result
}

// CountEvents returns how many stored events have the given type.
func (g *Guardian) CountEvents(eventType EventType) int {
	g.eventsMu.RLock()
	defer g.eventsMu.RUnlock()
	count := 0
	for _, e := range g.events {
		if e.Type == eventType {
			count++
		}
	}
	return count
}
