// Package events provides a fire-and-forget event bus for progress notifications.
package events

import (
	"time"
)

// EventType represents the type of event
type EventType string

const (
	// Request processing events
	EventProcessingCreated EventType = "request.processing.created"
	EventProcessingUpdated EventType = "request.processing.updated"
	EventProcessingPaused  EventType = "request.processing.paused"
	EventProcessingResumed EventType = "request.processing.resumed"
	EventProcessingRemoved EventType = "request.processing.removed"
	EventProcessingDone    EventType = "request.processing.done"
	EventProcessingFailed  EventType = "request.processing.failed"

	// Plugin events
	EventPluginLoaded   EventType = "plugin.loaded"
	EventPluginUnloaded EventType = "plugin.unloaded"
)

// Event represents a system event
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"`
	Library   string                 `json:"library,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// EventHandler handles one delivered event; it must not block for long.
type EventHandler func(event Event)

// EventFilter selects events for a subscription; empty fields match all.
type EventFilter struct {
	Types   []EventType `json:"types,omitempty"`
	Library string      `json:"library,omitempty"`
}

// Matches reports whether the event passes the filter
func (f EventFilter) Matches(event Event) bool {
	if f.Library != "" && f.Library != event.Library {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == event.Type {
			return true
		}
	}
	return false
}

// EventBusConfig configures the bus
type EventBusConfig struct {
	BufferSize int
}

// DefaultEventBusConfig returns the default configuration
func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{BufferSize: 256}
}
