// Package domain defines events for the event-driven architecture.
// The engine publishes these so hosts can react without polling.
package domain

import (
	"time"
)

// Event is the base interface for all events in the system.
// All events must implement this interface to be published via the event bus.
type Event interface {
	// Type returns the event type identifier
	Type() EventType

	// Timestamp returns when the event occurred
	Timestamp() time.Time
}

// EventType is a string identifier for different event types.
type EventType string

// Event type constants define all possible events in the system.
const (
	// Mode and layer events
	EventModeChanged   EventType = "mode.changed"
	EventLayerEnabled  EventType = "layer.enabled"
	EventLayerDisabled EventType = "layer.disabled"

	// Configuration events
	EventConfigChanged   EventType = "config.changed"
	EventAIConfigApplied EventType = "ai_config.applied"

	// Background image events
	EventBackgroundLoaded  EventType = "background.loaded"
	EventBackgroundFailed  EventType = "background.failed"
	EventBackgroundCleared EventType = "background.cleared"

	// Frame loop events
	EventRenderingStarted  EventType = "rendering.started"
	EventRenderingStopped  EventType = "rendering.stopped"
	EventLayerRenderFailed EventType = "layer.render_failed"
)

// EventHandler is a function that handles events.
type EventHandler func(event Event)

// SubscriptionID uniquely identifies an event subscription.
type SubscriptionID string

// baseEvent provides common event functionality.
// All concrete events should embed this struct.
type baseEvent struct {
	timestamp time.Time
}

// Timestamp returns when the event occurred.
func (e baseEvent) Timestamp() time.Time {
	return e.timestamp
}

// newBaseEvent creates a new base event with the current timestamp.
func newBaseEvent() baseEvent {
	return baseEvent{timestamp: time.Now()}
}

// ModeChangedEvent is published when the visualization mode changes.
type ModeChangedEvent struct {
	baseEvent
	Previous Mode
	Current  Mode
	Layers   []Layer
}

// Type returns the event type.
func (e ModeChangedEvent) Type() EventType {
	return EventModeChanged
}

// NewModeChangedEvent creates a new ModeChangedEvent.
func NewModeChangedEvent(previous, current Mode, layers []Layer) ModeChangedEvent {
	return ModeChangedEvent{
		baseEvent: newBaseEvent(),
		Previous:  previous,
		Current:   current,
		Layers:    layers,
	}
}

// LayerToggledEvent is published when a single layer is enabled or disabled.
type LayerToggledEvent struct {
	baseEvent
	Layer   Layer
	Enabled bool
}

// Type returns the event type.
func (e LayerToggledEvent) Type() EventType {
	if e.Enabled {
		return EventLayerEnabled
	}
	return EventLayerDisabled
}

// NewLayerToggledEvent creates a new LayerToggledEvent.
func NewLayerToggledEvent(layer Layer, enabled bool) LayerToggledEvent {
	return LayerToggledEvent{
		baseEvent: newBaseEvent(),
		Layer:     layer,
		Enabled:   enabled,
	}
}

// ConfigChangedEvent is published after SetConfig merges a patch.
type ConfigChangedEvent struct {
	baseEvent
	Config EngineConfig
}

// Type returns the event type.
func (e ConfigChangedEvent) Type() EventType {
	return EventConfigChanged
}

// NewConfigChangedEvent creates a new ConfigChangedEvent.
func NewConfigChangedEvent(cfg EngineConfig) ConfigChangedEvent {
	return ConfigChangedEvent{
		baseEvent: newBaseEvent(),
		Config:    cfg,
	}
}

// AIConfigAppliedEvent is published after provider parameters were forwarded.
type AIConfigAppliedEvent struct {
	baseEvent
	Config AIConfig
}

// Type returns the event type.
func (e AIConfigAppliedEvent) Type() EventType {
	return EventAIConfigApplied
}

// NewAIConfigAppliedEvent creates a new AIConfigAppliedEvent.
func NewAIConfigAppliedEvent(cfg AIConfig) AIConfigAppliedEvent {
	return AIConfigAppliedEvent{
		baseEvent: newBaseEvent(),
		Config:    cfg,
	}
}

// BackgroundLoadedEvent is published when a background image is decoded and installed.
type BackgroundLoadedEvent struct {
	baseEvent
	Source string
	Width  int
	Height int
}

// Type returns the event type.
func (e BackgroundLoadedEvent) Type() EventType {
	return EventBackgroundLoaded
}

// NewBackgroundLoadedEvent creates a new BackgroundLoadedEvent.
func NewBackgroundLoadedEvent(source string, width, height int) BackgroundLoadedEvent {
	return BackgroundLoadedEvent{
		baseEvent: newBaseEvent(),
		Source:    source,
		Width:     width,
		Height:    height,
	}
}

// BackgroundFailedEvent is published when a background image could not be loaded.
// The previous background, if any, stays in place.
type BackgroundFailedEvent struct {
	baseEvent
	Source string
	Error  error
}

// Type returns the event type.
func (e BackgroundFailedEvent) Type() EventType {
	return EventBackgroundFailed
}

// NewBackgroundFailedEvent creates a new BackgroundFailedEvent.
func NewBackgroundFailedEvent(source string, err error) BackgroundFailedEvent {
	return BackgroundFailedEvent{
		baseEvent: newBaseEvent(),
		Source:    source,
		Error:     err,
	}
}

// BackgroundClearedEvent is published when the background image is removed.
type BackgroundClearedEvent struct {
	baseEvent
}

// Type returns the event type.
func (e BackgroundClearedEvent) Type() EventType {
	return EventBackgroundCleared
}

// NewBackgroundClearedEvent creates a new BackgroundClearedEvent.
func NewBackgroundClearedEvent() BackgroundClearedEvent {
	return BackgroundClearedEvent{baseEvent: newBaseEvent()}
}

// RenderingStartedEvent is published when the frame loop starts.
type RenderingStartedEvent struct {
	baseEvent
	TargetFPS float64
}

// Type returns the event type.
func (e RenderingStartedEvent) Type() EventType {
	return EventRenderingStarted
}

// NewRenderingStartedEvent creates a new RenderingStartedEvent.
func NewRenderingStartedEvent(fps float64) RenderingStartedEvent {
	return RenderingStartedEvent{
		baseEvent: newBaseEvent(),
		TargetFPS: fps,
	}
}

// RenderingStoppedEvent is published when the frame loop stops.
type RenderingStoppedEvent struct {
	baseEvent
	FramesRendered uint64
}

// Type returns the event type.
func (e RenderingStoppedEvent) Type() EventType {
	return EventRenderingStopped
}

// NewRenderingStoppedEvent creates a new RenderingStoppedEvent.
func NewRenderingStoppedEvent(frames uint64) RenderingStoppedEvent {
	return RenderingStoppedEvent{
		baseEvent:      newBaseEvent(),
		FramesRendered: frames,
	}
}

// LayerRenderFailedEvent is published when one layer fails mid-frame.
// The remaining layers of that frame are still drawn.
type LayerRenderFailedEvent struct {
	baseEvent
	Layer Layer
	Error error
}

// Type returns the event type.
func (e LayerRenderFailedEvent) Type() EventType {
	return EventLayerRenderFailed
}

// NewLayerRenderFailedEvent creates a new LayerRenderFailedEvent.
func NewLayerRenderFailedEvent(layer Layer, err error) LayerRenderFailedEvent {
	return LayerRenderFailedEvent{
		baseEvent: newBaseEvent(),
		Layer:     layer,
		Error:     err,
	}
}
