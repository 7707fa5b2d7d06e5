// Package events defines event types and structures for release lifecycle notifications.
package events

import (
	"encoding/json"
	"time"
)

type EventType string

// Topic carries every release lifecycle event.
const Topic = "timelock.releases"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	ReleaseCreatedEvent   EventType = "release.created"
	ReleaseScheduledEvent EventType = "release.scheduled"
	ReleaseApprovedEvent  EventType = "release.approved"
	ReleaseExecutedEvent  EventType = "release.executed"
	ReleaseCancelledEvent EventType = "release.cancelled"
)

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	ReleaseID string    `json:"release_id"`
	Actor     string    `json:"actor"`
}

type ReleaseCreated struct {
	BaseEvent

	Title   string          `json:"title"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (e ReleaseCreated) GetType() EventType {
	return ReleaseCreatedEvent
}

type ReleaseScheduled struct {
	BaseEvent

	ScheduledAt time.Time `json:"scheduled_at"`
}

func (e ReleaseScheduled) GetType() EventType {
	return ReleaseScheduledEvent
}

type ReleaseApproved struct {
	BaseEvent

	ApprovedBy string    `json:"approved_by"`
	ApprovedAt time.Time `json:"approved_at"`
}

func (e ReleaseApproved) GetType() EventType {
	return ReleaseApprovedEvent
}

type ReleaseExecuted struct {
	BaseEvent

	Title      string          `json:"title"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ExecutedAt time.Time       `json:"executed_at"`
}

func (e ReleaseExecuted) GetType() EventType {
	return ReleaseExecutedEvent
}

type ReleaseCancelled struct {
	BaseEvent

	CancelledBy string `json:"cancelled_by"`
}

func (e ReleaseCancelled) GetType() EventType {
	return ReleaseCancelledEvent
}
