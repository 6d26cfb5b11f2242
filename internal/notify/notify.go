// Package notify delivers structured lifecycle notifications to
// subscribers (websocket clients, tests).
package notify

import (
	"sync"
	"time"
)

// Notification categories.
const (
	CategoryTargetJvmDiscovery       = "TargetJvmDiscovery"
	CategoryActiveRecordingCreated   = "ActiveRecordingCreated"
	CategoryActiveRecordingStopped   = "ActiveRecordingStopped"
	CategoryActiveRecordingDeleted   = "ActiveRecordingDeleted"
	CategoryArchivedRecordingCreated = "ArchivedRecordingCreated"
	CategoryArchivedRecordingDeleted = "ArchivedRecordingDeleted"
	CategorySnapshotCreated          = "SnapshotCreated"
	CategoryRuleCreated              = "RuleCreated"
	CategoryRuleUpdated              = "RuleUpdated"
	CategoryRuleDeleted              = "RuleDeleted"
	CategoryRuleFailed               = "RuleExecutionFailed"
	CategoryCredentialsStored        = "CredentialsStored"
	CategoryCredentialsDeleted       = "CredentialsDeleted"
	CategoryCredentialsConflict      = "CredentialsConflict"
	CategoryPluginRegistered         = "DiscoveryPluginRegistered"
	CategoryPluginDeregistered       = "DiscoveryPluginDeregistered"
)

// Meta describes a notification.
type Meta struct {
	Category   string `json:"category"`
	ServerTime int64  `json:"serverTime"`
}

// Notification is the envelope sent to subscribers.
type Notification struct {
	Meta    Meta `json:"meta"`
	Message any  `json:"message"`
}

// New wraps message in an envelope stamped with the current time.
func New(category string, message any) Notification {
	return Notification{
		Meta:    Meta{Category: category, ServerTime: time.Now().Unix()},
		Message: message,
	}
}

// Sink receives notifications. Publish must preserve call order.
type Sink interface {
	Publish(category string, message any)
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Publish(string, any) {}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Notification
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Publish appends a notification.
func (r *Recorder) Publish(category string, message any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, New(category, message))
}

// All returns a copy of every recorded notification.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.events...)
}

// ByCategory returns the recorded notifications of one category.
func (r *Recorder) ByCategory(category string) []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notification
	for _, n := range r.events {
		if n.Meta.Category == category {
			out = append(out, n)
		}
	}
	return out
}

// Count returns the number of notifications of one category.
func (r *Recorder) Count(category string) int {
	return len(r.ByCategory(category))
}

// Multi fans a notification out to several sinks in order.
type Multi []Sink

func (m Multi) Publish(category string, message any) {
	for _, s := range m {
		s.Publish(category, message)
	}
}
