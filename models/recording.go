package models

import (
	"fmt"
	"strings"
)

// RecordingState is the run state of an active recording.
type RecordingState string

const (
	RecordingRunning RecordingState = "RUNNING"
	RecordingStopped RecordingState = "STOPPED"
)

// Recording label keys attached to rule-created recordings.
const (
	LabelTemplateName = "template.name"
	LabelTemplateType = "template.type"
	LabelRule         = "rule"
)

// ReplacePolicy governs whether a start request may replace an existing
// recording of the same name.
type ReplacePolicy string

const (
	ReplaceAlways  ReplacePolicy = "ALWAYS"
	ReplaceNever   ReplacePolicy = "NEVER"
	ReplaceStopped ReplacePolicy = "STOPPED"
)

// ParseReplacePolicy parses a replace policy, case-insensitively. An empty
// string yields NEVER.
func ParseReplacePolicy(s string) (ReplacePolicy, error) {
	switch p := ReplacePolicy(strings.ToUpper(strings.TrimSpace(s))); p {
	case "":
		return ReplaceNever, nil
	case ReplaceAlways, ReplaceNever, ReplaceStopped:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown replace policy %q", ErrInvalid, s)
	}
}

// ReplaceFromRestart maps the legacy boolean restart flag.
func ReplaceFromRestart(restart bool) ReplacePolicy {
	if restart {
		return ReplaceAlways
	}
	return ReplaceNever
}

// Metadata carries recording labels.
type Metadata struct {
	Labels map[string]string `json:"labels"`
}

// ActiveRecording is a recording present in a target JVM.
type ActiveRecording struct {
	ID            int64          `json:"id"`
	Name          string         `json:"name"`
	State         RecordingState `json:"state"`
	StartTime     int64          `json:"startTime"`
	Duration      int64          `json:"duration"`
	Continuous    bool           `json:"continuous"`
	ToDisk        bool           `json:"toDisk"`
	MaxSize       int64          `json:"maxSize"`
	MaxAge        int64          `json:"maxAge"`
	ArchiveOnStop bool           `json:"archiveOnStop"`
	Metadata      Metadata       `json:"metadata"`
}

// RecordingOptions describe a recording to start.
type RecordingOptions struct {
	Name     string            `json:"recordingName" validate:"required"`
	Template EventTemplate     `json:"template"`
	Duration int64             `json:"duration"` // seconds; 0 is continuous
	ToDisk   bool              `json:"toDisk"`
	MaxAge   int64             `json:"maxAge"`  // seconds
	MaxSize  int64             `json:"maxSize"` // bytes
	Labels   map[string]string `json:"labels,omitempty"`

	ArchiveOnStop bool          `json:"archiveOnStop"`
	Replace       ReplacePolicy `json:"replace"`
}

// ArchivedRecording is a recording copied to the archive store.
type ArchivedRecording struct {
	Name         string   `json:"name"`
	JvmID        string   `json:"jvmId"`
	ConnectURL   string   `json:"connectUrl"`
	Size         int64    `json:"size"`
	ArchivedTime int64    `json:"archivedTime"`
	Metadata     Metadata `json:"metadata"`
}
