package core

import "time"

// LogLine represents a single line read from a service's log stream.
type LogLine struct {
	Unit       string    `json:"unit"`
	Stream     string    `json:"stream"` // "journal", "file"
	Text       string    `json:"text"`
	ObservedAt time.Time `json:"observed_at"`
}
