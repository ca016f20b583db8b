// Package classify decides whether a log line is a healthy signal, an
// error/panic signal, or neither.
//
// Two matchers exist. Historical is permissive: any "error" or "panic"
// substring is a fault, and the readiness marker counts as healthy. Live is
// stricter: "panic" only counts when followed by a colon, and readiness is not
// looked for. Both ignore case.
package classify

import (
	"strings"

	"github.com/modoterra/nodewatch/pkg/core"
)

// DefaultHealthyMarker is what the node's data worker logs once it is serving.
const DefaultHealthyMarker = "data worker listening"

// Classifier maps a log line to a classification.
type Classifier interface {
	Classify(line core.LogLine) core.Classification
}

// Historical is the retrospective matcher.
type Historical struct {
	marker string
}

// NewHistorical returns a historical matcher using marker as readiness signal.
// An empty marker falls back to DefaultHealthyMarker.
func NewHistorical(marker string) Historical {
	if strings.TrimSpace(marker) == "" {
		marker = DefaultHealthyMarker
	}
	return Historical{marker: strings.ToLower(marker)}
}

// Classify implements Classifier. A line carrying both the marker and an
// error token is an error.
func (h Historical) Classify(line core.LogLine) core.Classification {
	lower := strings.ToLower(line.Text)
	switch {
	case strings.Contains(lower, "error"), strings.Contains(lower, "panic"):
		return core.Classification{Class: core.ClassErrorOrPanic, Line: line}
	case strings.Contains(lower, h.marker):
		return core.Classification{Class: core.ClassHealthy, Line: line}
	default:
		return core.Classification{Class: core.ClassNeutral, Line: line}
	}
}

// Live is the real-time matcher.
type Live struct{}

// Classify implements Classifier.
func (Live) Classify(line core.LogLine) core.Classification {
	lower := strings.ToLower(line.Text)
	if strings.Contains(lower, "panic:") || strings.Contains(lower, "error") {
		return core.Classification{Class: core.ClassErrorOrPanic, Line: line}
	}
	return core.Classification{Class: core.ClassNeutral, Line: line}
}
