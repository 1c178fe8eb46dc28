package proctor

import (
	"strings"
	"time"
)

// patternWindow is the lookback for tab-switch/window-blur pattern
// detection: a lone occurrence gets the benefit of the doubt, a repeat
// of the same kind within the window does not.
const patternWindow = 30 * time.Second

// Classifier decides whether a raw signal is an intentional violation or
// a technical issue. It keeps per-kind occurrence history for the
// pattern-detection rules; one Classifier serves one attempt.
type Classifier struct {
	lastOccurrence map[SignalKind]time.Time
}

func NewClassifier() *Classifier {
	return &Classifier{
		lastOccurrence: make(map[SignalKind]time.Time),
	}
}

// Classify returns true when the signal counts as intentional. Technical
// issues (environment failures outside the student's control) return
// false and must never move violation counters.
func (c *Classifier) Classify(kind SignalKind, description string, now time.Time) bool {
	if isTechnical(kind, description) {
		c.touch(kind, now)
		return false
	}

	switch kind {
	case SignalClipboard, SignalDevTools, SignalAltTab, SignalPrintAttempt:
		c.touch(kind, now)
		return true

	case SignalTabSwitch, SignalWindowBlur:
		// First occurrence in a fresh window is not intentional; a
		// second of the same kind within the window is.
		last, seen := c.lastOccurrence[kind]
		c.touch(kind, now)
		return seen && now.Sub(last) <= patternWindow

	case SignalFullscreenExit:
		c.touch(kind, now)
		d := strings.ToLower(description)
		return !containsAny(d, "browser", "system", "automatic")

	default:
		c.touch(kind, now)
		return true
	}
}

func (c *Classifier) touch(kind SignalKind, now time.Time) {
	c.lastOccurrence[kind] = now
}

// isTechnical filters signals caused by the environment rather than the
// student: connectivity problems and webcam permission/hardware failures.
func isTechnical(kind SignalKind, description string) bool {
	d := strings.ToLower(description)

	if kind == SignalNetworkError || containsAny(d, "network", "connection", "timeout") {
		return true
	}
	if kind == SignalWebcamError && containsAny(d, "permission", "hardware", "device not found", "not allowed") {
		return true
	}
	return false
}
