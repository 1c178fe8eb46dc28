package proctor

import (
	"strings"

	"github.com/invigilo/invigilo-backend/internal/model"
)

// SignalKind is the explicit classification of a raw behavioral signal.
// New signal kinds are added here, not guessed from free text at the
// call sites.
type SignalKind string

const (
	SignalTabSwitch      SignalKind = "TAB_SWITCH"
	SignalWindowBlur     SignalKind = "WINDOW_BLUR"
	SignalFullscreenExit SignalKind = "FULLSCREEN_EXIT"
	SignalClipboard      SignalKind = "CLIPBOARD"
	SignalDevTools       SignalKind = "DEV_TOOLS"
	SignalAltTab         SignalKind = "ALT_TAB"
	SignalPrintAttempt   SignalKind = "PRINT_ATTEMPT"
	SignalRightClick     SignalKind = "RIGHT_CLICK"
	SignalWebcamError    SignalKind = "WEBCAM_ERROR"
	SignalNoFace         SignalKind = "NO_FACE_DETECTED"
	SignalMultipleFaces  SignalKind = "MULTIPLE_FACES"
	SignalLookingAway    SignalKind = "LOOKING_AWAY"
	SignalNetworkError   SignalKind = "NETWORK_ERROR"
	SignalUnknown        SignalKind = "UNKNOWN"
)

// InferKind maps a free-text violation description onto a SignalKind.
// Kept for wire compatibility with clients that only send descriptions;
// native clients send the kind explicitly and skip this.
func InferKind(description string) SignalKind {
	d := strings.ToLower(description)

	switch {
	case containsAny(d, "network", "connection", "timeout"):
		return SignalNetworkError
	case strings.Contains(d, "alt+tab"):
		return SignalAltTab
	case containsAny(d, "tab switch", "window minimized", "visibility"):
		return SignalTabSwitch
	case containsAny(d, "lost focus", "window blur"):
		return SignalWindowBlur
	case strings.Contains(d, "fullscreen"):
		return SignalFullscreenExit
	case containsAny(d, "copy", "paste", "cut", "clipboard"):
		return SignalClipboard
	case containsAny(d, "developer tools", "dev tools", "f12"):
		return SignalDevTools
	case strings.Contains(d, "print"):
		return SignalPrintAttempt
	case strings.Contains(d, "right-click"):
		return SignalRightClick
	case strings.Contains(d, "webcam error"):
		return SignalWebcamError
	case strings.Contains(d, "no face"):
		return SignalNoFace
	case strings.Contains(d, "multiple faces"):
		return SignalMultipleFaces
	case strings.Contains(d, "looking away"):
		return SignalLookingAway
	default:
		return SignalUnknown
	}
}

// DefaultSeverity grades a signal kind for the teacher view.
func DefaultSeverity(kind SignalKind) model.Severity {
	switch kind {
	case SignalClipboard, SignalDevTools, SignalFullscreenExit, SignalPrintAttempt, SignalMultipleFaces:
		return model.SeverityHigh
	case SignalTabSwitch, SignalWindowBlur, SignalAltTab, SignalNoFace, SignalLookingAway:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
