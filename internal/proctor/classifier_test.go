package proctor

import (
	"testing"
	"time"

	"github.com/invigilo/invigilo-backend/internal/model"
)

func TestClassifyTabSwitchPattern(t *testing.T) {
	c := NewClassifier()
	base := time.Now()

	// A lone tab switch gets the benefit of the doubt.
	if c.Classify(SignalTabSwitch, "Tab switch or window minimized", base) {
		t.Fatal("first tab switch classified as intentional")
	}
	// A repeat within the pattern window does not.
	if !c.Classify(SignalTabSwitch, "Tab switch or window minimized", base.Add(10*time.Second)) {
		t.Fatal("repeat tab switch within window not intentional")
	}
	// And the repeat itself refreshes the window.
	if !c.Classify(SignalTabSwitch, "Tab switch or window minimized", base.Add(35*time.Second)) {
		t.Fatal("third tab switch 25s after the second not intentional")
	}
}

func TestClassifyTabSwitchWindowExpiry(t *testing.T) {
	c := NewClassifier()
	base := time.Now()

	c.Classify(SignalTabSwitch, "Tab switch or window minimized", base)
	// 31s later the window has expired; back to benefit of the doubt.
	if c.Classify(SignalTabSwitch, "Tab switch or window minimized", base.Add(31*time.Second)) {
		t.Fatal("tab switch after window expiry classified as intentional")
	}
}

func TestClassifyWindowBlurIsSeparateFromTabSwitch(t *testing.T) {
	c := NewClassifier()
	base := time.Now()

	c.Classify(SignalTabSwitch, "Tab switch or window minimized", base)
	// A window blur right after a tab switch is still a first occurrence
	// of ITS kind.
	if c.Classify(SignalWindowBlur, "Window lost focus", base.Add(5*time.Second)) {
		t.Fatal("first window blur counted against tab switch history")
	}
}

func TestClassifyAlwaysIntentionalKinds(t *testing.T) {
	c := NewClassifier()
	now := time.Now()

	cases := []struct {
		kind SignalKind
		desc string
	}{
		{SignalClipboard, "Copy/Paste/Cut attempted"},
		{SignalDevTools, "Developer tools access attempted"},
		{SignalAltTab, "Alt+Tab detected"},
		{SignalPrintAttempt, "Print attempt detected"},
	}
	for _, tc := range cases {
		if !c.Classify(tc.kind, tc.desc, now) {
			t.Errorf("%s: first occurrence not intentional", tc.kind)
		}
	}
}

func TestClassifyFullscreenExit(t *testing.T) {
	c := NewClassifier()
	now := time.Now()

	if !c.Classify(SignalFullscreenExit, "Fullscreen mode exited", now) {
		t.Fatal("plain fullscreen exit not intentional")
	}
	for _, desc := range []string{
		"Fullscreen exited by browser navigation",
		"Fullscreen exited: system dialog opened",
		"Automatic fullscreen exit on focus change",
	} {
		if c.Classify(SignalFullscreenExit, desc, now) {
			t.Errorf("%q classified as intentional", desc)
		}
	}
}

func TestClassifyUnknownDefaultsToIntentional(t *testing.T) {
	c := NewClassifier()
	if !c.Classify(SignalUnknown, "Suspicious activity detected", time.Now()) {
		t.Fatal("unknown signal not intentional by default")
	}
}

func TestClassifyTechnicalByDescription(t *testing.T) {
	c := NewClassifier()
	now := time.Now()

	// Wording alone marks connectivity problems technical, whatever the kind.
	if c.Classify(SignalUnknown, "Connection dropped during sync", now) {
		t.Fatal("connection wording classified as intentional")
	}
	// Webcam failures are technical only for permission/hardware causes.
	if c.Classify(SignalWebcamError, "Webcam permission denied by user agent", now) {
		t.Fatal("webcam permission failure classified as intentional")
	}
	if !c.Classify(SignalWebcamError, "Webcam error: obstructed view", now) {
		t.Fatal("non-hardware webcam error should stay intentional")
	}
}

func TestInferKind(t *testing.T) {
	cases := []struct {
		desc string
		want SignalKind
	}{
		{"Tab switch or window minimized", SignalTabSwitch},
		{"Window lost focus", SignalWindowBlur},
		{"Copy/Paste/Cut attempted", SignalClipboard},
		{"Developer tools access attempted", SignalDevTools},
		{"Alt+Tab detected", SignalAltTab},
		{"Print attempt detected", SignalPrintAttempt},
		{"Right-click detected", SignalRightClick},
		{"Fullscreen mode exited", SignalFullscreenExit},
		{"Network connection lost", SignalNetworkError},
		{"No face detected in frame", SignalNoFace},
		{"Multiple faces detected", SignalMultipleFaces},
		{"Student looking away from screen", SignalLookingAway},
		{"Something entirely different", SignalUnknown},
	}
	for _, tc := range cases {
		if got := InferKind(tc.desc); got != tc.want {
			t.Errorf("InferKind(%q) = %s, want %s", tc.desc, got, tc.want)
		}
	}
}

func TestDefaultSeverity(t *testing.T) {
	if DefaultSeverity(SignalDevTools) != model.SeverityHigh {
		t.Error("dev tools should be high severity")
	}
	if DefaultSeverity(SignalTabSwitch) != model.SeverityMedium {
		t.Error("tab switch should be medium severity")
	}
	if DefaultSeverity(SignalNetworkError) != model.SeverityLow {
		t.Error("network error should be low severity")
	}
}
