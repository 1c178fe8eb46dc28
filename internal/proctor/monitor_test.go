package proctor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/invigilo/invigilo-backend/internal/model"
)

type captureTransport struct {
	mu     sync.Mutex
	events []model.StoredEvent
}

func (t *captureTransport) Send(_ context.Context, e model.StoredEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, e)
	return nil
}

func (t *captureTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.events)
}

func newTestMonitor(t *testing.T, threshold int) (*Monitor, *captureTransport, *int, *int) {
	t.Helper()
	transport := &captureTransport{}
	terminations := 0
	submissions := 0
	m := NewMonitor(Config{
		ExamID:      uuid.New(),
		StudentID:   7,
		AttemptID:   uuid.New(),
		Threshold:   threshold,
		Debounce:    5 * time.Second,
		SubmitDelay: 0, // run synchronously in tests
		Transport:   transport,
		OnTerminate: func(string) { terminations++ },
		Submit:      func() { submissions++ },
		Logger:      zerolog.Nop(),
	})
	t.Cleanup(m.Close)
	return m, transport, &terminations, &submissions
}

func TestRecordCountsPerKindMonotonically(t *testing.T) {
	m, _, _, _ := newTestMonitor(t, 100)
	base := time.Now()

	for i := 0; i < 5; i++ {
		out := m.Record(context.Background(), SignalClipboard, "Copy/Paste/Cut attempted", base.Add(time.Duration(i)*10*time.Second))
		if !out.Intentional {
			t.Fatalf("clipboard signal %d classified as technical", i)
		}
		if out.Count != i+1 {
			t.Fatalf("count after signal %d = %d, want %d", i, out.Count, i+1)
		}
	}
	if got := m.IntentionalCount(SignalClipboard); got != 5 {
		t.Fatalf("IntentionalCount = %d, want 5", got)
	}
	// Counters are per kind.
	if got := m.IntentionalCount(SignalDevTools); got != 0 {
		t.Fatalf("unrelated kind count = %d, want 0", got)
	}
}

func TestTerminationFiresExactlyAtThreshold(t *testing.T) {
	m, _, terminations, submissions := newTestMonitor(t, 3)
	base := time.Now()

	for i := 0; i < 2; i++ {
		out := m.Record(context.Background(), SignalDevTools, "Developer tools access attempted", base.Add(time.Duration(i)*10*time.Second))
		if out.Terminated {
			t.Fatalf("terminated at count %d, threshold is 3", i+1)
		}
	}
	if *terminations != 0 {
		t.Fatalf("termination fired before threshold")
	}

	out := m.Record(context.Background(), SignalDevTools, "Developer tools access attempted", base.Add(30*time.Second))
	if !out.Terminated {
		t.Fatal("third signal did not terminate")
	}
	if *terminations != 1 || *submissions != 1 {
		t.Fatalf("terminations=%d submissions=%d, want 1/1", *terminations, *submissions)
	}

	// Further signals must not re-fire the one-shot sequence.
	out = m.Record(context.Background(), SignalDevTools, "Developer tools access attempted", base.Add(40*time.Second))
	if out.Terminated {
		t.Fatal("termination reported twice")
	}
	if *terminations != 1 || *submissions != 1 {
		t.Fatalf("duplicate termination: terminations=%d submissions=%d", *terminations, *submissions)
	}
	if !m.Terminated() {
		t.Fatal("Terminated() = false after threshold")
	}
}

func TestRecordIsSafeAcrossConcurrentConnections(t *testing.T) {
	// The same student in two tabs means two read loops feeding the one
	// registry-shared monitor at the same time.
	m, _, terminations, _ := newTestMonitor(t, 60)
	base := time.Now()

	var terminated int32
	var wg sync.WaitGroup
	for g := 0; g < 2; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 40; i++ {
				at := base.Add(time.Duration(g*40+i) * 10 * time.Second)
				out := m.Record(context.Background(), SignalClipboard, "Copy/Paste/Cut attempted", at)
				if out.Terminated {
					atomic.AddInt32(&terminated, 1)
				}
			}
		}(g)
	}
	wg.Wait()

	if got := m.IntentionalCount(SignalClipboard); got != 80 {
		t.Fatalf("IntentionalCount = %d, want 80", got)
	}
	if terminated != 1 {
		t.Fatalf("Terminated reported %d times, want exactly once", terminated)
	}
	if *terminations != 1 {
		t.Fatalf("termination callback fired %d times, want 1", *terminations)
	}
}

func TestDebouncedSignalsStillCountAndTerminate(t *testing.T) {
	m, transport, terminations, _ := newTestMonitor(t, 3)
	base := time.Now()

	// Three clipboard hits within one debounce window: one notification,
	// three counts, termination on the third.
	out1 := m.Record(context.Background(), SignalClipboard, "Copy/Paste/Cut attempted", base)
	out2 := m.Record(context.Background(), SignalClipboard, "Copy/Paste/Cut attempted", base.Add(time.Second))
	out3 := m.Record(context.Background(), SignalClipboard, "Copy/Paste/Cut attempted", base.Add(2*time.Second))

	if !out1.Notify || out2.Notify || out3.Notify {
		t.Fatalf("notify flags = %v %v %v, want true false false", out1.Notify, out2.Notify, out3.Notify)
	}
	if out3.Count != 3 {
		t.Fatalf("count after burst = %d, want 3", out3.Count)
	}
	if !out3.Terminated {
		t.Fatal("suppressed burst evaded termination")
	}
	if *terminations != 1 {
		t.Fatalf("terminations = %d, want 1", *terminations)
	}
	if transport.count() != 1 {
		t.Fatalf("transport received %d events, want 1 (burst debounced)", transport.count())
	}
}

func TestDebounceWindowExpires(t *testing.T) {
	m, transport, _, _ := newTestMonitor(t, 100)
	base := time.Now()

	m.Record(context.Background(), SignalPrintAttempt, "Print attempt detected", base)
	m.Record(context.Background(), SignalPrintAttempt, "Print attempt detected", base.Add(6*time.Second))

	if transport.count() != 2 {
		t.Fatalf("transport received %d events, want 2 (window expired)", transport.count())
	}
}

func TestDebounceIsPerKind(t *testing.T) {
	m, transport, _, _ := newTestMonitor(t, 100)
	base := time.Now()

	m.Record(context.Background(), SignalClipboard, "Copy/Paste/Cut attempted", base)
	out := m.Record(context.Background(), SignalDevTools, "Developer tools access attempted", base.Add(time.Second))

	if !out.Notify {
		t.Fatal("different kind suppressed by another kind's window")
	}
	if transport.count() != 2 {
		t.Fatalf("transport received %d events, want 2", transport.count())
	}
}

func TestTechnicalIssuesNeverCountOrTerminate(t *testing.T) {
	m, _, terminations, _ := newTestMonitor(t, 1)
	base := time.Now()

	descriptions := []struct {
		kind SignalKind
		desc string
	}{
		{SignalNetworkError, "Network connection lost"},
		{SignalNetworkError, "Request timeout while syncing"},
		{SignalWebcamError, "Webcam permission denied"},
		{SignalWebcamError, "Webcam hardware not found"},
	}
	for i, d := range descriptions {
		out := m.Record(context.Background(), d.kind, d.desc, base.Add(time.Duration(i)*10*time.Second))
		if out.Intentional {
			t.Fatalf("%q classified as intentional", d.desc)
		}
		if out.Count != 0 {
			t.Fatalf("technical signal %q counted: %d", d.desc, out.Count)
		}
		if out.Severity != model.SeverityLow {
			t.Fatalf("technical signal severity = %s, want low", out.Severity)
		}
	}
	if *terminations != 0 {
		t.Fatal("technical signals triggered termination")
	}
}

func TestLocalLogIsCappedAndCopied(t *testing.T) {
	m, _, _, _ := newTestMonitor(t, 10000)
	base := time.Now()

	for i := 0; i < localLogCap+20; i++ {
		m.Record(context.Background(), SignalRightClick, "Right-click detected", base.Add(time.Duration(i)*10*time.Second))
	}

	log := m.Violations()
	if len(log) != localLogCap {
		t.Fatalf("log length = %d, want %d", len(log), localLogCap)
	}
	log[0].Description = "mutated"
	if m.Violations()[0].Description == "mutated" {
		t.Fatal("Violations returned a shared slice")
	}
}

func TestDelayedAutoSubmitRunsOnce(t *testing.T) {
	transport := &captureTransport{}
	var mu sync.Mutex
	submissions := 0
	m := NewMonitor(Config{
		ExamID:      uuid.New(),
		StudentID:   7,
		AttemptID:   uuid.New(),
		Threshold:   1,
		SubmitDelay: 10 * time.Millisecond,
		Transport:   transport,
		Submit: func() {
			mu.Lock()
			submissions++
			mu.Unlock()
		},
		Logger: zerolog.Nop(),
	})
	defer m.Close()

	m.Record(context.Background(), SignalAltTab, "Alt+Tab detected", time.Now())

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	got := submissions
	mu.Unlock()
	if got != 1 {
		t.Fatalf("submissions = %d, want 1", got)
	}
}

func TestCloseCancelsPendingSubmit(t *testing.T) {
	var mu sync.Mutex
	submissions := 0
	m := NewMonitor(Config{
		ExamID:      uuid.New(),
		StudentID:   7,
		AttemptID:   uuid.New(),
		Threshold:   1,
		SubmitDelay: 20 * time.Millisecond,
		Submit: func() {
			mu.Lock()
			submissions++
			mu.Unlock()
		},
		Logger: zerolog.Nop(),
	})

	m.Record(context.Background(), SignalAltTab, "Alt+Tab detected", time.Now())
	m.Close()

	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	got := submissions
	mu.Unlock()
	if got != 0 {
		t.Fatalf("submit fired after Close: %d", got)
	}
}
