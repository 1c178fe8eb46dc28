package proctor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/invigilo/invigilo-backend/internal/model"
)

const (
	defaultDebounce    = 5 * time.Second
	defaultSubmitDelay = 2 * time.Second
	localLogCap        = 50
)

// Transport delivers a classified violation to the durable pipeline.
// Implementations handle their own fallback; callers see one logical
// Send. Failure is non-fatal — counting and termination never depend
// on delivery.
type Transport interface {
	Send(ctx context.Context, event model.StoredEvent) error
}

// Violation is one classified entry in the monitor's capped local log.
type Violation struct {
	Kind        SignalKind
	Description string
	Severity    model.Severity
	Intentional bool
	At          time.Time
}

// Outcome reports what Record decided for a single signal.
type Outcome struct {
	Intentional bool
	Count       int  // intentional count for this kind, after the signal
	Notify      bool // false when suppressed by the debounce window
	Terminated  bool // true exactly once, on the signal that crossed the threshold
	Severity    model.Severity
}

// Config wires a Monitor to its attempt.
type Config struct {
	ExamID    uuid.UUID
	StudentID int
	AttemptID uuid.UUID

	// Threshold is the per-kind intentional count that triggers
	// termination. Zero falls back to 3.
	Threshold   int
	Debounce    time.Duration
	SubmitDelay time.Duration

	Transport   Transport
	OnTerminate func(reason string)
	Submit      func()

	Logger zerolog.Logger
}

// Monitor is the per-attempt termination controller: it classifies raw
// signals, keeps per-kind intentional counters with debounce bookkeeping,
// and fires the one-shot terminate/auto-submit sequence when any kind
// reaches the threshold.
//
// The registry hands every connection for the same attempt the same
// Monitor, so a student with two open tabs has two read loops calling
// Record concurrently. All adjudication state sits behind mu; the
// transport and termination callbacks run outside it.
type Monitor struct {
	cfg Config

	mu          sync.Mutex
	classifier  *Classifier
	counts      map[SignalKind]int
	lastSeen    map[SignalKind]time.Time
	lastSent    map[SignalKind]time.Time
	log         []Violation
	terminated  bool
	submitted   bool
	submitTimer *time.Timer

	logger zerolog.Logger
}

// NewMonitor creates a termination controller for one attempt.
func NewMonitor(cfg Config) *Monitor {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 3
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	if cfg.SubmitDelay < 0 {
		cfg.SubmitDelay = defaultSubmitDelay
	}

	return &Monitor{
		cfg:        cfg,
		classifier: NewClassifier(),
		counts:     make(map[SignalKind]int),
		lastSeen:   make(map[SignalKind]time.Time),
		lastSent:   make(map[SignalKind]time.Time),
		logger: cfg.Logger.With().
			Str("component", "proctor_monitor").
			Str("exam_id", cfg.ExamID.String()).
			Int("student_id", cfg.StudentID).
			Logger(),
	}
}

// Record classifies and adjudicates one raw signal. Suppressed
// notifications (same kind within the debounce window) still count when
// intentional and still re-check the termination threshold, so a
// debounced burst cannot evade termination.
func (m *Monitor) Record(ctx context.Context, kind SignalKind, description string, now time.Time) Outcome {
	m.mu.Lock()

	intentional := m.classifier.Classify(kind, description, now)
	severity := DefaultSeverity(kind)
	if !intentional {
		severity = model.SeverityLow
	}

	out := Outcome{Intentional: intentional, Severity: severity}

	suppressed := false
	if last, ok := m.lastSent[kind]; ok && now.Sub(last) < m.cfg.Debounce {
		suppressed = true
	}

	if intentional {
		m.counts[kind]++
	}
	out.Count = m.counts[kind]
	m.lastSeen[kind] = now

	m.appendLog(Violation{
		Kind:        kind,
		Description: description,
		Severity:    severity,
		Intentional: intentional,
		At:          now,
	})

	if !suppressed {
		m.lastSent[kind] = now
		out.Notify = true
	}

	// Technical issues never terminate; intentional counts are
	// re-checked even when the notification was debounced.
	if intentional && out.Count >= m.cfg.Threshold && !m.terminated {
		m.terminated = true
		out.Terminated = true
	}
	m.mu.Unlock()

	if out.Notify {
		m.emit(ctx, kind, description, severity, intentional, now)
	}
	if out.Terminated {
		m.finalize(kind, out.Count)
	}
	return out
}

// Violations returns a copy of the capped local log.
func (m *Monitor) Violations() []Violation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Violation, len(m.log))
	copy(out, m.log)
	return out
}

// IntentionalCount returns the running intentional counter for a kind.
func (m *Monitor) IntentionalCount(kind SignalKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[kind]
}

// Terminated reports whether the one-shot termination has fired.
func (m *Monitor) Terminated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminated
}

// Close cancels the pending auto-submit timer. Call on connection
// teardown so no submission fires after the attempt is gone.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitTimer != nil {
		m.submitTimer.Stop()
		m.submitTimer = nil
	}
}

// finalize runs the one-shot termination sequence. The terminated flag
// was already flipped under the lock, so exactly one Record call per
// monitor ever gets here.
func (m *Monitor) finalize(kind SignalKind, count int) {
	reason := "Too many intentional violations: " + string(kind)
	m.logger.Warn().
		Str("kind", string(kind)).
		Int("count", count).
		Msg("Violation threshold crossed, terminating attempt")

	if m.cfg.OnTerminate != nil {
		m.cfg.OnTerminate(reason)
	}

	if m.cfg.Submit != nil {
		if m.cfg.SubmitDelay == 0 {
			m.runSubmit()
		} else {
			m.mu.Lock()
			m.submitTimer = time.AfterFunc(m.cfg.SubmitDelay, m.runSubmit)
			m.mu.Unlock()
		}
	}
}

// runSubmit invokes the submission callback at most once. Submission
// itself is idempotent downstream; the guard here just avoids scheduling
// duplicates from the timer and the direct path.
func (m *Monitor) runSubmit() {
	m.mu.Lock()
	if m.submitted {
		m.mu.Unlock()
		return
	}
	m.submitted = true
	m.mu.Unlock()

	m.cfg.Submit()
}

func (m *Monitor) appendLog(v Violation) {
	m.log = append(m.log, v)
	if len(m.log) > localLogCap {
		m.log = m.log[len(m.log)-localLogCap:]
	}
}

// emit hands the classified violation to the transport. Fire-and-forget:
// a delivery error is logged and ignored so local adjudication proceeds.
func (m *Monitor) emit(ctx context.Context, kind SignalKind, description string, severity model.Severity, intentional bool, now time.Time) {
	if m.cfg.Transport == nil {
		return
	}

	event := model.StoredEvent{
		ExamID:      m.cfg.ExamID,
		StudentID:   m.cfg.StudentID,
		AttemptID:   m.cfg.AttemptID,
		Type:        model.EventTypeViolation,
		Severity:    severity,
		Description: description,
		Intentional: intentional,
		RecordedAt:  now,
	}

	if err := m.cfg.Transport.Send(ctx, event); err != nil {
		m.logger.Warn().Err(err).Str("kind", string(kind)).Msg("Violation transport failed")
	}
}
