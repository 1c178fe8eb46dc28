package proctor

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Registry owns the live Monitors, one per in-progress attempt, so a
// student who reconnects mid-exam resumes the same counters instead of
// getting a fresh benefit of the doubt.
type Registry struct {
	mu       sync.Mutex
	monitors map[string]*Monitor
}

func NewRegistry() *Registry {
	return &Registry{monitors: make(map[string]*Monitor)}
}

func key(examID uuid.UUID, studentID int) string {
	return fmt.Sprintf("%s:%d", examID, studentID)
}

// GetOrCreate returns the attempt's Monitor, creating it with build on
// first use.
func (r *Registry) GetOrCreate(examID uuid.UUID, studentID int, build func() *Monitor) *Monitor {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(examID, studentID)
	if m, ok := r.monitors[k]; ok {
		return m
	}
	m := build()
	r.monitors[k] = m
	return m
}

// Remove closes and drops the attempt's Monitor. Called when the attempt
// reaches a terminal state, not on mere disconnect.
func (r *Registry) Remove(examID uuid.UUID, studentID int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(examID, studentID)
	if m, ok := r.monitors[k]; ok {
		m.Close()
		delete(r.monitors, k)
	}
}

// Close tears down every live monitor. Used on shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k, m := range r.monitors {
		m.Close()
		delete(r.monitors, k)
	}
}
