// Package status tracks the progress of the current harness run so the
// status server can report it while the run is in progress.
package status

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Phase of a run.
type Phase string

const (
	PhasePending  Phase = "pending"
	PhaseSetup    Phase = "setup"
	PhaseExercise Phase = "exercise"
	PhaseTeardown Phase = "teardown"
	PhaseFinished Phase = "finished"
)

// Run is a point-in-time copy of the tracked state.
type Run struct {
	ID         string     `json:"id"`
	Scenario   string     `json:"scenario"`
	Domain     string     `json:"domain"`
	Phase      Phase      `json:"phase"`
	Created    int        `json:"snapshots_created"`
	Target     int        `json:"snapshots_target"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Tracker is safe for concurrent use. A nil Tracker ignores every update.
type Tracker struct {
	mu  sync.Mutex
	run Run
	now func() time.Time
}

func NewTracker(scenario, domain string) *Tracker {
	t := &Tracker{now: time.Now}
	t.run = Run{
		ID:        uuid.NewString(),
		Scenario:  scenario,
		Domain:    domain,
		Phase:     PhasePending,
		StartedAt: t.now(),
	}
	return t
}

// ID returns the run id.
func (t *Tracker) ID() string {
	if t == nil {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.run.ID
}

func (t *Tracker) SetPhase(p Phase) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.run.Phase = p
}

// SetTarget sets how many snapshots the run intends to create.
func (t *Tracker) SetTarget(n int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.run.Target = n
}

func (t *Tracker) SnapshotCreated() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.run.Created++
}

// Finish marks the run finished with err, which may be nil.
func (t *Tracker) Finish(err error) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.run.Phase = PhaseFinished
	t.run.FinishedAt = &now
	if err != nil {
		t.run.Error = err.Error()
	}
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Run {
	if t == nil {
		return Run{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.run
	if r.FinishedAt != nil {
		at := *r.FinishedAt
		r.FinishedAt = &at
	}
	return r
}
