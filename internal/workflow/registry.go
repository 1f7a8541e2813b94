package workflow

import (
	"fmt"
	"sync"
	"time"
)

// ActiveRun is one in-flight workflow execution, keyed by case id.
type ActiveRun struct {
	CaseID    string
	RunID     string
	StartedAt time.Time
	Origin    string
}

// ActiveRuns is the in-process registry enforcing at most one
// non-terminal run per case id. Presence in the map means non-terminal;
// Unregister always runs in the coordinator's cleanup path.
type ActiveRuns struct {
	mu   sync.Mutex
	runs map[string]ActiveRun
}

// NewActiveRuns creates an empty registry.
func NewActiveRuns() *ActiveRuns {
	return &ActiveRuns{runs: make(map[string]ActiveRun)}
}

// Register claims the case id for a run. A second registration while the
// first is still active is rejected.
func (a *ActiveRuns) Register(caseID, runID, origin string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if existing, ok := a.runs[caseID]; ok {
		return fmt.Errorf("workflow: case %s already running as %s", caseID, existing.RunID)
	}

	a.runs[caseID] = ActiveRun{
		CaseID:    caseID,
		RunID:     runID,
		StartedAt: time.Now(),
		Origin:    origin,
	}

	return nil
}

// Unregister releases the case id. Safe to call for an unknown case.
func (a *ActiveRuns) Unregister(caseID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.runs, caseID)
}

// Snapshot returns the currently active runs.
func (a *ActiveRuns) Snapshot() []ActiveRun {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]ActiveRun, 0, len(a.runs))
	for _, r := range a.runs {
		out = append(out, r)
	}

	return out
}
