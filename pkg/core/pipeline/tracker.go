package pipeline

import (
	"sort"
	"sync"
	"time"

	"annualreports/pkg/core/errs"
)

// Run states.
const (
	StateRunning   = "running"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
)

// Status is the last known run state of a company.
type Status struct {
	CompanyID  string        `json:"company_id"`
	RunID      string        `json:"run_id"`
	IRURL      string        `json:"ir_url"`
	State      string        `json:"state"`
	Stage      errs.Stage    `json:"stage,omitempty"`
	Years      []YearOutcome `json:"years"`
	ExportPath string        `json:"export_path,omitempty"`
	Error      string        `json:"error,omitempty"`
	Kind       string        `json:"kind,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}

// Tracker keeps run status in memory. A nil Tracker ignores updates.
type Tracker struct {
	mu       sync.RWMutex
	statuses map[string]*Status
}

func NewTracker() *Tracker {
	return &Tracker{statuses: make(map[string]*Status)}
}

func (t *Tracker) Start(companyID, runID, irURL string, at time.Time) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statuses[companyID] = &Status{CompanyID: companyID, RunID: runID, IRURL: irURL, State: StateRunning, StartedAt: at}
}

func (t *Tracker) Stage(companyID string, stage errs.Stage) {
	t.update(companyID, func(s *Status) { s.Stage = stage })
}

func (t *Tracker) Years(companyID string, years []YearOutcome) {
	snapshot := append([]YearOutcome(nil), years...)
	t.update(companyID, func(s *Status) { s.Years = snapshot })
}

// Finish records the outcome of a run.
func (t *Tracker) Finish(companyID string, report *RunReport, err error, at time.Time) {
	t.update(companyID, func(s *Status) {
		s.FinishedAt = &at
		s.Years = append([]YearOutcome(nil), report.Years...)
		s.ExportPath = report.ExportPath
		if err != nil {
			s.State = StateFailed
			s.Stage = errs.StageOf(err)
			s.Error = err.Error()
			s.Kind = errs.Kind(err)
			return
		}
		s.State = StateSucceeded
		s.Stage = ""
	})
}

func (t *Tracker) update(companyID string, fn func(*Status)) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.statuses[companyID]; ok {
		fn(s)
	}
}

// Get returns a copy of the company's status.
func (t *Tracker) Get(companyID string) (Status, bool) {
	if t == nil {
		return Status{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.statuses[companyID]
	if !ok {
		return Status{}, false
	}
	out := *s
	out.Years = append([]YearOutcome(nil), s.Years...)
	return out, true
}

// List returns every known status ordered by company id.
func (t *Tracker) List() []Status {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	ids := make([]string, 0, len(t.statuses))
	for id := range t.statuses {
		ids = append(ids, id)
	}
	t.mu.RUnlock()
	sort.Strings(ids)

	out := make([]Status, 0, len(ids))
	for _, id := range ids {
		if s, ok := t.Get(id); ok {
			out = append(out, s)
		}
	}
	return out
}
