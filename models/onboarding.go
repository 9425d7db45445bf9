package models

import (
	"sort"
	"time"
)

// StepState is the derived state of a step for one evaluation mode.
type StepState string

const (
	StepStatePending   StepState = "pending"
	StepStateRunning   StepState = "running"
	StepStateSucceeded StepState = "succeeded"
	StepStateFailed    StepState = "failed"
	StepStateSkipped   StepState = "skipped"
	StepStateBlocked   StepState = "blocked"
)

// IsTerminalSuccess reports whether dependents of a step in this state may run
func (s StepState) IsTerminalSuccess() bool {
	return s == StepStateSucceeded || s == StepStateSkipped
}

// OverallStatus is the derived status of a hire. It is never stored.
type OverallStatus string

const (
	OverallNotStarted     OverallStatus = "not_started"
	OverallInProgress     OverallStatus = "in_progress"
	OverallComplete       OverallStatus = "complete"
	OverallNeedsAttention OverallStatus = "needs_attention"
)

// AllOverallStatuses lists statuses in reporting order
var AllOverallStatuses = []OverallStatus{
	OverallNotStarted,
	OverallInProgress,
	OverallComplete,
	OverallNeedsAttention,
}

// ParseOverallStatus parses a status name; ok is false for unknown names.
func ParseOverallStatus(s string) (OverallStatus, bool) {
	for _, st := range AllOverallStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// StepView selects which results count and how many failures block a step.
type StepView struct {
	DryRun      bool
	MaxAttempts int
}

func (v StepView) maxAttempts() int {
	if v.MaxAttempts < 1 {
		return 1
	}
	return v.MaxAttempts
}

// OnboardingRecord is the durable per-hire audit trail. Exactly one exists per hire ID.
type OnboardingRecord struct {
	HireID    string       `json:"hire_id" db:"hire_id"`
	Hire      Hire         `json:"hire" db:"hire"` // JSONB snapshot taken on first sight
	Steps     []StepResult `json:"steps"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the OnboardingRecord model
func (OnboardingRecord) TableName() string {
	return "onboarding_records"
}

// NewOnboardingRecord creates an empty record for a hire
func NewOnboardingRecord(hire Hire) *OnboardingRecord {
	now := time.Now().UTC()
	return &OnboardingRecord{
		HireID:    hire.ID,
		Hire:      hire,
		Steps:     []StepResult{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy safe to hand to another goroutine
func (r *OnboardingRecord) Clone() *OnboardingRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Steps = make([]StepResult, len(r.Steps))
	copy(out.Steps, r.Steps)
	return &out
}

// Append adds a result to the history.
func (r *OnboardingRecord) Append(result StepResult) {
	r.Steps = append(r.Steps, result)
	if result.RecordedAt.After(r.UpdatedAt) {
		r.UpdatedAt = result.RecordedAt
	}
}

// Attempts returns every result for step regardless of mode, in attempt order
func (r *OnboardingRecord) Attempts(step StepName) []StepResult {
	var out []StepResult
	for _, res := range r.Steps {
		if res.Step == step {
			out = append(out, res)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Attempt < out[j].Attempt })
	return out
}

// NextAttempt returns the attempt number the next result for step receives
func (r *OnboardingRecord) NextAttempt(step StepName) int {
	next := 1
	for _, res := range r.Steps {
		if res.Step == step && res.Attempt >= next {
			next = res.Attempt + 1
		}
	}
	return next
}

// TerminalResult returns the cached Succeeded/Skipped result visible in the
// given mode, or nil. Live results win over dry-run ones.
func (r *OnboardingRecord) TerminalResult(step StepName, dryRun bool) *StepResult {
	var found *StepResult
	for _, res := range r.Attempts(step) {
		if !res.VisibleIn(dryRun) || !res.IsTerminalSuccess() {
			continue
		}
		res := res
		if found == nil || (found.DryRun && !res.DryRun) {
			found = &res
		}
	}
	return found
}

// FailedAttempts counts visible failures since the latest operator reset.
func (r *OnboardingRecord) FailedAttempts(step StepName, dryRun bool) int {
	failures := 0
	for _, res := range r.Attempts(step) {
		if !res.VisibleIn(dryRun) {
			continue
		}
		switch res.Status {
		case StepStatusPending:
			failures = 0
		case StepStatusFailed:
			failures++
		}
	}
	return failures
}

// LastResult returns the latest visible result for step, or nil.
func (r *OnboardingRecord) LastResult(step StepName, dryRun bool) *StepResult {
	attempts := r.Attempts(step)
	for i := len(attempts) - 1; i >= 0; i-- {
		if attempts[i].VisibleIn(dryRun) {
			res := attempts[i]
			return &res
		}
	}
	return nil
}

// StepState derives the state of step under view.
func (r *OnboardingRecord) StepState(step StepName, view StepView) StepState {
	if term := r.TerminalResult(step, view.DryRun); term != nil {
		if term.Status == StepStatusSkipped {
			return StepStateSkipped
		}
		return StepStateSucceeded
	}
	failures := r.FailedAttempts(step, view.DryRun)
	switch {
	case failures == 0:
		return StepStatePending
	case failures >= view.maxAttempts():
		return StepStateBlocked
	default:
		return StepStateFailed
	}
}

// PrerequisitesMet reports whether every prerequisite of def is Succeeded or Skipped.
func (r *OnboardingRecord) PrerequisitesMet(def StepDefinition, view StepView) bool {
	for _, pre := range def.Prerequisites {
		if !r.StepState(pre, view).IsTerminalSuccess() {
			return false
		}
	}
	return true
}

// StepStates returns the derived state of every catalogue step.
func (r *OnboardingRecord) StepStates(view StepView) map[StepName]StepState {
	states := make(map[StepName]StepState, len(StepCatalog))
	for _, def := range StepCatalog {
		states[def.Name] = r.StepState(def.Name, view)
	}
	return states
}

// OverallStatus derives the hire status from its step states.
func (r *OnboardingRecord) OverallStatus(view StepView) OverallStatus {
	attempted := false
	complete := true
	for _, def := range StepCatalog {
		state := r.StepState(def.Name, view)
		if state == StepStateBlocked {
			return OverallNeedsAttention
		}
		if !state.IsTerminalSuccess() {
			complete = false
		}
	}
	if complete {
		return OverallComplete
	}
	for _, res := range r.Steps {
		if res.VisibleIn(view.DryRun) && res.Status != StepStatusPending {
			attempted = true
			break
		}
	}
	if !attempted {
		return OverallNotStarted
	}
	return OverallInProgress
}

// IsComplete reports whether every required step is Succeeded or Skipped.
func (r *OnboardingRecord) IsComplete(view StepView) bool {
	return r.OverallStatus(view) == OverallComplete
}

// BlockedSteps lists catalogue steps in the Blocked state
func (r *OnboardingRecord) BlockedSteps(view StepView) []StepName {
	var out []StepName
	for _, def := range StepCatalog {
		if r.StepState(def.Name, view) == StepStateBlocked {
			out = append(out, def.Name)
		}
	}
	return out
}
