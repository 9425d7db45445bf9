package models

import (
	"time"

	"github.com/google/uuid"
)

// StepName identifies one of the fixed provisioning steps
type StepName string

const (
	StepCreateHrisRecord        StepName = "create_hris_record"
	StepCreateKnowledgeBasePage StepName = "create_knowledge_base_page"
	StepProvisionIdentity       StepName = "provision_identity"
	StepScheduleDay1Meetings    StepName = "schedule_day1_meetings"
	StepSendWelcomeEmail        StepName = "send_welcome_email"
	StepSendChatWelcome         StepName = "send_chat_welcome"
	StepNotifyStakeholders      StepName = "notify_stakeholders"
)

// StepDefinition describes a step and the steps that must reach a
// terminal-success state before it may run.
type StepDefinition struct {
	Name          StepName
	Prerequisites []StepName
	System        string // external system the step talks to
}

// StepCatalog lists every required step in dependency order.
var StepCatalog = []StepDefinition{
	{Name: StepCreateHrisRecord, System: "hris"},
	{Name: StepCreateKnowledgeBasePage, System: "knowledge_base", Prerequisites: []StepName{StepCreateHrisRecord}},
	{Name: StepProvisionIdentity, System: "identity", Prerequisites: []StepName{StepCreateHrisRecord}},
	{Name: StepScheduleDay1Meetings, System: "calendar", Prerequisites: []StepName{StepProvisionIdentity}},
	{Name: StepSendWelcomeEmail, System: "mail", Prerequisites: []StepName{StepProvisionIdentity}},
	{Name: StepSendChatWelcome, System: "chat", Prerequisites: []StepName{StepProvisionIdentity}},
	{Name: StepNotifyStakeholders, System: "chat", Prerequisites: []StepName{
		StepCreateKnowledgeBasePage,
		StepScheduleDay1Meetings,
		StepSendWelcomeEmail,
		StepSendChatWelcome,
	}},
}

// RequiredSteps returns the names of all catalogue steps in order.
func RequiredSteps() []StepName {
	names := make([]StepName, 0, len(StepCatalog))
	for _, def := range StepCatalog {
		names = append(names, def.Name)
	}
	return names
}

// LookupStep returns the catalogue definition for name.
func LookupStep(name StepName) (StepDefinition, bool) {
	for _, def := range StepCatalog {
		if def.Name == name {
			return def, true
		}
	}
	return StepDefinition{}, false
}

// StepStatus is the persisted status of one step attempt
type StepStatus string

const (
	// StepStatusPending marks an operator reset; it restarts the retry budget.
	StepStatusPending   StepStatus = "pending"
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// StepResult is one append-only attempt record.
type StepResult struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	HireID      string     `json:"hire_id" db:"hire_id"`
	Step        StepName   `json:"step" db:"step"`
	Attempt     int        `json:"attempt" db:"attempt"`
	Status      StepStatus `json:"status" db:"status"`
	ExternalRef string     `json:"external_ref,omitempty" db:"external_ref"`
	Error       string     `json:"error,omitempty" db:"error"`
	Note        string     `json:"note,omitempty" db:"note"`
	DryRun      bool       `json:"dry_run" db:"dry_run"`
	RecordedAt  time.Time  `json:"recorded_at" db:"recorded_at"`
}

// TableName returns the table name for the StepResult model
func (StepResult) TableName() string {
	return "step_results"
}

// NewStepResult creates a new StepResult. The attempt number is assigned by the store.
func NewStepResult(hireID string, step StepName, status StepStatus) *StepResult {
	return &StepResult{
		ID:         uuid.New(),
		HireID:     hireID,
		Step:       step,
		Status:     status,
		RecordedAt: time.Now().UTC(),
	}
}

// WithRef sets the external reference produced by a successful step
func (s *StepResult) WithRef(ref string) *StepResult {
	s.ExternalRef = ref
	return s
}

// WithError sets the error detail of a failed step
func (s *StepResult) WithError(err error) *StepResult {
	if err != nil {
		s.Error = err.Error()
	}
	return s
}

// WithNote attaches a free-form note
func (s *StepResult) WithNote(note string) *StepResult {
	s.Note = note
	return s
}

// AsDryRun marks the result as produced by a dry run
func (s *StepResult) AsDryRun() *StepResult {
	s.DryRun = true
	return s
}

// IsTerminalSuccess reports whether the result satisfies dependents.
func (s StepResult) IsTerminalSuccess() bool {
	return s.Status == StepStatusSucceeded || s.Status == StepStatusSkipped
}

// VisibleIn reports whether the result counts for an evaluation in the given mode.
// Dry-run results are invisible to live evaluation.
func (s StepResult) VisibleIn(dryRun bool) bool {
	return !s.DryRun || dryRun
}
