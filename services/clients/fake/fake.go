// Package fake provides in-memory External System Clients for tests. Every
// create is keyed by operation and hire ID; a second create for the same key is
// rejected and counted as a duplicate side effect.
package fake

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/upb/hr-onboarding/models"
	"github.com/upb/hr-onboarding/services/clients"
)

// Operation names
const (
	OpListTransitions    = "list_transitions"
	OpCreateEmployee     = "create_employee"
	OpCreatePage         = "create_page"
	OpCreateAccount      = "create_account"
	OpScheduleMeetings   = "schedule_meetings"
	OpSendEmail          = "send_email"
	OpSendChatWelcome    = "send_chat_welcome"
	OpNotifyStakeholders = "notify_stakeholders"
)

// ErrDuplicateCreate is returned when an operation repeats for the same hire
var ErrDuplicateCreate = errors.New("duplicate create")

// Call is one recorded client call
type Call struct {
	Operation string
	HireID    string
	Arg       string
	At        time.Time
}

// Systems fakes every external system
type Systems struct {
	mu          sync.Mutex
	calls       []Call
	created     map[string]string
	failures    map[string]int
	duplicates  int
	transitions []models.HireTransition
	sourceErr   error

	// OnCall runs before every mutating call; a non-nil error fails the call
	OnCall func(ctx context.Context, op, hireID string) error
}

// NewSystems creates an empty fake
func NewSystems() *Systems {
	return &Systems{
		created:  make(map[string]string),
		failures: make(map[string]int),
	}
}

// Clients returns a Set wired to every fake system
func (s *Systems) Clients() clients.Set {
	return clients.Set{
		HRIS:          s,
		Identity:      s,
		KnowledgeBase: s,
		Calendar:      s,
		Mail:          s,
		Chat:          s,
	}
}

// SetTransitions replaces the source-of-hire feed
func (s *Systems) SetTransitions(t ...models.HireTransition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions = append([]models.HireTransition(nil), t...)
}

// SetSourceError makes ListTransitions fail with err until cleared with nil
func (s *Systems) SetSourceError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sourceErr = err
}

// FailNext makes the next n calls of op fail
func (s *Systems) FailNext(op string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = n
}

// Calls returns the recorded calls, optionally filtered to ops
func (s *Systems) Calls(ops ...string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if len(ops) == 0 || contains(ops, c.Operation) {
			out = append(out, c)
		}
	}
	return out
}

// MutatingCalls counts calls other than ListTransitions
func (s *Systems) MutatingCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Operation != OpListTransitions {
			n++
		}
	}
	return n
}

// Duplicates counts rejected repeat creates
func (s *Systems) Duplicates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duplicates
}

// Created returns the created objects keyed "op/hireID"
func (s *Systems) Created() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.created))
	for k := range s.created {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func (s *Systems) create(ctx context.Context, op, hireID, arg string) (string, error) {
	if s.OnCall != nil {
		if err := s.OnCall(ctx, op, hireID); err != nil {
			s.record(op, hireID, arg)
			return "", err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Operation: op, HireID: hireID, Arg: arg, At: time.Now()})

	if n := s.failures[op]; n > 0 {
		s.failures[op] = n - 1
		return "", clients.NewClientError("fake", op, 503, true, errors.New("injected failure"))
	}
	key := op + "/" + hireID
	if _, ok := s.created[key]; ok {
		s.duplicates++
		return "", clients.NewClientError("fake", op, 409, false, ErrDuplicateCreate)
	}
	ref := fmt.Sprintf("%s-%s", op, hireID)
	s.created[key] = ref
	return ref, nil
}

func (s *Systems) record(op, hireID, arg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Operation: op, HireID: hireID, Arg: arg, At: time.Now()})
}

// ListTransitions implements clients.SourceOfHire
func (s *Systems) ListTransitions(_ context.Context, since time.Time) ([]models.HireTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Operation: OpListTransitions, Arg: since.Format(time.RFC3339), At: time.Now()})
	if s.sourceErr != nil {
		return nil, s.sourceErr
	}
	return append([]models.HireTransition(nil), s.transitions...), nil
}

// CreateEmployeeRecord implements clients.HRIS
func (s *Systems) CreateEmployeeRecord(ctx context.Context, hire models.Hire) (string, error) {
	return s.create(ctx, OpCreateEmployee, hire.ID, "")
}

// CreateAccount implements clients.Identity
func (s *Systems) CreateAccount(ctx context.Context, hire models.Hire) (string, error) {
	if _, err := s.create(ctx, OpCreateAccount, hire.ID, ""); err != nil {
		return "", err
	}
	return hire.ID + "@corp.example", nil
}

// CreateOnboardingPage implements clients.KnowledgeBase
func (s *Systems) CreateOnboardingPage(ctx context.Context, hire models.Hire) (string, error) {
	return s.create(ctx, OpCreatePage, hire.ID, "")
}

// ScheduleMeetings implements clients.Calendar
func (s *Systems) ScheduleMeetings(ctx context.Context, hire models.Hire, accountRef string) ([]string, error) {
	ref, err := s.create(ctx, OpScheduleMeetings, hire.ID, accountRef)
	if err != nil {
		return nil, err
	}
	return []string{ref + "-1", ref + "-2"}, nil
}

// SendWelcomeEmail implements clients.Mail
func (s *Systems) SendWelcomeEmail(ctx context.Context, hire models.Hire, accountRef string) (string, error) {
	return s.create(ctx, OpSendEmail, hire.ID, accountRef)
}

// SendWelcomeMessage implements clients.Chat
func (s *Systems) SendWelcomeMessage(ctx context.Context, hire models.Hire, accountRef string) (string, error) {
	return s.create(ctx, OpSendChatWelcome, hire.ID, accountRef)
}

// NotifyStakeholders implements clients.Chat
func (s *Systems) NotifyStakeholders(ctx context.Context, hire models.Hire, managerID string) (string, error) {
	return s.create(ctx, OpNotifyStakeholders, hire.ID, managerID)
}
