package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/upb/hr-onboarding/config"
	"github.com/upb/hr-onboarding/models"
	"go.uber.org/zap"
)

// HRIS serves both the source-of-hire feed and employee record creation
type HRIS struct {
	client *Client
}

// NewHRIS creates the HRIS adapter
func NewHRIS(cfg config.ClientConfig, logger *zap.Logger) *HRIS {
	return &HRIS{client: NewClient("hris", cfg, logger)}
}

type transitionWire struct {
	CandidateID    string    `json:"candidate_id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Title          string    `json:"title"`
	Department     string    `json:"department"`
	ManagerID      string    `json:"manager_id"`
	StartDate      string    `json:"start_date"` // YYYY-MM-DD or RFC3339
	TransitionedAt time.Time `json:"transitioned_at"`
}

type transitionsResponse struct {
	Transitions []transitionWire `json:"transitions"`
}

// ListTransitions fetches hired transitions since the given time
func (h *HRIS) ListTransitions(ctx context.Context, since time.Time) ([]models.HireTransition, error) {
	var resp transitionsResponse
	err := h.client.do(ctx, request{
		operation: "list_transitions",
		method:    http.MethodGet,
		path:      "/transitions",
		query: url.Values{
			"status": {"hired"},
			"since":  {since.UTC().Format(time.RFC3339)},
		},
	}, &resp)
	if err != nil {
		return nil, err
	}

	out := make([]models.HireTransition, 0, len(resp.Transitions))
	for _, w := range resp.Transitions {
		out = append(out, models.HireTransition{
			CandidateID:    w.CandidateID,
			Name:           w.Name,
			Email:          w.Email,
			Title:          w.Title,
			Department:     w.Department,
			ManagerID:      w.ManagerID,
			StartDate:      parseDate(w.StartDate),
			TransitionedAt: w.TransitionedAt,
		})
	}
	return out, nil
}

// parseDate returns the zero time for empty or malformed dates; the hire then
// falls back to the next working day.
func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

type employeeRequest struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	Email      string `json:"personal_email,omitempty"`
	Title      string `json:"title,omitempty"`
	Department string `json:"department"`
	ManagerID  string `json:"manager_id,omitempty"`
	StartDate  string `json:"start_date"`
}

// CreateEmployeeRecord creates the employee record keyed by candidate ID
func (h *HRIS) CreateEmployeeRecord(ctx context.Context, hire models.Hire) (string, error) {
	var resp idResponse
	err := h.client.do(ctx, request{
		operation:      "create_employee",
		method:         http.MethodPost,
		path:           "/employees",
		idempotencyKey: "employee-" + hire.ID,
		body: employeeRequest{
			ExternalID: hire.ID,
			Name:       hire.Name,
			Email:      hire.Email,
			Title:      hire.Title,
			Department: hire.Department,
			ManagerID:  hire.ManagerID,
			StartDate:  hire.EffectiveStartDate().Format("2006-01-02"),
		},
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("hris returned no employee id")
	}
	return resp.ID, nil
}
