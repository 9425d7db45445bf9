package rest

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/upb/hr-onboarding/config"
	"github.com/upb/hr-onboarding/models"
	"github.com/upb/hr-onboarding/utils"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed default_meeting_plan.yaml
var defaultMeetingPlan []byte

// Attendee roles
const (
	AttendeeHire    = "hire"
	AttendeeManager = "manager"
)

// MeetingPlan lists the Day-1 meetings booked for every hire
type MeetingPlan struct {
	Timezone string    `yaml:"timezone" validate:"required,timezone"`
	Meetings []Meeting `yaml:"meetings" validate:"required,min=1,dive"`

	location *time.Location
}

// Meeting is one entry of the plan
type Meeting struct {
	Key       string        `yaml:"key" validate:"required,max=64"`
	Title     string        `yaml:"title" validate:"required"`
	DayOffset int           `yaml:"day_offset" validate:"min=0,max=30"`
	Start     string        `yaml:"start" validate:"required,clock"`
	Duration  time.Duration `yaml:"duration" validate:"required"`
	Attendees []string      `yaml:"attendees" validate:"required,min=1,dive,oneof=hire manager"`
}

// ParseMeetingPlan decodes and validates a plan
func ParseMeetingPlan(data []byte) (*MeetingPlan, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("meeting plan: payload is empty")
	}
	var plan MeetingPlan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("meeting plan: decode: %w", err)
	}
	if err := utils.ValidateStruct(plan); err != nil {
		return nil, fmt.Errorf("meeting plan: %w", err)
	}
	seen := make(map[string]bool, len(plan.Meetings))
	for _, m := range plan.Meetings {
		if seen[m.Key] {
			return nil, fmt.Errorf("meeting plan: duplicate key %q", m.Key)
		}
		seen[m.Key] = true
	}
	loc, err := time.LoadLocation(plan.Timezone)
	if err != nil {
		return nil, fmt.Errorf("meeting plan: timezone: %w", err)
	}
	plan.location = loc
	return &plan, nil
}

// LoadMeetingPlan reads the plan at path, or the built-in plan when path is empty
func LoadMeetingPlan(path string) (*MeetingPlan, error) {
	if path == "" {
		return ParseMeetingPlan(defaultMeetingPlan)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("meeting plan: read %s: %w", path, err)
	}
	plan, err := ParseMeetingPlan(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return plan, nil
}

// Window returns the start and end of m for a hire starting on startDate
func (p *MeetingPlan) Window(m Meeting, startDate time.Time) (time.Time, time.Time) {
	clock, _ := time.Parse("15:04", m.Start)
	day := startDate.AddDate(0, 0, m.DayOffset)
	start := time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, p.location)
	return start, start.Add(m.Duration)
}

// Calendar books Day-1 meetings
type Calendar struct {
	client *Client
	plan   *MeetingPlan
}

// NewCalendar creates the calendar adapter with the configured meeting plan
func NewCalendar(cfg config.CalendarConfig, logger *zap.Logger) (*Calendar, error) {
	plan, err := LoadMeetingPlan(cfg.MeetingPlanPath)
	if err != nil {
		return nil, err
	}
	return &Calendar{
		client: NewClient("calendar", cfg.ClientConfig, logger),
		plan:   plan,
	}, nil
}

type eventRequest struct {
	ExternalID string   `json:"external_id"`
	Title      string   `json:"title"`
	Start      string   `json:"start"`
	End        string   `json:"end"`
	Timezone   string   `json:"timezone"`
	Organizer  string   `json:"organizer,omitempty"`
	Attendees  []string `json:"attendees"`
}

// ScheduleMeetings books every planned meeting. Each event is keyed by hire and
// meeting so a repeated call after a partial failure reuses earlier events.
func (c *Calendar) ScheduleMeetings(ctx context.Context, hire models.Hire, accountRef string) ([]string, error) {
	startDate := hire.EffectiveStartDate()
	refs := make([]string, 0, len(c.plan.Meetings))
	for _, m := range c.plan.Meetings {
		start, end := c.plan.Window(m, startDate)
		key := hire.ID + "-" + m.Key

		var attendees []string
		for _, role := range m.Attendees {
			switch role {
			case AttendeeHire:
				attendees = append(attendees, accountRef)
			case AttendeeManager:
				if hire.ManagerID != "" {
					attendees = append(attendees, hire.ManagerID)
				}
			}
		}

		var resp idResponse
		err := c.client.do(ctx, request{
			operation:      "create_event",
			method:         http.MethodPost,
			path:           "/events",
			idempotencyKey: key,
			body: eventRequest{
				ExternalID: key,
				Title:      m.Title,
				Start:      start.Format(time.RFC3339),
				End:        end.Format(time.RFC3339),
				Timezone:   c.plan.Timezone,
				Organizer:  hire.ManagerID,
				Attendees:  attendees,
			},
		}, &resp)
		if err != nil {
			return refs, fmt.Errorf("meeting %s: %w", m.Key, err)
		}
		if resp.ID == "" {
			return refs, fmt.Errorf("meeting %s: calendar returned no event id", m.Key)
		}
		refs = append(refs, resp.ID)
	}
	return refs, nil
}
