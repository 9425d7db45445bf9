package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	liptable "github.com/charmbracelet/lipgloss/table"
	"github.com/google/uuid"
	"github.com/upb/hr-onboarding/models"
)

// Summary reports one cycle
type Summary struct {
	CycleID    uuid.UUID                    `json:"cycle_id"`
	DryRun     bool                         `json:"dry_run"`
	Since      time.Time                    `json:"since"`
	StartedAt  time.Time                    `json:"started_at"`
	FinishedAt time.Time                    `json:"finished_at"`
	Detected   int                          `json:"detected"`
	Resumed    int                          `json:"resumed"`
	Processed  int                          `json:"processed"`
	Deferred   int                          `json:"deferred"`
	Counts     map[models.OverallStatus]int `json:"counts"`

	// NeedsAttention lists hires with a Blocked step, in processing order
	NeedsAttention []string      `json:"needs_attention"`
	Hires          []HireSummary `json:"hires"`

	// Aborted holds the reason a cycle-level error ended the cycle early
	Aborted string `json:"aborted,omitempty"`
	// Interrupted holds the stage at which cancellation or the cycle timeout
	// stopped the cycle. Interrupted cycles are not errors.
	Interrupted string `json:"interrupted,omitempty"`
}

// HireSummary is one processed hire
type HireSummary struct {
	HireID  string               `json:"hire_id"`
	Name    string               `json:"name"`
	Status  models.OverallStatus `json:"status"`
	Blocked []models.StepName    `json:"blocked,omitempty"`
	Steps   int                  `json:"steps_attempted"`
	Resumed bool                 `json:"resumed"`
	Error   string               `json:"error,omitempty"`
}

func newSummary(dryRun bool, startedAt time.Time) *Summary {
	counts := make(map[models.OverallStatus]int, len(models.AllOverallStatuses))
	for _, st := range models.AllOverallStatuses {
		counts[st] = 0
	}
	return &Summary{
		CycleID:        uuid.New(),
		DryRun:         dryRun,
		StartedAt:      startedAt,
		Counts:         counts,
		NeedsAttention: []string{},
		Hires:          []HireSummary{},
	}
}

func (s *Summary) add(h HireSummary) {
	s.Hires = append(s.Hires, h)
	if h.Error != "" {
		return
	}
	s.Processed++
	s.Counts[h.Status]++
	if h.Status == models.OverallNeedsAttention {
		s.NeedsAttention = append(s.NeedsAttention, h.HireID)
	}
}

// Mode names the evaluation mode
func (s *Summary) Mode() string {
	if s.DryRun {
		return "dry-run"
	}
	return "live"
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("191"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	alertStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
	statusColor = map[models.OverallStatus]lipgloss.Color{
		models.OverallNotStarted:     lipgloss.Color("245"),
		models.OverallInProgress:     lipgloss.Color("222"),
		models.OverallComplete:       lipgloss.Color("114"),
		models.OverallNeedsAttention: lipgloss.Color("203"),
	}
)

// Render formats the summary for a terminal
func (s *Summary) Render() string {
	var lines []string
	lines = append(lines, titleStyle.Render(fmt.Sprintf("Onboarding cycle %s (%s)", shortID(s.CycleID), s.Mode())))
	lines = append(lines, labelStyle.Render(fmt.Sprintf("since %s, took %s",
		s.Since.UTC().Format(time.RFC3339), s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))))
	lines = append(lines, fmt.Sprintf("detected %d  resumed %d  processed %d  deferred %d",
		s.Detected, s.Resumed, s.Processed, s.Deferred))

	var counts []string
	for _, st := range models.AllOverallStatuses {
		counts = append(counts, lipgloss.NewStyle().Foreground(statusColor[st]).Render(fmt.Sprintf("%s: %d", st, s.Counts[st])))
	}
	lines = append(lines, strings.Join(counts, "  "))

	if len(s.Hires) > 0 {
		rows := make([][]string, 0, len(s.Hires))
		for _, h := range s.Hires {
			status := string(h.Status)
			detail := joinSteps(h.Blocked)
			if h.Error != "" {
				status = "error"
				detail = h.Error
			}
			origin := "detected"
			if h.Resumed {
				origin = "resumed"
			}
			rows = append(rows, []string{h.HireID, h.Name, status, fmt.Sprintf("%d", h.Steps), origin, detail})
		}
		t := liptable.New().
			Headers("Hire", "Name", "Status", "Attempts", "Origin", "Blocked steps").
			Rows(rows...).
			Border(lipgloss.RoundedBorder()).
			BorderStyle(labelStyle).
			StyleFunc(func(row, col int) lipgloss.Style {
				style := lipgloss.NewStyle().Padding(0, 1)
				if row == liptable.HeaderRow {
					return style.Bold(true).Foreground(lipgloss.Color("245"))
				}
				if col == 2 && row >= 0 && row < len(s.Hires) {
					if c, ok := statusColor[s.Hires[row].Status]; ok {
						style = style.Foreground(c)
					}
				}
				return style
			})
		lines = append(lines, t.Render())
	}

	if len(s.NeedsAttention) > 0 {
		lines = append(lines, alertStyle.Render("Needs attention: "+strings.Join(s.NeedsAttention, ", ")))
	}
	if s.Aborted != "" {
		lines = append(lines, alertStyle.Render("Cycle aborted: "+s.Aborted))
	}
	if s.Interrupted != "" {
		lines = append(lines, labelStyle.Render("Cycle interrupted while "+s.Interrupted))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func joinSteps(steps []models.StepName) string {
	if len(steps) == 0 {
		return "-"
	}
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = string(s)
	}
	return strings.Join(out, ", ")
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}
