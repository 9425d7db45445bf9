package rest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"text/template"

	"github.com/upb/hr-onboarding/config"
	"github.com/upb/hr-onboarding/models"
	"go.uber.org/zap"
)

var welcomeEmail = template.Must(template.New("welcome").Parse(`Hi {{.GivenName}},

Welcome to {{.Team}}! We're excited to have you start on {{.StartDate}}.

Your work account is {{.Account}}. Sign in before your first meeting so your
calendar and chat are ready.
{{- if .Title}}

You're joining us as {{.Title}}.
{{- end}}

See you soon,
People Operations
`))

type welcomeEmailData struct {
	GivenName string
	Team      string
	Title     string
	StartDate string
	Account   string
}

// Mail sends the welcome email
type Mail struct {
	client *Client
	from   string
}

// NewMail creates the mail adapter
func NewMail(cfg config.MailConfig, logger *zap.Logger) *Mail {
	return &Mail{
		client: NewClient("mail", cfg.ClientConfig, logger),
		from:   cfg.From,
	}
}

type messageRequest struct {
	ExternalID string   `json:"external_id"`
	From       string   `json:"from"`
	To         []string `json:"to"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
}

// RenderWelcomeEmail renders the welcome email body
func RenderWelcomeEmail(hire models.Hire, accountRef string) (string, error) {
	var buf bytes.Buffer
	err := welcomeEmail.Execute(&buf, welcomeEmailData{
		GivenName: hire.GivenName(),
		Team:      hire.Team(),
		Title:     hire.Title,
		StartDate: hire.EffectiveStartDate().Format("Monday, January 2"),
		Account:   accountRef,
	})
	if err != nil {
		return "", fmt.Errorf("render welcome email: %w", err)
	}
	return buf.String(), nil
}

// SendWelcomeEmail mails the hire at the new account, copying the personal
// address from the candidate profile when there is one.
func (m *Mail) SendWelcomeEmail(ctx context.Context, hire models.Hire, accountRef string) (string, error) {
	body, err := RenderWelcomeEmail(hire, accountRef)
	if err != nil {
		return "", err
	}
	to := []string{accountRef}
	if hire.Email != "" && hire.Email != accountRef {
		to = append(to, hire.Email)
	}

	var resp idResponse
	err = m.client.do(ctx, request{
		operation:      "send_message",
		method:         http.MethodPost,
		path:           "/messages",
		idempotencyKey: "welcome-email-" + hire.ID,
		body: messageRequest{
			ExternalID: "welcome-email-" + hire.ID,
			From:       m.from,
			To:         to,
			Subject:    "Welcome to the team, " + hire.GivenName(),
			Body:       body,
		},
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", errors.New("mail returned no message id")
	}
	return resp.ID, nil
}
