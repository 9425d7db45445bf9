package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/upb/hr-onboarding/config"
	"github.com/upb/hr-onboarding/models"
	"go.uber.org/zap"
)

// Chat posts welcome and stakeholder messages
type Chat struct {
	client   *Client
	channels []string
}

// NewChat creates the chat adapter
func NewChat(cfg config.ChatConfig, logger *zap.Logger) *Chat {
	return &Chat{
		client:   NewClient("chat", cfg.ClientConfig, logger),
		channels: cfg.StakeholderChannels,
	}
}

type chatMessageRequest struct {
	ExternalID string `json:"external_id"`
	User       string `json:"user,omitempty"`
	Channel    string `json:"channel,omitempty"`
	Text       string `json:"text"`
}

// SendWelcomeMessage sends a direct message to the new account
func (c *Chat) SendWelcomeMessage(ctx context.Context, hire models.Hire, accountRef string) (string, error) {
	return c.post(ctx, chatMessageRequest{
		ExternalID: "welcome-chat-" + hire.ID,
		User:       accountRef,
		Text:       fmt.Sprintf("Welcome aboard, %s! :wave: Ping your manager or #help if you need anything.", hire.GivenName()),
	})
}

// NotifyStakeholders tells the manager and each stakeholder channel that the
// hire is ready. Refs are comma-joined in send order.
func (c *Chat) NotifyStakeholders(ctx context.Context, hire models.Hire, managerID string) (string, error) {
	summary := fmt.Sprintf("%s joins %s on %s.", hire.Name, hire.Team(), hire.EffectiveStartDate().Format("Mon Jan 2"))
	if hire.Title != "" {
		summary = fmt.Sprintf("%s joins %s as %s on %s.", hire.Name, hire.Team(), hire.Title, hire.EffectiveStartDate().Format("Mon Jan 2"))
	}

	var refs []string
	if managerID != "" {
		ref, err := c.post(ctx, chatMessageRequest{
			ExternalID: "stakeholder-" + hire.ID + "-manager",
			User:       managerID,
			Text:       summary + " Their accounts, meetings and onboarding page are ready.",
		})
		if err != nil {
			return strings.Join(refs, ","), err
		}
		refs = append(refs, ref)
	}
	for _, channel := range c.channels {
		ref, err := c.post(ctx, chatMessageRequest{
			ExternalID: "stakeholder-" + hire.ID + "-" + channel,
			Channel:    channel,
			Text:       summary,
		})
		if err != nil {
			return strings.Join(refs, ","), fmt.Errorf("channel %s: %w", channel, err)
		}
		refs = append(refs, ref)
	}
	if len(refs) == 0 {
		return "", errors.New("no manager or stakeholder channel to notify")
	}
	return strings.Join(refs, ","), nil
}

func (c *Chat) post(ctx context.Context, msg chatMessageRequest) (string, error) {
	var resp idResponse
	err := c.client.do(ctx, request{
		operation:      "post_message",
		method:         http.MethodPost,
		path:           "/messages",
		idempotencyKey: msg.ExternalID,
		body:           msg,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", errors.New("chat returned no message id")
	}
	return resp.ID, nil
}
