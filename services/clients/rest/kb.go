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

// KnowledgeBase creates onboarding pages in the wiki
type KnowledgeBase struct {
	client   *Client
	parentID string
}

// NewKnowledgeBase creates the knowledge base adapter
func NewKnowledgeBase(cfg config.KnowledgeBaseConfig, logger *zap.Logger) *KnowledgeBase {
	return &KnowledgeBase{
		client:   NewClient("knowledge_base", cfg.ClientConfig, logger),
		parentID: cfg.ParentID,
	}
}

type pageRequest struct {
	ParentID   string `json:"parent_id,omitempty"`
	ExternalID string `json:"external_id"`
	Title      string `json:"title"`
	Body       string `json:"body"`
}

type pageResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateOnboardingPage creates the hire's onboarding page and returns its URL,
// or its ID when the wiki does not report one.
func (k *KnowledgeBase) CreateOnboardingPage(ctx context.Context, hire models.Hire) (string, error) {
	var resp pageResponse
	err := k.client.do(ctx, request{
		operation:      "create_page",
		method:         http.MethodPost,
		path:           "/pages",
		idempotencyKey: "page-" + hire.ID,
		body: pageRequest{
			ParentID:   k.parentID,
			ExternalID: hire.ID,
			Title:      fmt.Sprintf("Onboarding: %s", hire.Name),
			Body:       onboardingPageBody(hire),
		},
	}, &resp)
	if err != nil {
		return "", err
	}
	switch {
	case resp.URL != "":
		return resp.URL, nil
	case resp.ID != "":
		return resp.ID, nil
	default:
		return "", errors.New("knowledge base returned no page id")
	}
}

func onboardingPageBody(hire models.Hire) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Welcome, %s\n\n", hire.Name)
	if hire.Title != "" {
		fmt.Fprintf(&b, "- Role: %s\n", hire.Title)
	}
	fmt.Fprintf(&b, "- Department: %s\n", hire.Department)
	if hire.ManagerID != "" {
		fmt.Fprintf(&b, "- Manager: %s\n", hire.ManagerID)
	}
	fmt.Fprintf(&b, "- Start date: %s\n\n", hire.EffectiveStartDate().Format("Monday, January 2, 2006"))
	b.WriteString("## First week\n\n")
	b.WriteString("- [ ] Sign in and set up two-factor authentication\n")
	b.WriteString("- [ ] Meet your manager and your onboarding buddy\n")
	b.WriteString("- [ ] Read the team handbook\n")
	return b.String()
}
