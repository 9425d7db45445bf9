package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode"

	"github.com/upb/hr-onboarding/config"
	"github.com/upb/hr-onboarding/models"
	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Identity provisions directory accounts
type Identity struct {
	client *Client
	domain string
}

// NewIdentity creates the identity adapter
func NewIdentity(cfg config.IdentityConfig, logger *zap.Logger) *Identity {
	return &Identity{
		client: NewClient("identity", cfg.ClientConfig, logger),
		domain: cfg.Domain,
	}
}

type account struct {
	ID           string `json:"id"`
	PrimaryEmail string `json:"primary_email"`
}

type accountsResponse struct {
	Accounts []account `json:"accounts"`
}

type accountRequest struct {
	ExternalID   string `json:"external_id"`
	GivenName    string `json:"given_name"`
	FamilyName   string `json:"family_name"`
	PrimaryEmail string `json:"primary_email"`
	Department   string `json:"department"`
	Title        string `json:"title,omitempty"`
	ManagerID    string `json:"manager_id,omitempty"`
}

// CreateAccount returns the existing account for the hire or creates one
func (i *Identity) CreateAccount(ctx context.Context, hire models.Hire) (string, error) {
	var existing accountsResponse
	if err := i.client.do(ctx, request{
		operation: "lookup_account",
		method:    http.MethodGet,
		path:      "/accounts",
		query:     url.Values{"external_id": {hire.ID}},
	}, &existing); err != nil {
		return "", err
	}
	for _, a := range existing.Accounts {
		if a.PrimaryEmail != "" {
			return a.PrimaryEmail, nil
		}
	}

	address := AccountAddress(hire, i.domain)
	var created account
	if err := i.client.do(ctx, request{
		operation:      "create_account",
		method:         http.MethodPost,
		path:           "/accounts",
		idempotencyKey: "account-" + hire.ID,
		body: accountRequest{
			ExternalID:   hire.ID,
			GivenName:    hire.GivenName(),
			FamilyName:   hire.FamilyName(),
			PrimaryEmail: address,
			Department:   hire.Department,
			Title:        hire.Title,
			ManagerID:    hire.ManagerID,
		},
	}, &created); err != nil {
		return "", err
	}
	if created.PrimaryEmail != "" {
		return created.PrimaryEmail, nil
	}
	return address, nil
}

// AccountAddress derives given.family@domain, folded to lowercase ASCII letters,
// digits and dots. Single-word names use the candidate ID as the family part.
func AccountAddress(hire models.Hire, domain string) string {
	given := foldHandle(hire.GivenName())
	family := foldHandle(hire.FamilyName())
	if family == "" {
		family = foldHandle(hire.ID)
	}
	local := strings.Trim(given+"."+family, ".")
	if local == "" {
		local = "hire"
	}
	return fmt.Sprintf("%s@%s", local, domain)
}

func foldHandle(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	for _, r := range strings.ToLower(folded) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '\'' || unicode.IsSpace(r):
			// dropped so "O'Brien" and "Smith-Jones" stay one handle part
		}
	}
	return b.String()
}
