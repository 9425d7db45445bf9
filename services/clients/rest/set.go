package rest

import (
	"github.com/upb/hr-onboarding/config"
	"github.com/upb/hr-onboarding/services/clients"
	"go.uber.org/zap"
)

// NewSet builds the configured step clients and the source-of-hire feed.
// Systems without a base URL are left nil; source is nil when the HRIS is not
// configured.
func NewSet(cfg config.ClientsConfig, logger *zap.Logger) (set clients.Set, source clients.SourceOfHire, err error) {
	if cfg.HRIS.Enabled() {
		hris := NewHRIS(cfg.HRIS, logger)
		set.HRIS = hris
		source = hris
	}
	if cfg.Identity.Enabled() {
		set.Identity = NewIdentity(cfg.Identity, logger)
	}
	if cfg.KB.Enabled() {
		set.KnowledgeBase = NewKnowledgeBase(cfg.KB, logger)
	}
	if cfg.Calendar.Enabled() {
		cal, calErr := NewCalendar(cfg.Calendar, logger)
		if calErr != nil {
			return clients.Set{}, nil, calErr
		}
		set.Calendar = cal
	}
	if cfg.Mail.Enabled() {
		set.Mail = NewMail(cfg.Mail, logger)
	}
	if cfg.Chat.Enabled() {
		set.Chat = NewChat(cfg.Chat, logger)
	}
	return set, source, nil
}
