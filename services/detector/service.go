package detector

import (
	"context"
	"sort"
	"time"

	"github.com/upb/hr-onboarding/models"
	"github.com/upb/hr-onboarding/services"
	"github.com/upb/hr-onboarding/services/clients"
	"github.com/upb/hr-onboarding/utils"
	"go.uber.org/zap"
)

// DetectorService turns source-of-hire transitions into Hires
type DetectorService struct {
	source clients.SourceOfHire
	logger *zap.Logger
	now    func() time.Time
}

// NewDetectorService creates a new DetectorService instance
func NewDetectorService(source clients.SourceOfHire, logger *zap.Logger) *DetectorService {
	return &DetectorService{
		source: source,
		logger: logger,
		now:    time.Now,
	}
}

// FindNewHires returns hires transitioned at or after since, ordered by
// transition time then candidate ID. Windows may overlap between calls;
// callers de-duplicate through the state store.
//
// Invalid transitions are logged and dropped. Any failure to list
// transitions is returned as ErrSourceUnavailable.
func (s *DetectorService) FindNewHires(ctx context.Context, since time.Time) ([]models.Hire, error) {
	if s.source == nil {
		return nil, services.WrapSourceUnavailable("no source of hire configured", nil)
	}

	transitions, err := s.source.ListTransitions(ctx, since)
	if err != nil {
		return nil, services.WrapSourceUnavailable("failed to list hired transitions", err)
	}

	detectedAt := s.now()
	hires := make([]models.Hire, 0, len(transitions))
	for _, t := range transitions {
		if err := utils.ValidateStruct(t); err != nil {
			s.logger.Warn("dropping invalid transition",
				zap.String("candidate_id", t.CandidateID),
				zap.Error(err))
			continue
		}
		if t.TransitionedAt.Before(since) {
			continue
		}
		hires = append(hires, models.NewHire(t, detectedAt))
	}

	sort.SliceStable(hires, func(i, j int) bool { return hires[i].Before(hires[j]) })

	// A candidate reported twice in one window keeps its earliest transition
	out := hires[:0]
	seen := make(map[string]bool, len(hires))
	for _, h := range hires {
		if seen[h.ID] {
			continue
		}
		seen[h.ID] = true
		out = append(out, h)
	}

	s.logger.Debug("detected hires",
		zap.Time("since", since),
		zap.Int("transitions", len(transitions)),
		zap.Int("hires", len(out)))

	return out, nil
}
