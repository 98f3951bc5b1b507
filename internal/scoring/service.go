// SPDX-License-Identifier: Apache-2.0

package scoring

import (
	"context"
	"log/slog"
	"time"

	"github.com/adiadia/crm-automation/internal/domain"
	"github.com/adiadia/crm-automation/internal/store"
	"github.com/google/uuid"
)

// historyLimit bounds how many interactions and outreach records feed one
// score; older signals have decayed to noise long before this.
const historyLimit = 500

type Deps struct {
	Prospects    store.Collection[domain.Prospect]
	Interactions store.Collection[domain.Interaction]
	Outreach     store.Collection[domain.Outreach]
	Profile      *Profile
	Logger       *slog.Logger
	Now          func() time.Time
}

// Service persists scores computed by Score.
type Service struct {
	prospects    store.Collection[domain.Prospect]
	interactions store.Collection[domain.Interaction]
	outreach     store.Collection[domain.Outreach]
	profile      Profile
	logger       *slog.Logger
	now          func() time.Time
}

func NewService(deps Deps) *Service {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}
	profile := DefaultProfile()
	if deps.Profile != nil {
		profile = *deps.Profile
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		prospects:    deps.Prospects,
		interactions: deps.Interactions,
		outreach:     deps.Outreach,
		profile:      profile,
		logger:       l,
		now:          now,
	}
}

// Rescore recomputes and stores the scores of one prospect and returns the
// updated record together with the result.
func (s *Service) Rescore(ctx context.Context, prospectID uuid.UUID) (domain.Prospect, Result, error) {
	p, err := s.prospects.Get(ctx, prospectID)
	if err != nil {
		return domain.Prospect{}, Result{}, domain.External("entity_store", "get prospect", err)
	}

	q := store.Query{"prospect_id": prospectID.String()}
	interactions, err := s.interactions.Filter(ctx, q, "-interaction_date", historyLimit)
	if err != nil {
		return domain.Prospect{}, Result{}, domain.External("entity_store", "filter interactions", err)
	}
	outreach, err := s.outreach.Filter(ctx, q, "-sent_date", historyLimit)
	if err != nil {
		return domain.Prospect{}, Result{}, domain.External("entity_store", "filter outreach", err)
	}

	res := Score(Input{Prospect: p, Interactions: interactions, Outreach: outreach}, s.profile, s.now())

	updated, err := s.prospects.Update(ctx, prospectID, res.Fields())
	if err != nil {
		s.logger.Error("store prospect scores failed", "prospect_id", prospectID, "error", err)
		return domain.Prospect{}, Result{}, domain.External("entity_store", "update prospect", err)
	}

	s.logger.Info("prospect rescored",
		"prospect_id", prospectID,
		"fit_score", res.FitScore,
		"engagement_score", res.EngagementScore,
		"prospect_score", res.ProspectScore,
		"segment", res.Segment,
	)
	return updated, res, nil
}
