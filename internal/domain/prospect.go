// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type ProspectStatus string

const (
	StatusNew         ProspectStatus = "New"
	StatusContacted   ProspectStatus = "Contacted"
	StatusQualified   ProspectStatus = "Qualified"
	StatusProposal    ProspectStatus = "Proposal"
	StatusNegotiation ProspectStatus = "Negotiation"
	StatusWon         ProspectStatus = "Won"
	StatusLost        ProspectStatus = "Lost"
)

const (
	SegmentHotLead   = "Hot Lead"
	SegmentHighValue = "High Value"
	SegmentQuickWin  = "Quick Win"
	SegmentWarmLead  = "Warm Lead"
	SegmentLongTerm  = "Long Term"
	SegmentColdLead  = "Cold Lead"
)

type Prospect struct {
	ID                 uuid.UUID      `json:"id"`
	ContactName        string         `json:"contact_name"`
	Email              string         `json:"email"`
	CompanyName        string         `json:"company_name"`
	CompanySize        string         `json:"company_size,omitempty"`
	AnnualRevenue      string         `json:"annual_revenue,omitempty"`
	Industry           string         `json:"industry,omitempty"`
	Status             ProspectStatus `json:"status"`
	Segment            string         `json:"segment,omitempty"`
	DealValue          *float64       `json:"deal_value,omitempty"`
	Probability        int            `json:"probability"`
	EngagementScore    int            `json:"engagement_score"`
	FitScore           int            `json:"fit_score"`
	ProspectScore      int            `json:"prospect_score"`
	LastContactDate    *time.Time     `json:"last_contact_date,omitempty"`
	NextFollowUpDate   *time.Time     `json:"next_follow_up_date,omitempty"`
	ExpectedCloseDate  *time.Time     `json:"expected_close_date,omitempty"`
	ServicesInterested []string       `json:"services_interested,omitempty"`
	AssignedTo         string         `json:"assigned_to,omitempty"`
	Notes              string         `json:"notes,omitempty"`
	CreatedDate        time.Time      `json:"created_date"`
	UpdatedDate        time.Time      `json:"updated_date"`
}

// FirstName is the first word of the contact name.
func (p Prospect) FirstName() string {
	fields := strings.Fields(p.ContactName)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// DateField returns the value of a watchable date field, or nil when the
// field is unset or unknown.
func (p Prospect) DateField(name string) *time.Time {
	switch name {
	case DateFieldNextFollowUp:
		return p.NextFollowUpDate
	case DateFieldExpectedClose:
		return p.ExpectedCloseDate
	case DateFieldLastContact:
		return p.LastContactDate
	default:
		return nil
	}
}

// ScoreField returns the numeric value of a score field. The second result is
// false for unknown fields and for an unset deal value.
func (p Prospect) ScoreField(name string) (float64, bool) {
	switch name {
	case ScoreFieldEngagement:
		return float64(p.EngagementScore), true
	case ScoreFieldFit:
		return float64(p.FitScore), true
	case ScoreFieldProspect:
		return float64(p.ProspectScore), true
	case ScoreFieldProbability:
		return float64(p.Probability), true
	case ScoreFieldDealValue:
		if p.DealValue == nil {
			return 0, false
		}
		return *p.DealValue, true
	default:
		return 0, false
	}
}

// UpdatableProspectFields lists the fields an update_prospect step may set.
var UpdatableProspectFields = map[string]bool{
	"status":              true,
	"segment":             true,
	"deal_value":          true,
	"probability":         true,
	"engagement_score":    true,
	"fit_score":           true,
	"assigned_to":         true,
	"notes":               true,
	"next_follow_up_date": true,
	"expected_close_date": true,
	"last_contact_date":   true,
}
