// SPDX-License-Identifier: Apache-2.0

// Package scoring computes lead scores and segments.
//
// Score is a pure function of its inputs and the supplied clock. Missing data
// never fails: an unset deal value counts as 0, an unset last contact date
// counts as "never contacted", unknown company sizes, revenue buckets,
// industries, sentiments and statuses contribute nothing beyond their
// documented defaults.
package scoring

import (
	"math"
	"slices"
	"strings"
	"time"

	"github.com/adiadia/crm-automation/internal/domain"
)

const (
	weightCompanySize = 30
	weightRevenue     = 30
	weightIndustry    = 20
	weightServices    = 20

	fitShare        = 0.4
	engagementShare = 0.6

	halfLifeDays = 30.0

	hotEngagement      = 70
	hotRecency         = 7 * 24 * time.Hour
	highValueDeal      = 50000.0
	quickWinMaxDeal    = 10000.0
	warmEngagement     = 40
	goodFit            = 60
	defaultProbability = 5
)

// Profile is the ideal customer profile fit_score is measured against.
type Profile struct {
	CompanySizes   []string `mapstructure:"company_sizes"   yaml:"company_sizes"`
	RevenueBuckets []string `mapstructure:"revenue_buckets" yaml:"revenue_buckets"`
	Industries     []string `mapstructure:"industries"      yaml:"industries"`
	Services       []string `mapstructure:"services"        yaml:"services"`
}

func DefaultProfile() Profile {
	return Profile{
		CompanySizes:   []string{"51-200", "201-500", "501-1000"},
		RevenueBuckets: []string{"$10M-$50M", "$50M-$100M", "$100M+"},
		Industries:     []string{"Technology", "Financial Services", "Healthcare", "Manufacturing"},
		Services:       []string{"Cloud Migration", "Data Analytics", "AI Consulting", "Managed Services"},
	}
}

type Input struct {
	Prospect     domain.Prospect
	Interactions []domain.Interaction
	Outreach     []domain.Outreach
}

type Result struct {
	FitScore        int    `json:"fit_score"`
	EngagementScore int    `json:"engagement_score"`
	ProspectScore   int    `json:"prospect_score"`
	Probability     int    `json:"probability"`
	Segment         string `json:"segment"`
}

// Fields returns the result as a partial prospect update.
func (r Result) Fields() map[string]any {
	return map[string]any{
		"fit_score":        r.FitScore,
		"engagement_score": r.EngagementScore,
		"prospect_score":   r.ProspectScore,
		"probability":      r.Probability,
		"segment":          r.Segment,
	}
}

func Score(in Input, profile Profile, now time.Time) Result {
	fit := FitScore(in.Prospect, profile)
	engagement := EngagementScore(in.Interactions, in.Outreach, now)
	return Result{
		FitScore:        fit,
		EngagementScore: engagement,
		ProspectScore:   int(math.Round(fitShare*float64(fit) + engagementShare*float64(engagement))),
		Probability:     Probability(in.Prospect.Status, engagement),
		Segment:         Segment(in.Prospect, fit, engagement, now),
	}
}

func FitScore(p domain.Prospect, profile Profile) int {
	score := 0
	if containsFold(profile.CompanySizes, p.CompanySize) {
		score += weightCompanySize
	}
	if containsFold(profile.RevenueBuckets, p.AnnualRevenue) {
		score += weightRevenue
	}
	if containsFold(profile.Industries, p.Industry) {
		score += weightIndustry
	}
	for _, s := range p.ServicesInterested {
		if containsFold(profile.Services, s) {
			score += weightServices
			break
		}
	}
	return clamp(score, 0, 100)
}

var sentimentWeights = map[string]float64{
	"positive": 15,
	"neutral":  8,
	"negative": -10,
}

var interactionMultipliers = map[string]float64{
	"meeting": 1.5,
	"call":    1.2,
	"email":   1.0,
}

var outreachWeights = map[string]float64{
	domain.OutreachReplied: 10,
	domain.OutreachOpened:  3,
	domain.OutreachSent:    1,
	domain.OutreachBounced: -5,
}

const (
	defaultSentiment = "neutral"
	otherMultiplier  = 0.8
)

func EngagementScore(interactions []domain.Interaction, outreach []domain.Outreach, now time.Time) int {
	total := 0.0
	for _, it := range interactions {
		sentiment := strings.ToLower(strings.TrimSpace(it.Sentiment))
		weight, ok := sentimentWeights[sentiment]
		if !ok {
			weight = sentimentWeights[defaultSentiment]
		}
		mult, ok := interactionMultipliers[strings.ToLower(it.InteractionType)]
		if !ok {
			mult = otherMultiplier
		}
		total += weight * mult * decay(it.InteractionDate, now)
	}
	for _, o := range outreach {
		total += outreachWeights[strings.ToLower(o.Status)] * decay(o.SentDate, now)
	}
	return clamp(int(math.Round(total)), 0, 100)
}

// decay halves a signal's weight every halfLifeDays. Undated and future
// signals count in full.
func decay(at, now time.Time) float64 {
	if at.IsZero() || !at.Before(now) {
		return 1
	}
	ageDays := now.Sub(at).Hours() / 24
	return math.Pow(0.5, ageDays/halfLifeDays)
}

var baseProbability = map[domain.ProspectStatus]int{
	domain.StatusNew:         5,
	domain.StatusContacted:   10,
	domain.StatusQualified:   25,
	domain.StatusProposal:    50,
	domain.StatusNegotiation: 75,
	domain.StatusWon:         100,
	domain.StatusLost:        0,
}

// Probability is the base win percentage of the pipeline status, nudged by up
// to five points either way by engagement while the deal is still open.
func Probability(status domain.ProspectStatus, engagement int) int {
	base, ok := baseProbability[status]
	if !ok {
		base = defaultProbability
	}
	if status == domain.StatusWon || status == domain.StatusLost {
		return base
	}
	nudge := int(math.Round(float64(engagement-50) / 10))
	return clamp(base+nudge, 1, 99)
}

func Segment(p domain.Prospect, fit, engagement int, now time.Time) string {
	deal := 0.0
	if p.DealValue != nil {
		deal = *p.DealValue
	}
	recent := p.LastContactDate != nil && now.Sub(*p.LastContactDate) <= hotRecency

	switch {
	case engagement >= hotEngagement && recent:
		return domain.SegmentHotLead
	case deal >= highValueDeal:
		return domain.SegmentHighValue
	case engagement >= warmEngagement && fit >= goodFit && deal > 0 && deal < quickWinMaxDeal:
		return domain.SegmentQuickWin
	case engagement >= warmEngagement:
		return domain.SegmentWarmLead
	case fit >= goodFit:
		return domain.SegmentLongTerm
	default:
		return domain.SegmentColdLead
	}
}

func containsFold(list []string, v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	return slices.ContainsFunc(list, func(s string) bool {
		return strings.EqualFold(s, v)
	})
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
