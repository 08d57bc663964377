package engagement

import (
	"context"
	"math"

	"github.com/google/uuid"

	"github.com/ignite/proposal-pulse/internal/domain"
)

// ScoreConfig holds the engagement-score weights. The defaults are business
// constants; change them only with a matching dashboard change.
type ScoreConfig struct {
	ViewWeight        float64 // awarded for unique-session breadth
	SectionWeight     float64 // awarded for section coverage
	InteractionWeight float64 // awarded for pricing/addon interaction volume
	ConversionWeight  float64 // split evenly between signature intent and signed
	SessionTarget     int     // unique sessions for full view credit
	TrackableSections int     // sections in the standard proposal layout
	InteractionTarget int     // interactions for full interaction credit
}

// DefaultScoreConfig returns the standard 20/30/30/20 weighting over the
// six-section proposal layout.
func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{
		ViewWeight:        20,
		SectionWeight:     30,
		InteractionWeight: 30,
		ConversionWeight:  20,
		SessionTarget:     5,
		TrackableSections: 6,
		InteractionTarget: 10,
	}
}

// ScoreInputs are the raw counts the score is computed from.
type ScoreInputs struct {
	TotalViews       int
	UniqueSessions   int
	SectionsViewed   int
	Interactions     int // pricing changes + addon toggles
	SignatureStarted bool
	Signed           bool
}

// Score computes the 0-100 engagement score. Each component is capped at its
// weight before summing; zero views force a zero score.
func Score(cfg ScoreConfig, in ScoreInputs) int {
	if in.TotalViews == 0 {
		return 0
	}

	view := math.Min(float64(in.UniqueSessions)/float64(cfg.SessionTarget), 1) * cfg.ViewWeight
	section := math.Min(float64(in.SectionsViewed)/float64(cfg.TrackableSections), 1) * cfg.SectionWeight
	interaction := math.Min(float64(in.Interactions)/float64(cfg.InteractionTarget), 1) * cfg.InteractionWeight

	conversion := 0.0
	if in.SignatureStarted {
		conversion += cfg.ConversionWeight / 2
	}
	if in.Signed {
		conversion += cfg.ConversionWeight / 2
	}

	return int(math.Round(view + section + interaction + conversion))
}

// ScoreBand maps a score to its display band.
func ScoreBand(score int) string {
	switch {
	case score >= 70:
		return "High"
	case score >= 40:
		return "Medium"
	default:
		return "Low"
	}
}

// EmailStats are the delivery-level aggregates. The block is omitted entirely
// when nothing was sent, so the dashboard never renders 0% over zero sends.
type EmailStats struct {
	TotalSent    int `json:"total_sent"`
	TotalOpened  int `json:"total_opened"`
	TotalViewed  int `json:"total_viewed"`
	OpenRate     int `json:"open_rate"`      // percent
	ViewRate     int `json:"view_rate"`      // percent
	AvgTimeSpent int `json:"avg_time_spent"` // seconds
}

// ComputeEmailStats derives rates from raw delivery totals. Returns nil when
// no deliveries exist. A viewed delivery with zero accumulated time still
// counts toward the avg-time denominator.
func ComputeEmailStats(t DeliveryTotals) *EmailStats {
	if t.TotalSent == 0 {
		return nil
	}
	stats := &EmailStats{
		TotalSent:   t.TotalSent,
		TotalOpened: t.TotalOpened,
		TotalViewed: t.TotalViewed,
		OpenRate:    roundPct(t.TotalOpened, t.TotalSent),
		ViewRate:    roundPct(t.TotalViewed, t.TotalSent),
	}
	if t.TotalViewed > 0 {
		stats.AvgTimeSpent = int(math.Round(float64(t.TotalTimeSpent) / float64(t.TotalViewed)))
	}
	return stats
}

// FunnelStage is one conversion step expressed against total views.
type FunnelStage struct {
	Stage string `json:"stage"`
	Count int    `json:"count"`
	Rate  int    `json:"rate"` // percent of total views, capped at 100
}

// ProposalAnalytics is the aggregated read model for the dashboard.
type ProposalAnalytics struct {
	ProposalID      uuid.UUID                          `json:"proposal_id"`
	TotalViews      int                                `json:"total_views"`
	UniqueSessions  int                                `json:"unique_sessions"`
	EventCounts     map[domain.EngagementEventType]int `json:"event_counts"`
	EngagementScore int                                `json:"engagement_score"`
	ScoreBand       string                             `json:"score_band"`
	IsSigned        bool                               `json:"is_signed"`
	Funnel          []FunnelStage                      `json:"funnel"`
	EmailStats      *EmailStats                        `json:"email_stats,omitempty"`
}

// Aggregator turns raw view/event/delivery rows into dashboard metrics.
// Pure read side: it never mutates.
type Aggregator struct {
	store *Store
	cfg   ScoreConfig
}

// NewAggregator creates an analytics aggregator.
func NewAggregator(store *Store, cfg ScoreConfig) *Aggregator {
	if cfg.ViewWeight == 0 && cfg.SectionWeight == 0 {
		cfg = DefaultScoreConfig()
	}
	return &Aggregator{store: store, cfg: cfg}
}

// Analytics computes the full metrics block for one proposal.
func (a *Aggregator) Analytics(ctx context.Context, proposalID uuid.UUID) (*ProposalAnalytics, error) {
	p, err := a.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}

	views, err := a.store.CountViews(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	events, err := a.store.EventCounts(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	sections, err := a.store.DistinctSectionsViewed(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	pricingViews, err := a.store.CountSectionViews(ctx, proposalID, "pricing")
	if err != nil {
		return nil, err
	}
	sig, err := a.store.GetSignature(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	totals, err := a.store.DeliveryStats(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	interactions := events[domain.EventPricingChanged] + events[domain.EventAddonToggled]
	signed := sig != nil

	score := Score(a.cfg, ScoreInputs{
		TotalViews:       views.Total,
		UniqueSessions:   views.UniqueSessions,
		SectionsViewed:   sections,
		Interactions:     interactions,
		SignatureStarted: events[domain.EventSignatureStarted] > 0,
		Signed:           signed,
	})

	return &ProposalAnalytics{
		ProposalID:      proposalID,
		TotalViews:      views.Total,
		UniqueSessions:  views.UniqueSessions,
		EventCounts:     events,
		EngagementScore: score,
		ScoreBand:       ScoreBand(score),
		IsSigned:        signed,
		Funnel:          buildFunnel(views.Total, pricingViews, interactions, events[domain.EventSignatureStarted], signed),
		EmailStats:      ComputeEmailStats(totals),
	}, nil
}

func buildFunnel(totalViews, pricingViews, interactions, signatureStarts int, signed bool) []FunnelStage {
	signedCount := 0
	if signed {
		signedCount = 1
	}
	return []FunnelStage{
		{Stage: "viewed", Count: totalViews, Rate: roundPctCapped(totalViews, totalViews)},
		{Stage: "viewed_pricing", Count: pricingViews, Rate: roundPctCapped(pricingViews, totalViews)},
		{Stage: "interacted_pricing", Count: interactions, Rate: roundPctCapped(interactions, totalViews)},
		{Stage: "signature_started", Count: signatureStarts, Rate: roundPctCapped(signatureStarts, totalViews)},
		{Stage: "signed", Count: signedCount, Rate: roundPctCapped(signedCount, totalViews)},
	}
}

func roundPct(count, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(count) / float64(total) * 100))
}

func roundPctCapped(count, total int) int {
	pct := roundPct(count, total)
	if pct > 100 {
		pct = 100
	}
	return pct
}
