package workload

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/bandobast/deployment-tracker/internal/database"
)

// Score is an advisory load estimate for one officer over the trailing
// window. It is recomputed on demand and never persisted as ground truth.
type Score struct {
	OfficerID       string  `json:"officer_id"`
	Score           float64 `json:"score"`
	EventCount      int     `json:"event_count"`
	ComplianceRatio float64 `json:"compliance_ratio"`
	Overloaded      bool    `json:"overloaded"`
}

// Analysis bundles per-officer scores with advisory recommendations for a
// proposed assignment. It annotates; it never blocks.
type Analysis struct {
	Scores          map[string]Score `json:"scores"`
	Overloaded      []string         `json:"overloaded,omitempty"`
	Recommendations []string         `json:"recommendations,omitempty"`
}

// Deployments supplies per-officer deployment counts over a window.
type Deployments interface {
	CountForOfficerBetween(ctx context.Context, officerID string, window database.Window) (int, error)
}

// Ledger supplies per-officer duty record compliance counts over a window.
type Ledger interface {
	ComplianceFor(ctx context.Context, officerID string, window database.Window) (total, onDuty int, err error)
}

// Scorer computes workload scores from recent deployment counts and report
// compliance:
//
//	eventComponent  = min(eventCount/maxWeeklyEvents, 1)
//	complianceRatio = onDutyReports/totalReports (1 when the officer has no reports)
//	score           = eventComponent * (2 - complianceRatio)
//
// Scores are not clamped to [0,1]: a fully booked officer with poor
// compliance scores above 1.
type Scorer struct {
	logger            *slog.Logger
	deployments       Deployments
	ledger            Ledger
	trailingWindow    time.Duration
	maxWeeklyEvents   int
	overloadThreshold float64
	cache             *gocache.Cache
}

// NewScorer creates a workload scorer. Scores are cached for cacheTTL.
func NewScorer(logger *slog.Logger, deployments Deployments, ledger Ledger, trailingWindowDays, maxWeeklyEvents int, overloadThreshold float64, cacheTTL time.Duration) *Scorer {
	return &Scorer{
		logger:            logger,
		deployments:       deployments,
		ledger:            ledger,
		trailingWindow:    time.Duration(trailingWindowDays) * 24 * time.Hour,
		maxWeeklyEvents:   maxWeeklyEvents,
		overloadThreshold: overloadThreshold,
		cache:             gocache.New(cacheTTL, 2*cacheTTL),
	}
}

// Score computes a workload score per officer as of asOf.
func (s *Scorer) Score(ctx context.Context, officerIDs []string, asOf time.Time) (map[string]Score, error) {
	window := database.Window{Start: asOf.Add(-s.trailingWindow), End: asOf}
	scores := make(map[string]Score, len(officerIDs))

	for _, officerID := range officerIDs {
		if cached, ok := s.cache.Get(s.cacheKey(officerID, asOf)); ok {
			scores[officerID] = cached.(Score)
			continue
		}

		score, err := s.scoreOne(ctx, officerID, window)
		if err != nil {
			return nil, err
		}

		s.cache.SetDefault(s.cacheKey(officerID, asOf), score)
		scores[officerID] = score
	}

	return scores, nil
}

// Analyze scores an officer set and derives advisory recommendations:
// overload warnings plus team-size guidance.
func (s *Scorer) Analyze(ctx context.Context, officerIDs []string, asOf time.Time) (*Analysis, error) {
	scores, err := s.Score(ctx, officerIDs, asOf)
	if err != nil {
		return nil, err
	}

	analysis := &Analysis{Scores: scores}
	for officerID, score := range scores {
		if score.Overloaded {
			analysis.Overloaded = append(analysis.Overloaded, officerID)
		}
	}
	sort.Strings(analysis.Overloaded)

	if len(analysis.Overloaded) > 0 {
		analysis.Recommendations = append(analysis.Recommendations,
			fmt.Sprintf("Consider redistributing workload: officers %s may be overworked.",
				strings.Join(analysis.Overloaded, ", ")))
	} else {
		analysis.Recommendations = append(analysis.Recommendations,
			"Workload distribution appears balanced.")
	}

	switch {
	case len(officerIDs) < 3:
		analysis.Recommendations = append(analysis.Recommendations,
			"Consider assigning at least 3 officers for better coverage and safety.")
	case len(officerIDs) > 20:
		analysis.Recommendations = append(analysis.Recommendations,
			"Large team size may lead to coordination challenges; consider splitting into smaller units.")
	}

	return analysis, nil
}

// scoreOne computes one officer's score over the window.
func (s *Scorer) scoreOne(ctx context.Context, officerID string, window database.Window) (Score, error) {
	eventCount, err := s.deployments.CountForOfficerBetween(ctx, officerID, window)
	if err != nil {
		return Score{}, fmt.Errorf("failed to count deployments for %s: %w", officerID, err)
	}

	score := Score{OfficerID: officerID, EventCount: eventCount, ComplianceRatio: 1}
	if eventCount == 0 {
		return score, nil
	}

	total, onDuty, err := s.ledger.ComplianceFor(ctx, officerID, window)
	if err != nil {
		return Score{}, fmt.Errorf("failed to get compliance for %s: %w", officerID, err)
	}
	if total > 0 {
		score.ComplianceRatio = float64(onDuty) / float64(total)
	}

	eventComponent := float64(eventCount) / float64(s.maxWeeklyEvents)
	if eventComponent > 1 {
		eventComponent = 1
	}

	score.Score = eventComponent * (2 - score.ComplianceRatio)
	score.Overloaded = score.Score > s.overloadThreshold

	return score, nil
}

func (s *Scorer) cacheKey(officerID string, asOf time.Time) string {
	// asOf is truncated so repeated advisory checks within the same minute
	// share a cache entry.
	return officerID + "|" + asOf.Truncate(time.Minute).UTC().Format(time.RFC3339)
}
