package workload

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bandobast/deployment-tracker/internal/database"
)

type fakeSource struct {
	counts     map[string]int
	compliance map[string][2]int // total, onDuty
	countCalls int
}

func (f *fakeSource) CountForOfficerBetween(ctx context.Context, officerID string, window database.Window) (int, error) {
	f.countCalls++
	return f.counts[officerID], nil
}

func (f *fakeSource) ComplianceFor(ctx context.Context, officerID string, window database.Window) (int, int, error) {
	c := f.compliance[officerID]
	return c[0], c[1], nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestScorer(source *fakeSource) *Scorer {
	return NewScorer(testLogger(), source, source, 7, 5, 0.8, time.Minute)
}

func TestScorer_Score(t *testing.T) {
	asOf := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	t.Run("No Events Scores Zero", func(t *testing.T) {
		scorer := newTestScorer(&fakeSource{counts: map[string]int{}})
		scores, err := scorer.Score(context.Background(), []string{"o1"}, asOf)
		require.NoError(t, err)

		score := scores["o1"]
		assert.Zero(t, score.Score)
		assert.Zero(t, score.EventCount)
		assert.Equal(t, 1.0, score.ComplianceRatio)
		assert.False(t, score.Overloaded)
	})

	t.Run("Full Schedule Full Compliance Scores One", func(t *testing.T) {
		source := &fakeSource{
			counts:     map[string]int{"o1": 5},
			compliance: map[string][2]int{"o1": {20, 20}},
		}
		scorer := newTestScorer(source)

		scores, err := scorer.Score(context.Background(), []string{"o1"}, asOf)
		require.NoError(t, err)

		score := scores["o1"]
		assert.InDelta(t, 1.0, score.Score, 0.0001)
		assert.True(t, score.Overloaded)
	})

	t.Run("Poor Compliance Scores Above One", func(t *testing.T) {
		// A fully booked officer who never reported on-duty scores 2.0;
		// the scale is open above 1 on purpose.
		source := &fakeSource{
			counts:     map[string]int{"o1": 5},
			compliance: map[string][2]int{"o1": {10, 0}},
		}
		scorer := newTestScorer(source)

		scores, err := scorer.Score(context.Background(), []string{"o1"}, asOf)
		require.NoError(t, err)
		assert.InDelta(t, 2.0, scores["o1"].Score, 0.0001)
	})

	t.Run("Event Component Saturates", func(t *testing.T) {
		// 12 events count the same as 5.
		source := &fakeSource{
			counts:     map[string]int{"o1": 12},
			compliance: map[string][2]int{"o1": {10, 10}},
		}
		scorer := newTestScorer(source)

		scores, err := scorer.Score(context.Background(), []string{"o1"}, asOf)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, scores["o1"].Score, 0.0001)
	})

	t.Run("Half Schedule Half Compliance", func(t *testing.T) {
		// eventComponent 0.6, complianceRatio 0.5 -> 0.6 * 1.5 = 0.9.
		source := &fakeSource{
			counts:     map[string]int{"o1": 3},
			compliance: map[string][2]int{"o1": {10, 5}},
		}
		scorer := newTestScorer(source)

		scores, err := scorer.Score(context.Background(), []string{"o1"}, asOf)
		require.NoError(t, err)

		score := scores["o1"]
		assert.InDelta(t, 0.9, score.Score, 0.0001)
		assert.True(t, score.Overloaded)
	})

	t.Run("Scores Are Cached Within The Minute", func(t *testing.T) {
		source := &fakeSource{counts: map[string]int{"o1": 2}}
		scorer := newTestScorer(source)

		_, err := scorer.Score(context.Background(), []string{"o1"}, asOf)
		require.NoError(t, err)
		_, err = scorer.Score(context.Background(), []string{"o1"}, asOf.Add(10*time.Second))
		require.NoError(t, err)

		assert.Equal(t, 1, source.countCalls)
	})
}

func TestScorer_Analyze(t *testing.T) {
	asOf := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	t.Run("Overloaded Officers Are Flagged", func(t *testing.T) {
		source := &fakeSource{
			counts: map[string]int{"o1": 5, "o2": 1, "o3": 1},
			compliance: map[string][2]int{
				"o1": {10, 2},
				"o2": {10, 10},
				"o3": {10, 10},
			},
		}
		scorer := newTestScorer(source)

		analysis, err := scorer.Analyze(context.Background(), []string{"o1", "o2", "o3"}, asOf)
		require.NoError(t, err)
		assert.Equal(t, []string{"o1"}, analysis.Overloaded)
		require.NotEmpty(t, analysis.Recommendations)
		assert.Contains(t, analysis.Recommendations[0], "o1")
	})

	t.Run("Small Team Gets Coverage Advice", func(t *testing.T) {
		source := &fakeSource{counts: map[string]int{}}
		scorer := newTestScorer(source)

		analysis, err := scorer.Analyze(context.Background(), []string{"o1", "o2"}, asOf)
		require.NoError(t, err)

		var found bool
		for _, rec := range analysis.Recommendations {
			if strings.Contains(rec, "at least 3 officers") {
				found = true
			}
		}
		assert.True(t, found)
	})
}
