package conflict

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bandobast/deployment-tracker/internal/database"
)

type fakeIndex struct {
	deployments []*database.Deployment
	err         error
}

func (f *fakeIndex) Overlapping(ctx context.Context, officerIDs []string, window database.Window, excludeID string) ([]*database.Deployment, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*database.Deployment
	for _, dep := range f.deployments {
		if dep.ID == excludeID {
			continue
		}
		out = append(out, dep)
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func makeDeployment(id, name string, start, end time.Time, officers ...string) *database.Deployment {
	return &database.Deployment{
		ID:       id,
		Name:     name,
		StartsAt: start,
		EndsAt:   end,
		Status:   database.DeploymentScheduled,
		Officers: pq.StringArray(officers),
	}
}

func TestDetector_Check(t *testing.T) {
	base := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	window := database.Window{Start: base, End: base.Add(4 * time.Hour)}

	t.Run("No Officers Means No Conflicts", func(t *testing.T) {
		detector := NewDetector(testLogger(), &fakeIndex{})
		conflicts, err := detector.Check(context.Background(), nil, window, "")
		require.NoError(t, err)
		assert.Empty(t, conflicts)
	})

	t.Run("Overlapping Shared Officer Conflicts", func(t *testing.T) {
		index := &fakeIndex{deployments: []*database.Deployment{
			makeDeployment("d1", "Market Patrol", base.Add(2*time.Hour), base.Add(6*time.Hour), "o1", "o9"),
		}}
		detector := NewDetector(testLogger(), index)

		conflicts, err := detector.Check(context.Background(), []string{"o1", "o2"}, window, "")
		require.NoError(t, err)
		require.Len(t, conflicts, 1)
		assert.Equal(t, "d1", conflicts[0].DeploymentID)
		assert.Equal(t, []string{"o1"}, conflicts[0].OfficerIDs)
		assert.Equal(t, SeverityHigh, conflicts[0].Severity)
		assert.NotEmpty(t, conflicts[0].Suggestion)
	})

	t.Run("Boundary Touch Does Not Conflict", func(t *testing.T) {
		// Existing deployment starts exactly when the proposal ends.
		index := &fakeIndex{deployments: []*database.Deployment{
			makeDeployment("d1", "Evening Shift", window.End, window.End.Add(4*time.Hour), "o1"),
		}}
		detector := NewDetector(testLogger(), index)

		conflicts, err := detector.Check(context.Background(), []string{"o1"}, window, "")
		require.NoError(t, err)
		assert.Empty(t, conflicts)
	})

	t.Run("Disjoint Officer Sets Do Not Conflict", func(t *testing.T) {
		index := &fakeIndex{deployments: []*database.Deployment{
			makeDeployment("d1", "Market Patrol", base, base.Add(4*time.Hour), "o8", "o9"),
		}}
		detector := NewDetector(testLogger(), index)

		conflicts, err := detector.Check(context.Background(), []string{"o1", "o2"}, window, "")
		require.NoError(t, err)
		assert.Empty(t, conflicts)
	})

	t.Run("One Conflict Per Deployment Ordered By Start", func(t *testing.T) {
		index := &fakeIndex{deployments: []*database.Deployment{
			makeDeployment("later", "Later Event", base.Add(3*time.Hour), base.Add(7*time.Hour), "o1", "o2"),
			makeDeployment("earlier", "Earlier Event", base.Add(1*time.Hour), base.Add(2*time.Hour), "o2"),
		}}
		detector := NewDetector(testLogger(), index)

		conflicts, err := detector.Check(context.Background(), []string{"o1", "o2"}, window, "")
		require.NoError(t, err)
		require.Len(t, conflicts, 2)
		assert.Equal(t, "earlier", conflicts[0].DeploymentID)
		assert.Equal(t, "later", conflicts[1].DeploymentID)
		assert.Equal(t, []string{"o1", "o2"}, conflicts[1].OfficerIDs)
	})

	t.Run("Excluded Deployment Is Skipped", func(t *testing.T) {
		index := &fakeIndex{deployments: []*database.Deployment{
			makeDeployment("self", "Self", base, base.Add(4*time.Hour), "o1"),
		}}
		detector := NewDetector(testLogger(), index)

		conflicts, err := detector.Check(context.Background(), []string{"o1"}, window, "self")
		require.NoError(t, err)
		assert.Empty(t, conflicts)
	})

	t.Run("Index Failure Is Not No Conflict", func(t *testing.T) {
		index := &fakeIndex{err: errors.New("connection refused")}
		detector := NewDetector(testLogger(), index)

		conflicts, err := detector.Check(context.Background(), []string{"o1"}, window, "")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrCheckUnavailable)
		assert.Nil(t, conflicts)
	})
}

type fakeAssignments struct {
	deployment *database.Deployment
	updated    []string
	updateErr  error
}

func (f *fakeAssignments) GetByID(ctx context.Context, id string) (*database.Deployment, error) {
	return f.deployment, nil
}

func (f *fakeAssignments) UpdateOfficers(ctx context.Context, deploymentID string, officerIDs []string) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updated = officerIDs
	return nil
}

func TestCommitter_Commit(t *testing.T) {
	base := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

	t.Run("Clear Check Commits", func(t *testing.T) {
		target := makeDeployment("d1", "Target", base, base.Add(4*time.Hour))
		assignments := &fakeAssignments{deployment: target}
		detector := NewDetector(testLogger(), &fakeIndex{})
		committer := NewCommitter(testLogger(), detector, assignments)

		conflicts, err := committer.Commit(context.Background(), "d1", []string{"o1", "o2"})
		require.NoError(t, err)
		assert.Empty(t, conflicts)
		assert.Equal(t, []string{"o1", "o2"}, assignments.updated)
	})

	t.Run("Conflicts Block The Write", func(t *testing.T) {
		target := makeDeployment("d1", "Target", base, base.Add(4*time.Hour))
		index := &fakeIndex{deployments: []*database.Deployment{
			makeDeployment("d2", "Other", base, base.Add(4*time.Hour), "o1"),
		}}
		assignments := &fakeAssignments{deployment: target}
		committer := NewCommitter(testLogger(), NewDetector(testLogger(), index), assignments)

		conflicts, err := committer.Commit(context.Background(), "d1", []string{"o1"})
		require.NoError(t, err)
		require.Len(t, conflicts, 1)
		assert.Nil(t, assignments.updated)
	})

	t.Run("Unavailable Check Blocks The Write", func(t *testing.T) {
		target := makeDeployment("d1", "Target", base, base.Add(4*time.Hour))
		index := &fakeIndex{err: errors.New("down")}
		assignments := &fakeAssignments{deployment: target}
		committer := NewCommitter(testLogger(), NewDetector(testLogger(), index), assignments)

		_, err := committer.Commit(context.Background(), "d1", []string{"o1"})
		assert.ErrorIs(t, err, ErrCheckUnavailable)
		assert.Nil(t, assignments.updated)
	})

	t.Run("Active Deployment Rejects Edits", func(t *testing.T) {
		target := makeDeployment("d1", "Target", base, base.Add(4*time.Hour))
		target.Status = database.DeploymentActive
		assignments := &fakeAssignments{deployment: target}
		committer := NewCommitter(testLogger(), NewDetector(testLogger(), &fakeIndex{}), assignments)

		_, err := committer.Commit(context.Background(), "d1", []string{"o1"})
		assert.ErrorIs(t, err, ErrNotScheduled)
	})

	t.Run("Unknown Deployment", func(t *testing.T) {
		assignments := &fakeAssignments{}
		committer := NewCommitter(testLogger(), NewDetector(testLogger(), &fakeIndex{}), assignments)

		_, err := committer.Commit(context.Background(), "missing", []string{"o1"})
		assert.ErrorIs(t, err, ErrUnknownDeployment)
	})
}
