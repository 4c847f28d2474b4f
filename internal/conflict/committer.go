package conflict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bandobast/deployment-tracker/internal/database"
)

var (
	// ErrUnknownDeployment means the assignment targeted a deployment that
	// does not exist.
	ErrUnknownDeployment = errors.New("deployment not found")

	// ErrNotScheduled means the deployment has left the scheduled state and
	// its officer set can no longer be edited.
	ErrNotScheduled = errors.New("officer set is only editable while scheduled")
)

// Assignments is the slice of the deployment store the committer mutates.
type Assignments interface {
	GetByID(ctx context.Context, id string) (*database.Deployment, error)
	UpdateOfficers(ctx context.Context, deploymentID string, officerIDs []string) error
}

// Committer makes conflict-check-then-assign a single unit. Two concurrent
// commits that would double-book the same officer cannot both succeed: the
// check is re-run under the commit lock before the officer set is written.
type Committer struct {
	logger      *slog.Logger
	detector    *Detector
	assignments Assignments

	// commitMu serializes check-then-act across all deployments. Assignment
	// edits are rare compared to report ingestion, so one lock is enough.
	commitMu sync.Mutex
}

// NewCommitter creates an assignment committer.
func NewCommitter(logger *slog.Logger, detector *Detector, assignments Assignments) *Committer {
	return &Committer{
		logger:      logger,
		detector:    detector,
		assignments: assignments,
	}
}

// Commit assigns officerIDs to the deployment if no conflict exists. When
// conflicts are found they are returned and nothing is written. A failed
// check (ErrCheckUnavailable) also blocks the commit: an unconfirmed check is
// never treated as "no conflict".
func (c *Committer) Commit(ctx context.Context, deploymentID string, officerIDs []string) ([]Conflict, error) {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	deployment, err := c.assignments.GetByID(ctx, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load deployment for assignment: %w", err)
	}
	if deployment == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDeployment, deploymentID)
	}
	if deployment.Status != database.DeploymentScheduled {
		return nil, fmt.Errorf("%w: deployment %s is %s", ErrNotScheduled,
			deploymentID, deployment.Status)
	}

	conflicts, err := c.detector.Check(ctx, officerIDs, deployment.Window(), deploymentID)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		return conflicts, nil
	}

	if err := c.assignments.UpdateOfficers(ctx, deploymentID, officerIDs); err != nil {
		return nil, err
	}

	c.logger.Info("Assignment committed",
		"deployment_id", deploymentID,
		"officers", len(officerIDs))
	return nil, nil
}
