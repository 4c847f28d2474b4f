package conflict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/bandobast/deployment-tracker/internal/database"
)

// ErrCheckUnavailable means the deployment index could not be queried. The
// absence of conflicts is unconfirmed; callers must not treat this as "no
// conflict".
var ErrCheckUnavailable = errors.New("conflict check unavailable")

// SeverityHigh is the severity assigned to schedule conflicts. Overlapping
// assignments always need human judgment, so there is no lower tier.
const SeverityHigh = "high"

// Conflict describes one existing deployment that collides with a proposed
// assignment: shared officers and an overlapping time window.
type Conflict struct {
	DeploymentID   string          `json:"deployment_id"`
	DeploymentName string          `json:"deployment_name"`
	Window         database.Window `json:"window"`
	OfficerIDs     []string        `json:"officer_ids"`
	Severity       string          `json:"severity"`
	Suggestion     string          `json:"suggestion"`
}

// Index is the deployment index queried for overlap candidates.
type Index interface {
	Overlapping(ctx context.Context, officerIDs []string, window database.Window, excludeID string) ([]*database.Deployment, error)
}

// Detector checks proposed officer assignments against existing deployments.
type Detector struct {
	logger *slog.Logger
	index  Index
}

// NewDetector creates a conflict detector backed by the given index.
func NewDetector(logger *slog.Logger, index Index) *Detector {
	return &Detector{logger: logger, index: index}
}

// Check returns one Conflict per scheduled or active deployment, other than
// excludeID, that shares officers with the proposal and overlaps its window.
// Conflicts are ordered by the colliding deployment's start time ascending.
// Windows are half-open; exact boundary touching does not conflict.
func (d *Detector) Check(ctx context.Context, officerIDs []string, window database.Window, excludeID string) ([]Conflict, error) {
	if len(officerIDs) == 0 {
		return nil, nil
	}

	candidates, err := d.index.Overlapping(ctx, officerIDs, window, excludeID)
	if err != nil {
		d.logger.Error("Deployment index query failed during conflict check", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrCheckUnavailable, err)
	}

	proposed := make(map[string]struct{}, len(officerIDs))
	for _, id := range officerIDs {
		proposed[id] = struct{}{}
	}

	var conflicts []Conflict
	for _, dep := range candidates {
		// Re-derive the offending subset rather than trusting the index
		// filter: a false positive from the index must not become a
		// conflict with an empty officer list.
		if !window.Overlaps(dep.Window()) {
			continue
		}

		var shared []string
		for _, id := range dep.Officers {
			if _, ok := proposed[id]; ok {
				shared = append(shared, id)
			}
		}
		if len(shared) == 0 {
			continue
		}
		sort.Strings(shared)

		conflicts = append(conflicts, Conflict{
			DeploymentID:   dep.ID,
			DeploymentName: dep.Name,
			Window:         dep.Window(),
			OfficerIDs:     shared,
			Severity:       SeverityHigh,
			Suggestion: fmt.Sprintf("Officers %s are already assigned to %q during an overlapping window.",
				strings.Join(shared, ", "), dep.Name),
		})
	}

	sort.SliceStable(conflicts, func(i, j int) bool {
		return conflicts[i].Window.Start.Before(conflicts[j].Window.Start)
	})

	if len(conflicts) > 0 {
		d.logger.Info("Assignment conflicts detected",
			"conflicts", len(conflicts),
			"officers", len(officerIDs))
	}

	return conflicts, nil
}
