package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/bandobast/deployment-tracker/internal/alert"
	"github.com/bandobast/deployment-tracker/internal/database"
)

// Lifecycle reads and advances deployment lifecycle state.
type Lifecycle interface {
	ListDueToStart(ctx context.Context, now time.Time) ([]*database.Deployment, error)
	ListDueToComplete(ctx context.Context, now time.Time) ([]*database.Deployment, error)
	UpdateStatus(ctx context.Context, deploymentID, from, to string) (bool, error)
}

// Officers resolves the roster for event-start notifications.
type Officers interface {
	ListByIDs(ctx context.Context, ids []string) ([]*database.Officer, error)
}

// Alerter dispatches event-start alerts.
type Alerter interface {
	Dispatch(ctx context.Context, a *alert.Alert) (*alert.Outcome, error)
}

// Reporter generates the post-event performance report.
type Reporter interface {
	Generate(ctx context.Context, deploymentID string) (*database.PerformanceReport, error)
}

// Scheduler sweeps deployment lifecycle transitions on a cron schedule:
// scheduled deployments whose window has opened become active and their
// rosters are notified; active deployments whose window has closed become
// completed and get a performance report.
type Scheduler struct {
	logger    *slog.Logger
	cron      *cron.Cron
	lifecycle Lifecycle
	officers  Officers
	alerter   Alerter
	reporter  Reporter
	schedule  string
}

func New(logger *slog.Logger, lifecycle Lifecycle, officers Officers, alerter Alerter, reporter Reporter, schedule string) *Scheduler {
	return &Scheduler{
		logger:    logger,
		cron:      cron.New(),
		lifecycle: lifecycle,
		officers:  officers,
		alerter:   alerter,
		reporter:  reporter,
		schedule:  schedule,
	}
}

// Start registers the sweep and starts the cron runner.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.sweep); err != nil {
		return fmt.Errorf("failed to schedule lifecycle sweep: %w", err)
	}
	s.cron.Start()
	s.logger.Info("Lifecycle scheduler started", "schedule", s.schedule)
	return nil
}

// Stop halts the cron runner and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Lifecycle scheduler stopped")
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	now := time.Now().UTC()
	s.activateDue(ctx, now)
	s.completeElapsed(ctx, now)
}

// activateDue moves scheduled deployments whose window has opened to active
// and notifies their rosters.
func (s *Scheduler) activateDue(ctx context.Context, now time.Time) {
	due, err := s.lifecycle.ListDueToStart(ctx, now)
	if err != nil {
		s.logger.Error("Failed to list deployments due to start", "error", err)
		return
	}

	for _, deployment := range due {
		changed, err := s.lifecycle.UpdateStatus(ctx, deployment.ID,
			database.DeploymentScheduled, database.DeploymentActive)
		if err != nil {
			s.logger.Error("Failed to activate deployment",
				"deployment_id", deployment.ID, "error", err)
			continue
		}
		if !changed {
			// Another instance won the transition.
			continue
		}

		s.logger.Info("Deployment activated",
			"deployment_id", deployment.ID, "name", deployment.Name)
		s.notifyStart(ctx, deployment)
	}
}

// completeElapsed moves active deployments whose window has closed to
// completed and generates their performance reports.
func (s *Scheduler) completeElapsed(ctx context.Context, now time.Time) {
	elapsed, err := s.lifecycle.ListDueToComplete(ctx, now)
	if err != nil {
		s.logger.Error("Failed to list deployments due to complete", "error", err)
		return
	}

	for _, deployment := range elapsed {
		changed, err := s.lifecycle.UpdateStatus(ctx, deployment.ID,
			database.DeploymentActive, database.DeploymentCompleted)
		if err != nil {
			s.logger.Error("Failed to complete deployment",
				"deployment_id", deployment.ID, "error", err)
			continue
		}
		if !changed {
			continue
		}

		s.logger.Info("Deployment completed",
			"deployment_id", deployment.ID, "name", deployment.Name)

		if s.reporter != nil {
			if _, err := s.reporter.Generate(ctx, deployment.ID); err != nil {
				s.logger.Error("Failed to generate performance report",
					"deployment_id", deployment.ID, "error", err)
			}
		}
	}
}

func (s *Scheduler) notifyStart(ctx context.Context, deployment *database.Deployment) {
	if s.alerter == nil || len(deployment.Officers) == 0 {
		return
	}

	roster, err := s.officers.ListByIDs(ctx, deployment.Officers)
	if err != nil {
		s.logger.Error("Failed to resolve roster for start alert",
			"deployment_id", deployment.ID, "error", err)
		return
	}

	recipients := make([]alert.Recipient, 0, len(roster))
	for _, officer := range roster {
		recipients = append(recipients, alert.Recipient{
			OfficerID:    officer.ID,
			Name:         officer.Name,
			Phone:        officer.Phone,
			Email:        officer.Email,
			PushToken:    officer.PushToken,
			CriticalRole: officer.CriticalRole,
		})
	}
	if len(recipients) == 0 {
		return
	}

	a := &alert.Alert{
		ID:             uuid.New().String(),
		Kind:           alert.KindEventStart,
		DeploymentID:   deployment.ID,
		DeploymentName: deployment.Name,
		Message: fmt.Sprintf("Deployment %s is now active until %s",
			deployment.Name, deployment.EndsAt.Format(time.RFC3339)),
		Recipients: recipients,
		CreatedAt:  time.Now().UTC(),
	}
	if _, err := s.alerter.Dispatch(ctx, a); err != nil {
		s.logger.Error("Failed to dispatch start alert",
			"deployment_id", deployment.ID, "error", err)
	}
}
