package ingest

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bandobast/deployment-tracker/internal/alert"
	"github.com/bandobast/deployment-tracker/internal/database"
	"github.com/bandobast/deployment-tracker/internal/geofence"
)

type fakeDeployments struct {
	deployment *database.Deployment
}

// stalledDeployments never answers; lookups settle only when the context does.
type stalledDeployments struct{}

func (stalledDeployments) GetByID(ctx context.Context, id string) (*database.Deployment, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeDeployments) GetByID(ctx context.Context, id string) (*database.Deployment, error) {
	if f.deployment == nil || f.deployment.ID != id {
		return nil, nil
	}
	return f.deployment, nil
}

type fakeOfficers struct {
	officer *database.Officer
}

func (f *fakeOfficers) GetByID(ctx context.Context, id string) (*database.Officer, error) {
	return f.officer, nil
}

type fakeLedger struct {
	mu      sync.Mutex
	records []*database.StatusReport
}

func (f *fakeLedger) Append(ctx context.Context, report *database.StatusReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, report)
	return nil
}

func (f *fakeLedger) LatestFor(ctx context.Context, officerID, deploymentID string) (*database.StatusReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.records) - 1; i >= 0; i-- {
		r := f.records[i]
		if r.OfficerID == officerID && r.DeploymentID == deploymentID {
			return r, nil
		}
	}
	return nil, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []*database.StatusReport
}

func (f *fakePublisher) Publish(ctx context.Context, report *database.StatusReport) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, report)
	return 1
}

type fakeAlerter struct {
	mu     sync.Mutex
	alerts []*alert.Alert
	done   chan struct{}
	delay  time.Duration
}

func (f *fakeAlerter) Dispatch(ctx context.Context, a *alert.Alert) (*alert.Outcome, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.alerts = append(f.alerts, a)
	f.mu.Unlock()
	if f.done != nil {
		close(f.done)
	}
	return &alert.Outcome{AlertID: a.ID, Success: true}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testService(dep *database.Deployment, ledger *fakeLedger, publisher *fakePublisher, alerter *fakeAlerter) *Service {
	evaluator := geofence.NewEvaluator(10*time.Minute, 15.0)
	var a Alerter
	if alerter != nil {
		a = alerter
	}
	return NewService(
		testLogger(),
		evaluator,
		&fakeDeployments{deployment: dep},
		&fakeOfficers{officer: &database.Officer{ID: "o1", Name: "Sharma", Phone: "+91100"}},
		ledger,
		publisher,
		a,
		time.Second,
		time.Second,
	)
}

func makeDeployment() *database.Deployment {
	return &database.Deployment{
		ID:           "d1",
		Name:         "Market Patrol",
		Latitude:     28.6139,
		Longitude:    77.2090,
		RadiusMeters: 500,
		StartsAt:     time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC),
		EndsAt:       time.Date(2026, 3, 14, 16, 0, 0, 0, time.UTC),
		Status:       database.DeploymentActive,
		Officers:     pq.StringArray{"o1"},
	}
}

func TestService_SubmitReport(t *testing.T) {
	inZone := Submission{
		OfficerID:    "o1",
		DeploymentID: "d1",
		Latitude:     28.6140,
		Longitude:    77.2090,
		ReportedAt:   time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}

	t.Run("Accepts And Broadcasts In Zone Report", func(t *testing.T) {
		ledger := &fakeLedger{}
		publisher := &fakePublisher{}
		svc := testService(makeDeployment(), ledger, publisher, nil)

		report, err := svc.SubmitReport(context.Background(), inZone)
		require.NoError(t, err)

		assert.Equal(t, geofence.StatusOnDuty, report.Status)
		assert.NotEmpty(t, report.ID)
		require.Len(t, ledger.records, 1)
		require.Len(t, publisher.published, 1)
		assert.Equal(t, report.ID, publisher.published[0].ID)
	})

	t.Run("Unknown Deployment", func(t *testing.T) {
		svc := testService(nil, &fakeLedger{}, &fakePublisher{}, nil)
		_, err := svc.SubmitReport(context.Background(), inZone)
		assert.ErrorIs(t, err, ErrUnknownDeployment)
	})

	t.Run("Officer Not On Roster", func(t *testing.T) {
		svc := testService(makeDeployment(), &fakeLedger{}, &fakePublisher{}, nil)
		sub := inZone
		sub.OfficerID = "intruder"
		_, err := svc.SubmitReport(context.Background(), sub)
		assert.ErrorIs(t, err, ErrOfficerNotAssigned)
	})

	t.Run("Report Before Window Start Is Rejected", func(t *testing.T) {
		svc := testService(makeDeployment(), &fakeLedger{}, &fakePublisher{}, nil)
		sub := inZone
		sub.ReportedAt = time.Date(2026, 3, 14, 7, 0, 0, 0, time.UTC)
		_, err := svc.SubmitReport(context.Background(), sub)
		assert.ErrorIs(t, err, ErrInvalidReportWindow)
	})

	t.Run("Late Report After Window End Is Accepted", func(t *testing.T) {
		svc := testService(makeDeployment(), &fakeLedger{}, &fakePublisher{}, nil)
		sub := inZone
		sub.ReportedAt = time.Date(2026, 3, 14, 17, 0, 0, 0, time.UTC)
		report, err := svc.SubmitReport(context.Background(), sub)
		require.NoError(t, err)
		assert.Equal(t, geofence.StatusOnDuty, report.Status)
	})

	t.Run("Second Stationary Report Classified Against First", func(t *testing.T) {
		ledger := &fakeLedger{}
		done := make(chan struct{})
		alerter := &fakeAlerter{done: done}
		svc := testService(makeDeployment(), ledger, &fakePublisher{}, alerter)

		_, err := svc.SubmitReport(context.Background(), inZone)
		require.NoError(t, err)

		later := inZone
		later.ReportedAt = inZone.ReportedAt.Add(11 * time.Minute)
		report, err := svc.SubmitReport(context.Background(), later)
		require.NoError(t, err)
		assert.Equal(t, geofence.StatusIdle, report.Status)

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("expected an idle alert dispatch")
		}

		alerter.mu.Lock()
		defer alerter.mu.Unlock()
		require.Len(t, alerter.alerts, 1)
		assert.Equal(t, alert.KindIdle, alerter.alerts[0].Kind)
		assert.Equal(t, "o1", alerter.alerts[0].Recipients[0].OfficerID)
	})

	t.Run("Out Of Zone Raises Zone Violation", func(t *testing.T) {
		done := make(chan struct{})
		alerter := &fakeAlerter{done: done}
		svc := testService(makeDeployment(), &fakeLedger{}, &fakePublisher{}, alerter)

		sub := inZone
		sub.Latitude = 28.7000
		report, err := svc.SubmitReport(context.Background(), sub)
		require.NoError(t, err)
		assert.Equal(t, geofence.StatusOutOfZone, report.Status)
		assert.NotEmpty(t, report.Reasons)

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("expected a zone violation dispatch")
		}

		alerter.mu.Lock()
		defer alerter.mu.Unlock()
		assert.Equal(t, alert.KindZoneViolation, alerter.alerts[0].Kind)
	})

	t.Run("Drain Waits For In Flight Escalations", func(t *testing.T) {
		alerter := &fakeAlerter{delay: 50 * time.Millisecond}
		svc := testService(makeDeployment(), &fakeLedger{}, &fakePublisher{}, alerter)

		sub := inZone
		sub.Latitude = 28.7000
		_, err := svc.SubmitReport(context.Background(), sub)
		require.NoError(t, err)

		svc.Drain()

		alerter.mu.Lock()
		defer alerter.mu.Unlock()
		require.Len(t, alerter.alerts, 1)
		assert.Equal(t, alert.KindZoneViolation, alerter.alerts[0].Kind)
	})

	t.Run("Timeout Is Distinguishable From Validation Failures", func(t *testing.T) {
		evaluator := geofence.NewEvaluator(10*time.Minute, 15.0)
		svc := NewService(testLogger(), evaluator, stalledDeployments{}, &fakeOfficers{},
			&fakeLedger{}, &fakePublisher{}, nil, 5*time.Millisecond, time.Second)

		_, err := svc.SubmitReport(context.Background(), inZone)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.NotErrorIs(t, err, ErrInvalidReportWindow)
		assert.NotErrorIs(t, err, ErrUnknownDeployment)
	})

	t.Run("Ledger Is Append Only", func(t *testing.T) {
		ledger := &fakeLedger{}
		svc := testService(makeDeployment(), ledger, &fakePublisher{}, nil)

		first, err := svc.SubmitReport(context.Background(), inZone)
		require.NoError(t, err)

		later := inZone
		later.ReportedAt = inZone.ReportedAt.Add(5 * time.Minute)
		second, err := svc.SubmitReport(context.Background(), later)
		require.NoError(t, err)

		require.Len(t, ledger.records, 2)
		assert.NotEqual(t, first.ID, second.ID)
		assert.Equal(t, first.ID, ledger.records[0].ID)
	})
}
