package reporting

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bandobast/deployment-tracker/internal/database"
	"github.com/bandobast/deployment-tracker/internal/geofence"
)

type fakeDeployments struct {
	deployment *database.Deployment
}

func (f *fakeDeployments) GetByID(ctx context.Context, id string) (*database.Deployment, error) {
	return f.deployment, nil
}

type fakeHistory struct {
	records []*database.StatusReport
}

func (f *fakeHistory) History(ctx context.Context, deploymentID string, since *time.Time) ([]*database.StatusReport, error) {
	return f.records, nil
}

type fakeReports struct {
	created *database.PerformanceReport
}

func (f *fakeReports) Create(ctx context.Context, report *database.PerformanceReport) error {
	f.created = report
	return nil
}

func (f *fakeReports) ListByDeployment(ctx context.Context, deploymentID string) ([]*database.PerformanceReport, error) {
	if f.created == nil {
		return nil, nil
	}
	return []*database.PerformanceReport{f.created}, nil
}

type fakeOfficers struct{}

func (f *fakeOfficers) GetByID(ctx context.Context, id string) (*database.Officer, error) {
	return &database.Officer{ID: id, Name: "Supervisor", Email: "sup@example.com"}, nil
}

type fakeMailer struct {
	subject string
	body    string
	sent    int
}

func (f *fakeMailer) SendReport(ctx context.Context, toName, toEmail, subject, plainBody, htmlBody string) error {
	f.subject = subject
	f.body = plainBody
	f.sent++
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func record(officerID string, status geofence.Status) *database.StatusReport {
	return &database.StatusReport{
		OfficerID:    officerID,
		DeploymentID: "d1",
		Status:       status,
	}
}

func TestEngine_Generate(t *testing.T) {
	deployment := &database.Deployment{
		ID:           "d1",
		Name:         "Market Patrol",
		SupervisorID: "sup1",
		Officers:     pq.StringArray{"o1", "o2", "o3"},
	}

	t.Run("Aggregates Per Officer", func(t *testing.T) {
		history := &fakeHistory{records: []*database.StatusReport{
			record("o1", geofence.StatusOnDuty),
			record("o1", geofence.StatusIdle),
			record("o1", geofence.StatusIdle),
			record("o2", geofence.StatusOutOfZone),
		}}
		reports := &fakeReports{}
		mailer := &fakeMailer{}
		engine := NewEngine(testLogger(), &fakeDeployments{deployment: deployment},
			history, reports, &fakeOfficers{}, mailer)

		report, err := engine.Generate(context.Background(), "d1")
		require.NoError(t, err)
		require.NotNil(t, reports.created)

		byOfficer := make(map[string]database.OfficerPerformance)
		for _, line := range report.Officers {
			byOfficer[line.OfficerID] = line
		}
		require.Len(t, byOfficer, 3)

		assert.True(t, byOfficer["o1"].Attendance)
		assert.Equal(t, 2, byOfficer["o1"].IdleAlerts)
		assert.Zero(t, byOfficer["o1"].ZoneViolations)

		assert.True(t, byOfficer["o2"].Attendance)
		assert.Equal(t, 1, byOfficer["o2"].ZoneViolations)

		assert.False(t, byOfficer["o3"].Attendance)

		assert.Contains(t, report.Summary, "2 of 3")
	})

	t.Run("Mails The Supervisor", func(t *testing.T) {
		mailer := &fakeMailer{}
		engine := NewEngine(testLogger(), &fakeDeployments{deployment: deployment},
			&fakeHistory{}, &fakeReports{}, &fakeOfficers{}, mailer)

		_, err := engine.Generate(context.Background(), "d1")
		require.NoError(t, err)

		assert.Equal(t, 1, mailer.sent)
		assert.Contains(t, mailer.subject, "Market Patrol")
	})

	t.Run("No Mailer Still Persists", func(t *testing.T) {
		reports := &fakeReports{}
		engine := NewEngine(testLogger(), &fakeDeployments{deployment: deployment},
			&fakeHistory{}, reports, &fakeOfficers{}, nil)

		_, err := engine.Generate(context.Background(), "d1")
		require.NoError(t, err)
		assert.NotNil(t, reports.created)
	})
}
