package broadcast

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bandobast/deployment-tracker/internal/database"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func makeReport(id, deploymentID string) *database.StatusReport {
	return &database.StatusReport{
		ID:           id,
		OfficerID:    "o1",
		DeploymentID: deploymentID,
		ReportedAt:   time.Now().UTC(),
	}
}

func TestBroadcaster_Scoping(t *testing.T) {
	b := New(testLogger())
	defer b.Close()

	subA, err := b.Subscribe("dep-a")
	require.NoError(t, err)
	subB, err := b.Subscribe("dep-b")
	require.NoError(t, err)

	delivered := b.Publish(context.Background(), makeReport("r1", "dep-a"))
	assert.Equal(t, 1, delivered)

	select {
	case report := <-subA.Events():
		assert.Equal(t, "r1", report.ID)
	case <-time.After(time.Second):
		t.Fatal("expected report on dep-a subscription")
	}

	select {
	case report := <-subB.Events():
		t.Fatalf("unexpected report on dep-b subscription: %s", report.ID)
	default:
	}
}

func TestBroadcaster_OrderPreserved(t *testing.T) {
	b := New(testLogger(), WithBuffer(16))
	defer b.Close()

	sub, err := b.Subscribe("dep-a")
	require.NoError(t, err)

	for _, id := range []string{"r1", "r2", "r3"} {
		b.Publish(context.Background(), makeReport(id, "dep-a"))
	}

	for _, want := range []string{"r1", "r2", "r3"} {
		select {
		case report := <-sub.Events():
			assert.Equal(t, want, report.ID)
		case <-time.After(time.Second):
			t.Fatalf("missing report %s", want)
		}
	}
}

func TestBroadcaster_NoReplay(t *testing.T) {
	b := New(testLogger())
	defer b.Close()

	b.Publish(context.Background(), makeReport("before", "dep-a"))

	sub, err := b.Subscribe("dep-a")
	require.NoError(t, err)

	b.Publish(context.Background(), makeReport("after", "dep-a"))

	select {
	case report := <-sub.Events():
		assert.Equal(t, "after", report.ID)
	case <-time.After(time.Second):
		t.Fatal("expected the post-subscription report")
	}
	select {
	case report := <-sub.Events():
		t.Fatalf("unexpected replayed report: %s", report.ID)
	default:
	}
}

func TestBroadcaster_SlowSubscriberDropped(t *testing.T) {
	var dropped []string
	b := New(testLogger(),
		WithBuffer(1),
		WithDropHandler(func(deploymentID string) {
			dropped = append(dropped, deploymentID)
		}))
	defer b.Close()

	slow, err := b.Subscribe("dep-a")
	require.NoError(t, err)

	// First fill the buffer, then overflow it; the slow subscriber is
	// removed rather than stalling the publisher.
	b.Publish(context.Background(), makeReport("r1", "dep-a"))
	b.Publish(context.Background(), makeReport("r2", "dep-a"))

	assert.Equal(t, []string{"dep-a"}, dropped)
	assert.Zero(t, b.SubscriberCount("dep-a"))

	// The buffered report is still readable, then the channel closes.
	report, ok := <-slow.Events()
	require.True(t, ok)
	assert.Equal(t, "r1", report.ID)
	_, ok = <-slow.Events()
	assert.False(t, ok)
}

func TestBroadcaster_Cancel(t *testing.T) {
	b := New(testLogger())
	defer b.Close()

	sub, err := b.Subscribe("dep-a")
	require.NoError(t, err)
	assert.Equal(t, 1, b.SubscriberCount("dep-a"))

	sub.Cancel()
	assert.Zero(t, b.SubscriberCount("dep-a"))

	// Cancel is idempotent.
	sub.Cancel()

	delivered := b.Publish(context.Background(), makeReport("r1", "dep-a"))
	assert.Zero(t, delivered)
}

func TestBroadcaster_Close(t *testing.T) {
	b := New(testLogger())

	sub, err := b.Subscribe("dep-a")
	require.NoError(t, err)

	b.Close()

	_, ok := <-sub.Events()
	assert.False(t, ok)

	_, err = b.Subscribe("dep-a")
	assert.ErrorIs(t, err, ErrClosed)
}
