package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/bandobast/deployment-tracker/internal/alert"
)

func TestCollector_ObserveDispatch(t *testing.T) {
	c := NewCollector()

	c.ObserveDispatch(&alert.Outcome{
		Kind:      alert.KindZoneViolation,
		Success:   true,
		Attempted: 3,
		Succeeded: 2,
		Results: []alert.ChannelResult{
			{Channel: alert.ChannelMessage, Succeeded: true},
			{Channel: alert.ChannelPush, Succeeded: true},
			{Channel: alert.ChannelVoice, Succeeded: false, Error: "call failed"},
		},
	})
	c.ObserveDispatch(&alert.Outcome{
		Kind:    alert.KindIdle,
		Success: false,
		Results: []alert.ChannelResult{
			{Channel: alert.ChannelMessage, Succeeded: false, Error: "down"},
		},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.AlertsTotal.WithLabelValues("zone-violation", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.AlertsTotal.WithLabelValues("idle", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.AlertChannelsTotal.WithLabelValues("message", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.AlertChannelsTotal.WithLabelValues("message", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.AlertChannelsTotal.WithLabelValues("voice", "failed")))
}
