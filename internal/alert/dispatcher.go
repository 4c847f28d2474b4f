package alert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Kind identifies the anomaly or event an alert is raised for.
type Kind string

const (
	KindIdle             Kind = "idle"
	KindZoneViolation    Kind = "zone-violation"
	KindScheduleConflict Kind = "schedule-conflict"
	KindEventStart       Kind = "event-start"
	KindHolidayRequest   Kind = "holiday-request"
)

// Channel identifies a notification channel.
type Channel string

const (
	ChannelMessage Channel = "message"
	ChannelPush    Channel = "push"
	ChannelVoice   Channel = "voice"
)

// Recipient is the contact surface of one alert target.
type Recipient struct {
	OfficerID    string `json:"officer_id"`
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Email        string `json:"email"`
	PushToken    string `json:"push_token,omitempty"`
	CriticalRole bool   `json:"critical_role"`
}

// Alert is one anomaly notification to be fanned out across channels.
type Alert struct {
	ID             string      `json:"id"`
	Kind           Kind        `json:"kind"`
	DeploymentID   string      `json:"deployment_id,omitempty"`
	DeploymentName string      `json:"deployment_name,omitempty"`
	Message        string      `json:"message"`
	Recipients     []Recipient `json:"recipients"`
	CreatedAt      time.Time   `json:"created_at"`
}

// DeliveryError records a single channel's failed attempt. Sibling channel
// attempts are unaffected by it.
type DeliveryError struct {
	Channel   Channel
	Recipient string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("channel delivery failed: %s to %s: %v", e.Channel, e.Recipient, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// ChannelResult is the settled result of one channel attempt.
type ChannelResult struct {
	Channel   Channel `json:"channel"`
	Recipient string  `json:"recipient"`
	Error     string  `json:"error,omitempty"`
	Succeeded bool    `json:"succeeded"`
}

// Outcome reports how a dispatch settled. Success means at least one channel
// attempt succeeded; a false Success with non-empty Results means the anomaly
// was detected and recorded but could not be delivered anywhere.
type Outcome struct {
	AlertID   string          `json:"alert_id"`
	Kind      Kind            `json:"kind"`
	Success   bool            `json:"success"`
	Attempted int             `json:"attempted"`
	Succeeded int             `json:"succeeded"`
	Results   []ChannelResult `json:"results"`
}

// Sink delivers an alert to one recipient over one channel. Implementations
// wrap the actual transport and are pluggable; tests use fakes.
type Sink interface {
	Channel() Channel
	Send(ctx context.Context, recipient Recipient, alert *Alert) error
}

// Emitter publishes dispatch outcomes downstream (e.g. to Kafka). Optional.
type Emitter interface {
	EmitAlert(ctx context.Context, alert *Alert, outcome *Outcome)
}

// Observer records settled dispatch outcomes, e.g. for metrics. Optional.
type Observer interface {
	ObserveDispatch(outcome *Outcome)
}

// Dispatcher drives the channel-escalation policy for each alert kind. All
// channel attempts for one alert run concurrently, the dispatcher waits for
// every attempt to settle, and it never retries: retry policy belongs to the
// caller.
type Dispatcher struct {
	logger         *slog.Logger
	sinks          map[Channel]Sink
	limiters       map[Channel]*rate.Limiter
	channelTimeout time.Duration
	emitter        Emitter
	observer       Observer
}

// NewDispatcher creates a dispatcher over the given sinks. A channel without
// a registered sink fails its attempts with "channel not configured", which
// still counts as an attempt so the outcome stays honest.
func NewDispatcher(logger *slog.Logger, sinks []Sink, channelTimeout time.Duration) *Dispatcher {
	byChannel := make(map[Channel]Sink, len(sinks))
	for _, sink := range sinks {
		byChannel[sink.Channel()] = sink
	}
	return &Dispatcher{
		logger:         logger,
		sinks:          byChannel,
		limiters:       make(map[Channel]*rate.Limiter),
		channelTimeout: channelTimeout,
	}
}

// SetRateLimit applies a per-minute rate limit to a channel.
func (d *Dispatcher) SetRateLimit(channel Channel, perMinute, burst int) {
	if perMinute <= 0 {
		return
	}
	d.limiters[channel] = rate.NewLimiter(rate.Limit(perMinute)/60, burst)
}

// SetEmitter registers an outcome emitter.
func (d *Dispatcher) SetEmitter(emitter Emitter) {
	d.emitter = emitter
}

// SetObserver registers an outcome observer.
func (d *Dispatcher) SetObserver(observer Observer) {
	d.observer = observer
}

// Dispatch fans one alert out to every channel its kind escalates to, waits
// for all attempts to settle, and reports success if at least one channel
// succeeded. A channel failure never aborts sibling attempts.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *Alert) (*Outcome, error) {
	if len(alert.Recipients) == 0 {
		return nil, fmt.Errorf("alert %s has no recipients", alert.ID)
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}

	type attempt struct {
		channel   Channel
		recipient Recipient
	}
	var attempts []attempt
	for _, recipient := range alert.Recipients {
		for _, channel := range channelsFor(alert.Kind, recipient) {
			attempts = append(attempts, attempt{channel: channel, recipient: recipient})
		}
	}

	outcome := &Outcome{
		AlertID:   alert.ID,
		Kind:      alert.Kind,
		Attempted: len(attempts),
		Results:   make([]ChannelResult, len(attempts)),
	}

	// One goroutine per attempt; each writes only its own result slot, so
	// there is no shared mutable state across channel attempts.
	var g errgroup.Group
	for i, a := range attempts {
		i, a := i, a
		g.Go(func() error {
			err := d.attempt(ctx, a.channel, a.recipient, alert)
			result := ChannelResult{
				Channel:   a.channel,
				Recipient: a.recipient.OfficerID,
				Succeeded: err == nil,
			}
			if err != nil {
				result.Error = err.Error()
				d.logger.Warn("Alert channel attempt failed",
					"alert_id", alert.ID,
					"kind", alert.Kind,
					"channel", a.channel,
					"recipient", a.recipient.OfficerID,
					"error", err)
			}
			outcome.Results[i] = result
			return nil
		})
	}
	g.Wait()

	for _, result := range outcome.Results {
		if result.Succeeded {
			outcome.Succeeded++
		}
	}
	outcome.Success = outcome.Succeeded > 0

	d.logger.Info("Alert dispatched",
		"alert_id", alert.ID,
		"kind", alert.Kind,
		"attempted", outcome.Attempted,
		"succeeded", outcome.Succeeded,
		"success", outcome.Success)

	if d.observer != nil {
		d.observer.ObserveDispatch(outcome)
	}
	if d.emitter != nil {
		d.emitter.EmitAlert(ctx, alert, outcome)
	}

	return outcome, nil
}

// attempt runs a single channel attempt under the channel timeout.
func (d *Dispatcher) attempt(ctx context.Context, channel Channel, recipient Recipient, alert *Alert) error {
	sink, ok := d.sinks[channel]
	if !ok {
		return &DeliveryError{Channel: channel, Recipient: recipient.OfficerID,
			Err: fmt.Errorf("channel not configured")}
	}

	if limiter, ok := d.limiters[channel]; ok && !limiter.Allow() {
		return &DeliveryError{Channel: channel, Recipient: recipient.OfficerID,
			Err: fmt.Errorf("rate limit exceeded")}
	}

	attemptCtx := ctx
	if d.channelTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, d.channelTimeout)
		defer cancel()
	}

	if err := sink.Send(attemptCtx, recipient, alert); err != nil {
		return &DeliveryError{Channel: channel, Recipient: recipient.OfficerID, Err: err}
	}
	return nil
}

// channelsFor is the escalation policy: which channels a given anomaly kind
// reaches for, per recipient.
func channelsFor(kind Kind, recipient Recipient) []Channel {
	switch kind {
	case KindIdle:
		channels := []Channel{ChannelMessage, ChannelPush}
		if recipient.CriticalRole {
			channels = append(channels, ChannelVoice)
		}
		return channels
	case KindZoneViolation:
		// Highest severity: always escalate through voice as well.
		return []Channel{ChannelMessage, ChannelPush, ChannelVoice}
	case KindScheduleConflict, KindHolidayRequest:
		return []Channel{ChannelMessage, ChannelPush}
	case KindEventStart:
		return []Channel{ChannelMessage, ChannelPush}
	default:
		return []Channel{ChannelMessage}
	}
}
