package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-resty/resty/v2"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/bandobast/deployment-tracker/internal/alert"
	"github.com/bandobast/deployment-tracker/internal/config"
)

// SMSClient delivers alerts as text messages through Twilio.
type SMSClient struct {
	logger     *slog.Logger
	client     *twilio.RestClient
	fromNumber string
}

func NewSMSClient(logger *slog.Logger, cfg config.SMSConfig) *SMSClient {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.TwilioSID,
		Password: cfg.TwilioToken,
	})
	return &SMSClient{
		logger:     logger,
		client:     client,
		fromNumber: cfg.FromNumber,
	}
}

func (c *SMSClient) Channel() alert.Channel {
	return alert.ChannelMessage
}

func (c *SMSClient) Send(ctx context.Context, recipient alert.Recipient, a *alert.Alert) error {
	if recipient.Phone == "" {
		return fmt.Errorf("recipient %s has no phone number", recipient.OfficerID)
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(recipient.Phone)
	params.SetFrom(c.fromNumber)
	params.SetBody(fmt.Sprintf("[%s] %s", a.Kind, a.Message))

	resp, err := c.client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("failed to send SMS: %w", err)
	}

	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	c.logger.Debug("SMS sent", "alert_id", a.ID, "recipient", recipient.OfficerID, "message_sid", sid)
	return nil
}

// VoiceClient places automated calls through Twilio for the kinds that
// escalate to voice.
type VoiceClient struct {
	logger     *slog.Logger
	client     *twilio.RestClient
	fromNumber string
}

func NewVoiceClient(logger *slog.Logger, cfg config.VoiceConfig) *VoiceClient {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.TwilioSID,
		Password: cfg.TwilioToken,
	})
	return &VoiceClient{
		logger:     logger,
		client:     client,
		fromNumber: cfg.FromNumber,
	}
}

func (c *VoiceClient) Channel() alert.Channel {
	return alert.ChannelVoice
}

func (c *VoiceClient) Send(ctx context.Context, recipient alert.Recipient, a *alert.Alert) error {
	if recipient.Phone == "" {
		return fmt.Errorf("recipient %s has no phone number", recipient.OfficerID)
	}

	twiml := fmt.Sprintf("<Response><Say>%s. Deployment %s. %s</Say></Response>",
		spokenKind(a.Kind), a.DeploymentName, a.Message)

	params := &twilioApi.CreateCallParams{}
	params.SetTo(recipient.Phone)
	params.SetFrom(c.fromNumber)
	params.SetTwiml(twiml)

	resp, err := c.client.Api.CreateCall(params)
	if err != nil {
		return fmt.Errorf("failed to place call: %w", err)
	}

	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	c.logger.Debug("Voice call placed", "alert_id", a.ID, "recipient", recipient.OfficerID, "call_sid", sid)
	return nil
}

func spokenKind(kind alert.Kind) string {
	switch kind {
	case alert.KindIdle:
		return "Idle officer alert"
	case alert.KindZoneViolation:
		return "Zone violation alert"
	case alert.KindScheduleConflict:
		return "Schedule conflict alert"
	case alert.KindEventStart:
		return "Deployment starting"
	case alert.KindHolidayRequest:
		return "Holiday request"
	default:
		return "Deployment alert"
	}
}

// PushClient posts alerts to the push notification gateway.
type PushClient struct {
	logger *slog.Logger
	client *resty.Client
}

func NewPushClient(logger *slog.Logger, cfg config.PushConfig) *PushClient {
	client := resty.New().
		SetBaseURL(cfg.GatewayURL).
		SetHeader("Authorization", "Bearer "+cfg.APIKey).
		SetHeader("Content-Type", "application/json")
	return &PushClient{logger: logger, client: client}
}

func (c *PushClient) Channel() alert.Channel {
	return alert.ChannelPush
}

func (c *PushClient) Send(ctx context.Context, recipient alert.Recipient, a *alert.Alert) error {
	if recipient.PushToken == "" {
		return fmt.Errorf("recipient %s has no push token", recipient.OfficerID)
	}

	payload := map[string]interface{}{
		"token": recipient.PushToken,
		"title": fmt.Sprintf("Deployment alert: %s", a.Kind),
		"body":  a.Message,
		"data": map[string]string{
			"alert_id":      a.ID,
			"kind":          string(a.Kind),
			"deployment_id": a.DeploymentID,
		},
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post("/v1/push")
	if err != nil {
		return fmt.Errorf("failed to send push notification: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("push gateway returned status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Debug("Push notification sent", "alert_id", a.ID, "recipient", recipient.OfficerID)
	return nil
}

// EmailClient sends mail through SendGrid. It is used for supervisor-facing
// deliveries such as generated performance reports rather than the alert
// escalation path.
type EmailClient struct {
	logger    *slog.Logger
	client    *sendgrid.Client
	fromName  string
	fromEmail string
}

func NewEmailClient(logger *slog.Logger, cfg config.EmailConfig) *EmailClient {
	return &EmailClient{
		logger:    logger,
		client:    sendgrid.NewSendClient(cfg.SendGridAPIKey),
		fromName:  cfg.FromName,
		fromEmail: cfg.FromAddress,
	}
}

// SendReport mails a generated performance report summary to a supervisor.
func (c *EmailClient) SendReport(ctx context.Context, toName, toEmail, subject, plainBody, htmlBody string) error {
	if toEmail == "" {
		return fmt.Errorf("recipient has no email address")
	}

	from := mail.NewEmail(c.fromName, c.fromEmail)
	to := mail.NewEmail(toName, toEmail)
	message := mail.NewSingleEmail(from, subject, to, plainBody, htmlBody)

	resp, err := c.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid returned status %d: %s", resp.StatusCode, resp.Body)
	}

	c.logger.Debug("Email sent", "recipient", toEmail, "subject", subject)
	return nil
}
