package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"github.com/bandobast/deployment-tracker/internal/alert"
	"github.com/bandobast/deployment-tracker/internal/config"
)

// AlertGeneratedMessage is the outgoing record of one dispatched alert and
// how its channel attempts settled.
type AlertGeneratedMessage struct {
	AlertID        string                `json:"alert_id"`
	Kind           alert.Kind            `json:"kind"`
	DeploymentID   string                `json:"deployment_id,omitempty"`
	DeploymentName string                `json:"deployment_name,omitempty"`
	Message        string                `json:"message"`
	Success        bool                  `json:"success"`
	Attempted      int                   `json:"attempted"`
	Succeeded      int                   `json:"succeeded"`
	Results        []alert.ChannelResult `json:"results"`
	Timestamp      time.Time             `json:"timestamp"`
}

// Producer publishes dispatched alerts to the alert topic. It implements the
// dispatcher's Emitter hook.
type Producer struct {
	config *config.Config
	logger *slog.Logger
	writer *kafka.Writer

	messageCount int64
	errorCount   int64
}

// NewProducer creates a Kafka producer for the alert generated topic.
func NewProducer(cfg *config.Config, logger *slog.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        cfg.Kafka.Topics.AlertGenerated,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 100 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Compression:  kafka.Compression(compress.Snappy),
		Logger:       &kafkaLogger{logger: logger},
		ErrorLogger:  &kafkaErrorLogger{logger: logger},
	}

	return &Producer{
		config: cfg,
		logger: logger,
		writer: writer,
	}
}

// Stop flushes and closes the writer.
func (p *Producer) Stop() {
	p.logger.Info("Stopping Kafka producer")
	if p.writer != nil {
		p.writer.Close()
	}
	p.logger.Info("Kafka producer stopped")
}

// EmitAlert publishes one alert outcome. Publish failure is logged, never
// surfaced: the dispatch already settled and downstream consumers tolerate
// gaps.
func (p *Producer) EmitAlert(ctx context.Context, a *alert.Alert, outcome *alert.Outcome) {
	msg := AlertGeneratedMessage{
		AlertID:        a.ID,
		Kind:           a.Kind,
		DeploymentID:   a.DeploymentID,
		DeploymentName: a.DeploymentName,
		Message:        a.Message,
		Success:        outcome.Success,
		Attempted:      outcome.Attempted,
		Succeeded:      outcome.Succeeded,
		Results:        outcome.Results,
		Timestamp:      a.CreatedAt,
	}

	messageBytes, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error("Failed to marshal alert message", "alert_id", a.ID, "error", err)
		return
	}

	kafkaMsg := kafka.Message{
		Key:   []byte(a.ID),
		Value: messageBytes,
		Headers: []kafka.Header{
			{Key: "alert_id", Value: []byte(a.ID)},
			{Key: "kind", Value: []byte(a.Kind)},
			{Key: "success", Value: []byte(fmt.Sprintf("%t", outcome.Success))},
		},
	}

	if err := p.writer.WriteMessages(ctx, kafkaMsg); err != nil {
		atomic.AddInt64(&p.errorCount, 1)
		p.logger.Error("Failed to publish alert message",
			"alert_id", a.ID, "kind", a.Kind, "error", err)
		return
	}

	atomic.AddInt64(&p.messageCount, 1)
	p.logger.Debug("Alert published to Kafka",
		"alert_id", a.ID, "kind", a.Kind, "success", outcome.Success)
}

// GetStats returns producer statistics.
func (p *Producer) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"messages_published": atomic.LoadInt64(&p.messageCount),
		"errors":             atomic.LoadInt64(&p.errorCount),
	}
}
