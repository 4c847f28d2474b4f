package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/bandobast/deployment-tracker/internal/config"
	"github.com/bandobast/deployment-tracker/internal/ingest"
)

// LocationMessage is one periodic officer location update from the field
// gateway. It carries the same payload as a directly submitted status report.
type LocationMessage struct {
	OfficerID    string    `json:"officer_id"`
	DeploymentID string    `json:"deployment_id"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Timestamp    time.Time `json:"timestamp"`
}

// Consumer reads location updates and feeds them through the ingest pipeline.
type Consumer struct {
	config       *config.Config
	logger       *slog.Logger
	reader       *kafka.Reader
	ingest       *ingest.Service
	shutdownChan chan struct{}
	wg           sync.WaitGroup

	messageCount int64
	errorCount   int64
}

// NewConsumer creates a Kafka consumer over the location updates topic.
func NewConsumer(cfg *config.Config, logger *slog.Logger, ingestSvc *ingest.Service) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Kafka.Brokers,
		GroupID:        cfg.Kafka.GroupID,
		Topic:          cfg.Kafka.Topics.LocationUpdates,
		MinBytes:       cfg.Kafka.Consumer.MinBytes,
		MaxBytes:       cfg.Kafka.Consumer.MaxBytes,
		CommitInterval: time.Duration(cfg.Kafka.Consumer.CommitIntervalMs) * time.Millisecond,
		StartOffset:    kafka.LastOffset,
		Logger:         &kafkaLogger{logger: logger},
		ErrorLogger:    &kafkaErrorLogger{logger: logger},
	})

	return &Consumer{
		config:       cfg,
		logger:       logger,
		reader:       reader,
		ingest:       ingestSvc,
		shutdownChan: make(chan struct{}),
	}
}

// Start starts the consumer workers.
func (c *Consumer) Start(ctx context.Context) error {
	workers := c.config.Kafka.Consumer.WorkerCount
	if workers <= 0 {
		workers = 1
	}

	c.logger.Info("Starting Kafka consumer",
		"topic", c.config.Kafka.Topics.LocationUpdates,
		"group_id", c.config.Kafka.GroupID,
		"workers", workers)

	for i := 0; i < workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i)
	}
	return nil
}

// Stop stops the consumer and waits for in-flight messages to settle.
func (c *Consumer) Stop() {
	c.logger.Info("Stopping Kafka consumer")
	close(c.shutdownChan)

	if c.reader != nil {
		c.reader.Close()
	}

	c.wg.Wait()
	c.logger.Info("Kafka consumer stopped")
}

func (c *Consumer) worker(ctx context.Context, workerID int) {
	defer c.wg.Done()

	c.logger.Debug("Starting Kafka consumer worker", "worker_id", workerID)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdownChan:
			return
		default:
			readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			message, err := c.reader.ReadMessage(readCtx)
			cancel()

			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					continue
				}
				select {
				case <-c.shutdownChan:
					return
				default:
				}
				c.logger.Error("Failed to read Kafka message",
					"worker_id", workerID,
					"error", err)
				atomic.AddInt64(&c.errorCount, 1)
				time.Sleep(1 * time.Second)
				continue
			}

			if err := c.processMessage(ctx, &message); err != nil {
				c.logger.Error("Failed to process location update",
					"worker_id", workerID,
					"topic", message.Topic,
					"partition", message.Partition,
					"offset", message.Offset,
					"error", err)
				atomic.AddInt64(&c.errorCount, 1)
			} else {
				atomic.AddInt64(&c.messageCount, 1)
			}
		}
	}
}

// processMessage runs one location update through the report pipeline.
// Validation rejections are logged and dropped, not retried: the next
// periodic update supersedes a bad one.
func (c *Consumer) processMessage(ctx context.Context, message *kafka.Message) error {
	var loc LocationMessage
	if err := json.Unmarshal(message.Value, &loc); err != nil {
		return fmt.Errorf("failed to unmarshal location message: %w", err)
	}

	_, err := c.ingest.SubmitReport(ctx, ingest.Submission{
		OfficerID:    loc.OfficerID,
		DeploymentID: loc.DeploymentID,
		Latitude:     loc.Latitude,
		Longitude:    loc.Longitude,
		ReportedAt:   loc.Timestamp,
	})
	if err != nil {
		if errors.Is(err, ingest.ErrUnknownDeployment) ||
			errors.Is(err, ingest.ErrOfficerNotAssigned) ||
			errors.Is(err, ingest.ErrInvalidReportWindow) {
			c.logger.Warn("Dropped invalid location update",
				"officer_id", loc.OfficerID,
				"deployment_id", loc.DeploymentID,
				"reason", err)
			return nil
		}
		return err
	}
	return nil
}

// GetStats returns consumer statistics.
func (c *Consumer) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"messages_processed": atomic.LoadInt64(&c.messageCount),
		"errors":             atomic.LoadInt64(&c.errorCount),
	}
}

// Kafka logging adapters

type kafkaLogger struct {
	logger *slog.Logger
}

func (l *kafkaLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

type kafkaErrorLogger struct {
	logger *slog.Logger
}

func (l *kafkaErrorLogger) Printf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...))
}
