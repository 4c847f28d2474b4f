package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete configuration for the deployment tracker service
type Config struct {
	Environment   string              `mapstructure:"environment"`
	Debug         bool                `mapstructure:"debug"`
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Duty          DutyConfig          `mapstructure:"duty"`
	Workload      WorkloadConfig      `mapstructure:"workload"`
	Alerting      AlertingConfig      `mapstructure:"alerting"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig contains database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// RedisConfig contains Redis configuration for cross-instance broadcast
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// KafkaConfig contains Kafka configuration
type KafkaConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Brokers  []string       `mapstructure:"brokers"`
	GroupID  string         `mapstructure:"group_id"`
	Topics   TopicsConfig   `mapstructure:"topics"`
	Consumer ConsumerConfig `mapstructure:"consumer"`
}

// TopicsConfig contains Kafka topic configuration
type TopicsConfig struct {
	// Input: periodic officer location updates
	LocationUpdates string `mapstructure:"location_updates"`

	// Output: anomaly alerts and their delivery outcomes
	AlertGenerated string `mapstructure:"alert_generated"`
}

// ConsumerConfig contains Kafka consumer tuning
type ConsumerConfig struct {
	WorkerCount      int `mapstructure:"worker_count"`
	MinBytes         int `mapstructure:"min_bytes"`
	MaxBytes         int `mapstructure:"max_bytes"`
	CommitIntervalMs int `mapstructure:"commit_interval_ms"`
}

// DutyConfig contains report classification and broadcast configuration
type DutyConfig struct {
	IdleThreshold   time.Duration `mapstructure:"idle_threshold"`
	MovementEpsilon float64       `mapstructure:"movement_epsilon_meters"`
	BroadcastBuffer int           `mapstructure:"broadcast_buffer"`
	SubmitTimeout   time.Duration `mapstructure:"submit_timeout"`
}

// WorkloadConfig contains workload scoring configuration
type WorkloadConfig struct {
	TrailingWindowDays int           `mapstructure:"trailing_window_days"`
	OverloadThreshold  float64       `mapstructure:"overload_threshold"`
	MaxWeeklyEvents    int           `mapstructure:"max_weekly_events"`
	CacheTTL           time.Duration `mapstructure:"cache_ttl"`
}

// AlertingConfig contains alert dispatch configuration
type AlertingConfig struct {
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout"`
	ChannelTimeout  time.Duration `mapstructure:"channel_timeout"`
}

// NotificationsConfig contains notification channel configuration
type NotificationsConfig struct {
	SMS   SMSConfig   `mapstructure:"sms"`
	Voice VoiceConfig `mapstructure:"voice"`
	Push  PushConfig  `mapstructure:"push"`
	Email EmailConfig `mapstructure:"email"`
}

// SMSConfig contains Twilio SMS channel configuration
type SMSConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	TwilioSID       string `mapstructure:"twilio_sid"`
	TwilioToken     string `mapstructure:"twilio_token"`
	FromNumber      string `mapstructure:"from_number"`
	RateLimitPerMin int    `mapstructure:"rate_limit_per_min"`
}

// VoiceConfig contains Twilio voice channel configuration
type VoiceConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	TwilioSID       string `mapstructure:"twilio_sid"`
	TwilioToken     string `mapstructure:"twilio_token"`
	FromNumber      string `mapstructure:"from_number"`
	RateLimitPerMin int    `mapstructure:"rate_limit_per_min"`
}

// PushConfig contains push gateway channel configuration
type PushConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	GatewayURL      string        `mapstructure:"gateway_url"`
	APIKey          string        `mapstructure:"api_key"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RateLimitPerMin int           `mapstructure:"rate_limit_per_min"`
}

// EmailConfig contains SendGrid email channel configuration
type EmailConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	SendGridAPIKey  string `mapstructure:"sendgrid_api_key"`
	FromAddress     string `mapstructure:"from_address"`
	FromName        string `mapstructure:"from_name"`
	RateLimitPerMin int    `mapstructure:"rate_limit_per_min"`
}

// SchedulerConfig contains deployment lifecycle scheduler configuration
type SchedulerConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	LifecycleSchedule string `mapstructure:"lifecycle_schedule"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level         string `mapstructure:"level"`
	IncludeSource bool   `mapstructure:"include_source"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/deployment-tracker")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("DEPLOYMENT_TRACKER")

	// Config file is optional, env and defaults cover everything
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks configuration invariants that would otherwise surface late
func (c *Config) Validate() error {
	if c.Duty.IdleThreshold <= 0 {
		return fmt.Errorf("duty.idle_threshold must be positive, got %s", c.Duty.IdleThreshold)
	}
	if c.Duty.MovementEpsilon < 0 {
		return fmt.Errorf("duty.movement_epsilon_meters must not be negative, got %f", c.Duty.MovementEpsilon)
	}
	if c.Workload.TrailingWindowDays <= 0 {
		return fmt.Errorf("workload.trailing_window_days must be positive, got %d", c.Workload.TrailingWindowDays)
	}
	if c.Workload.MaxWeeklyEvents <= 0 {
		return fmt.Errorf("workload.max_weekly_events must be positive, got %d", c.Workload.MaxWeeklyEvents)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// General
	viper.SetDefault("environment", "development")
	viper.SetDefault("debug", false)

	// Server
	viper.SetDefault("server.http_port", 8086)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.shutdown_timeout", "30s")

	// Database
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "deployment_tracker")
	viper.SetDefault("database.username", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("database.migrations_path", "file://migrations")

	// Redis
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)

	// Kafka
	viper.SetDefault("kafka.enabled", false)
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.group_id", "deployment-tracker")
	viper.SetDefault("kafka.topics.location_updates", "location-updates")
	viper.SetDefault("kafka.topics.alert_generated", "alert-generated")
	viper.SetDefault("kafka.consumer.worker_count", 2)
	viper.SetDefault("kafka.consumer.min_bytes", 1)
	viper.SetDefault("kafka.consumer.max_bytes", 10e6)
	viper.SetDefault("kafka.consumer.commit_interval_ms", 1000)

	// Duty
	viper.SetDefault("duty.idle_threshold", "10m")
	viper.SetDefault("duty.movement_epsilon_meters", 15.0)
	viper.SetDefault("duty.broadcast_buffer", 256)
	viper.SetDefault("duty.submit_timeout", "10s")

	// Workload
	viper.SetDefault("workload.trailing_window_days", 7)
	viper.SetDefault("workload.overload_threshold", 0.8)
	viper.SetDefault("workload.max_weekly_events", 5)
	viper.SetDefault("workload.cache_ttl", "1m")

	// Alerting
	viper.SetDefault("alerting.dispatch_timeout", "30s")
	viper.SetDefault("alerting.channel_timeout", "15s")

	// Notifications
	viper.SetDefault("notifications.sms.enabled", false)
	viper.SetDefault("notifications.sms.rate_limit_per_min", 10)
	viper.SetDefault("notifications.voice.enabled", false)
	viper.SetDefault("notifications.voice.rate_limit_per_min", 5)
	viper.SetDefault("notifications.push.enabled", false)
	viper.SetDefault("notifications.push.timeout", "10s")
	viper.SetDefault("notifications.push.rate_limit_per_min", 120)
	viper.SetDefault("notifications.email.enabled", false)
	viper.SetDefault("notifications.email.rate_limit_per_min", 60)

	// Scheduler
	viper.SetDefault("scheduler.enabled", true)
	viper.SetDefault("scheduler.lifecycle_schedule", "@every 30s")

	// Logging
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.include_source", false)
}
