package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/bandobast/deployment-tracker/internal/database"
)

// ErrClosed is returned by Subscribe after the broadcaster has shut down.
var ErrClosed = errors.New("broadcaster closed")

// redisChannelPrefix scopes relay channels so instances can share one Redis.
const redisChannelPrefix = "duty:deployment:"

// envelope wraps a relayed report with its origin instance so an instance
// never re-delivers its own publishes.
type envelope struct {
	Origin string                 `json:"origin"`
	Report *database.StatusReport `json:"report"`
}

// Broadcaster fans classified status reports out to deployment-scoped
// subscribers. Delivery is best-effort and at-most-once: a subscriber that
// cannot keep up is dropped rather than blocking publishers, and a new
// subscriber only sees reports published after it joined. There is one
// process-wide instance, constructed at startup and injected.
type Broadcaster struct {
	logger     *slog.Logger
	buffer     int
	redis      *redis.Client
	instanceID string
	onDrop     func(deploymentID string)

	mu     sync.Mutex
	rooms  map[string]map[*Subscription]struct{}
	closed bool
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithBuffer sets the per-subscriber channel buffer.
func WithBuffer(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithRedis enables cross-instance relay through Redis pub/sub.
func WithRedis(client *redis.Client) Option {
	return func(b *Broadcaster) {
		b.redis = client
	}
}

// WithDropHandler registers a callback invoked when a slow subscriber is
// dropped. Used for metrics.
func WithDropHandler(fn func(deploymentID string)) Option {
	return func(b *Broadcaster) {
		b.onDrop = fn
	}
}

// New creates a broadcaster.
func New(logger *slog.Logger, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		logger:     logger,
		buffer:     256,
		instanceID: uuid.New().String(),
		rooms:      make(map[string]map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscription is a live, cancellable stream of one deployment's reports.
type Subscription struct {
	deploymentID string
	ch           chan *database.StatusReport
	b            *Broadcaster
	once         sync.Once
}

// Events returns the subscription's receive channel. The channel is closed
// when the subscription is cancelled, the subscriber falls too far behind,
// or the broadcaster shuts down; a closed channel is terminal.
func (s *Subscription) Events() <-chan *database.StatusReport {
	return s.ch
}

// DeploymentID returns the deployment the subscription is scoped to.
func (s *Subscription) DeploymentID() string {
	return s.deploymentID
}

// Cancel ends the subscription and releases its resources. Safe to call more
// than once and never blocks publishers.
func (s *Subscription) Cancel() {
	s.b.remove(s)
}

// Subscribe registers a new subscriber for a deployment. The subscriber only
// receives reports published after this call returns.
func (b *Broadcaster) Subscribe(deploymentID string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	sub := &Subscription{
		deploymentID: deploymentID,
		ch:           make(chan *database.StatusReport, b.buffer),
		b:            b,
	}

	room, ok := b.rooms[deploymentID]
	if !ok {
		room = make(map[*Subscription]struct{})
		b.rooms[deploymentID] = room
	}
	room[sub] = struct{}{}

	b.logger.Debug("Subscriber joined deployment room",
		"deployment_id", deploymentID,
		"subscribers", len(room))
	return sub, nil
}

// Publish delivers a report to every current subscriber of its deployment and
// to no one else. Sends happen under the broadcaster lock, so all subscribers
// of one deployment observe publishes in the same order. Returns the number
// of local subscribers the report was delivered to.
func (b *Broadcaster) Publish(ctx context.Context, report *database.StatusReport) int {
	b.mu.Lock()
	delivered := 0
	if !b.closed {
		room := b.rooms[report.DeploymentID]
		for sub := range room {
			select {
			case sub.ch <- report:
				delivered++
			default:
				// Subscriber buffer full: drop it rather than stall the room.
				delete(room, sub)
				sub.once.Do(func() { close(sub.ch) })
				if b.onDrop != nil {
					b.onDrop(report.DeploymentID)
				}
				b.logger.Warn("Dropped slow subscriber", "deployment_id", report.DeploymentID)
			}
		}
		if len(room) == 0 {
			delete(b.rooms, report.DeploymentID)
		}
	}
	b.mu.Unlock()

	if b.redis != nil {
		if err := b.publishToRedis(ctx, report); err != nil {
			b.logger.Warn("Failed to relay report to redis",
				"deployment_id", report.DeploymentID,
				"error", err)
		}
	}

	return delivered
}

// SubscriberCount returns the number of local subscribers for a deployment.
func (b *Broadcaster) SubscriberCount(deploymentID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rooms[deploymentID])
}

// Close shuts the broadcaster down. All subscriptions are terminated and
// further Subscribe calls fail with ErrClosed.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, room := range b.rooms {
		for sub := range room {
			sub.once.Do(func() { close(sub.ch) })
		}
	}
	b.rooms = make(map[string]map[*Subscription]struct{})
	b.logger.Info("Broadcaster closed")
}

// remove detaches a subscription from its room.
func (b *Broadcaster) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	room, ok := b.rooms[sub.deploymentID]
	if !ok {
		return
	}
	if _, ok := room[sub]; !ok {
		return
	}

	delete(room, sub)
	sub.once.Do(func() { close(sub.ch) })
	if len(room) == 0 {
		delete(b.rooms, sub.deploymentID)
	}
}

// publishToRedis relays a report to other instances.
func (b *Broadcaster) publishToRedis(ctx context.Context, report *database.StatusReport) error {
	data, err := json.Marshal(envelope{Origin: b.instanceID, Report: report})
	if err != nil {
		return fmt.Errorf("failed to marshal report envelope: %w", err)
	}
	channel := redisChannelPrefix + report.DeploymentID
	return b.redis.Publish(ctx, channel, data).Err()
}

// RelayFromRedis delivers reports published by other instances to local
// subscribers. Runs until the context is cancelled.
func (b *Broadcaster) RelayFromRedis(ctx context.Context) {
	if b.redis == nil {
		return
	}

	pubsub := b.redis.PSubscribe(ctx, redisChannelPrefix+"*")
	defer pubsub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-pubsub.Channel():
			if !ok {
				return
			}

			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn("Failed to unmarshal relayed report", "error", err)
				continue
			}
			if env.Origin == b.instanceID || env.Report == nil {
				continue
			}

			b.deliverLocal(env.Report)
		}
	}
}

// deliverLocal fans a relayed report out to local subscribers only.
func (b *Broadcaster) deliverLocal(report *database.StatusReport) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for sub := range b.rooms[report.DeploymentID] {
		select {
		case sub.ch <- report:
		default:
			delete(b.rooms[report.DeploymentID], sub)
			sub.once.Do(func() { close(sub.ch) })
			if b.onDrop != nil {
				b.onDrop(report.DeploymentID)
			}
		}
	}
}
