// Package redisq is the Redis transport shared by the services: list queues
// for inbound requests and persistence records, pub/sub for request replies
// and market data streams.
package redisq

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Queue names.
const (
	QueueOrders   = "orders"
	QueueUsers    = "users"
	QueueDatabase = "database"
)

// ErrNoMessage reports that no reply arrived before the wait timeout.
var ErrNoMessage = errors.New("no message before timeout")

// Manager wraps one Redis connection pool.
type Manager struct {
	client *redis.Client
	log    *zap.Logger
}

func New(addr, password string, db int, log *zap.Logger) (*Manager, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &Manager{client: client, log: log}, nil
}

func (m *Manager) Close() error {
	return m.client.Close()
}

// Push appends payload to the queue. Consumers pop from the other end, so
// the queue is FIFO.
func (m *Manager) Push(ctx context.Context, queue string, payload []byte) error {
	if err := m.client.LPush(ctx, queue, payload).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", queue, err)
	}
	return nil
}

// Pop blocks on the queue for at most timeout and returns one payload, or
// (nil, nil) when the queue stayed empty. A non-nil error is a transport
// error.
func (m *Manager) Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error) {
	res, err := m.client.BRPop(ctx, timeout, queue).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("brpop %s: %w", queue, err)
	}
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("brpop %s: unexpected reply of %d elements", queue, len(res))
	}
	return []byte(res[1]), nil
}

// Publish sends payload on a pub/sub channel.
func (m *Manager) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := m.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a pub/sub subscription on the given channels. The caller
// owns the returned subscription and must close it.
func (m *Manager) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return m.client.Subscribe(ctx, channels...)
}

// PushAndWait enqueues a request and waits for the reply published on the
// correlation channel. The subscription is established before the push so
// the reply cannot slip past.
func (m *Manager) PushAndWait(ctx context.Context, queue, correlationID string, payload []byte, timeout time.Duration) ([]byte, error) {
	sub := m.client.Subscribe(ctx, correlationID)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("subscribe reply %s: %w", correlationID, err)
	}

	if err := m.Push(ctx, queue, payload); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	msg, err := sub.ReceiveMessage(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("reply %s: %w", correlationID, ErrNoMessage)
		}
		return nil, fmt.Errorf("await reply %s: %w", correlationID, err)
	}
	return []byte(msg.Payload), nil
}

// Backoff returns the delay before retry number attempt (counting from 0):
// exponential from 100ms, capped at 10s, with up to 20% jitter so restarting
// consumers do not stampede.
func Backoff(attempt int) time.Duration {
	base := 100 * time.Millisecond
	max := 10 * time.Second
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if d > max || d <= 0 {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 5))
	return d + jitter
}
