// Package ws bridges the Redis market-data streams to websocket clients.
// Clients subscribe to individual streams (trade.<MARKET>, depth.<MARKET>)
// over one socket; the hub keeps exactly one Redis subscription per stream
// with at least one listener.
package ws

import (
	"context"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/orbitex/exchange-core/internal/events"
)

// Subscriber opens the shared pub/sub connection the hub reads from.
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

type Hub struct {
	log *zap.Logger

	mu      sync.Mutex
	streams map[string]map[*Client]struct{}
	pubsub  *redis.PubSub
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log:     log,
		streams: make(map[string]map[*Client]struct{}),
	}
}

// Run consumes the Redis subscription and fans each frame out to the
// clients subscribed to its stream. It returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context, sub Subscriber) {
	h.mu.Lock()
	h.pubsub = sub.Subscribe(ctx)
	h.mu.Unlock()
	defer h.pubsub.Close()

	ch := h.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast(msg.Channel, []byte(msg.Payload))
		}
	}
}

func (h *Hub) broadcast(stream string, frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.streams[stream] {
		select {
		case client.send <- frame:
		default:
			// Slow consumer: drop the frame rather than stall the hub.
			h.log.Debug("frame dropped", zap.String("stream", stream))
		}
	}
}

// validStream accepts only the market-data stream namespaces; clients must
// not be able to listen on reply correlation channels.
func validStream(stream string) bool {
	return strings.HasPrefix(stream, events.StreamTradePrefix) ||
		strings.HasPrefix(stream, events.StreamDepthPrefix)
}

func (h *Hub) subscribe(ctx context.Context, c *Client, streams []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, stream := range streams {
		if !validStream(stream) {
			continue
		}
		listeners, ok := h.streams[stream]
		if !ok {
			listeners = make(map[*Client]struct{})
			h.streams[stream] = listeners
			if h.pubsub != nil {
				if err := h.pubsub.Subscribe(ctx, stream); err != nil {
					h.log.Warn("redis subscribe failed", zap.String("stream", stream), zap.Error(err))
				}
			}
		}
		listeners[c] = struct{}{}
		c.streams[stream] = struct{}{}
	}
}

func (h *Hub) unsubscribe(ctx context.Context, c *Client, streams []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, stream := range streams {
		h.dropLocked(ctx, c, stream)
	}
}

// removeClient detaches the client from every stream it listened to.
func (h *Hub) removeClient(ctx context.Context, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for stream := range c.streams {
		h.dropLocked(ctx, c, stream)
	}
	close(c.send)
}

func (h *Hub) dropLocked(ctx context.Context, c *Client, stream string) {
	listeners, ok := h.streams[stream]
	if !ok {
		return
	}
	delete(listeners, c)
	delete(c.streams, stream)
	if len(listeners) == 0 {
		delete(h.streams, stream)
		if h.pubsub != nil {
			if err := h.pubsub.Unsubscribe(ctx, stream); err != nil {
				h.log.Warn("redis unsubscribe failed", zap.String("stream", stream), zap.Error(err))
			}
		}
	}
}
