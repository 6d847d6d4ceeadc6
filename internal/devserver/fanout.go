package devserver

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"teamline/pkg/logger"
)

// Fanout delivers an encoded event envelope to a set of users. The local
// implementation writes straight to the hub; the Redis one publishes to a
// shared channel so every server instance delivers to its own connections.
type Fanout interface {
	Deliver(ctx context.Context, userIDs []string, payload []byte)
}

type localFanout struct {
	hub *Hub
}

func NewLocalFanout(hub *Hub) Fanout {
	return localFanout{hub: hub}
}

func (f localFanout) Deliver(_ context.Context, userIDs []string, payload []byte) {
	f.hub.Deliver(userIDs, payload)
}

const redisEventChannel = "teamline:events"

// redisFrame is what travels over the Redis pub/sub channel.
type redisFrame struct {
	UserIDs []string        `json:"user_ids"`
	Payload json.RawMessage `json:"payload"`
}

// RedisFanout bridges event delivery through Redis pub/sub so a fleet of
// server instances all see every event and deliver it to the connections
// they hold.
type RedisFanout struct {
	client *redis.Client
	hub    *Hub
	log    *logger.Logger
	pubsub *redis.PubSub
}

func NewRedisFanout(client *redis.Client, hub *Hub, log *logger.Logger) *RedisFanout {
	if log == nil {
		log = logger.NewNop()
	}
	return &RedisFanout{client: client, hub: hub, log: log}
}

// Run subscribes and pumps frames into the local hub until ctx is done.
func (f *RedisFanout) Run(ctx context.Context) {
	f.pubsub = f.client.Subscribe(ctx, redisEventChannel)
	ch := f.pubsub.Channel()
	go func() {
		defer f.pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var frame redisFrame
				if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
					f.log.Warnf("bad fanout frame: %v", err)
					continue
				}
				f.hub.Deliver(frame.UserIDs, frame.Payload)
			}
		}
	}()
}

func (f *RedisFanout) Deliver(ctx context.Context, userIDs []string, payload []byte) {
	frame, err := json.Marshal(redisFrame{UserIDs: userIDs, Payload: payload})
	if err != nil {
		return
	}
	if err := f.client.Publish(ctx, redisEventChannel, frame).Err(); err != nil {
		f.log.Errorf("redis publish: %v", err)
		// Degrade to local delivery so this instance's clients still hear.
		f.hub.Deliver(userIDs, payload)
	}
}
