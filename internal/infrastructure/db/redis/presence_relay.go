package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const presenceChannel = "presence:events"

// presenceEvent is the payload relayed between server instances when a
// machine transitions online/offline. It mirrors the machine_online /
// machine_offline wire frame payload (spec §6) so the hub can forward it
// to local channels without a second shape.
type presenceEvent struct {
	MachineID string `json:"machineId"`
	Name      string `json:"name"`
	Online    bool   `json:"online"`
	Origin    string `json:"origin"`
}

// PresenceRelay fans a local presence transition out to every other
// server instance sharing the same Redis deployment, and delivers
// transitions published by those other instances back to this one. A
// single process never needs this — it is purely for horizontally scaled
// deployments where a machine's owner may hold live channels on more
// than one instance.
type PresenceRelay interface {
	// Publish announces a local transition. originID identifies this
	// server instance so Subscribe can skip self-originated echoes.
	Publish(ctx context.Context, machineID, name string, online bool, originID string) error

	// Subscribe runs until ctx is cancelled, invoking handler for every
	// transition published by a different origin.
	Subscribe(ctx context.Context, originID string, handler func(machineID, name string, online bool)) error
}

// RedisPresenceRelay implements PresenceRelay over a Redis Pub/Sub
// channel, grounded on the connection-lifecycle pattern in redis.go.
type RedisPresenceRelay struct {
	client *redis.Client
}

func NewRedisPresenceRelay(client *redis.Client) *RedisPresenceRelay {
	return &RedisPresenceRelay{client: client}
}

func (r *RedisPresenceRelay) Publish(ctx context.Context, machineID, name string, online bool, originID string) error {
	payload, err := json.Marshal(presenceEvent{MachineID: machineID, Name: name, Online: online, Origin: originID})
	if err != nil {
		return fmt.Errorf("marshal presence event: %w", err)
	}
	return r.client.Publish(ctx, presenceChannel, payload).Err()
}

func (r *RedisPresenceRelay) Subscribe(ctx context.Context, originID string, handler func(machineID, name string, online bool)) error {
	sub := r.client.Subscribe(ctx, presenceChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var evt presenceEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				continue
			}
			if evt.Origin == originID {
				continue
			}
			handler(evt.MachineID, evt.Name, evt.Online)
		}
	}
}

// NoopPresenceRelay publishes nothing, and its Subscribe blocks until ctx
// is cancelled. cmd/server does not construct it: with REDIS_ADDR unset
// (or Redis unreachable) the hub keeps its own built-in no-op relay, and
// the in-memory ChannelRegistry path covers everything within one process.
type NoopPresenceRelay struct{}

func (NoopPresenceRelay) Publish(context.Context, string, string, bool, string) error { return nil }

func (NoopPresenceRelay) Subscribe(ctx context.Context, _ string, _ func(string, string, bool)) error {
	<-ctx.Done()
	return nil
}
