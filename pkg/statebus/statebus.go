// Package statebus publishes connection-state transitions and tool-call
// outcomes to Redis pub/sub for external observability. It is never a
// dependency of correctness: with no address configured it is a no-op.
package statebus

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Channels used by the bus.
const (
	ChannelConnection = "hackpack:connection"
	ChannelToolCalls  = "hackpack:toolcalls"
)

// Bus publishes short status strings to Redis pub/sub channels.
type Bus struct {
	client *redis.Client
	ctx    context.Context
}

// New connects to addr and returns a Bus. An empty addr yields a no-op Bus.
func New(addr, password string, db int) (*Bus, error) {
	if addr == "" {
		return &Bus{}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("statebus: connect to redis at %s: %w", addr, err)
	}
	return &Bus{client: client, ctx: ctx}, nil
}

// PublishConnection announces a ConnectionState transition as "<state>:<detail>".
func (b *Bus) PublishConnection(state, detail string) error {
	return b.publish(ChannelConnection, fmt.Sprintf("%s:%s", state, detail))
}

// PublishToolCall announces a completed tools/call as "<tool>:<ok|error>".
func (b *Bus) PublishToolCall(tool string, ok bool) error {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	return b.publish(ChannelToolCalls, fmt.Sprintf("%s:%s", tool, outcome))
}

func (b *Bus) publish(channel, message string) error {
	if b.client == nil {
		return nil
	}
	return b.client.Publish(b.ctx, channel, message).Err()
}

// Close releases the underlying Redis client, if any.
func (b *Bus) Close() error {
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}
