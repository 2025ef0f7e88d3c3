package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"fieldops/internal/logger"
	"fieldops/internal/model"
)

const OdometerChannel = "odometer:recorded"

type relayMessage struct {
	Origin string            `json:"origin"`
	Log    model.OdometerLog `json:"log"`
}

// RedisRelay fans odometer readings out across server instances. Readings
// recorded locally go to the bus directly and to Redis; readings from other
// instances arrive through Run.
type RedisRelay struct {
	client   *redis.Client
	bus      *OdometerRecorded
	instance string
	logger   *zap.Logger
}

func NewRedisRelay(client *redis.Client, bus *OdometerRecorded, instance string, log *zap.Logger) *RedisRelay {
	return &RedisRelay{client: client, bus: bus, instance: instance, logger: logger.OrNop(log)}
}

func (r *RedisRelay) Publish(ctx context.Context, entry model.OdometerLog) {
	r.bus.Publish(entry)
	if r.client == nil {
		return
	}
	data, err := json.Marshal(relayMessage{Origin: r.instance, Log: entry})
	if err != nil {
		r.logger.Error("encode odometer event", zap.Error(err))
		return
	}
	if err := r.client.Publish(ctx, OdometerChannel, data).Err(); err != nil {
		r.logger.Warn("publish odometer event", zap.Error(err))
	}
}

// Run blocks until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) {
	if r.client == nil {
		return
	}
	sub := r.client.Subscribe(ctx, OdometerChannel)
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var decoded relayMessage
			if err := json.Unmarshal([]byte(msg.Payload), &decoded); err != nil {
				r.logger.Warn("decode odometer event", zap.Error(err))
				continue
			}
			if decoded.Origin == r.instance {
				continue
			}
			r.bus.Publish(decoded.Log)
		}
	}
}
