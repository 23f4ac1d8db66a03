package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/xrayconsole/workflowengine/core"
)

// RedisMirrorPublisher wraps an InProcessPublisher and additionally fans
// every event out to a Redis stream, so a second console (charge nurse
// display, dose-monitoring station) can subscribe without coupling to the
// executor process. Redis is never on the journal durability path — a
// mirror failure is logged and never affects local delivery. The mirror
// write runs synchronously inside Publish, bounded by a 500ms timeout.
type RedisMirrorPublisher struct {
	*InProcessPublisher

	client         *redis.Client
	streamKey      string
	maxStreamLen   int64
	circuitBreaker core.CircuitBreaker
	logger         core.Logger
}

// RedisMirrorConfig configures the Redis stream mirror.
type RedisMirrorConfig struct {
	URL            string
	StreamKey      string // default "xrayflow:events:{device_id}"
	MaxStreamLen   int64  // approximate cap via XADD MAXLEN ~
	CircuitBreaker core.CircuitBreaker
	Logger         core.Logger
}

// NewRedisMirrorPublisher builds a RedisMirrorPublisher for deviceID. If
// cfg.StreamKey is empty it defaults to "xrayflow:events:{deviceID}".
func NewRedisMirrorPublisher(deviceID string, cfg RedisMirrorConfig) (*RedisMirrorPublisher, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, core.NewEngineError("events.NewRedisMirrorPublisher", core.KindExternalDependencyError, err)
	}
	client := redis.NewClient(opts)

	streamKey := cfg.StreamKey
	if streamKey == "" {
		streamKey = fmt.Sprintf("xrayflow:events:%s", deviceID)
	}
	maxLen := cfg.MaxStreamLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	logger := cfg.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	return &RedisMirrorPublisher{
		InProcessPublisher: NewInProcessPublisher(logger),
		client:              client,
		streamKey:            streamKey,
		maxStreamLen:         maxLen,
		circuitBreaker:       cfg.CircuitBreaker,
		logger:               logger,
	}, nil
}

// Publish fans out locally first (always succeeds for local subscribers),
// then best-effort mirrors to Redis. A Redis failure never affects the
// local fan-out result.
func (p *RedisMirrorPublisher) Publish(ctx context.Context, event WorkflowEvent) {
	p.InProcessPublisher.Publish(ctx, event)
	p.mirror(ctx, event)
}

func (p *RedisMirrorPublisher) mirror(ctx context.Context, event WorkflowEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("redis event mirror: marshal failed", map[string]interface{}{"error": err.Error()})
		return
	}

	publish := func() error {
		mctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		defer cancel()
		return p.client.XAdd(mctx, &redis.XAddArgs{
			Stream: p.streamKey,
			MaxLen: p.maxStreamLen,
			Approx: true,
			Values: map[string]interface{}{"event": string(data)},
		}).Err()
	}

	var err2 error
	if p.circuitBreaker != nil {
		err2 = p.circuitBreaker.Execute(ctx, publish)
	} else {
		err2 = publish()
	}
	if err2 != nil {
		p.logger.Warn("redis event mirror publish failed", map[string]interface{}{
			"error": err2.Error(),
			"kind":  string(event.Kind),
		})
	}
}

// Close closes local subscriber channels and the Redis client.
func (p *RedisMirrorPublisher) Close() error {
	_ = p.InProcessPublisher.Close()
	return p.client.Close()
}
