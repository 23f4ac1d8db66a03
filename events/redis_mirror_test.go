package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisMirrorPublisherDefaultsStreamKey(t *testing.T) {
	p, err := NewRedisMirrorPublisher("device-1", RedisMirrorConfig{URL: "redis://127.0.0.1:1/0"})
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, "xrayflow:events:device-1", p.streamKey)
}

func TestNewRedisMirrorPublisherRejectsInvalidURL(t *testing.T) {
	_, err := NewRedisMirrorPublisher("device-1", RedisMirrorConfig{URL: "not-a-url://::::"})
	assert.Error(t, err)
}

func TestRedisMirrorPublisherLocalFanOutSucceedsEvenWhenRedisUnreachable(t *testing.T) {
	// Port 1 is never a live Redis server in test environments, so every
	// mirror attempt fails; local delivery must be unaffected regardless.
	p, err := NewRedisMirrorPublisher("device-1", RedisMirrorConfig{URL: "redis://127.0.0.1:1/0"})
	require.NoError(t, err)
	defer p.Close()

	ch, unsubscribe := p.Subscribe(4)
	defer unsubscribe()

	p.Publish(context.Background(), WorkflowEvent{Kind: KindStateChanged, ToState: "Idle"})

	select {
	case ev := <-ch:
		assert.Equal(t, KindStateChanged, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("local subscriber must receive the event even if the Redis mirror fails")
	}
}
