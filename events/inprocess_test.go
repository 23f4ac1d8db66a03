package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInProcessPublisherDeliversToSubscriber(t *testing.T) {
	p := NewInProcessPublisher(nil)
	defer p.Close()

	ch, unsubscribe := p.Subscribe(4)
	defer unsubscribe()

	p.Publish(context.Background(), WorkflowEvent{Kind: KindStateChanged, ToState: "WorklistSync"})

	select {
	case ev := <-ch:
		assert.Equal(t, KindStateChanged, ev.Kind)
		assert.Equal(t, "WorklistSync", ev.ToState)
		assert.False(t, ev.Timestamp.IsZero(), "Publish must stamp a timestamp when the caller didn't set one")
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestInProcessPublisherFansOutToMultipleSubscribers(t *testing.T) {
	p := NewInProcessPublisher(nil)
	defer p.Close()

	ch1, unsub1 := p.Subscribe(4)
	ch2, unsub2 := p.Subscribe(4)
	defer unsub1()
	defer unsub2()

	p.Publish(context.Background(), WorkflowEvent{Kind: KindError})

	for _, ch := range []<-chan WorkflowEvent{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, KindError, ev.Kind)
		case <-time.After(time.Second):
			t.Fatal("event not delivered to every subscriber")
		}
	}
}

func TestInProcessPublisherDropsOnFullChannelRatherThanBlocking(t *testing.T) {
	p := NewInProcessPublisher(nil)
	defer p.Close()

	ch, unsubscribe := p.Subscribe(1)
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			p.Publish(context.Background(), WorkflowEvent{Kind: KindStateChanged})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish must never block the clinical path on a slow subscriber")
	}
	<-ch // drain whatever landed, just to show the channel is usable
}

func TestInProcessPublisherUnsubscribeClosesChannel(t *testing.T) {
	p := NewInProcessPublisher(nil)
	defer p.Close()

	ch, unsubscribe := p.Subscribe(4)
	unsubscribe()

	_, open := <-ch
	assert.False(t, open, "unsubscribe must close the subscriber's channel")
}

func TestInProcessPublisherPresentRecoveryOptionsEmitsCriticalEvent(t *testing.T) {
	p := NewInProcessPublisher(nil)
	defer p.Close()

	ch, unsubscribe := p.Subscribe(4)
	defer unsubscribe()

	p.PresentRecoveryOptions(context.Background(), "PatientSelect", "STU-1")

	select {
	case ev := <-ch:
		require.Equal(t, KindRecoveryOptionsNeeded, ev.Kind)
		assert.Equal(t, "PatientSelect", ev.ToState)
		assert.Equal(t, "STU-1", ev.StudyInstanceUID)
		assert.Equal(t, "critical", ev.Severity)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestInProcessPublisherCloseClosesAllSubscriberChannels(t *testing.T) {
	p := NewInProcessPublisher(nil)
	ch, _ := p.Subscribe(4)

	require.NoError(t, p.Close())

	_, open := <-ch
	assert.False(t, open)
}
