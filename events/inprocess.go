package events

import (
	"context"
	"sync"
	"time"

	"github.com/xrayconsole/workflowengine/core"
)

// InProcessPublisher fans events out to local Go-channel subscribers. It is
// always the base implementation: RedisMirrorPublisher wraps one of these
// and adds a secondary, best-effort Redis fan-out on top.
type InProcessPublisher struct {
	mu          sync.RWMutex
	subscribers map[int]chan WorkflowEvent
	nextID      int
	logger      core.Logger
}

// NewInProcessPublisher builds a Publisher with no external dependencies.
func NewInProcessPublisher(logger core.Logger) *InProcessPublisher {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &InProcessPublisher{
		subscribers: make(map[int]chan WorkflowEvent),
		logger:      logger,
	}
}

func (p *InProcessPublisher) Publish(ctx context.Context, event WorkflowEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ch := range p.subscribers {
		select {
		case ch <- event:
		default:
			// Drop rather than block the clinical path on a slow subscriber.
			p.logger.Warn("event subscriber channel full, dropping event", map[string]interface{}{
				"kind": string(event.Kind),
			})
		}
	}
}

func (p *InProcessPublisher) Subscribe(buffer int) (<-chan WorkflowEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan WorkflowEvent, buffer)

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subscribers[id] = ch
	p.mu.Unlock()

	unsubscribe := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if existing, ok := p.subscribers[id]; ok {
			delete(p.subscribers, id)
			close(existing)
		}
	}
	return ch, unsubscribe
}

func (p *InProcessPublisher) PresentRecoveryOptions(ctx context.Context, lastState, studyInstanceUID string) {
	p.Publish(ctx, WorkflowEvent{
		Kind:             KindRecoveryOptionsNeeded,
		ToState:          lastState,
		StudyInstanceUID: studyInstanceUID,
		Severity:         "critical",
		Message:          "process restarted with a non-Idle last known state; operator decision required before any hardware command",
	})
}

func (p *InProcessPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subscribers {
		close(ch)
		delete(p.subscribers, id)
	}
	return nil
}
