package events

import "context"

// Publisher is the event publisher port. Publish must never block the
// clinical path on a slow or absent subscriber: implementations use
// non-blocking channel sends and treat subscriber failure as non-fatal.
type Publisher interface {
	// Publish delivers event to every current subscriber. A publish
	// failure (e.g. a Redis mirror outage) is logged but never returned as
	// an error the caller must handle as blocking: emitter failure does not
	// roll back the transition that produced the event.
	Publish(ctx context.Context, event WorkflowEvent)

	// Subscribe registers a channel to receive every future event. The
	// returned unsubscribe func removes it. The channel is created with the
	// requested buffer size; when it is full, the new event is dropped for
	// that subscriber rather than blocking Publish.
	Subscribe(buffer int) (ch <-chan WorkflowEvent, unsubscribe func())

	// PresentRecoveryOptions delivers a recovery_options_needed event
	// carrying the last known state and study, used by the engine's
	// startup sequence after a crash (§4.3b).
	PresentRecoveryOptions(ctx context.Context, lastState, studyInstanceUID string)

	// Close releases subscriber channels and any external connection.
	Close() error
}
