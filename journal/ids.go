package journal

import "github.com/google/uuid"

// newRecoveryTransitionID generates a transition ID for a recovery-action
// journal entry, using the same uuid source as the executor's transition
// IDs so recovery entries are indistinguishable in format from ordinary
// ones.
func newRecoveryTransitionID() string {
	return uuid.NewString()
}
