package safety

import (
	"context"

	"github.com/xrayconsole/workflowengine/core"
	"github.com/xrayconsole/workflowengine/ports"
)

// EmergencyShutdown performs the T-18 sequence: abort any in-flight
// exposure, then command emergency standby. It issues no other hardware
// command (no separate disarm). The transition
// to Idle that T-18 forces must not be reported as complete until this
// entire sequence has run (spec §4.1 failure semantics, §8 invariant "after
// T-18, hardware is in standby and arm state is clear before the transition
// to Idle is reported").
type EmergencyShutdown struct {
	hvg     ports.HVGPort
	checker *InterlockChecker
	logger  core.Logger
}

// NewEmergencyShutdown builds a shutdown sequencer.
func NewEmergencyShutdown(hvg ports.HVGPort, checker *InterlockChecker, logger core.Logger) *EmergencyShutdown {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &EmergencyShutdown{hvg: hvg, checker: checker, logger: logger}
}

// Execute runs the abort-then-standby sequence and returns once both have
// been attempted. It never returns an error that should block the T-18
// transition to Idle: a hardware command failure here is logged (no event is
// published for it), and Idle is still reached, since T-18 is
// unconditional.
func (s *EmergencyShutdown) Execute(ctx context.Context, reason string) {
	s.logger.ErrorWithContext(ctx, "executing emergency shutdown", map[string]interface{}{"reason": reason})

	if err := s.hvg.AbortExposure(ctx); err != nil {
		s.logger.ErrorWithContext(ctx, "emergency shutdown: abort exposure failed", map[string]interface{}{"error": err.Error()})
	}
	if err := s.checker.EmergencyStandby(ctx); err != nil {
		s.logger.ErrorWithContext(ctx, "emergency shutdown: standby command failed", map[string]interface{}{"error": err.Error()})
	}
}
