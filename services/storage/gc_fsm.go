package storage

import (
	"context"

	"github.com/looplab/fsm"
)

// GC states of a namespace on this instance.
const (
	GcStateIdle      = "IDLE"
	GcStateScheduled = "SCHEDULED"
	GcStateLocked    = "LOCKED"
	GcStateSweeping  = "SWEEPING"
)

const (
	GcEventSchedule = "SCHEDULE"
	GcEventLock     = "LOCK"
	GcEventSweep    = "SWEEP"
	GcEventFinish   = "FINISH"
)

// NewGcStateMachine creates the state machine tracking garbage collection of one namespace.
// The machine has the following states:
// - Idle: not due, or swept recently
// - Scheduled: due for a sweep, waiting for the namespace lease
// - Locked: the lease is held by this instance
// - Sweeping: the check-set is being drained
// Finish returns to Idle from any other state, whether the sweep completed, failed or never got the lease.
func NewGcStateMachine(opts ...func(*fsm.FSM)) *fsm.FSM {
	finiteStateMachine := fsm.NewFSM(
		GcStateIdle,
		fsm.Events{
			{
				Name: GcEventSchedule,
				Src: []string{
					GcStateIdle,
				},
				Dst: GcStateScheduled,
			},
			{
				Name: GcEventLock,
				Src: []string{
					GcStateScheduled,
				},
				Dst: GcStateLocked,
			},
			{
				Name: GcEventSweep,
				Src: []string{
					GcStateLocked,
				},
				Dst: GcStateSweeping,
			},
			{
				Name: GcEventFinish,
				Src: []string{
					GcStateScheduled,
					GcStateLocked,
					GcStateSweeping,
				},
				Dst: GcStateIdle,
			},
		},
		fsm.Callbacks{},
	)

	// apply options
	for _, opt := range opts {
		opt(finiteStateMachine)
	}

	return finiteStateMachine
}

// gcMachine returns the state machine of a namespace, creating it on first use.
func (s *Server) gcMachine(namespaceID string) *fsm.FSM {
	s.gcMachinesMu.Lock()
	defer s.gcMachinesMu.Unlock()

	machine, ok := s.gcMachines[namespaceID]
	if !ok {
		machine = NewGcStateMachine()
		s.gcMachines[namespaceID] = machine
	}

	return machine
}

func (s *Server) gcTransition(ctx context.Context, namespaceID string, event string) {
	if err := s.gcMachine(namespaceID).Event(ctx, event); err != nil {
		s.logger.Warnf("[Storage][%s] gc state machine: %v", namespaceID, err)
	}
}

// GcStatus returns the garbage collection state of a namespace on this instance.
func (s *Server) GcStatus(namespaceID string) string {
	return s.gcMachine(namespaceID).Current()
}
