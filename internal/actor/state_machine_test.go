package actor

import "testing"

// TestTransitionTable exhaustively checks every (state, event) pair: the
// allowed ones must succeed and land on the expected next state;
// everything else must be rejected without moving.
func TestTransitionTable(t *testing.T) {
	allStates := []actorState{Spawned, Probing, Ready, Busy, Disconnecting, Gone, Faulted}
	allEvents := []event{
		eventProbeOK, eventProbeFailed, eventCommandStart, eventCommandDone,
		eventDisconnected, eventShutdownRequested, eventTeardownComplete,
	}

	allowed := map[actorState]map[event]actorState{
		Spawned: {
			eventProbeOK:      Ready,
			eventProbeFailed:  Gone,
			eventDisconnected: Gone,
		},
		Probing: {
			eventProbeOK:      Ready,
			eventProbeFailed:  Gone,
			eventDisconnected: Gone,
		},
		Ready: {
			eventCommandStart:      Busy,
			eventDisconnected:      Disconnecting,
			eventShutdownRequested: Disconnecting,
		},
		Busy: {
			eventCommandDone:  Ready,
			eventDisconnected: Disconnecting,
		},
		Disconnecting: {
			eventTeardownComplete: Gone,
		},
		Faulted: {
			eventShutdownRequested: Gone,
			eventDisconnected:      Gone,
		},
		Gone: {},
	}

	for _, s := range allStates {
		for _, e := range allEvents {
			next, err := transition(s, e)
			want, ok := allowed[s][e]
			if ok {
				if err != nil {
					t.Errorf("transition(%s, %s): unexpected error %v", s, e, err)
				}
				if next != want {
					t.Errorf("transition(%s, %s) = %s, want %s", s, e, next, want)
				}
			} else {
				if err == nil {
					t.Errorf("transition(%s, %s): expected rejection, got %s", s, e, next)
				}
				if next != s {
					t.Errorf("transition(%s, %s): rejected transition must not move state, got %s", s, e, next)
				}
			}
		}
	}
}
