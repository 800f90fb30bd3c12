package fleet

import (
	"fmt"

	"github.com/haasonsaas/toolmesh/internal/procsup"
)

// transitions is the allowed state machine for a service's lifecycle
// (spec.md §4.C): stopped -> starting -> running -> unhealthy -> stopping
// -> stopped, with unhealthy able to recover back to running, and every
// state other than stopped able to fall into error on an unrecoverable
// failure.
var transitions = map[procsup.Status]map[procsup.Status]bool{
	procsup.StatusStopped: {
		procsup.StatusStarting: true,
	},
	procsup.StatusStarting: {
		procsup.StatusRunning: true,
		procsup.StatusError:   true,
		procsup.StatusStopping: true,
	},
	procsup.StatusRunning: {
		procsup.StatusUnhealthy: true,
		procsup.StatusStopping:  true,
		procsup.StatusError:     true,
	},
	procsup.StatusUnhealthy: {
		procsup.StatusRunning:  true,
		procsup.StatusStopping: true,
		procsup.StatusError:    true,
	},
	procsup.StatusStopping: {
		procsup.StatusStopped: true,
		procsup.StatusError:   true,
	},
	procsup.StatusError: {
		procsup.StatusStarting: true,
	},
}

// ValidateTransition reports an error unless moving from `from` to `to` is
// an allowed edge in the service state machine.
func ValidateTransition(from, to procsup.Status) error {
	if from == to {
		return nil
	}
	if allowed, ok := transitions[from]; ok && allowed[to] {
		return nil
	}
	return fmt.Errorf("fleet: invalid state transition %s -> %s", from, to)
}
