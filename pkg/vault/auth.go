package vault

import (
	"github.com/pkg/errors"

	"github.com/luxfi/roundvault/pkg/asset"
)

// Operation names a controller-gated transition.
type Operation string

const (
	OpEndRound     Operation = "end_round"
	OpProcessQueue Operation = "process_queue"
	OpStartRound   Operation = "start_round"
)

// Policy decides whether caller may perform op on e. It runs before any
// state is touched.
type Policy func(e *Engine, caller asset.Address, op Operation) error

// ControllerPolicy admits only the configured controller, except that anyone
// may start the next round once the grace period after EndRound has passed so
// funds cannot be stranded in Processing.
func ControllerPolicy(e *Engine, caller asset.Address, op Operation) error {
	controller, err := e.config.Controller(e.address)
	if err != nil {
		return errors.Wrap(err, "controller")
	}
	if caller == controller {
		return nil
	}
	if op == OpStartRound && e.round.State == Processing {
		grace, err := e.config.StartRoundGrace(e.address)
		if err != nil {
			return errors.Wrap(err, "start round grace")
		}
		if !e.now().Before(e.round.EndedAt.Add(grace)) {
			return nil
		}
	}
	return errors.Wrapf(ErrCallerIsNotController, "%s", caller)
}

func (e *Engine) authorize(caller asset.Address, op Operation) error {
	return e.policy(e, caller, op)
}
