package vault

import (
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/luxfi/roundvault/pkg/queue"
	"github.com/luxfi/roundvault/pkg/shares"
)

// Snapshot is the engine's own state. Asset balances live with the token and
// the strategy and are not part of it.
type Snapshot struct {
	Round  Round           `json:"round"`
	Queue  []queue.Entry   `json:"queue"`
	Shares shares.Snapshot `json:"shares"`
}

// Snapshot captures the round, the deposit queue in slot order and the share
// ledger.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		Round:  e.round.clone(),
		Queue:  e.queue.Entries(),
		Shares: e.shares.Snapshot(),
	}
}

// Restore replaces the engine state with s. It must not be called while an
// operation is in flight.
func (e *Engine) Restore(s Snapshot) error {
	if e.entered {
		return ErrReentrantCall
	}
	round := s.Round
	for _, v := range []**uint256.Int{&round.StartAssets, &round.StartSupply, &round.EndAssets, &round.EndSupply} {
		if *v == nil {
			*v = new(uint256.Int)
		} else {
			*v = (*v).Clone()
		}
	}
	if round.State != Open && round.State != Processing {
		return errors.Errorf("invalid round state %d", round.State)
	}

	ledger := shares.NewLedger()
	if err := ledger.Restore(s.Shares); err != nil {
		return errors.Wrap(err, "restore shares")
	}
	q := queue.New()
	for _, entry := range s.Queue {
		if entry.Amount == nil {
			return errors.Errorf("queue entry for %s has no amount", entry.Owner)
		}
	}
	q.Load(s.Queue)

	e.round = round
	e.shares = ledger
	e.queue = q
	e.logger.Info("vault state restored",
		"vault", e.address.Hex(),
		"round", round.ID,
		"state", round.State.String(),
		"queued", q.Size(),
		"supply", ledger.TotalSupply().Dec(),
	)
	return nil
}
