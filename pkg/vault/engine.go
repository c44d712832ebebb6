// Package vault is the round-based share-accounting engine.
//
// Deposits queue during an Open round and are converted to shares at a price
// frozen when the controller ends the round. Withdrawals and redemptions are
// served from the vault's balance while a round is Open. Every conversion
// rounds in the pool's favour.
//
// An Engine is a single-writer state machine: it is not safe for concurrent
// use and the host must serialize calls. Nested calls made from inside a
// collaborator (strategy, sink, target vault) are rejected with
// ErrReentrantCall.
package vault

import (
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/log"
	"github.com/pkg/errors"

	"github.com/luxfi/roundvault/pkg/asset"
	"github.com/luxfi/roundvault/pkg/events"
	"github.com/luxfi/roundvault/pkg/queue"
	"github.com/luxfi/roundvault/pkg/shares"
	"github.com/luxfi/roundvault/pkg/strategy"
)

// Options wires an Engine to its collaborators.
type Options struct {
	Address  asset.Address
	Token    asset.Token
	Strategy strategy.Strategy
	Config   Config
	Sink     events.Sink
	Policy   Policy
	Logger   log.Logger
	Clock    func() time.Time
}

// Engine is one vault instance.
type Engine struct {
	address  asset.Address
	token    asset.Token
	strategy strategy.Strategy
	config   Config
	sink     events.Sink
	policy   Policy
	logger   log.Logger
	now      func() time.Time

	round  Round
	queue  *queue.DepositQueue
	shares *shares.Ledger

	entered bool
	pending []events.Event
}

// New creates a vault in Open(0).
func New(opts Options) (*Engine, error) {
	switch {
	case opts.Address.IsZero():
		return nil, errors.Wrap(ErrZeroAddress, "vault address")
	case opts.Token == nil:
		return nil, errors.New("vault requires a token")
	case opts.Strategy == nil:
		return nil, errors.New("vault requires a strategy")
	case opts.Config == nil:
		return nil, errors.New("vault requires a config")
	}
	if opts.Sink == nil {
		opts.Sink = events.Discard
	}
	if opts.Policy == nil {
		opts.Policy = ControllerPolicy
	}
	if opts.Logger == nil {
		opts.Logger = log.Root().New("module", "vault")
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	e := &Engine{
		address:  opts.Address,
		token:    opts.Token,
		strategy: opts.Strategy,
		config:   opts.Config,
		sink:     opts.Sink,
		policy:   opts.Policy,
		logger:   opts.Logger,
		now:      opts.Clock,
		queue:    queue.New(),
		shares:   shares.NewLedger(),
	}
	e.round = newRound(0, e.backingAssets(), e.shares.TotalSupply())
	return e, nil
}

func (e *Engine) Address() asset.Address { return e.address }
func (e *Engine) Asset() asset.Token     { return e.token }

// Round returns a copy of the active round.
func (e *Engine) Round() Round { return e.round.clone() }

func (e *Engine) State() State { return e.round.State }

// enter arms the reentrancy guard and starts buffering events. Every mutating
// operation pairs it with a deferred leave.
func (e *Engine) enter() error {
	if e.entered {
		return ErrReentrantCall
	}
	e.entered = true
	e.pending = e.pending[:0]
	return nil
}

// leave releases the guard and publishes buffered events only when the
// operation succeeded.
func (e *Engine) leave(err *error) {
	pending := e.pending
	e.pending = nil
	e.entered = false
	if *err != nil {
		return
	}
	for _, ev := range pending {
		e.sink.Publish(ev)
	}
}

func (e *Engine) emit(ev events.Event) {
	e.pending = append(e.pending, ev)
}

// undo collects compensations for side effects on collaborators so a failed
// operation leaves nothing behind.
type undo []func()

func (u *undo) push(f func()) { *u = append(*u, f) }

func (u undo) run() {
	for i := len(u) - 1; i >= 0; i-- {
		u[i]()
	}
}

func (e *Engine) requireOpen() error {
	if e.round.State != Open {
		return ErrForbiddenWhileProcessingDeposits
	}
	return nil
}

// balance is the asset the vault holds directly, queued deposits included.
func (e *Engine) balance() *uint256.Int {
	return e.token.BalanceOf(e.address)
}

// liquidAssets is the directly held balance that backs shares.
func (e *Engine) liquidAssets() *uint256.Int {
	bal := e.balance()
	queued := e.queue.TotalDeposited()
	if bal.Lt(queued) {
		return new(uint256.Int)
	}
	return bal.Sub(bal, queued)
}
