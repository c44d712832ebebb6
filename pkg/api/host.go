package api

import (
	"sync"

	"github.com/luxfi/log"
	"github.com/pkg/errors"

	"github.com/luxfi/roundvault/pkg/asset"
	"github.com/luxfi/roundvault/pkg/registry"
	"github.com/luxfi/roundvault/pkg/strategy"
	"github.com/luxfi/roundvault/pkg/vault"
)

var (
	ErrUnknownVault = errors.New("unknown vault")
	ErrUnknownToken = errors.New("unknown token")
)

// Observer is told about an engine after every successful update.
type Observer interface {
	Observe(e *vault.Engine)
}

// CheckpointFunc persists host state. It runs with the host lock held.
type CheckpointFunc func(ledgers []*asset.Ledger, engines []*vault.Engine) error

// Host owns every engine of a process and serializes access to all of them
// with one lock, so operations spanning two vaults are serialized as well.
type Host struct {
	registry   *registry.Registry
	logger     log.Logger
	observer   Observer
	checkpoint CheckpointFunc

	vaults   map[asset.Address]*vault.Engine
	order    []asset.Address
	reserves map[asset.Address]*strategy.Reserve
	tokens   map[string]*asset.Ledger

	mu sync.Mutex
}

func NewHost(reg *registry.Registry, logger log.Logger) *Host {
	if logger == nil {
		logger = log.Root().New("module", "host")
	}
	return &Host{
		registry: reg,
		logger:   logger,
		vaults:   make(map[asset.Address]*vault.Engine),
		reserves: make(map[asset.Address]*strategy.Reserve),
		tokens:   make(map[string]*asset.Ledger),
	}
}

func (h *Host) Registry() *registry.Registry { return h.registry }

// SetObserver installs o; nil removes it.
func (h *Host) SetObserver(o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observer = o
}

// SetCheckpoint installs fn to run after every successful update.
func (h *Host) SetCheckpoint(fn CheckpointFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkpoint = fn
}

func (h *Host) AddToken(l *asset.Ledger) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tokens[l.ID()] = l
}

// AddVault registers e. reserve may be nil when the strategy is not a Reserve.
func (h *Host) AddVault(e *vault.Engine, reserve *strategy.Reserve) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.vaults[e.Address()]; !ok {
		h.order = append(h.order, e.Address())
	}
	h.vaults[e.Address()] = e
	if reserve != nil {
		h.reserves[e.Address()] = reserve
	}
	if h.observer != nil {
		h.observer.Observe(e)
	}
}

// Vaults lists registered vault addresses in registration order.
func (h *Host) Vaults() []asset.Address {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]asset.Address(nil), h.order...)
}

// Engines returns the registered engines. Callers must not use them outside
// View or Update.
func (h *Host) Engines() []*vault.Engine {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.enginesLocked()
}

func (h *Host) Ledgers() []*asset.Ledger {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ledgersLocked()
}

func (h *Host) enginesLocked() []*vault.Engine {
	out := make([]*vault.Engine, 0, len(h.order))
	for _, a := range h.order {
		out = append(out, h.vaults[a])
	}
	return out
}

func (h *Host) ledgersLocked() []*asset.Ledger {
	out := make([]*asset.Ledger, 0, len(h.tokens))
	for _, l := range h.tokens {
		out = append(out, l)
	}
	return out
}

func (h *Host) lookup(addr asset.Address) (*vault.Engine, error) {
	e, ok := h.vaults[addr]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownVault, "%s", addr)
	}
	return e, nil
}

// View runs fn on the vault at addr under the host lock.
func (h *Host) View(addr asset.Address, fn func(e *vault.Engine) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, err := h.lookup(addr)
	if err != nil {
		return err
	}
	return fn(e)
}

// Update runs a mutating fn on the vault at addr, then refreshes the observer
// and writes a checkpoint.
func (h *Host) Update(addr asset.Address, fn func(e *vault.Engine) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, err := h.lookup(addr)
	if err != nil {
		return err
	}
	if err := fn(e); err != nil {
		return err
	}
	h.committed(e)
	return nil
}

// UpdatePair is Update for operations that involve two vaults.
func (h *Host) UpdatePair(a, b asset.Address, fn func(a, b *vault.Engine) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	ea, err := h.lookup(a)
	if err != nil {
		return err
	}
	eb, err := h.lookup(b)
	if err != nil {
		return err
	}
	if err := fn(ea, eb); err != nil {
		return err
	}
	h.committed(ea, eb)
	return nil
}

// ViewToken runs fn on a registered token ledger under the host lock.
func (h *Host) ViewToken(id string, fn func(l *asset.Ledger) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	l, err := h.token(id)
	if err != nil {
		return err
	}
	return fn(l)
}

// UpdateToken runs a mutating fn on a token ledger. Balance changes affect
// every vault holding the token, so all of them are observed afterwards.
func (h *Host) UpdateToken(id string, fn func(l *asset.Ledger) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	l, err := h.token(id)
	if err != nil {
		return err
	}
	if err := fn(l); err != nil {
		return err
	}
	h.committed(h.enginesLocked()...)
	return nil
}

func (h *Host) token(id string) (*asset.Ledger, error) {
	l, ok := h.tokens[id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownToken, "%q", id)
	}
	return l, nil
}

// Reserve runs fn on the reserve backing the vault at addr.
func (h *Host) Reserve(addr asset.Address, fn func(e *vault.Engine, r *strategy.Reserve) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, err := h.lookup(addr)
	if err != nil {
		return err
	}
	r, ok := h.reserves[addr]
	if !ok {
		return errors.Errorf("vault %s has no reserve strategy", addr)
	}
	if err := fn(e, r); err != nil {
		return err
	}
	h.committed(e)
	return nil
}

func (h *Host) committed(engines ...*vault.Engine) {
	if h.observer != nil {
		for _, e := range engines {
			h.observer.Observe(e)
		}
	}
	if h.checkpoint != nil {
		if err := h.checkpoint(h.ledgersLocked(), h.enginesLocked()); err != nil {
			h.logger.Error("checkpoint failed", "error", err)
		}
	}
}
