package vault

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/roundvault/pkg/asset"
	"github.com/luxfi/roundvault/pkg/events"
	"github.com/luxfi/roundvault/pkg/registry"
	"github.com/luxfi/roundvault/pkg/strategy"
)

var (
	controller = asset.DeriveAddress("controller")
	alice      = asset.DeriveAddress("alice")
	bob        = asset.DeriveAddress("bob")
	carol      = asset.DeriveAddress("carol")
	feeTo      = asset.DeriveAddress("treasury")
)

func u(n uint64) *uint256.Int { return uint256.NewInt(n) }

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type harness struct {
	t       testing.TB
	ctx     context.Context
	token   *asset.Ledger
	reg     *registry.Registry
	rec     *events.Recorder
	clock   *fakeClock
	vault   *Engine
	reserve *strategy.Reserve
}

// newHarness relaxes the bootstrap guard so tests can work in small round
// numbers; newGuardedHarness keeps the registry defaults.
func newHarness(t testing.TB) *harness {
	t.Helper()
	h := newGuardedHarness(t)
	require.NoError(t, h.reg.SetGlobalParameter(registry.KeyMinInitialAssets, "1"))
	require.NoError(t, h.reg.SetGlobalParameter(registry.KeyLockedShares, "0"))
	return h
}

func newGuardedHarness(t testing.TB) *harness {
	t.Helper()
	level, _ := log.ToLevel("info")
	h := &harness{
		t:     t,
		ctx:   context.Background(),
		token: asset.NewLedger("USDC"),
		reg:   registry.New(memdb.New(), log.NewTestLogger(level)),
		rec:   events.NewRecorder(),
		clock: &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()},
	}
	h.vault, h.reserve = h.newVault("vault", h.token, nil)
	return h
}

// newVault registers a vault controlled by controller. A nil strategy gets a
// Reserve on token.
func (h *harness) newVault(label string, token asset.Token, s strategy.Strategy) (*Engine, *strategy.Reserve) {
	h.t.Helper()
	addr := asset.DeriveAddress(label)
	require.NoError(h.t, h.reg.SetParameter(addr, registry.KeyController, controller.Hex()))

	var reserve *strategy.Reserve
	if s == nil {
		reserve = strategy.NewReserve(token, addr, asset.DeriveAddress(label+"-reserve"), nil)
		s = reserve
	}
	level, _ := log.ToLevel("info")
	e, err := New(Options{
		Address:  addr,
		Token:    token,
		Strategy: s,
		Config:   h.reg,
		Sink:     h.rec,
		Logger:   log.NewTestLogger(level),
		Clock:    h.clock.Now,
	})
	require.NoError(h.t, err)
	return e, reserve
}

func (h *harness) fund(owner asset.Address, n uint64) {
	h.t.Helper()
	require.NoError(h.t, h.token.Mint(owner, u(n)))
}

// deposit funds owner and queues n for them.
func (h *harness) deposit(owner asset.Address, n uint64) {
	h.t.Helper()
	h.fund(owner, n)
	require.NoError(h.t, h.vault.Deposit(owner, u(n), owner))
}

// cycle ends the round, converts the deposits of owners and opens the next
// round.
func (h *harness) cycle(owners ...asset.Address) {
	h.t.Helper()
	require.NoError(h.t, h.vault.EndRound(h.ctx, controller))
	_, err := h.vault.ProcessQueuedDeposits(controller, owners)
	require.NoError(h.t, err)
	require.NoError(h.t, h.vault.StartRound(h.ctx, controller))
}

// yield credits n to the reserve while the vault's capital is invested.
func (h *harness) yield(n uint64) {
	h.t.Helper()
	require.NoError(h.t, h.vault.EndRound(h.ctx, controller))
	require.NoError(h.t, h.token.Mint(h.reserve.Address(), u(n)))
	require.NoError(h.t, h.vault.StartRound(h.ctx, controller))
}

func (h *harness) setParam(key, value string) {
	h.t.Helper()
	require.NoError(h.t, h.reg.SetParameter(h.vault.Address(), key, value))
}

// virtualStrategy reports managed assets without holding tokens.
type virtualStrategy struct {
	managed  *uint256.Int
	onInvest func() error
}

func (s *virtualStrategy) Invest(ctx context.Context, amount *uint256.Int) error {
	if s.onInvest != nil {
		return s.onInvest()
	}
	return nil
}

func (s *virtualStrategy) Divest(ctx context.Context, amount *uint256.Int) (*uint256.Int, error) {
	return new(uint256.Int), nil
}

func (s *virtualStrategy) TotalManagedAssets() *uint256.Int {
	if s.managed == nil {
		return new(uint256.Int)
	}
	return s.managed.Clone()
}

// feeConfig overrides the withdrawal fee the registry would enforce.
type feeConfig struct {
	*registry.Registry
	bps uint64
}

func (c feeConfig) WithdrawalFeeBps(asset.Address) (uint64, error) { return c.bps, nil }
