package keeper

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/roundvault/pkg/api"
	"github.com/luxfi/roundvault/pkg/asset"
	"github.com/luxfi/roundvault/pkg/registry"
	"github.com/luxfi/roundvault/pkg/strategy"
	"github.com/luxfi/roundvault/pkg/vault"
)

var (
	controller = asset.DeriveAddress("controller")
	alice      = asset.DeriveAddress("alice")
	bob        = asset.DeriveAddress("bob")
	carol      = asset.DeriveAddress("carol")
	vaultA     = asset.DeriveAddress("vault-a")
	vaultB     = asset.DeriveAddress("vault-b")
)

func testLogger() log.Logger {
	level, _ := log.ToLevel("info")
	return log.NewTestLogger(level)
}

type fixture struct {
	host  *api.Host
	reg   *registry.Registry
	token *asset.Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := registry.New(memdb.New(), testLogger())
	require.NoError(t, reg.SetGlobalParameter(registry.KeyController, controller.Hex()))
	require.NoError(t, reg.SetGlobalParameter(registry.KeyMinInitialAssets, "1"))
	require.NoError(t, reg.SetGlobalParameter(registry.KeyLockedShares, "0"))

	host := api.NewHost(reg, testLogger())
	token := asset.NewLedger("USDC")
	host.AddToken(token)
	for _, addr := range []asset.Address{vaultA, vaultB} {
		reserve := strategy.NewReserve(token, addr, asset.DeriveAddress(addr.Hex()+"-reserve"), testLogger())
		e, err := vault.New(vault.Options{
			Address:  addr,
			Token:    token,
			Strategy: reserve,
			Config:   reg,
			Logger:   testLogger(),
		})
		require.NoError(t, err)
		host.AddVault(e, reserve)
	}
	return &fixture{host: host, reg: reg, token: token}
}

func (f *fixture) deposit(t *testing.T, addr, owner asset.Address, amount uint64) {
	t.Helper()
	require.NoError(t, f.token.Mint(owner, uint256.NewInt(amount)))
	require.NoError(t, f.host.Update(addr, func(e *vault.Engine) error {
		return e.Deposit(owner, uint256.NewInt(amount), owner)
	}))
}

func (f *fixture) engine(t *testing.T, addr asset.Address) (round vault.Round, queued int, supply *uint256.Int) {
	t.Helper()
	require.NoError(t, f.host.View(addr, func(e *vault.Engine) error {
		round, queued, supply = e.Round(), e.DepositQueueSize(), e.TotalSupply()
		return nil
	}))
	return round, queued, supply
}

func TestRunOnceCyclesEveryVault(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, vaultA, alice, 100)
	f.deposit(t, vaultA, bob, 50)

	k, err := New(f.host, Config{BatchSize: 1}, testLogger())
	require.NoError(t, err)

	results, err := k.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)

	byVault := map[asset.Address]Result{}
	for _, r := range results {
		byVault[r.Vault] = r
	}
	assert.Equal(t, 2, byVault[vaultA].Processed)
	assert.Equal(t, uint64(1), byVault[vaultA].Round)
	assert.Equal(t, 0, byVault[vaultB].Processed)
	assert.Equal(t, uint64(1), byVault[vaultB].Round)

	round, queued, supply := f.engine(t, vaultA)
	assert.Equal(t, vault.Open, round.State)
	assert.Equal(t, 0, queued)
	assert.Equal(t, uint64(150), supply.Uint64())
}

func TestCycleResumesProcessingVault(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, vaultA, alice, 100)
	require.NoError(t, f.host.Update(vaultA, func(e *vault.Engine) error {
		return e.EndRound(context.Background(), controller)
	}))

	k, err := New(f.host, Config{}, testLogger())
	require.NoError(t, err)

	res, err := k.Cycle(context.Background(), vaultA)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, uint64(1), res.Round)
}

func TestFailingVaultDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.reg.SetParameter(vaultB, registry.KeyMinInitialAssets, "1000"))
	f.deposit(t, vaultA, alice, 100)
	f.deposit(t, vaultB, carol, 50)

	k, err := New(f.host, Config{}, testLogger())
	require.NoError(t, err)

	results, err := k.RunOnce(context.Background())
	require.ErrorIs(t, err, vault.ErrAssetsUnderMinimumAmount)
	require.Len(t, results, 1)
	assert.Equal(t, vaultA, results[0].Vault)

	round, queued, _ := f.engine(t, vaultB)
	assert.Equal(t, vault.Processing, round.State)
	assert.Equal(t, 1, queued)
}

func TestUnknownVault(t *testing.T) {
	f := newFixture(t)
	k, err := New(f.host, Config{}, testLogger())
	require.NoError(t, err)

	_, err = k.Cycle(context.Background(), carol)
	require.ErrorIs(t, err, api.ErrUnknownVault)
}

func TestInvalidSchedule(t *testing.T) {
	f := newFixture(t)
	_, err := New(f.host, Config{Schedule: "not a schedule"}, testLogger())
	require.Error(t, err)
}

func TestScheduledCycle(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, vaultA, alice, 100)

	k, err := New(f.host, Config{Schedule: "@every 1s"}, testLogger())
	require.NoError(t, err)
	k.Start()
	defer k.Stop()

	require.Eventually(t, func() bool {
		round, _, _ := f.engine(t, vaultA)
		return round.ID >= 1
	}, 5*time.Second, 50*time.Millisecond)
}

func TestEndAndStartRunApart(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, vaultA, alice, 100)

	k, err := New(f.host, Config{}, testLogger())
	require.NoError(t, err)
	_, err = k.RunOnce(context.Background())
	require.NoError(t, err)

	results, err := k.EndAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	round, _, _ := f.engine(t, vaultA)
	assert.Equal(t, vault.Processing, round.State)
	assert.Equal(t, uint64(1), round.ID)

	// yield accrues while the round is closed
	require.NoError(t, f.host.Reserve(vaultA, func(e *vault.Engine, r *strategy.Reserve) error {
		assert.Equal(t, uint64(100), r.TotalManagedAssets().Uint64())
		return f.token.Mint(r.Address(), uint256.NewInt(50))
	}))

	results, err = k.StartAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, uint64(2), r.Round)
	}
	var total uint64
	require.NoError(t, f.host.View(vaultA, func(e *vault.Engine) error {
		total = e.TotalAssets().Uint64()
		return nil
	}))
	assert.Equal(t, uint64(150), total)

	// starting an open vault changes nothing
	results, err = k.StartAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	round, _, _ = f.engine(t, vaultA)
	assert.Equal(t, vault.Open, round.State)
	assert.Equal(t, uint64(2), round.ID)
}

func TestSplitSchedules(t *testing.T) {
	f := newFixture(t)

	k, err := New(f.host, Config{Schedule: "0 0 0 * * 5", StartSchedule: "0 0 0 * * 1"}, testLogger())
	require.NoError(t, err)
	assert.Len(t, k.cron.Entries(), 2)

	k, err = New(f.host, Config{Schedule: "0 0 0 * * 5"}, testLogger())
	require.NoError(t, err)
	assert.Len(t, k.cron.Entries(), 1)

	_, err = New(f.host, Config{Schedule: "0 0 0 * * 5", StartSchedule: "0 0 0 * * 5"}, testLogger())
	require.Error(t, err)
}

func TestScheduledEndThenStart(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, vaultA, alice, 100)

	k, err := New(f.host, Config{Schedule: "@every 1s", StartSchedule: "@every 2s"}, testLogger())
	require.NoError(t, err)
	k.Start()
	defer k.Stop()

	require.Eventually(t, func() bool {
		round, _, supply := f.engine(t, vaultA)
		return round.ID >= 1 && supply.Uint64() == 100
	}, 10*time.Second, 50*time.Millisecond)
}
