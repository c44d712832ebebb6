package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/roundvault/pkg/asset"
	"github.com/luxfi/roundvault/pkg/events"
	"github.com/luxfi/roundvault/pkg/registry"
)

// migrationTarget opens a second vault on the same token and allow-lists the
// route from h.vault.
func (h *harness) migrationTarget() *Engine {
	h.t.Helper()
	target, _ := h.newVault("target", h.token, nil)
	require.NoError(h.t, h.reg.AllowMigration(h.vault.Address(), target.Address(), true))
	return target
}

func TestMigrateMovesWholePosition(t *testing.T) {
	h := newHarness(t)
	h.deposit(alice, 100)
	h.cycle(alice)
	h.deposit(alice, 30)
	target := h.migrationTarget()
	h.rec.Reset()

	moved, err := h.vault.Migrate(alice, target)
	require.NoError(t, err)
	assert.Equal(t, uint64(130), moved.Uint64())

	assert.True(t, h.vault.BalanceOf(alice).IsZero())
	assert.True(t, h.vault.QueuedBalanceOf(alice).IsZero())
	assert.True(t, h.vault.TotalAssets().IsZero())
	assert.Equal(t, uint64(130), target.QueuedBalanceOf(alice).Uint64())
	assert.Equal(t, uint64(130), h.token.BalanceOf(target.Address()).Uint64())

	spent, err := h.reg.Spent(h.vault.Address())
	require.NoError(t, err)
	assert.True(t, spent.IsZero())
	spent, err = h.reg.Spent(target.Address())
	require.NoError(t, err)
	assert.Equal(t, uint64(130), spent.Uint64())

	migrated := h.rec.OfKind(events.KindMigrated)
	require.Len(t, migrated, 1)
	ev := migrated[0].(events.Migrated)
	assert.Equal(t, alice, ev.Owner)
	assert.Equal(t, h.vault.Address(), ev.From)
	assert.Equal(t, target.Address(), ev.To)
	assert.Equal(t, uint64(130), ev.Assets.Uint64())
	assert.Equal(t, uint64(100), ev.Shares.Uint64())

	deposited := h.rec.OfKind(events.KindDeposited)
	require.Len(t, deposited, 1)
	assert.Equal(t, h.vault.Address(), deposited[0].(events.Deposited).Caller)
}

func TestMigrateChargesWithdrawalFee(t *testing.T) {
	h := newHarness(t)
	h.setParam(registry.KeyWithdrawalFeeBps, "100")
	h.setParam(registry.KeyFeeRecipient, feeTo.Hex())
	h.deposit(alice, 1000)
	h.cycle(alice)
	target := h.migrationTarget()

	moved, err := h.vault.Migrate(alice, target)
	require.NoError(t, err)
	assert.Equal(t, uint64(990), moved.Uint64())
	assert.Equal(t, uint64(10), h.token.BalanceOf(feeTo).Uint64())
	assert.Equal(t, uint64(990), target.QueuedBalanceOf(alice).Uint64())
}

func TestMigrateRejections(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness) *Engine
		want  error
	}{
		{
			name: "not allow-listed",
			setup: func(h *harness) *Engine {
				target, _ := h.newVault("target", h.token, nil)
				return target
			},
			want: ErrMigrationNotAllowed,
		},
		{
			name: "different asset",
			setup: func(h *harness) *Engine {
				target, _ := h.newVault("target", asset.NewLedger("WETH"), nil)
				require.NoError(t, h.reg.AllowMigration(h.vault.Address(), target.Address(), true))
				return target
			},
			want: ErrMigrationNotAllowed,
		},
		{
			name:  "self",
			setup: func(h *harness) *Engine { return h.vault },
			want:  ErrMigrationNotAllowed,
		},
		{
			name: "target processing",
			setup: func(h *harness) *Engine {
				target := h.migrationTarget()
				require.NoError(t, target.EndRound(h.ctx, controller))
				return target
			},
			want: ErrForbiddenWhileProcessingDeposits,
		},
		{
			name: "target cap",
			setup: func(h *harness) *Engine {
				target := h.migrationTarget()
				require.NoError(t, h.reg.SetCap(target.Address(), u(50)))
				return target
			},
			want: ErrCapExceeded,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.deposit(alice, 100)
			h.cycle(alice)
			target := tt.setup(h)
			h.rec.Reset()

			_, err := h.vault.Migrate(alice, target)
			require.ErrorIs(t, err, tt.want)

			assert.Equal(t, uint64(100), h.vault.BalanceOf(alice).Uint64())
			assert.Equal(t, uint64(100), h.token.BalanceOf(h.vault.Address()).Uint64())
			spent, err := h.reg.Spent(h.vault.Address())
			require.NoError(t, err)
			assert.Equal(t, uint64(100), spent.Uint64())
			assert.Zero(t, h.rec.Len())
		})
	}
}

func TestMigrateWhileProcessing(t *testing.T) {
	h := newHarness(t)
	h.deposit(alice, 100)
	target := h.migrationTarget()
	require.NoError(t, h.vault.EndRound(h.ctx, controller))

	_, err := h.vault.Migrate(alice, target)
	require.ErrorIs(t, err, ErrForbiddenWhileProcessingDeposits)
}

func TestMigrateNothing(t *testing.T) {
	h := newHarness(t)
	target := h.migrationTarget()

	_, err := h.vault.Migrate(bob, target)
	require.ErrorIs(t, err, ErrZeroAssets)
}
