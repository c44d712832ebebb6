package registry

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/roundvault/pkg/asset"
	"github.com/luxfi/roundvault/pkg/mathutil"
)

var (
	vaultA = asset.DeriveAddress("vault-a")
	vaultB = asset.DeriveAddress("vault-b")
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	level, _ := log.ToLevel("info")
	return New(memdb.New(), log.NewTestLogger(level))
}

func TestParameterOverride(t *testing.T) {
	r := newRegistry(t)

	_, err := r.Parameter(vaultA, KeyController)
	assert.ErrorIs(t, err, ErrParameterNotSet)

	globalCtl := asset.DeriveAddress("global-controller")
	vaultCtl := asset.DeriveAddress("vault-controller")
	require.NoError(t, r.SetGlobalParameter(KeyController, globalCtl.Hex()))
	require.NoError(t, r.SetParameter(vaultA, KeyController, vaultCtl.Hex()))

	got, err := r.Controller(vaultA)
	require.NoError(t, err)
	assert.Equal(t, vaultCtl, got)

	got, err = r.Controller(vaultB)
	require.NoError(t, err)
	assert.Equal(t, globalCtl, got)

	v, err := r.GlobalParameter(KeyController)
	require.NoError(t, err)
	assert.Equal(t, globalCtl.Hex(), v)
}

func TestTypedDefaults(t *testing.T) {
	r := newRegistry(t)

	fee, err := r.WithdrawalFeeBps(vaultA)
	require.NoError(t, err)
	assert.Equal(t, uint64(DefaultWithdrawalFeeBps), fee)

	ratio, err := r.InvestRatioBps(vaultA)
	require.NoError(t, err)
	assert.Equal(t, uint64(DefaultInvestRatioBps), ratio)

	minRatio, err := r.MinInitialRatioBps(vaultA)
	require.NoError(t, err)
	assert.Equal(t, uint64(DefaultMinInitialRatioBps), minRatio)

	minAssets, err := r.MinInitialAssets(vaultA)
	require.NoError(t, err)
	assert.Equal(t, uint64(DefaultMinInitialAssets), minAssets.Uint64())
	assert.Greater(t, minAssets.Uint64(), uint64(DefaultLockedShares))

	locked, err := r.LockedShares(vaultA)
	require.NoError(t, err)
	assert.Equal(t, uint64(DefaultLockedShares), locked.Uint64())

	grace, err := r.StartRoundGrace(vaultA)
	require.NoError(t, err)
	assert.Equal(t, DefaultStartRoundGrace, grace)

	require.NoError(t, r.SetParameter(vaultA, KeyStartRoundGrace, "90m"))
	grace, err = r.StartRoundGrace(vaultA)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, grace)
}

func TestValidation(t *testing.T) {
	r := newRegistry(t)

	tests := []struct {
		key, value string
	}{
		{KeyWithdrawalFeeBps, "1001"},
		{KeyWithdrawalFeeBps, "ten"},
		{KeyInvestRatioBps, "10001"},
		{KeyController, "not-an-address"},
		{KeyStartRoundGrace, "soon"},
		{KeyMinInitialAssets, "-1"},
		{KeyLockedShares, "some"},
	}
	for _, tt := range tests {
		err := r.SetParameter(vaultA, tt.key, tt.value)
		assert.ErrorIs(t, err, ErrInvalidValue, "%s=%s", tt.key, tt.value)
	}

	require.NoError(t, r.SetParameter(vaultA, KeyWithdrawalFeeBps, "1000"))
}

func TestCap(t *testing.T) {
	r := newRegistry(t)

	avail, err := r.AvailableCap(vaultA)
	require.NoError(t, err)
	assert.True(t, mathutil.IsMax(avail), "unset cap is unlimited")

	require.NoError(t, r.SetCap(vaultA, uint256.NewInt(100)))
	require.NoError(t, r.ConsumeCap(vaultA, uint256.NewInt(60)))

	avail, err = r.AvailableCap(vaultA)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), avail.Uint64())

	err = r.ConsumeCap(vaultA, uint256.NewInt(41))
	assert.ErrorIs(t, err, ErrCapExceeded)

	require.NoError(t, r.RestoreCap(vaultA, uint256.NewInt(500)))
	spent, err := r.Spent(vaultA)
	require.NoError(t, err)
	assert.True(t, spent.IsZero())

	// lowering the cap below spent leaves no headroom rather than wrapping
	require.NoError(t, r.ConsumeCap(vaultA, uint256.NewInt(80)))
	require.NoError(t, r.SetCap(vaultA, uint256.NewInt(50)))
	avail, err = r.AvailableCap(vaultA)
	require.NoError(t, err)
	assert.True(t, avail.IsZero())

	limit, err := r.Cap(vaultA)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), limit.Uint64())
}

func TestMigrationAllowList(t *testing.T) {
	r := newRegistry(t)

	ok, err := r.IsVaultAllowed(vaultA, vaultB)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.AllowMigration(vaultA, vaultB, true))
	ok, err = r.IsVaultAllowed(vaultA, vaultB)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.IsVaultAllowed(vaultB, vaultA)
	require.NoError(t, err)
	assert.False(t, ok, "routes are directional")

	require.NoError(t, r.AllowMigration(vaultA, vaultB, false))
	ok, err = r.IsVaultAllowed(vaultA, vaultB)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPersistence(t *testing.T) {
	db := memdb.New()
	level, _ := log.ToLevel("info")
	r := New(db, log.NewTestLogger(level))
	require.NoError(t, r.SetCap(vaultA, uint256.NewInt(9)))
	require.NoError(t, r.SetParameter(vaultA, KeyWithdrawalFeeBps, "25"))

	reopened := New(db, log.NewTestLogger(level))
	limit, err := reopened.Cap(vaultA)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), limit.Uint64())

	fee, err := reopened.WithdrawalFeeBps(vaultA)
	require.NoError(t, err)
	assert.Equal(t, uint64(25), fee)
}
