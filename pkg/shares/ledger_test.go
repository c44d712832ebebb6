package shares

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/roundvault/pkg/asset"
	"github.com/luxfi/roundvault/pkg/mathutil"
)

var (
	alice = asset.DeriveAddress("alice")
	bob   = asset.DeriveAddress("bob")
)

func n(v uint64) *uint256.Int { return uint256.NewInt(v) }

func TestMintBurn(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Mint(alice, n(100)))
	require.NoError(t, l.Mint(bob, n(50)))
	assert.Equal(t, uint64(150), l.TotalSupply().Uint64())

	require.NoError(t, l.Burn(alice, n(100)))
	assert.True(t, l.BalanceOf(alice).IsZero())
	assert.Equal(t, uint64(50), l.TotalSupply().Uint64())

	err := l.Burn(bob, n(51))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, uint64(50), l.BalanceOf(bob).Uint64())
}

func TestMintOverflow(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Mint(alice, mathutil.Max()))
	assert.ErrorIs(t, l.Mint(bob, n(1)), mathutil.ErrOverflow)
	assert.True(t, l.BalanceOf(bob).IsZero())
}

func TestTransfer(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Mint(alice, n(10)))

	require.NoError(t, l.Transfer(alice, bob, n(4)))
	assert.Equal(t, uint64(6), l.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(4), l.BalanceOf(bob).Uint64())
	assert.Equal(t, uint64(10), l.TotalSupply().Uint64())

	assert.ErrorIs(t, l.Transfer(bob, alice, n(5)), ErrInsufficientBalance)
}

func TestAllowance(t *testing.T) {
	l := NewLedger()

	l.Approve(alice, bob, n(10))
	require.NoError(t, l.SpendAllowance(alice, bob, n(4)))
	assert.Equal(t, uint64(6), l.Allowance(alice, bob).Uint64())

	err := l.SpendAllowance(alice, bob, n(7))
	assert.ErrorIs(t, err, ErrInsufficientAllowance)
	assert.Equal(t, uint64(6), l.Allowance(alice, bob).Uint64())

	// owners need no allowance over their own shares
	require.NoError(t, l.SpendAllowance(alice, alice, n(1000)))

	l.Approve(alice, bob, n(0))
	assert.True(t, l.Allowance(alice, bob).IsZero())
}

func TestInfiniteAllowanceNeverDecrements(t *testing.T) {
	l := NewLedger()
	l.Approve(alice, bob, mathutil.Max())

	require.NoError(t, l.SpendAllowance(alice, bob, n(1_000_000)))
	assert.True(t, mathutil.IsMax(l.Allowance(alice, bob)))
}

func TestSnapshotRestore(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Mint(alice, n(7)))
	require.NoError(t, l.Mint(bob, n(3)))
	l.Approve(alice, bob, n(2))

	restored := NewLedger()
	require.NoError(t, restored.Restore(l.Snapshot()))
	assert.Equal(t, uint64(10), restored.TotalSupply().Uint64())
	assert.Equal(t, uint64(7), restored.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(2), restored.Allowance(alice, bob).Uint64())
}
