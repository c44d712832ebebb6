package strategy

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/roundvault/pkg/asset"
)

func TestReserveRoundTrip(t *testing.T) {
	token := asset.NewLedger("USDC")
	vault := asset.DeriveAddress("vault")
	r := NewReserve(token, vault, asset.DeriveAddress("reserve"), nil)
	require.NoError(t, token.Mint(vault, uint256.NewInt(1000)))

	ctx := context.Background()
	require.NoError(t, r.Invest(ctx, uint256.NewInt(600)))
	assert.Equal(t, uint64(600), r.TotalManagedAssets().Uint64())
	assert.Equal(t, uint64(400), token.BalanceOf(vault).Uint64())

	// premium accrues to the reserve
	require.NoError(t, token.Mint(r.Address(), uint256.NewInt(60)))

	got, err := r.Divest(ctx, uint256.NewInt(10_000))
	require.NoError(t, err)
	assert.Equal(t, uint64(660), got.Uint64())
	assert.Equal(t, uint64(1060), token.BalanceOf(vault).Uint64())
	assert.True(t, r.TotalManagedAssets().IsZero())
}

func TestReserveSlashing(t *testing.T) {
	token := asset.NewLedger("USDC")
	vault := asset.DeriveAddress("vault")
	r := NewReserve(token, vault, asset.DeriveAddress("reserve"), nil)
	require.NoError(t, token.Mint(vault, uint256.NewInt(100)))

	ctx := context.Background()
	require.NoError(t, r.Invest(ctx, uint256.NewInt(100)))
	require.NoError(t, token.Burn(r.Address(), uint256.NewInt(30)))

	got, err := r.Divest(ctx, uint256.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, uint64(70), got.Uint64())
}

func TestReserveInvestBeyondBalance(t *testing.T) {
	token := asset.NewLedger("USDC")
	vault := asset.DeriveAddress("vault")
	r := NewReserve(token, vault, asset.DeriveAddress("reserve"), nil)

	err := r.Invest(context.Background(), uint256.NewInt(1))
	assert.ErrorIs(t, err, asset.ErrInsufficientFunds)
}

func TestReserveHonoursContext(t *testing.T) {
	r := NewReserve(asset.NewLedger("USDC"), asset.DeriveAddress("vault"), asset.DeriveAddress("reserve"), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, r.Invest(ctx, uint256.NewInt(1)), context.Canceled)
	_, err := r.Divest(ctx, uint256.NewInt(1))
	assert.ErrorIs(t, err, context.Canceled)
}
