package vault

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/suite"

	"github.com/luxfi/roundvault/pkg/asset"
	"github.com/luxfi/roundvault/pkg/events"
	"github.com/luxfi/roundvault/pkg/registry"
)

// ScenarioSuite drives a vault through whole rounds.
type ScenarioSuite struct {
	suite.Suite
	h *harness
}

func TestScenarioSuite(t *testing.T) {
	suite.Run(t, new(ScenarioSuite))
}

func (s *ScenarioSuite) SetupTest() {
	s.h = newHarness(s.T())
}

func (s *ScenarioSuite) redeemAll(owner asset.Address) uint64 {
	q, err := s.h.vault.Redeem(owner, s.h.vault.BalanceOf(owner), owner, owner)
	s.Require().NoError(err)
	return q.Net.Uint64()
}

func (s *ScenarioSuite) assertSolvent(owners ...asset.Address) {
	claims := new(uint256.Int)
	for _, o := range owners {
		a, err := s.h.vault.AssetsOf(o)
		s.Require().NoError(err)
		claims.Add(claims, a)
	}
	s.LessOrEqual(claims.Uint64(), s.h.vault.TotalAssets().Uint64())
}

func (s *ScenarioSuite) TestThreeDepositorsShareYield() {
	h := s.h
	h.setParam(registry.KeyWithdrawalFeeBps, "100")
	h.setParam(registry.KeyFeeRecipient, feeTo.Hex())
	for _, o := range []asset.Address{alice, bob, carol} {
		h.deposit(o, 100)
	}
	h.cycle(alice, bob, carol)
	s.Equal(uint64(300), h.vault.TotalSupply().Uint64())
	s.Len(h.rec.OfKind(events.KindDepositProcessed), 3)

	h.yield(70)
	s.Equal(uint64(370), h.vault.TotalAssets().Uint64())
	price, err := h.vault.SharePrice()
	s.Require().NoError(err)
	s.Equal("1.233333333333333333", PriceDecimal(price).String())

	// gross 123, 123 and 124, each less a 1% fee rounded up
	s.Equal(uint64(121), s.redeemAll(alice))
	s.Equal(uint64(121), s.redeemAll(bob))
	s.Equal(uint64(122), s.redeemAll(carol))
	s.Equal(uint64(6), h.token.BalanceOf(feeTo).Uint64())

	paid := new(uint256.Int)
	for _, o := range []asset.Address{alice, bob, carol, feeTo} {
		paid.Add(paid, h.token.BalanceOf(o))
	}
	s.Equal(uint64(370), paid.Uint64())
	s.True(h.vault.TotalAssets().IsZero())
	s.True(h.vault.TotalSupply().IsZero())
	s.Len(h.rec.OfKind(events.KindWithdrawn), 3)
}

func (s *ScenarioSuite) TestSolventThroughYieldAndSlashing() {
	h := s.h
	owners := []asset.Address{alice, bob, carol}
	h.setParam(registry.KeyWithdrawalFeeBps, "50")
	h.setParam(registry.KeyFeeRecipient, feeTo.Hex())

	h.deposit(alice, 1_000)
	h.deposit(bob, 333)
	h.cycle(alice, bob)
	s.assertSolvent(owners...)

	h.yield(97)
	s.assertSolvent(owners...)

	h.deposit(carol, 777)
	s.Require().NoError(h.vault.EndRound(h.ctx, controller))
	s.Require().NoError(h.token.Burn(h.reserve.Address(), u(211)))
	_, err := h.vault.ProcessQueuedDeposits(controller, []asset.Address{carol})
	s.Require().NoError(err)
	s.Require().NoError(h.vault.StartRound(h.ctx, controller))
	s.assertSolvent(owners...)

	_, err = h.vault.Withdraw(bob, uint256.NewInt(101), bob, bob)
	s.Require().NoError(err)
	s.assertSolvent(owners...)

	for _, o := range owners {
		s.redeemAll(o)
		s.assertSolvent(owners...)
	}
	s.True(h.vault.TotalSupply().IsZero())
}

func (s *ScenarioSuite) TestRoundIDsAdvance() {
	h := s.h
	for i := 0; i < 3; i++ {
		h.cycle()
	}
	s.Equal(uint64(3), h.vault.Round().ID)
	s.Len(h.rec.OfKind(events.KindStartRound), 3)
	s.Len(h.rec.OfKind(events.KindSharePrice), 3)
	s.Len(h.rec.OfKind(events.KindEndRound), 3)
}
