package config

import (
	"strings"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/luxfi/roundvault/pkg/asset"
	"github.com/luxfi/roundvault/pkg/mathutil"
	"github.com/luxfi/roundvault/pkg/registry"
)

var ErrInvalidPercent = errors.New("invalid percentage")

var (
	hundred = decimal.NewFromInt(100)
	bps     = decimal.NewFromInt(mathutil.BPS)
)

// ParseBps converts "0.5%", "50bps" or "0.005" to basis points. Values that
// are not a whole number of basis points are rejected.
func ParseBps(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	var (
		d   decimal.Decimal
		err error
	)
	switch {
	case strings.HasSuffix(s, "%"):
		d, err = decimal.NewFromString(strings.TrimSpace(strings.TrimSuffix(s, "%")))
		d = d.Mul(hundred)
	case strings.HasSuffix(s, "bps"):
		d, err = decimal.NewFromString(strings.TrimSpace(strings.TrimSuffix(s, "bps")))
	default:
		d, err = decimal.NewFromString(s)
		d = d.Mul(bps)
	}
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidPercent, "%q", s)
	}
	if d.IsNegative() || !d.Equal(d.Truncate(0)) {
		return 0, errors.Wrapf(ErrInvalidPercent, "%q is not a whole number of basis points", s)
	}
	return uint64(d.IntPart()), nil
}

// CapLimit parses Cap. Empty means no cap.
func (v Vault) CapLimit() (*uint256.Int, error) {
	if v.Cap == "" {
		return nil, nil
	}
	n, err := uint256.FromDecimal(strings.ReplaceAll(v.Cap, "_", ""))
	if err != nil {
		return nil, errors.Wrapf(err, "cap %q", v.Cap)
	}
	return n, nil
}

// registryValues translates p into registry keys and values. Unset fields are
// left out so registry defaults and global values still apply.
func (p Params) registryValues() (map[string]string, error) {
	out := make(map[string]string)
	for key, addr := range map[string]string{
		registry.KeyController:   p.Controller,
		registry.KeyFeeRecipient: p.FeeRecipient,
	} {
		if addr == "" {
			continue
		}
		a, err := asset.ParseAddress(addr)
		if err != nil {
			return nil, errors.Wrap(err, key)
		}
		out[key] = a.Hex()
	}
	for key, pct := range map[string]string{
		registry.KeyWithdrawalFeeBps:   p.WithdrawalFee,
		registry.KeyInvestRatioBps:     p.InvestRatio,
		registry.KeyMinInitialRatioBps: p.MinInitialRatio,
	} {
		if pct == "" {
			continue
		}
		n, err := ParseBps(pct)
		if err != nil {
			return nil, errors.Wrap(err, key)
		}
		out[key] = uint256.NewInt(n).Dec()
	}
	for key, amount := range map[string]string{
		registry.KeyMinInitialAssets: p.MinInitialAssets,
		registry.KeyLockedShares:     p.LockedShares,
	} {
		if amount != "" {
			out[key] = strings.ReplaceAll(amount, "_", "")
		}
	}
	if p.StartRoundGrace != "" {
		out[registry.KeyStartRoundGrace] = p.StartRoundGrace
	}
	return out, nil
}

// Apply writes the global parameters, every vault's parameters and cap, and
// the migration allow-list into reg.
func (c *Config) Apply(reg *registry.Registry) error {
	global, err := c.Params.registryValues()
	if err != nil {
		return errors.Wrap(err, "params")
	}
	for key, value := range global {
		if err := reg.SetGlobalParameter(key, value); err != nil {
			return err
		}
	}

	for _, v := range c.Vaults {
		addr, err := v.VaultAddress()
		if err != nil {
			return errors.Wrapf(err, "vault %s", v.Label)
		}
		values, err := v.Params.registryValues()
		if err != nil {
			return errors.Wrapf(err, "vault %s params", v.Label)
		}
		for key, value := range values {
			if err := reg.SetParameter(addr, key, value); err != nil {
				return errors.Wrapf(err, "vault %s", v.Label)
			}
		}
		limit, err := v.CapLimit()
		if err != nil {
			return errors.Wrapf(err, "vault %s", v.Label)
		}
		if limit != nil {
			if err := reg.SetCap(addr, limit); err != nil {
				return errors.Wrapf(err, "vault %s cap", v.Label)
			}
		}
		for _, ref := range v.MigrateTo {
			to, err := c.Resolve(ref)
			if err != nil {
				return errors.Wrapf(err, "vault %s migrate_to", v.Label)
			}
			if err := reg.AllowMigration(addr, to, true); err != nil {
				return err
			}
		}
	}
	return nil
}
