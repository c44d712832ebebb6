// Package events carries the observable outcomes of vault operations to
// whoever is listening: tests, metrics, NATS, websocket clients.
package events

import (
	"github.com/holiman/uint256"

	"github.com/luxfi/roundvault/pkg/asset"
)

type Kind string

const (
	KindStartRound       Kind = "start_round"
	KindEndRound         Kind = "end_round"
	KindSharePrice       Kind = "share_price"
	KindDeposited        Kind = "deposited"
	KindDepositProcessed Kind = "deposit_processed"
	KindDepositRefunded  Kind = "deposit_refunded"
	KindWithdrawn        Kind = "withdrawn"
	KindMigrated         Kind = "migrated"
)

// Event is emitted by a vault after an operation has fully applied.
type Event interface {
	Kind() Kind
	Source() asset.Address
}

// StartRound marks a vault opening round RoundID with Assets under management.
type StartRound struct {
	Vault   asset.Address `json:"vault"`
	RoundID uint64        `json:"roundId"`
	Assets  *uint256.Int  `json:"assets"`
}

type EndRound struct {
	Vault   asset.Address `json:"vault"`
	RoundID uint64        `json:"roundId"`
}

// SharePrice reports the price a round converted deposits at and the price it
// closed at once the strategy returned capital. Prices are scaled by 1e18.
type SharePrice struct {
	Vault      asset.Address `json:"vault"`
	RoundID    uint64        `json:"roundId"`
	StartPrice *uint256.Int  `json:"startPrice"`
	EndPrice   *uint256.Int  `json:"endPrice"`
}

type Deposited struct {
	Vault     asset.Address `json:"vault"`
	Caller    asset.Address `json:"caller"`
	Recipient asset.Address `json:"recipient"`
	RoundID   uint64        `json:"roundId"`
	Assets    *uint256.Int  `json:"assets"`
}

type DepositProcessed struct {
	Vault   asset.Address `json:"vault"`
	Owner   asset.Address `json:"owner"`
	RoundID uint64        `json:"roundId"`
	Assets  *uint256.Int  `json:"assets"`
	Shares  *uint256.Int  `json:"shares"`
}

type DepositRefunded struct {
	Vault   asset.Address `json:"vault"`
	Owner   asset.Address `json:"owner"`
	RoundID uint64        `json:"roundId"`
	Assets  *uint256.Int  `json:"assets"`
}

type Withdrawn struct {
	Vault    asset.Address `json:"vault"`
	Caller   asset.Address `json:"caller"`
	Receiver asset.Address `json:"receiver"`
	Owner    asset.Address `json:"owner"`
	Assets   *uint256.Int  `json:"assets"`
	Fee      *uint256.Int  `json:"fee"`
	Shares   *uint256.Int  `json:"shares"`
}

type Migrated struct {
	Vault  asset.Address `json:"vault"`
	Owner  asset.Address `json:"owner"`
	From   asset.Address `json:"from"`
	To     asset.Address `json:"to"`
	Assets *uint256.Int  `json:"assets"`
	Shares *uint256.Int  `json:"shares"`
}

func (StartRound) Kind() Kind       { return KindStartRound }
func (EndRound) Kind() Kind         { return KindEndRound }
func (SharePrice) Kind() Kind       { return KindSharePrice }
func (Deposited) Kind() Kind        { return KindDeposited }
func (DepositProcessed) Kind() Kind { return KindDepositProcessed }
func (DepositRefunded) Kind() Kind  { return KindDepositRefunded }
func (Withdrawn) Kind() Kind        { return KindWithdrawn }
func (Migrated) Kind() Kind         { return KindMigrated }

func (e StartRound) Source() asset.Address       { return e.Vault }
func (e EndRound) Source() asset.Address         { return e.Vault }
func (e SharePrice) Source() asset.Address       { return e.Vault }
func (e Deposited) Source() asset.Address        { return e.Vault }
func (e DepositProcessed) Source() asset.Address { return e.Vault }
func (e DepositRefunded) Source() asset.Address  { return e.Vault }
func (e Withdrawn) Source() asset.Address        { return e.Vault }
func (e Migrated) Source() asset.Address         { return e.Vault }
