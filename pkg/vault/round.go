package vault

import (
	"time"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// State is the phase of the current round.
type State int

const (
	// Open accepts deposits, refunds, withdrawals and migrations.
	Open State = iota
	// Processing accepts only queue draining and StartRound.
	Processing
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Processing:
		return "processing"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "open":
		*s = Open
	case "processing":
		*s = Processing
	default:
		return errors.Errorf("unknown round state %q", text)
	}
	return nil
}

// Round is one open/processing cycle. Start* are taken when the round opens,
// End* when it moves to Processing; the End pair is the frozen price queued
// deposits convert at.
type Round struct {
	ID          uint64       `json:"id"`
	State       State        `json:"state"`
	StartAssets *uint256.Int `json:"startAssets"`
	StartSupply *uint256.Int `json:"startSupply"`
	EndAssets   *uint256.Int `json:"endAssets"`
	EndSupply   *uint256.Int `json:"endSupply"`
	EndedAt     time.Time    `json:"endedAt"`
}

func newRound(id uint64, assets, supply *uint256.Int) Round {
	return Round{
		ID:          id,
		State:       Open,
		StartAssets: assets.Clone(),
		StartSupply: supply.Clone(),
		EndAssets:   new(uint256.Int),
		EndSupply:   new(uint256.Int),
	}
}

func (r Round) clone() Round {
	c := r
	c.StartAssets = r.StartAssets.Clone()
	c.StartSupply = r.StartSupply.Clone()
	c.EndAssets = r.EndAssets.Clone()
	c.EndSupply = r.EndSupply.Clone()
	return c
}
