// Copyright 2022-2024
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sim

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// EquitySnapshot is the end-of-day account summary; one per simulated
// trading day, append-only.
type EquitySnapshot struct {
	Date                  time.Time `json:"date"`
	Cash                  float64   `json:"cash"`
	PositionsValue        float64   `json:"positions_value"`
	MarginUsed            float64   `json:"margin_used"`
	NLV                   float64   `json:"nlv"`
	UnrealizedPnL         float64   `json:"unrealized_pnl"`
	RealizedPnLCumulative float64   `json:"realized_pnl_cumulative"`
	PositionCount         int       `json:"position_count"`
	DailyPnL              float64   `json:"daily_pnl"`
	TradesOpened          int       `json:"trades_opened"`
	TradesClosed          int       `json:"trades_closed"`
	TradesExpired         int       `json:"trades_expired"`
}

// AccountState is a derived point-in-time view of the account.
type AccountState struct {
	TotalEquity       float64            `json:"total_equity"`
	Cash              float64            `json:"cash"`
	MarginUsed        float64            `json:"margin_used"`
	AvailableMargin   float64            `json:"available_margin"`
	MarginUtilization float64            `json:"margin_utilization"`
	CashRatio         float64            `json:"cash_ratio"`
	GrossLeverage     float64            `json:"gross_leverage"`
	PositionCount     int                `json:"position_count"`
	Exposure          map[string]float64 `json:"exposure"`
}

// Account tracks cash, live positions, and realized PnL through the
// simulation.
type Account struct {
	cash                  float64
	initialCapital        float64
	maxMarginUtilization  float64
	positions             map[int]*SimulatedPosition
	closed                []*SimulatedPosition
	realizedPnLCumulative float64
	snapshots             []EquitySnapshot
}

// NewAccount creates an account funded with initialCapital.
func NewAccount(initialCapital, maxMarginUtilization float64) *Account {
	return &Account{
		cash:                 initialCapital,
		initialCapital:       initialCapital,
		maxMarginUtilization: maxMarginUtilization,
		positions:            make(map[int]*SimulatedPosition),
	}
}

// Cash returns available cash.
func (acct *Account) Cash() float64 {
	return acct.cash
}

// NLV is net liquidation value: cash plus mark-to-market of every live
// position.
func (acct *Account) NLV() float64 {
	return acct.cash + acct.positionsValue()
}

func (acct *Account) positionsValue() float64 {
	total := 0.0
	for _, id := range acct.positionIDs() {
		total += acct.positions[id].MarketValue
	}
	return total
}

// MarginUsed is the sum of margin requirements across live positions.
func (acct *Account) MarginUsed() float64 {
	total := 0.0
	for _, id := range acct.positionIDs() {
		total += acct.positions[id].MarginRequired
	}
	return total
}

// AvailableMargin is the remaining margin budget under the configured
// utilization cap.
func (acct *Account) AvailableMargin() float64 {
	return math.Max(0, acct.NLV()*acct.maxMarginUtilization-acct.MarginUsed())
}

// positionIDs returns live position ids ascending. Iteration over the map
// would randomize float summation order and break run determinism.
func (acct *Account) positionIDs() []int {
	ids := make([]int, 0, len(acct.positions))
	for id := range acct.positions {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Positions returns live positions ordered by id.
func (acct *Account) Positions() []*SimulatedPosition {
	ids := acct.positionIDs()
	out := make([]*SimulatedPosition, 0, len(ids))
	for _, id := range ids {
		out = append(out, acct.positions[id])
	}
	return out
}

// Position looks up a live position by id.
func (acct *Account) Position(id int) *SimulatedPosition {
	return acct.positions[id]
}

// ClosedPositions returns positions closed so far, in close order.
func (acct *Account) ClosedPositions() []*SimulatedPosition {
	return acct.closed
}

// PositionCount is the number of live positions.
func (acct *Account) PositionCount() int {
	return len(acct.positions)
}

// RealizedPnL is cumulative realized PnL.
func (acct *Account) RealizedPnL() float64 {
	return acct.realizedPnLCumulative
}

// AddPosition admits a position and applies the opening cash delta.
// Rejected when the position's margin requirement exceeds available
// margin; the account is left untouched.
func (acct *Account) AddPosition(pos *SimulatedPosition, cashChange float64) bool {
	if pos.MarginRequired > acct.AvailableMargin() {
		log.Warn().Int("PositionID", pos.PositionID).Str("Symbol", pos.Symbol).
			Float64("Required", pos.MarginRequired).Float64("Available", acct.AvailableMargin()).
			Msg("position rejected: insufficient margin")
		return false
	}

	acct.cash += cashChange
	acct.positions[pos.PositionID] = pos
	return true
}

// RemovePosition applies the closing cash delta and realized PnL, and
// moves the position from live to closed.
func (acct *Account) RemovePosition(id int, cashChange, realizedPnL float64) {
	pos, ok := acct.positions[id]
	if !ok {
		log.Warn().Int("PositionID", id).Msg("remove of unknown position ignored")
		return
	}

	acct.cash += cashChange
	acct.realizedPnLCumulative += realizedPnL
	delete(acct.positions, id)
	acct.closed = append(acct.closed, pos)
}

// TakeSnapshot appends the end-of-day equity snapshot.
func (acct *Account) TakeSnapshot(day time.Time, dailyPnL float64, opened, closed, expired int) EquitySnapshot {
	unrealized := 0.0
	for _, id := range acct.positionIDs() {
		unrealized += acct.positions[id].UnrealizedPnL
	}

	snapshot := EquitySnapshot{
		Date:                  day,
		Cash:                  acct.cash,
		PositionsValue:        acct.positionsValue(),
		MarginUsed:            acct.MarginUsed(),
		NLV:                   acct.NLV(),
		UnrealizedPnL:         unrealized,
		RealizedPnLCumulative: acct.realizedPnLCumulative,
		PositionCount:         len(acct.positions),
		DailyPnL:              dailyPnL,
		TradesOpened:          opened,
		TradesClosed:          closed,
		TradesExpired:         expired,
	}
	acct.snapshots = append(acct.snapshots, snapshot)
	return snapshot
}

// Snapshots returns the append-only snapshot series.
func (acct *Account) Snapshots() []EquitySnapshot {
	return acct.snapshots
}

// State computes the derived account view used by screening and decision
// collaborators.
func (acct *Account) State() AccountState {
	nlv := acct.NLV()
	marginUsed := acct.MarginUsed()

	state := AccountState{
		TotalEquity:     nlv,
		Cash:            acct.cash,
		MarginUsed:      marginUsed,
		AvailableMargin: acct.AvailableMargin(),
		PositionCount:   len(acct.positions),
		Exposure:        make(map[string]float64),
	}
	if nlv > 0 {
		state.MarginUtilization = marginUsed / nlv
		state.CashRatio = acct.cash / nlv

		notional := 0.0
		for _, id := range acct.positionIDs() {
			pos := acct.positions[id]
			exposure := math.Abs(float64(pos.Quantity)) * pos.UnderlyingPrice * float64(pos.LotSize)
			state.Exposure[pos.Underlying] += exposure
			notional += exposure
		}
		state.GrossLeverage = notional / nlv
	}
	return state
}
