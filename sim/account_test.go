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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penny-vault/pv-options/data"
)

func shortPut(id int, margin, marketValue float64) *SimulatedPosition {
	return &SimulatedPosition{
		PositionID:      id,
		Symbol:          "SPY240216P00460000",
		Underlying:      "SPY",
		OptionType:      data.OptionTypePut,
		Strike:          460,
		Quantity:        -1,
		EntryPrice:      3.00,
		LotSize:         DefaultLotSize,
		UnderlyingPrice: 470,
		MarketValue:     marketValue,
		MarginRequired:  margin,
	}
}

func TestAccountCashAccounting(t *testing.T) {
	acct := NewAccount(100_000, 0.5)
	assert.Equal(t, 100_000.0, acct.NLV())

	// sell one put for 300 gross, 1 commission
	pos := shortPut(1, 8_550, -300)
	require.True(t, acct.AddPosition(pos, 299))

	assert.InDelta(t, 100_299.0, acct.Cash(), 1e-9)
	assert.InDelta(t, 99_999.0, acct.NLV(), 1e-9) // cash + (-300) market value
	assert.Equal(t, 1, acct.PositionCount())
	assert.InDelta(t, 8_550.0, acct.MarginUsed(), 1e-9)

	// buy it back for 100 plus 1 commission, realizing 198
	acct.RemovePosition(1, -101, 198)
	assert.InDelta(t, 100_198.0, acct.Cash(), 1e-9)
	assert.Zero(t, acct.PositionCount())
	assert.InDelta(t, 198.0, acct.RealizedPnL(), 1e-9)
	require.Len(t, acct.ClosedPositions(), 1)
}

func TestAccountMarginRejection(t *testing.T) {
	acct := NewAccount(10_000, 0.5)

	// margin budget is 5,000; a 6,000 requirement is rejected untouched
	pos := shortPut(1, 6_000, -300)
	assert.False(t, acct.AddPosition(pos, 299))
	assert.Equal(t, 10_000.0, acct.Cash())
	assert.Zero(t, acct.PositionCount())

	// a requirement inside the budget is admitted
	ok := acct.AddPosition(shortPut(2, 4_000, -300), 299)
	assert.True(t, ok)
	assert.Equal(t, 1, acct.PositionCount())
}

func TestAccountSnapshotIdentity(t *testing.T) {
	acct := NewAccount(100_000, 0.5)

	pos := shortPut(1, 8_550, -300)
	pos.UnrealizedPnL = 0
	require.True(t, acct.AddPosition(pos, 299))

	snapshot := acct.TakeSnapshot(day(2024, 1, 8), -1.0, 1, 0, 0)

	// nlv == cash + positions value, always
	assert.InDelta(t, snapshot.Cash+snapshot.PositionsValue, snapshot.NLV, 1e-9)
	assert.Equal(t, 1, snapshot.PositionCount)
	assert.Equal(t, 1, snapshot.TradesOpened)
	assert.InDelta(t, -1.0, snapshot.DailyPnL, 1e-9)

	require.Len(t, acct.Snapshots(), 1)
}

func TestAccountState(t *testing.T) {
	acct := NewAccount(100_000, 0.5)

	require.True(t, acct.AddPosition(shortPut(1, 8_550, -300), 299))
	require.True(t, acct.AddPosition(shortPut(2, 8_550, -300), 299))

	state := acct.State()
	assert.InDelta(t, acct.NLV(), state.TotalEquity, 1e-9)
	assert.InDelta(t, 17_100.0, state.MarginUsed, 1e-9)
	assert.InDelta(t, 17_100.0/acct.NLV(), state.MarginUtilization, 1e-9)
	assert.Equal(t, 2, state.PositionCount)

	// two short puts on the same underlying aggregate exposure
	assert.InDelta(t, 2*470.0*100, state.Exposure["SPY"], 1e-9)
	assert.Greater(t, state.GrossLeverage, 0.0)
}

func TestAccountRemoveUnknownPosition(t *testing.T) {
	acct := NewAccount(100_000, 0.5)
	acct.RemovePosition(42, -100, 0)

	// ignored without mutating cash
	assert.Equal(t, 100_000.0, acct.Cash())
}
