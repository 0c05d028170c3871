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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penny-vault/pv-options/data"
)

func TestRegTMargin(t *testing.T) {
	// OTM short put: strike 460, spot 470, premium 3
	// 0.20*470 - (470-460) = 84; floor 0.10*460 = 46; margin = 3 + 84
	margin := regTMarginPerShare(data.OptionTypePut, 3.0, 470, 460)
	assert.InDelta(t, 87.0, margin, 1e-9)

	// deep OTM put falls back to the 10% strike floor:
	// 0.20*470 - (470-300) < 0, floor 0.10*300 = 30
	margin = regTMarginPerShare(data.OptionTypePut, 0.5, 470, 300)
	assert.InDelta(t, 30.5, margin, 1e-9)

	// OTM short call: strike 480, spot 470, premium 2
	// 0.20*470 - (480-470) = 84; floor 0.10*470 = 47
	margin = regTMarginPerShare(data.OptionTypeCall, 2.0, 470, 480)
	assert.InDelta(t, 86.0, margin, 1e-9)
}

func TestUpdateMarketValue(t *testing.T) {
	pos := &SimulatedPosition{
		OptionType: data.OptionTypePut,
		Strike:     460,
		Quantity:   -2,
		EntryPrice: 3.00,
		LotSize:    DefaultLotSize,
	}

	pos.updateMarketValue(1.50, 470)

	assert.InDelta(t, -300.0, pos.MarketValue, 1e-9)    // -2 * 1.50 * 100
	assert.InDelta(t, 300.0, pos.UnrealizedPnL, 1e-9)   // (1.50-3.00) * -2 * 100
	assert.InDelta(t, 17100.0, pos.MarginRequired, 1e-9) // 85.50 * 2 * 100

	// long positions carry no margin
	long := &SimulatedPosition{
		OptionType: data.OptionTypeCall,
		Strike:     480,
		Quantity:   1,
		EntryPrice: 2.00,
		LotSize:    DefaultLotSize,
	}
	long.updateMarketValue(2.50, 470)
	assert.Zero(t, long.MarginRequired)
	assert.InDelta(t, 250.0, long.MarketValue, 1e-9)
	assert.InDelta(t, 50.0, long.UnrealizedPnL, 1e-9)
}

func TestPositionDerivedFields(t *testing.T) {
	pos := &SimulatedPosition{
		OptionType:      data.OptionTypePut,
		Strike:          460,
		Expiration:      day(2024, 2, 16),
		Quantity:        -1,
		UnderlyingPrice: 470,
	}

	assert.True(t, pos.IsShort())
	assert.Equal(t, StrategyShortPut, pos.StrategyType())
	assert.Equal(t, 37, pos.DTE(day(2024, 1, 10)))
	assert.InDelta(t, 10.0/460.0, pos.Moneyness(), 1e-9)
	assert.InDelta(t, 10.0/470.0, pos.OTMPct(), 1e-9)

	call := &SimulatedPosition{
		OptionType:      data.OptionTypeCall,
		Strike:          480,
		Quantity:        -1,
		UnderlyingPrice: 470,
	}
	assert.Equal(t, StrategyNakedCall, call.StrategyType())
	assert.InDelta(t, 10.0/470.0, call.OTMPct(), 1e-9)

	long := &SimulatedPosition{Quantity: 1}
	assert.Equal(t, StrategyUnknown, long.StrategyType())
}

func newTestManager(t *testing.T, asOf time.Time) (*PositionManager, *data.Store, *data.Provider) {
	t.Helper()
	store := data.NewStore(t.TempDir())
	provider := data.NewProvider(store, asOf)
	mgr := NewPositionManager(provider, data.PriceModeClose)
	mgr.SetDate(asOf)
	return mgr, store, provider
}

func TestRevalue(t *testing.T) {
	asOf := day(2024, 1, 10)
	mgr, store, _ := newTestManager(t, asOf)

	require.NoError(t, store.WriteStockEOD([]data.StockEOD{
		{Symbol: "SPY", Date: asOf, Open: 469, High: 471, Low: 468, Close: 470, Volume: 1000},
	}))
	require.NoError(t, store.WriteOptionEOD("SPY", []data.OptionEOD{
		{
			UnderlyingSymbol: "SPY",
			Expiration:       day(2024, 2, 16),
			Strike:           460,
			OptionType:       data.OptionTypePut,
			Date:             asOf,
			Close:            2.40,
			Volume:           100,
			Delta:            -0.22,
			Theta:            -0.06,
			UnderlyingPrice:  470,
		},
	}))

	pos := &SimulatedPosition{
		PositionID: 1,
		Symbol:     data.ContractSymbol("SPY", day(2024, 2, 16), data.OptionTypePut, 460),
		Underlying: "SPY",
		OptionType: data.OptionTypePut,
		Strike:     460,
		Expiration: day(2024, 2, 16),
		Quantity:   -1,
		EntryPrice: 3.00,
		LotSize:    DefaultLotSize,
	}

	require.NoError(t, mgr.Revalue(pos))
	assert.Equal(t, 2.40, pos.CurrentPrice)
	assert.Equal(t, 470.0, pos.UnderlyingPrice)
	assert.Equal(t, -0.22, pos.Delta)

	// a missing underlying quote is a hard error
	missing := &SimulatedPosition{Underlying: "MSFT", Quantity: -1, LotSize: DefaultLotSize}
	assert.ErrorIs(t, mgr.Revalue(missing), ErrDataNotFound)
}

func TestRevalueFallsBackToIntrinsic(t *testing.T) {
	asOf := day(2024, 2, 16)
	mgr, store, _ := newTestManager(t, asOf)

	// underlying trades but the contract is no longer quoted
	require.NoError(t, store.WriteStockEOD([]data.StockEOD{
		{Symbol: "SPY", Date: asOf, Open: 454, High: 456, Low: 453, Close: 455, Volume: 1000},
	}))

	pos := &SimulatedPosition{
		PositionID: 1,
		Symbol:     data.ContractSymbol("SPY", asOf, data.OptionTypePut, 460),
		Underlying: "SPY",
		OptionType: data.OptionTypePut,
		Strike:     460,
		Expiration: asOf,
		Quantity:   -1,
		EntryPrice: 3.00,
		LotSize:    DefaultLotSize,
	}

	require.NoError(t, mgr.Revalue(pos))
	assert.Equal(t, 5.0, pos.CurrentPrice) // intrinsic: 460 - 455
}

func TestClosePnLSignConvention(t *testing.T) {
	mgr, _, _ := newTestManager(t, day(2024, 1, 10))

	short := &SimulatedPosition{Quantity: -1, EntryPrice: 3.00, LotSize: DefaultLotSize, CommissionPaid: 1.0}

	// short put bought back cheaper: profit
	pnl := mgr.ClosePnL(short, 1.00, 1.0)
	assert.InDelta(t, 198.0, pnl, 1e-9) // (1-3)*-1*100 - 2

	// bought back dearer: loss
	pnl = mgr.ClosePnL(short, 5.00, 1.0)
	assert.InDelta(t, -202.0, pnl, 1e-9)

	long := &SimulatedPosition{Quantity: 1, EntryPrice: 2.00, LotSize: DefaultLotSize, CommissionPaid: 1.0}
	pnl = mgr.ClosePnL(long, 3.00, 1.0)
	assert.InDelta(t, 98.0, pnl, 1e-9)
}

func TestMonitorViewScaling(t *testing.T) {
	mgr, _, _ := newTestManager(t, day(2024, 1, 10))

	pos := &SimulatedPosition{
		PositionID:      7,
		OptionType:      data.OptionTypePut,
		Strike:          460,
		Expiration:      day(2024, 2, 16),
		Quantity:        -2,
		UnderlyingPrice: 470,
		Delta:           -0.25,
		Gamma:           0.03,
		Theta:           -0.08,
		Vega:            0.40,
	}

	view := mgr.MonitorView(pos)
	assert.Equal(t, 37, view.DTE)
	assert.InDelta(t, 0.50, view.Delta, 1e-9) // -0.25 * -2
	assert.InDelta(t, 0.06, view.Gamma, 1e-9) // 0.03 * |−2|
	assert.InDelta(t, 0.16, view.Theta, 1e-9) // -0.08 * -2
	assert.InDelta(t, 0.80, view.Vega, 1e-9)
	assert.Equal(t, StrategyShortPut, view.StrategyType)
}

func TestExpiringPositions(t *testing.T) {
	from := day(2024, 2, 14)
	positions := []*SimulatedPosition{
		{PositionID: 1, Expiration: day(2024, 2, 16)},
		{PositionID: 2, Expiration: day(2024, 3, 15)},
		{PositionID: 3, Expiration: day(2024, 2, 14)},
		{PositionID: 4, Expiration: day(2024, 2, 16), IsClosed: true},
	}

	expiring := ExpiringPositions(positions, from, 2)
	require.Len(t, expiring, 2)
	assert.Equal(t, 1, expiring[0].PositionID)
	assert.Equal(t, 3, expiring[1].PositionID)
}
