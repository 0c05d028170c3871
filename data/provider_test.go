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

package data

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// weekdaysBetween writes one SPY bar per weekday in [start, end] with a
// slowly drifting close.
func writeWeekdayBars(t *testing.T, store *Store, symbol string, start, end time.Time, base float64) {
	t.Helper()

	var rows []StockEOD
	px := base
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		rows = append(rows, stockRow(symbol, d, px))
		px += 0.25
	}
	require.NoError(t, store.WriteStockEOD(rows))
}

func TestContractSymbolRoundTrip(t *testing.T) {
	expiry := day(2024, 3, 15)

	symbol := ContractSymbol("SPY", expiry, OptionTypePut, 470.5)
	assert.Equal(t, "SPY240315P00470500", symbol)

	underlying, parsedExpiry, optType, strike, err := ParseContractSymbol(symbol)
	require.NoError(t, err)
	assert.Equal(t, "SPY", underlying)
	assert.True(t, parsedExpiry.Equal(expiry))
	assert.Equal(t, OptionTypePut, optType)
	assert.InDelta(t, 470.5, strike, 1e-9)

	_, _, _, _, err = ParseContractSymbol("GARBAGE")
	assert.Error(t, err)
}

func TestProviderNoLookahead(t *testing.T) {
	store := NewStore(t.TempDir())
	writeWeekdayBars(t, store, "SPY", day(2024, 1, 2), day(2024, 3, 29), 470)

	cursor := day(2024, 1, 15)
	provider := NewProvider(store, cursor)

	// a request spanning past the cursor is clamped at the cursor
	bars := provider.HistoryKline("SPY", day(2024, 1, 2), day(2024, 3, 29))
	require.NotEmpty(t, bars)
	last := bars[len(bars)-1]
	assert.True(t, last.Date.Equal(cursor), "last bar %s is past the cursor", last.Date)

	// no bar on the cursor date for an unknown symbol
	assert.Nil(t, provider.StockQuote("MSFT"))

	// the day list is calendar metadata and covers the full range
	days := provider.TradingDays(day(2024, 1, 2), day(2024, 3, 29), "SPY")
	require.NotEmpty(t, days)
	assert.True(t, days[len(days)-1].After(cursor))
}

func TestProviderSetAsOf(t *testing.T) {
	store := NewStore(t.TempDir())
	writeWeekdayBars(t, store, "SPY", day(2024, 1, 2), day(2024, 1, 31), 470)

	provider := NewProvider(store, day(2024, 1, 10))

	first := provider.StockQuote("SPY")
	require.NotNil(t, first)

	provider.SetAsOf(day(2024, 1, 11))
	second := provider.StockQuote("SPY")
	require.NotNil(t, second)
	assert.True(t, second.Date.After(first.Date))

	// moving backwards works too; only per-day caches are dropped
	provider.SetAsOf(day(2024, 1, 10))
	again := provider.StockQuote("SPY")
	require.NotNil(t, again)
	assert.True(t, again.Date.Equal(first.Date))
}

func TestProviderOptionChainFilters(t *testing.T) {
	store := NewStore(t.TempDir())
	quoteDate := day(2024, 1, 10)

	optRow := func(expiry time.Time, strike float64, optType OptionType) OptionEOD {
		return OptionEOD{
			UnderlyingSymbol: "SPY",
			Expiration:       expiry,
			Strike:           strike,
			OptionType:       optType,
			Date:             quoteDate,
			Close:            2.5,
			Volume:           150,
			Delta:            -0.25,
			ImpliedVol:       0.18,
			UnderlyingPrice:  470,
		}
	}

	require.NoError(t, store.WriteOptionEOD("SPY", []OptionEOD{
		optRow(day(2024, 1, 19), 465, OptionTypePut),  // 9 DTE
		optRow(day(2024, 2, 16), 460, OptionTypePut),  // 37 DTE
		optRow(day(2024, 2, 16), 475, OptionTypeCall), // 37 DTE
		optRow(day(2024, 6, 21), 450, OptionTypePut),  // 163 DTE
	}))

	provider := NewProvider(store, quoteDate)

	chain := provider.OptionChain("SPY", time.Time{}, time.Time{}, 20, 60)
	require.NotNil(t, chain)
	assert.Len(t, chain.Puts, 1)
	assert.Len(t, chain.Calls, 1)
	assert.True(t, chain.Puts[0].Expiration.Equal(day(2024, 2, 16)))
	assert.Equal(t, 470.0, chain.UnderlyingPrice)

	// unbounded chain carries everything quoted on the day
	full := provider.OptionChain("SPY", time.Time{}, time.Time{}, 0, 0)
	require.NotNil(t, full)
	assert.Len(t, full.Quotes(), 4)

	// nothing quoted on another cursor date
	provider.SetAsOf(day(2024, 1, 11))
	assert.Nil(t, provider.OptionChain("SPY", time.Time{}, time.Time{}, 0, 0))
}

func TestProviderOptionQuotesBatch(t *testing.T) {
	store := NewStore(t.TempDir())
	quoteDate := day(2024, 1, 10)

	require.NoError(t, store.WriteOptionEOD("SPY", []OptionEOD{
		{
			UnderlyingSymbol: "SPY",
			Expiration:       day(2024, 2, 16),
			Strike:           460,
			OptionType:       OptionTypePut,
			Date:             quoteDate,
			Close:            3.10,
			Volume:           40,
			UnderlyingPrice:  470,
		},
	}))

	provider := NewProvider(store, quoteDate)
	contract := ContractSymbol("SPY", day(2024, 2, 16), OptionTypePut, 460)

	quotes := provider.OptionQuotesBatch([]string{contract}, 0)
	require.Len(t, quotes, 1)
	assert.Equal(t, contract, quotes[0].Symbol)

	// volume floor filters the thin contract out
	assert.Empty(t, provider.OptionQuotesBatch([]string{contract}, 100))
}

func TestProviderFundamental(t *testing.T) {
	store := NewStore(t.TempDir())

	require.NoError(t, store.WriteEPS([]EPSRow{
		{Symbol: "AAPL", AsOfDate: day(2023, 12, 30), ReportType: "TTM", Period: "12M", EPS: 6.42, Currency: "USD"},
		{Symbol: "AAPL", AsOfDate: day(2024, 3, 30), ReportType: "TTM", Period: "12M", EPS: 6.55, Currency: "USD"},
		{Symbol: "AAPL", AsOfDate: day(2023, 12, 30), ReportType: "A", Period: "3M", EPS: 2.18, Currency: "USD"},
	}))
	require.NoError(t, store.WriteRevenue([]RevenueRow{
		{Symbol: "AAPL", AsOfDate: day(2023, 12, 30), ReportType: "TTM", Period: "12M", Revenue: 383e9, Currency: "USD"},
	}))

	provider := NewProvider(store, day(2024, 1, 15))

	fund := provider.Fundamental("AAPL")
	require.NotNil(t, fund)

	// only the TTM/12M report on or before the cursor counts
	assert.Equal(t, 6.42, fund.EPS)
	assert.True(t, fund.EPSDate.Equal(day(2023, 12, 30)))
	assert.Equal(t, 383e9, fund.Revenue)

	// known ETFs are skipped without an error
	assert.Nil(t, provider.Fundamental("SPY"))
}

func TestProviderStockBeta(t *testing.T) {
	store := NewStore(t.TempDir())
	require.NoError(t, store.WriteBeta([]BetaRow{
		{Symbol: "AAPL", Date: day(2024, 1, 5), Beta: 1.21},
		{Symbol: "AAPL", Date: day(2024, 1, 12), Beta: 1.25},
		{Symbol: "AAPL", Date: day(2024, 1, 19), Beta: 1.31},
	}))

	provider := NewProvider(store, day(2024, 1, 15))

	beta := provider.StockBeta("AAPL", time.Time{})
	require.NotNil(t, beta)
	assert.Equal(t, 1.25, *beta)

	// requests past the cursor are clamped at the cursor
	beta = provider.StockBeta("AAPL", day(2024, 6, 1))
	require.NotNil(t, beta)
	assert.Equal(t, 1.25, *beta)

	assert.Nil(t, provider.StockBeta("MSFT", time.Time{}))
}
