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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnnualizedHV(t *testing.T) {
	closes := []float64{
		100, 101, 99, 102, 98, 103, 97, 104, 96, 105, 95,
		106, 94, 107, 93, 108, 92, 109, 91, 110, 90,
	}

	// expected: sample std of the 20 daily log returns, annualized by sqrt(252)
	returns := make([]float64, 0, len(closes)-1)
	mean := 0.0
	for ii := 1; ii < len(closes); ii++ {
		r := math.Log(closes[ii] / closes[ii-1])
		returns = append(returns, r)
		mean += r
	}
	mean /= float64(len(returns))
	ss := 0.0
	for _, r := range returns {
		ss += (r - mean) * (r - mean)
	}
	expected := math.Sqrt(ss/float64(len(returns)-1)) * math.Sqrt(252)

	got := AnnualizedHV(closes)
	assert.InDelta(t, expected, got, 1e-12)
	assert.Greater(t, got, 0.0)

	// the same input always yields the same output
	assert.Equal(t, got, AnnualizedHV(closes))

	// degenerate inputs
	assert.Zero(t, AnnualizedHV(nil))
	assert.Zero(t, AnnualizedHV([]float64{100, 101}))
	assert.Zero(t, AnnualizedHV([]float64{100, 0, 101}))
}

func TestStockVolatilitySnapshot(t *testing.T) {
	store := NewStore(t.TempDir())
	asOf := day(2024, 2, 1)

	// a month of weekday bars ending at the cursor
	writeWeekdayBars(t, store, "SPY", day(2024, 1, 2), asOf, 470)

	// ATM band is ±5% of spot; one strike inside, one far outside
	spotDay := func(strike, iv float64) OptionEOD {
		return OptionEOD{
			UnderlyingSymbol: "SPY",
			Expiration:       day(2024, 3, 15),
			Strike:           strike,
			OptionType:       OptionTypePut,
			Date:             asOf,
			Close:            3.0,
			ImpliedVol:       iv,
			UnderlyingPrice:  475,
		}
	}
	require.NoError(t, store.WriteOptionEOD("SPY", []OptionEOD{
		spotDay(470, 0.20),
		spotDay(475, 0.22),
		spotDay(480, 0.24),
		spotDay(380, 0.55), // deep OTM, outside the ATM band
	}))

	provider := NewProvider(store, asOf)

	vol := provider.StockVolatility("SPY")
	require.NotNil(t, vol)
	assert.Equal(t, "SPY", vol.Symbol)
	assert.Greater(t, vol.HistoricalV, 0.0)

	// median of {0.20, 0.22, 0.24}; the 0.55 outlier is excluded
	assert.InDelta(t, 0.22, vol.ATMIV, 1e-9)

	// memoized per (symbol, as-of)
	assert.Same(t, vol, provider.StockVolatility("SPY"))

	assert.Nil(t, provider.StockVolatility("MSFT"))
}

func TestIVRankAndPercentile(t *testing.T) {
	history := []float64{0.10, 0.20, 0.30, 0.40, 0.50}

	rank, pct := ivRankAndPercentile(0.30, history)
	assert.InDelta(t, 50.0, rank, 1e-9)
	assert.InDelta(t, 40.0, pct, 1e-9)

	rank, pct = ivRankAndPercentile(0.60, history)
	assert.InDelta(t, 100.0, rank, 1e-9) // clamped to the range top
	assert.InDelta(t, 100.0, pct, 1e-9)

	rank, pct = ivRankAndPercentile(0.05, history)
	assert.Zero(t, rank)
	assert.Zero(t, pct)
}
