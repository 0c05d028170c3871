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
	"os"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func stockRow(symbol string, date time.Time, close float64) StockEOD {
	return StockEOD{
		Symbol: symbol,
		Date:   date,
		Open:   close,
		High:   close,
		Low:    close,
		Close:  close,
		Volume: 1000,
	}
}

func TestStoreReadMissingFile(t *testing.T) {
	store := NewStore(t.TempDir())

	rows, err := store.ReadStockEOD()
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestStoreMergeDedup(t *testing.T) {
	store := NewStore(t.TempDir())

	first := []StockEOD{
		stockRow("SPY", day(2024, 1, 2), 470),
		stockRow("SPY", day(2024, 1, 3), 471),
	}
	require.NoError(t, store.WriteStockEOD(first))

	// overlapping write: Jan 3 revised, Jan 4 new
	second := []StockEOD{
		stockRow("SPY", day(2024, 1, 3), 999),
		stockRow("SPY", day(2024, 1, 4), 472),
	}
	require.NoError(t, store.WriteStockEOD(second))

	rows, err := store.ReadStockEOD()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	seen := make(map[string]bool)
	for _, row := range rows {
		assert.False(t, seen[row.Key()], "duplicate key %s", row.Key())
		seen[row.Key()] = true
	}

	// later write wins
	assert.Equal(t, 999.0, rows[1].Close)

	// sorted by natural key
	assert.True(t, rows[0].Date.Before(rows[1].Date))
	assert.True(t, rows[1].Date.Before(rows[2].Date))
}

func TestStoreOptionYearSplit(t *testing.T) {
	store := NewStore(t.TempDir())

	rows := []OptionEOD{
		{
			UnderlyingSymbol: "SPY",
			Expiration:       day(2023, 12, 15),
			Strike:           470,
			OptionType:       OptionTypePut,
			Date:             day(2023, 12, 1),
			Close:            3.25,
		},
		{
			UnderlyingSymbol: "SPY",
			Expiration:       day(2024, 1, 19),
			Strike:           470,
			OptionType:       OptionTypePut,
			Date:             day(2024, 1, 2),
			Close:            2.50,
		},
	}
	require.NoError(t, store.WriteOptionEOD("SPY", rows))

	assert.Equal(t, []int{2023, 2024}, store.OptionYears("SPY"))
	assert.Equal(t, []string{"SPY"}, store.OptionSymbols())

	y2023, err := store.ReadOptionEOD("SPY", 2023)
	require.NoError(t, err)
	require.Len(t, y2023, 1)
	assert.Equal(t, 3.25, y2023[0].Close)

	y2024, err := store.ReadOptionEOD("SPY", 2024)
	require.NoError(t, err)
	require.Len(t, y2024, 1)
	assert.Equal(t, 2.50, y2024[0].Close)
}

func TestCatalogRefresh(t *testing.T) {
	store := NewStore(t.TempDir())

	require.NoError(t, store.WriteStockEOD([]StockEOD{
		stockRow("SPY", day(2024, 1, 2), 470),
		stockRow("SPY", day(2024, 1, 3), 471),
		stockRow("AAPL", day(2024, 1, 2), 185),
	}))

	require.NoError(t, store.RefreshCatalog())

	raw, err := os.ReadFile(store.CatalogPath())
	require.NoError(t, err)

	var catalog Catalog
	require.NoError(t, json.Unmarshal(raw, &catalog))

	stock, ok := catalog.Datasets[string(DataTypeStock)]
	require.True(t, ok)
	require.Contains(t, stock.Symbols, "SPY")
	assert.Equal(t, 2, stock.Symbols["SPY"].Records)
	assert.Equal(t, "2024-01-02", stock.Symbols["SPY"].StartDate)
	assert.Equal(t, "2024-01-03", stock.Symbols["SPY"].EndDate)
}
