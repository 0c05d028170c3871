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
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressLedgerLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "download_progress.json")
	ledger, err := LoadProgressLedger(path)
	require.NoError(t, err)

	start := day(2024, 1, 1)
	end := day(2024, 3, 31)

	require.NoError(t, ledger.Begin(DataTypeStock, "SPY", start, end))

	entry, ok := ledger.Entry(DataTypeStock, "SPY")
	require.True(t, ok)
	assert.Equal(t, StatusInProgress, entry.Status)
	assert.Nil(t, entry.LastCompletedDate)

	require.NoError(t, ledger.Advance(DataTypeStock, "SPY", day(2024, 1, 31), 21))
	require.NoError(t, ledger.Advance(DataTypeStock, "SPY", day(2024, 2, 29), 20))

	entry, _ = ledger.Entry(DataTypeStock, "SPY")
	require.NotNil(t, entry.LastCompletedDate)
	assert.True(t, entry.LastCompletedDate.Equal(day(2024, 2, 29)))
	assert.Equal(t, 41, entry.TotalRecords)

	require.NoError(t, ledger.Complete(DataTypeStock, "SPY"))

	entry, _ = ledger.Entry(DataTypeStock, "SPY")
	assert.Equal(t, StatusCompleted, entry.Status)
	assert.Nil(t, entry.LastCompletedDate)
	assert.True(t, entry.StartDate.Equal(start))
	assert.True(t, entry.EndDate.Equal(end))
}

func TestProgressLedgerPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "download_progress.json")
	ledger, err := LoadProgressLedger(path)
	require.NoError(t, err)

	require.NoError(t, ledger.Begin(DataTypeOption, "AAPL", day(2024, 2, 1), day(2024, 2, 29)))
	require.NoError(t, ledger.Advance(DataTypeOption, "AAPL", day(2024, 2, 10), 500))
	require.NoError(t, ledger.Fail(DataTypeOption, "AAPL", errors.New("vendor timeout")))

	// a fresh load sees the interrupted state
	reloaded, err := LoadProgressLedger(path)
	require.NoError(t, err)

	entry, ok := reloaded.Entry(DataTypeOption, "AAPL")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, entry.Status)
	assert.Equal(t, "vendor timeout", entry.ErrorMessage)
	require.NotNil(t, entry.LastCompletedDate)
	assert.True(t, entry.LastCompletedDate.Equal(day(2024, 2, 10)))
	assert.Equal(t, 500, entry.TotalRecords)
}

func TestProgressLedgerWidensRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "download_progress.json")
	ledger, err := LoadProgressLedger(path)
	require.NoError(t, err)

	require.NoError(t, ledger.Begin(DataTypeStock, "SPY", day(2024, 2, 1), day(2024, 2, 29)))
	require.NoError(t, ledger.Complete(DataTypeStock, "SPY"))

	// widening on both ends keeps one contiguous interval
	require.NoError(t, ledger.Begin(DataTypeStock, "SPY", day(2024, 1, 1), day(2024, 3, 31)))
	require.NoError(t, ledger.Complete(DataTypeStock, "SPY"))

	entry, ok := ledger.Entry(DataTypeStock, "SPY")
	require.True(t, ok)
	assert.True(t, entry.StartDate.Equal(day(2024, 1, 1)))
	assert.True(t, entry.EndDate.Equal(day(2024, 3, 31)))
}

func TestProgressLedgerUnknownTask(t *testing.T) {
	path := filepath.Join(t.TempDir(), "download_progress.json")
	ledger, err := LoadProgressLedger(path)
	require.NoError(t, err)

	err = ledger.Advance(DataTypeStock, "MSFT", day(2024, 1, 2), 1)
	assert.ErrorIs(t, err, ErrLedgerNotFound)
}
