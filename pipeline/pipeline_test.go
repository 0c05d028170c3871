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

package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penny-vault/pv-options/data"
)

// deadVendor fails every fetch permanently, leaving all detected gaps
// unresolved.
type deadVendor struct{}

func (deadVendor) StockEOD(context.Context, string, time.Time, time.Time) ([]data.StockEOD, error) {
	return nil, data.PermanentVendorError(errors.New("subscription expired"))
}

func (deadVendor) OptionEOD(context.Context, string, time.Time, time.Time) ([]data.OptionEOD, error) {
	return nil, data.PermanentVendorError(errors.New("subscription expired"))
}

func (deadVendor) MacroEOD(context.Context, string, time.Time, time.Time) ([]data.MacroEOD, error) {
	return nil, data.PermanentVendorError(errors.New("subscription expired"))
}

func deadVendors() *data.VendorSet {
	return &data.VendorSet{Stock: deadVendor{}, Option: deadVendor{}, Macro: deadVendor{}}
}

func TestPipelineStrictDataAborts(t *testing.T) {
	store := data.NewStore(t.TempDir())
	pipe := New(store, deadVendors())

	cfg := rangeConfig(day(2024, 1, 8), day(2024, 1, 12))
	_, err := pipe.Run(context.Background(), cfg, Options{StrictData: true})
	assert.ErrorIs(t, err, ErrUnresolvedGaps)
}

func TestPipelineTolerantDataContinues(t *testing.T) {
	store := data.NewStore(t.TempDir())
	pipe := New(store, deadVendors())

	cfg := rangeConfig(day(2024, 1, 8), day(2024, 1, 12))
	result, err := pipe.Run(context.Background(), cfg, Options{})
	require.NoError(t, err)

	// every gap failed to fill but the run completes on an empty store
	require.NotNil(t, result.DataStatus)
	assert.Greater(t, result.DataStatus.GapsFound, 0)
	assert.NotEmpty(t, result.DataStatus.Errors)
	require.NotNil(t, result.Backtest)
	assert.Zero(t, result.Backtest.TradingDays)
}

func TestPipelineSkipDataCheck(t *testing.T) {
	store := data.NewStore(t.TempDir())
	seedFlatBars(t, store, "SPY", day(2024, 1, 8), day(2024, 1, 12), 470)

	pipe := New(store, deadVendors())
	cfg := rangeConfig(day(2024, 1, 8), day(2024, 1, 12))

	result, err := pipe.Run(context.Background(), cfg, Options{SkipDataCheck: true})
	require.NoError(t, err)
	assert.Nil(t, result.DataStatus)
	assert.Equal(t, 5, result.Backtest.TradingDays)

	// the flat SPY series doubles as the benchmark
	require.NotNil(t, result.Benchmark)
	assert.Equal(t, "SPY", result.Benchmark.BenchmarkSymbol)
}

func TestPipelineInvalidConfig(t *testing.T) {
	pipe := New(data.NewStore(t.TempDir()), nil)

	cfg := rangeConfig(day(2024, 1, 12), day(2024, 1, 8))
	_, err := pipe.Run(context.Background(), cfg, Options{})
	assert.Error(t, err)
}
