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

package perf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penny-vault/pv-options/sim"
)

// pairedSeries builds aligned strategy snapshots and benchmark points where
// the strategy's daily return is scale times the benchmark's.
func pairedSeries(n int, scale float64) ([]sim.EquitySnapshot, []BenchmarkPoint) {
	var snapshots []sim.EquitySnapshot
	var benchmark []BenchmarkPoint

	strat, bench := 100_000.0, 470.0
	d := day(2024, 1, 2)
	for len(snapshots) < n {
		for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			d = d.AddDate(0, 0, 1)
		}
		snapshots = append(snapshots, sim.EquitySnapshot{Date: d, NLV: strat})
		benchmark = append(benchmark, BenchmarkPoint{Date: d, Close: bench})

		r := 0.001 * float64(1+len(snapshots)%4)
		bench *= 1 + r
		strat *= 1 + scale*r
		d = d.AddDate(0, 0, 1)
	}
	return snapshots, benchmark
}

func TestCompareBenchmarkBeta(t *testing.T) {
	snapshots, benchmark := pairedSeries(60, 2.0)

	result := CompareBenchmark(snapshots, benchmark, "SPY")
	require.NotNil(t, result)
	assert.Equal(t, "SPY", result.BenchmarkSymbol)
	assert.Equal(t, 60, result.AlignedDays)

	require.NotNil(t, result.Beta)
	assert.InDelta(t, 2.0, *result.Beta, 1e-6)
	require.NotNil(t, result.Correlation)
	assert.InDelta(t, 1.0, *result.Correlation, 1e-6)
	require.NotNil(t, result.Alpha)

	// strategy beats the benchmark every single day at 2x leverage
	assert.Equal(t, 1.0, result.DailyWinRate)
	assert.Greater(t, result.TrackingError, 0.0)
	assert.Greater(t, result.InformationRatio, 0.0)
}

func TestCompareBenchmarkTooFewObservations(t *testing.T) {
	snapshots, benchmark := pairedSeries(8, 1.0)

	// comparison exists but the regression needs 10 observations
	result := CompareBenchmark(snapshots, benchmark, "SPY")
	require.NotNil(t, result)
	assert.Nil(t, result.Beta)
	assert.Nil(t, result.Alpha)
	assert.Nil(t, result.Correlation)
}

func TestCompareBenchmarkDegenerateVariance(t *testing.T) {
	// a flat benchmark has zero variance; regression is infeasible
	var snapshots []sim.EquitySnapshot
	var benchmark []BenchmarkPoint
	d := day(2024, 1, 2)
	nlv := 100_000.0
	for ii := 0; ii < 30; ii++ {
		for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			d = d.AddDate(0, 0, 1)
		}
		snapshots = append(snapshots, sim.EquitySnapshot{Date: d, NLV: nlv})
		benchmark = append(benchmark, BenchmarkPoint{Date: d, Close: 470})
		nlv *= 1.001
		d = d.AddDate(0, 0, 1)
	}

	result := CompareBenchmark(snapshots, benchmark, "SPY")
	require.NotNil(t, result)
	assert.Nil(t, result.Beta)
}

func TestCompareBenchmarkNoOverlap(t *testing.T) {
	snapshots, _ := pairedSeries(20, 1.0)
	benchmark := []BenchmarkPoint{
		{Date: day(2030, 1, 2), Close: 470},
		{Date: day(2030, 1, 3), Close: 471},
	}

	assert.Nil(t, CompareBenchmark(snapshots, benchmark, "SPY"))
}

func TestSummarize(t *testing.T) {
	levels := []float64{100, 110, 99, 105}
	returns := simpleReturns(levels)

	summary := summarize(levels, returns)
	assert.InDelta(t, 0.05, summary.TotalReturn, 1e-9)
	assert.InDelta(t, 0.1, summary.MaxDrawdown, 1e-9) // 110 -> 99
	assert.Greater(t, summary.AnnualizedReturn, 0.0)
}
