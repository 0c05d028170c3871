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
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/penny-vault/pv-options/common"
	"github.com/penny-vault/pv-options/sim"
)

const (
	minRegressionObs = 10
	varEpsilon       = 1e-12
	maxSaneBeta      = 10.0
)

// SeriesSummary are the per-series figures of a benchmark comparison.
type SeriesSummary struct {
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	SortinoRatio     float64 `json:"sortino_ratio"`
	MaxDrawdown      float64 `json:"max_drawdown"`
}

// BenchmarkResult compares a strategy equity curve with a benchmark price
// series over their common trading days.
type BenchmarkResult struct {
	BenchmarkSymbol string        `json:"benchmark_symbol"`
	AlignedDays     int           `json:"aligned_days"`
	Strategy        SeriesSummary `json:"strategy"`
	Benchmark       SeriesSummary `json:"benchmark"`

	// nil when the regression is infeasible (<10 observations, zero
	// benchmark variance, or an absurd |beta| > 10)
	Beta        *float64 `json:"beta,omitempty"`
	Alpha       *float64 `json:"alpha,omitempty"` // annualized
	Correlation *float64 `json:"correlation,omitempty"`

	TrackingError    float64 `json:"tracking_error"`
	InformationRatio float64 `json:"information_ratio"`
	DailyWinRate     float64 `json:"daily_win_rate"`
}

// BenchmarkPoint is one benchmark observation (close price).
type BenchmarkPoint struct {
	Date  time.Time
	Close float64
}

// CompareBenchmark aligns the snapshot series with the benchmark by
// intersecting trading days, then computes relative statistics. Nil when
// fewer than two aligned days exist.
func CompareBenchmark(snapshots []sim.EquitySnapshot, benchmark []BenchmarkPoint, symbol string) *BenchmarkResult {
	benchByDay := make(map[time.Time]float64, len(benchmark))
	for _, point := range benchmark {
		benchByDay[common.Midnight(point.Date)] = point.Close
	}

	var stratNLV, benchClose []float64
	for _, snap := range snapshots {
		if close, ok := benchByDay[common.Midnight(snap.Date)]; ok && close > 0 {
			stratNLV = append(stratNLV, snap.NLV)
			benchClose = append(benchClose, close)
		}
	}
	if len(stratNLV) < 2 {
		return nil
	}

	stratReturns := simpleReturns(stratNLV)
	benchReturns := simpleReturns(benchClose)

	result := &BenchmarkResult{
		BenchmarkSymbol: symbol,
		AlignedDays:     len(stratNLV),
		Strategy:        summarize(stratNLV, stratReturns),
		Benchmark:       summarize(benchClose, benchReturns),
	}

	result.Beta, result.Alpha, result.Correlation = regress(stratReturns, benchReturns)

	excess := make([]float64, len(stratReturns))
	wins := 0
	for ii := range stratReturns {
		excess[ii] = stratReturns[ii] - benchReturns[ii]
		if stratReturns[ii] > benchReturns[ii] {
			wins++
		}
	}
	if len(excess) >= 2 {
		result.TrackingError = math.Sqrt(stat.Variance(excess, nil)) * math.Sqrt(tradingDaysPerYear)
	}
	if result.TrackingError > 0 {
		result.InformationRatio = stat.Mean(excess, nil) * tradingDaysPerYear / result.TrackingError
	}
	result.DailyWinRate = float64(wins) / float64(len(stratReturns))
	return result
}

func simpleReturns(levels []float64) []float64 {
	returns := make([]float64, 0, len(levels)-1)
	for ii := 1; ii < len(levels); ii++ {
		if levels[ii-1] > 0 {
			returns = append(returns, (levels[ii]-levels[ii-1])/levels[ii-1])
		} else {
			returns = append(returns, 0)
		}
	}
	return returns
}

func summarize(levels, returns []float64) SeriesSummary {
	summary := SeriesSummary{
		AnnualizedReturn: annualizedReturn(returns),
	}
	if levels[0] > 0 {
		summary.TotalReturn = levels[len(levels)-1]/levels[0] - 1
	}

	vol := annualizedVol(returns)
	if vol > 0 {
		summary.SharpeRatio = summary.AnnualizedReturn / vol
	}
	dVol := downsideVol(returns)
	if dVol > 0 {
		summary.SortinoRatio = summary.AnnualizedReturn / dVol
	}

	peak := levels[0]
	for _, level := range levels {
		if level > peak {
			peak = level
		}
		if peak > 0 {
			dd := (peak - level) / peak
			if dd > summary.MaxDrawdown {
				summary.MaxDrawdown = dd
			}
		}
	}
	return summary
}

// regress runs OLS of strategy returns on benchmark returns. Requires at
// least 10 observations and non-degenerate benchmark variance; betas with
// |beta| > 10 are treated as spurious and dropped. Alpha is annualized by
// 252.
func regress(strategy, benchmark []float64) (beta, alpha, correlation *float64) {
	if len(strategy) < minRegressionObs {
		return nil, nil, nil
	}

	benchVar := stat.Variance(benchmark, nil)
	if benchVar < varEpsilon || math.IsNaN(benchVar) {
		return nil, nil, nil
	}

	b := stat.Covariance(strategy, benchmark, nil) / benchVar
	if math.Abs(b) > maxSaneBeta || math.IsNaN(b) {
		return nil, nil, nil
	}

	a := (stat.Mean(strategy, nil) - b*stat.Mean(benchmark, nil)) * tradingDaysPerYear

	c := stat.Correlation(strategy, benchmark, nil)
	if math.IsNaN(c) {
		return &b, &a, nil
	}
	return &b, &a, &c
}
