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
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/penny-vault/pv-options/sim"
)

const tradingDaysPerYear = 252

// DrawDown describes one peak-to-recovery episode of the equity curve.
type DrawDown struct {
	PeakDate     time.Time `json:"peak_date"`
	TroughDate   time.Time `json:"trough_date"`
	RecoveryDate time.Time `json:"recovery_date,omitempty"`
	PeakNLV      float64   `json:"peak_nlv"`
	TroughNLV    float64   `json:"trough_nlv"`
	Depth        float64   `json:"depth"` // (peak - trough) / peak
	DurationDays int       `json:"duration_days"`
	RecoveryDays int       `json:"recovery_days"` // -1 while unrecovered
}

// TradeStats summarizes closed trades with known PnL.
type TradeStats struct {
	Total        int     `json:"total"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"`
	ProfitFactor float64 `json:"profit_factor"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"`
	LargestWin   float64 `json:"largest_win"`
	LargestLoss  float64 `json:"largest_loss"`
	Expectancy   float64 `json:"expectancy"`
}

// MonthlyReturn is one cell of the monthly returns table.
type MonthlyReturn struct {
	Year   int     `json:"year"`
	Month  int     `json:"month"`
	Return float64 `json:"return"`
}

// BacktestMetrics is the full performance summary of one run.
type BacktestMetrics struct {
	InitialCapital   float64 `json:"initial_capital"`
	FinalNLV         float64 `json:"final_nlv"`
	TotalReturn      float64 `json:"total_return"`
	TotalReturnPct   float64 `json:"total_return_pct"`
	AnnualizedReturn float64 `json:"annualized_return"`

	Volatility         float64 `json:"volatility"`
	DownsideVolatility float64 `json:"downside_volatility"`
	MaxDrawdown        float64 `json:"max_drawdown"`
	VaR95              float64 `json:"var_95"`
	CVaR95             float64 `json:"cvar_95"`

	SharpeRatio  float64 `json:"sharpe_ratio"`
	SortinoRatio float64 `json:"sortino_ratio"`
	CalmarRatio  float64 `json:"calmar_ratio"`

	TradeStats     TradeStats      `json:"trade_stats"`
	MonthlyReturns []MonthlyReturn `json:"monthly_returns"`
	DrawDowns      []DrawDown      `json:"drawdowns"`

	TradingDays  int     `json:"trading_days"`
	RiskFreeRate float64 `json:"risk_free_rate"`
}

// DailyReturns computes simple daily returns over the snapshot series,
// skipping days where the prior NLV is not positive.
func DailyReturns(snapshots []sim.EquitySnapshot) []float64 {
	var returns []float64
	for ii := 1; ii < len(snapshots); ii++ {
		prev := snapshots[ii-1].NLV
		if prev > 0 {
			returns = append(returns, (snapshots[ii].NLV-prev)/prev)
		}
	}
	return returns
}

// Compute builds the full metrics summary from a backtest result.
func Compute(result *sim.BacktestResult, riskFreeRate float64) *BacktestMetrics {
	metrics := &BacktestMetrics{
		InitialCapital: result.Config.InitialCapital,
		FinalNLV:       result.FinalNLV,
		TradingDays:    result.TradingDays,
		RiskFreeRate:   riskFreeRate,
	}

	metrics.TotalReturn = metrics.FinalNLV - metrics.InitialCapital
	if metrics.InitialCapital > 0 {
		metrics.TotalReturnPct = metrics.TotalReturn / metrics.InitialCapital
	}

	returns := DailyReturns(result.Snapshots)
	metrics.AnnualizedReturn = annualizedReturn(returns)
	metrics.Volatility = annualizedVol(returns)
	metrics.DownsideVolatility = downsideVol(returns)
	metrics.VaR95, metrics.CVaR95 = historicalVaR(returns, 0.95)

	metrics.DrawDowns = AllDrawDowns(result.Snapshots)
	for _, dd := range metrics.DrawDowns {
		if dd.Depth > metrics.MaxDrawdown {
			metrics.MaxDrawdown = dd.Depth
		}
	}

	if metrics.Volatility > 0 {
		metrics.SharpeRatio = (metrics.AnnualizedReturn - riskFreeRate) / metrics.Volatility
	}
	if metrics.DownsideVolatility > 0 {
		metrics.SortinoRatio = (metrics.AnnualizedReturn - riskFreeRate) / metrics.DownsideVolatility
	}
	if metrics.MaxDrawdown > 0 {
		metrics.CalmarRatio = metrics.AnnualizedReturn / metrics.MaxDrawdown
	}

	metrics.TradeStats = ComputeTradeStats(result.TradeRecords)
	metrics.MonthlyReturns = monthlyReturns(result.Snapshots)
	return metrics
}

// annualizedReturn compounds the daily returns and annualizes by 252
// trading days.
func annualizedReturn(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	growth := 1.0
	for _, r := range returns {
		growth *= 1 + r
	}
	if growth <= 0 {
		return -1
	}
	return math.Pow(growth, tradingDaysPerYear/float64(len(returns))) - 1
}

func annualizedVol(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	return math.Sqrt(stat.Variance(returns, nil)) * math.Sqrt(tradingDaysPerYear)
}

// downsideVol annualizes the standard deviation of negative daily returns
// only.
func downsideVol(returns []float64) float64 {
	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) < 2 {
		return 0
	}
	return math.Sqrt(stat.Variance(downside, nil)) * math.Sqrt(tradingDaysPerYear)
}

// historicalVaR returns the historical (non-parametric) VaR and CVaR at
// the given confidence level, both as positive loss magnitudes.
func historicalVaR(returns []float64, confidence float64) (valueAtRisk, conditionalVaR float64) {
	if len(returns) == 0 {
		return 0, 0
	}

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	idx := int(math.Floor(float64(len(sorted)) * (1 - confidence)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	valueAtRisk = -sorted[idx]

	tailSum := 0.0
	for _, r := range sorted[:idx+1] {
		tailSum += r
	}
	conditionalVaR = -tailSum / float64(idx+1)
	return
}

// AllDrawDowns scans the equity curve for every peak-to-recovery episode.
// The last episode may be unrecovered (RecoveryDays = -1).
func AllDrawDowns(snapshots []sim.EquitySnapshot) []DrawDown {
	if len(snapshots) == 0 {
		return nil
	}

	var drawDowns []DrawDown
	var active *DrawDown
	peak := snapshots[0].NLV
	peakDate := snapshots[0].Date

	for _, snap := range snapshots {
		if snap.NLV >= peak {
			if active != nil {
				active.RecoveryDate = snap.Date
				active.RecoveryDays = int(snap.Date.Sub(active.TroughDate).Hours() / 24)
				drawDowns = append(drawDowns, *active)
				active = nil
			}
			peak = snap.NLV
			peakDate = snap.Date
			continue
		}

		if active == nil {
			active = &DrawDown{
				PeakDate:     peakDate,
				PeakNLV:      peak,
				TroughDate:   snap.Date,
				TroughNLV:    snap.NLV,
				RecoveryDays: -1,
			}
		}
		if snap.NLV < active.TroughNLV {
			active.TroughDate = snap.Date
			active.TroughNLV = snap.NLV
		}
		if peak > 0 {
			depth := (peak - active.TroughNLV) / peak
			if depth > active.Depth {
				active.Depth = depth
			}
		}
		active.DurationDays = int(snap.Date.Sub(active.PeakDate).Hours() / 24)
	}

	if active != nil {
		drawDowns = append(drawDowns, *active)
	}
	return drawDowns
}

// ComputeTradeStats summarizes close and expire records that carry a
// realized PnL.
func ComputeTradeStats(records []*sim.TradeRecord) TradeStats {
	var stats TradeStats
	var grossWin, grossLoss float64

	for _, record := range records {
		if record.Action == sim.ActionOpen || record.PnL == nil {
			continue
		}
		pnl := *record.PnL
		stats.Total++
		if pnl > 0 {
			stats.Wins++
			grossWin += pnl
			if pnl > stats.LargestWin {
				stats.LargestWin = pnl
			}
		} else {
			stats.Losses++
			grossLoss += pnl
			if pnl < stats.LargestLoss {
				stats.LargestLoss = pnl
			}
		}
	}

	if stats.Total == 0 {
		return stats
	}

	stats.WinRate = float64(stats.Wins) / float64(stats.Total)
	if grossLoss != 0 {
		stats.ProfitFactor = grossWin / math.Abs(grossLoss)
	} else if grossWin > 0 {
		stats.ProfitFactor = math.Inf(1)
	}
	if stats.Wins > 0 {
		stats.AvgWin = grossWin / float64(stats.Wins)
	}
	if stats.Losses > 0 {
		stats.AvgLoss = grossLoss / float64(stats.Losses)
	}
	stats.Expectancy = stats.WinRate*stats.AvgWin + (1-stats.WinRate)*stats.AvgLoss
	return stats
}

// monthlyReturns compounds daily returns within each calendar month.
func monthlyReturns(snapshots []sim.EquitySnapshot) []MonthlyReturn {
	if len(snapshots) < 2 {
		return nil
	}

	type monthKey struct {
		year  int
		month int
	}
	growth := make(map[monthKey]float64)
	var order []monthKey

	for ii := 1; ii < len(snapshots); ii++ {
		prev := snapshots[ii-1].NLV
		if prev <= 0 {
			continue
		}
		r := (snapshots[ii].NLV - prev) / prev
		key := monthKey{snapshots[ii].Date.Year(), int(snapshots[ii].Date.Month())}
		if _, ok := growth[key]; !ok {
			growth[key] = 1.0
			order = append(order, key)
		}
		growth[key] *= 1 + r
	}

	table := make([]MonthlyReturn, 0, len(order))
	for _, key := range order {
		table = append(table, MonthlyReturn{
			Year:   key.year,
			Month:  key.month,
			Return: growth[key] - 1,
		})
	}
	return table
}
