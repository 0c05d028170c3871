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
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"

	"github.com/penny-vault/pv-options/common"
)

const (
	hvWindow        = 60  // trading days of log returns for historical vol
	ivHistoryWindow = 252 // trading days of ATM IV history for rank/percentile
	atmBandPct      = 0.05
	tradingDaysYear = 252
)

// StockVolatility is a one-day volatility snapshot of a symbol: realized
// volatility of the underlying, the at-the-money implied volatility of its
// options, and where that IV sits in its trailing one-year range.
type StockVolatility struct {
	Symbol       string
	Date         time.Time
	Spot         float64
	HistoricalV  float64 // annualized 60-day close-to-close vol
	ATMIV        float64 // median IV of contracts within ±5% of spot
	IVRank       float64 // (iv - min) / (max - min) over trailing year, [0, 100]
	IVPercentile float64 // share of trailing-year days with lower IV, [0, 100]
}

// StockVolatility computes the volatility snapshot for the as-of date.
// Results are memoized per (symbol, as-of). Nil when the underlying has no
// bar on the as-of date.
func (p *Provider) StockVolatility(symbol string) *StockVolatility {
	if vol, ok := p.volCache.Get(symbol); ok {
		return vol
	}

	quote := p.StockQuote(symbol)
	if quote == nil {
		return nil
	}

	vol := &StockVolatility{
		Symbol: quote.Symbol,
		Date:   p.asOf,
		Spot:   quote.Close,
	}

	vol.HistoricalV = p.historicalVol(symbol)
	vol.ATMIV = p.atmIV(symbol, p.asOf, quote.Close)

	if history := p.ivHistory(symbol); len(history) > 0 {
		vol.IVRank, vol.IVPercentile = ivRankAndPercentile(vol.ATMIV, history)
	}

	p.volCache.Add(symbol, vol)
	return vol
}

// historicalVol is the annualized standard deviation of the last hvWindow
// daily log returns ending at the cursor. Shorter histories use whatever
// returns exist; zero when fewer than two.
func (p *Provider) historicalVol(symbol string) float64 {
	bars := p.HistoryKline(symbol, p.asOf.AddDate(-1, 0, 0), p.asOf)
	if len(bars) > hvWindow+1 {
		bars = bars[len(bars)-(hvWindow+1):]
	}

	closes := make([]float64, 0, len(bars))
	for _, bar := range bars {
		closes = append(closes, bar.Close)
	}
	return AnnualizedHV(closes)
}

// AnnualizedHV is the annualized close-to-close historical volatility of a
// price series: std of daily log returns times sqrt(252). Zero with fewer
// than two returns.
func AnnualizedHV(closes []float64) float64 {
	returns := make([]float64, 0, len(closes))
	for ii := 1; ii < len(closes); ii++ {
		if closes[ii-1] <= 0 || closes[ii] <= 0 {
			continue
		}
		returns = append(returns, math.Log(closes[ii]/closes[ii-1]))
	}
	if len(returns) < 2 {
		return 0
	}
	return math.Sqrt(stat.Variance(returns, nil)) * math.Sqrt(tradingDaysYear)
}

// atmIV is the median implied vol of contracts quoted on date with strikes
// within ±5% of spot. Uses the vendor-reported underlying price from the
// chain when spot is zero.
func (p *Provider) atmIV(symbol string, date time.Time, spot float64) float64 {
	rows, err := p.store.ReadOptionEOD(symbol, date.Year())
	if err != nil {
		log.Warn().Err(err).Str("Symbol", symbol).Msg("could not read option data for ATM IV")
		return 0
	}

	var ivs []float64
	for _, row := range rows {
		if !common.DateEqual(row.Date, date) || row.ImpliedVol <= 0 {
			continue
		}
		ref := spot
		if ref <= 0 {
			ref = row.UnderlyingPrice
		}
		if ref <= 0 {
			continue
		}
		if math.Abs(row.Strike-ref)/ref <= atmBandPct {
			ivs = append(ivs, row.ImpliedVol)
		}
	}
	return median(ivs)
}

// ivHistory computes the daily ATM IV series over the trailing year,
// excluding the as-of day itself.
func (p *Provider) ivHistory(symbol string) []float64 {
	days := p.TradingDays(p.asOf.AddDate(-1, 0, 0), p.asOf.AddDate(0, 0, -1), symbol)
	if len(days) > ivHistoryWindow {
		days = days[len(days)-ivHistoryWindow:]
	}

	var history []float64
	for _, day := range days {
		bars := p.HistoryKline(symbol, day, day)
		spot := 0.0
		if len(bars) == 1 {
			spot = bars[0].Close
		}
		if iv := p.atmIV(symbol, day, spot); iv > 0 {
			history = append(history, iv)
		}
	}
	return history
}

func ivRankAndPercentile(iv float64, history []float64) (rank, percentile float64) {
	lo, hi := history[0], history[0]
	below := 0
	for _, v := range history {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
		if v < iv {
			below++
		}
	}

	if hi > lo {
		rank = (iv - lo) / (hi - lo) * 100
		rank = math.Max(0, math.Min(100, rank))
	}
	percentile = float64(below) / float64(len(history)) * 100
	return
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}
