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

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/penny-vault/pv-options/common"
	"github.com/penny-vault/pv-options/data"
	"github.com/penny-vault/pv-options/perf"
)

// mustParseDate exits the command on an unparseable or missing date flag.
func mustParseDate(value, flag string) time.Time {
	parsed, err := common.ParseDate(value)
	if err != nil {
		log.Fatal().Err(err).Str("Flag", flag).Str("Value", value).Msg("could not parse date flag")
	}
	return parsed
}

func openStore() *data.Store {
	return data.NewStore(viper.GetString("data.dir"))
}

func buildVendors() data.VendorSet {
	return data.VendorSet{
		Stock:       data.NewTiingo(viper.GetString("tiingo.token")),
		Option:      data.NewThetaData(viper.GetInt("thetadata.max_dte"), viper.GetInt("thetadata.strike_range")),
		Macro:       data.NewStooq(),
		Fundamental: data.NewTiingo(viper.GetString("tiingo.token")),
	}
}

func printMetricsTable(metrics *perf.BacktestMetrics, benchmark *perf.BenchmarkResult) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Metric", "Value"})
	table.SetBorder(false)

	rows := [][]string{
		{"Initial Capital", fmt.Sprintf("$%.2f", metrics.InitialCapital)},
		{"Final NLV", fmt.Sprintf("$%.2f", metrics.FinalNLV)},
		{"Total Return", fmt.Sprintf("%.2f%%", metrics.TotalReturnPct*100)},
		{"Annualized Return", fmt.Sprintf("%.2f%%", metrics.AnnualizedReturn*100)},
		{"Volatility", fmt.Sprintf("%.2f%%", metrics.Volatility*100)},
		{"Max Drawdown", fmt.Sprintf("%.2f%%", metrics.MaxDrawdown*100)},
		{"VaR 95%", fmt.Sprintf("%.2f%%", metrics.VaR95*100)},
		{"CVaR 95%", fmt.Sprintf("%.2f%%", metrics.CVaR95*100)},
		{"Sharpe", fmt.Sprintf("%.2f", metrics.SharpeRatio)},
		{"Sortino", fmt.Sprintf("%.2f", metrics.SortinoRatio)},
		{"Calmar", fmt.Sprintf("%.2f", metrics.CalmarRatio)},
		{"Trades", fmt.Sprintf("%d", metrics.TradeStats.Total)},
		{"Win Rate", fmt.Sprintf("%.1f%%", metrics.TradeStats.WinRate*100)},
		{"Profit Factor", fmt.Sprintf("%.2f", metrics.TradeStats.ProfitFactor)},
		{"Expectancy", fmt.Sprintf("$%.2f", metrics.TradeStats.Expectancy)},
	}
	table.AppendBulk(rows)
	table.Render()

	if benchmark == nil {
		return
	}

	fmt.Printf("\nBenchmark (%s, %d aligned days)\n", benchmark.BenchmarkSymbol, benchmark.AlignedDays)
	bench := tablewriter.NewWriter(os.Stdout)
	bench.SetHeader([]string{"Metric", "Strategy", "Benchmark"})
	bench.SetBorder(false)
	bench.AppendBulk([][]string{
		{"Total Return", fmt.Sprintf("%.2f%%", benchmark.Strategy.TotalReturn*100), fmt.Sprintf("%.2f%%", benchmark.Benchmark.TotalReturn*100)},
		{"Annualized", fmt.Sprintf("%.2f%%", benchmark.Strategy.AnnualizedReturn*100), fmt.Sprintf("%.2f%%", benchmark.Benchmark.AnnualizedReturn*100)},
		{"Sharpe", fmt.Sprintf("%.2f", benchmark.Strategy.SharpeRatio), fmt.Sprintf("%.2f", benchmark.Benchmark.SharpeRatio)},
		{"Max Drawdown", fmt.Sprintf("%.2f%%", benchmark.Strategy.MaxDrawdown*100), fmt.Sprintf("%.2f%%", benchmark.Benchmark.MaxDrawdown*100)},
	})
	bench.Render()

	if benchmark.Beta != nil {
		fmt.Printf("Beta: %.3f  Alpha: %.2f%%", *benchmark.Beta, *benchmark.Alpha*100)
		if benchmark.Correlation != nil {
			fmt.Printf("  Correlation: %.3f", *benchmark.Correlation)
		}
		fmt.Println()
	}
	fmt.Printf("Tracking Error: %.2f%%  Information Ratio: %.2f  Daily Win Rate: %.1f%%\n",
		benchmark.TrackingError*100, benchmark.InformationRatio, benchmark.DailyWinRate*100)
}
