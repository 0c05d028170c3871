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
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/penny-vault/pv-options/data"
	"github.com/penny-vault/pv-options/pipeline"
	"github.com/penny-vault/pv-options/sim"
)

func init() {
	rootCmd.AddCommand(backtestCmd)

	backtestCmd.Flags().String("name", "backtest", "Run name used in reports")
	backtestCmd.Flags().String("start-date", "", "Simulation start date (YYYY-MM-DD)")
	backtestCmd.Flags().String("end-date", "", "Simulation end date (YYYY-MM-DD)")
	backtestCmd.Flags().StringSlice("symbols", nil, "Underlyings to trade")
	backtestCmd.Flags().Float64("initial-capital", 100_000, "Starting account value")
	backtestCmd.Flags().Float64("max-margin-utilization", 0.70, "Fraction of NLV usable as margin")
	backtestCmd.Flags().Int("max-positions", 10, "Maximum simultaneous positions")
	backtestCmd.Flags().String("price-mode", "close", "Mark prices at open, close, or mid")
	backtestCmd.Flags().Bool("skip-data-check", false, "Skip gap detection and download before the run")
	backtestCmd.Flags().Bool("strict-data", false, "Abort when the data check leaves unresolved gaps")
	backtestCmd.Flags().Bool("report", false, "Render equity and drawdown charts plus a JSON summary")
	backtestCmd.Flags().String("report-dir", "reports", "Directory for rendered reports")
	backtestCmd.Flags().Float64("risk-free-rate", 0, "Annual risk-free rate for Sharpe/Sortino")

	viper.BindPFlag("backtest.report_dir", backtestCmd.Flags().Lookup("report-dir"))
}

var backtestCmd = &cobra.Command{
	Use:   "backtest [flags]",
	Short: "Run an options strategy backtest",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := configFromFlags(cmd)

		skipData, _ := cmd.Flags().GetBool("skip-data-check")
		strictData, _ := cmd.Flags().GetBool("strict-data")
		report, _ := cmd.Flags().GetBool("report")
		reportDir, _ := cmd.Flags().GetString("report-dir")
		riskFree, _ := cmd.Flags().GetFloat64("risk-free-rate")

		store := openStore()
		vendors := buildVendors()
		pipe := pipeline.New(store, &vendors)
		if report {
			pipe.SetReportSink(&pipeline.ChartReportSink{})
		}

		result, err := pipe.Run(context.Background(), cfg, pipeline.Options{
			SkipDataCheck:  skipData,
			StrictData:     strictData,
			GenerateReport: report,
			ReportDir:      reportDir,
			RiskFreeRate:   riskFree,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("backtest failed")
		}

		if result.DataStatus != nil {
			fmt.Printf("Data check: %d gaps found, %d filled\n",
				result.DataStatus.GapsFound, result.DataStatus.GapsFilled)
			for _, msg := range result.DataStatus.Errors {
				log.Warn().Str("Error", msg).Msg("data check issue")
			}
		}

		printMetricsTable(result.Metrics, result.Benchmark)
		if result.ReportPath != "" {
			fmt.Printf("\nReport written to %s\n", result.ReportPath)
		}
	},
}

func configFromFlags(cmd *cobra.Command) *sim.Config {
	cfg := sim.NewConfig()

	cfg.Name, _ = cmd.Flags().GetString("name")
	start, _ := cmd.Flags().GetString("start-date")
	end, _ := cmd.Flags().GetString("end-date")
	cfg.StartDate = mustParseDate(start, "start-date")
	cfg.EndDate = mustParseDate(end, "end-date")
	cfg.Symbols, _ = cmd.Flags().GetStringSlice("symbols")
	cfg.InitialCapital, _ = cmd.Flags().GetFloat64("initial-capital")
	cfg.MaxMarginUtilization, _ = cmd.Flags().GetFloat64("max-margin-utilization")
	cfg.MaxPositions, _ = cmd.Flags().GetInt("max-positions")
	cfg.DataDir = viper.GetString("data.dir")

	mode, _ := cmd.Flags().GetString("price-mode")
	cfg.PriceMode = data.PriceMode(mode)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	return cfg
}
