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
	"os"
	"os/signal"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/penny-vault/pv-options/common"
	"github.com/penny-vault/pv-options/pipeline"
)

func init() {
	rootCmd.AddCommand(walkforwardCmd)

	walkforwardCmd.Flags().String("name", "walkforward", "Run name used in reports")
	walkforwardCmd.Flags().String("start-date", "", "Analysis start date (YYYY-MM-DD)")
	walkforwardCmd.Flags().String("end-date", "", "Analysis end date (YYYY-MM-DD)")
	walkforwardCmd.Flags().StringSlice("symbols", nil, "Underlyings to trade")
	walkforwardCmd.Flags().Float64("initial-capital", 100_000, "Starting account value")
	walkforwardCmd.Flags().Float64("max-margin-utilization", 0.70, "Fraction of NLV usable as margin")
	walkforwardCmd.Flags().Int("max-positions", 10, "Maximum simultaneous positions")
	walkforwardCmd.Flags().String("price-mode", "close", "Mark prices at open, close, or mid")
	walkforwardCmd.Flags().Int("train-months", 12, "In-sample window length")
	walkforwardCmd.Flags().Int("test-months", 3, "Out-of-sample window length")
	walkforwardCmd.Flags().Int("splits", 0, "Number of splits (0 = as many as fit)")
	walkforwardCmd.Flags().Int("overlap-months", 0, "Overlap between consecutive windows")
	walkforwardCmd.Flags().Bool("expanding", false, "Grow the train window instead of rolling it")
	walkforwardCmd.Flags().Int("workers", 0, "Worker pool size (0 = GOMAXPROCS)")
}

var walkforwardCmd = &cobra.Command{
	Use:   "walkforward [flags]",
	Short: "Run walk-forward analysis and report the overfitting score",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := configFromFlags(cmd)

		trainMonths, _ := cmd.Flags().GetInt("train-months")
		testMonths, _ := cmd.Flags().GetInt("test-months")
		splits, _ := cmd.Flags().GetInt("splits")
		overlap, _ := cmd.Flags().GetInt("overlap-months")
		expanding, _ := cmd.Flags().GetBool("expanding")
		workers, _ := cmd.Flags().GetInt("workers")

		runner := pipeline.NewRunner(openStore(), workers)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		result, err := pipeline.WalkForward(ctx, runner, cfg, pipeline.WalkForwardConfig{
			TrainMonths:   trainMonths,
			TestMonths:    testMonths,
			NSplits:       splits,
			OverlapMonths: overlap,
			Expanding:     expanding,
		}, pipeline.Options{SkipDataCheck: true})
		if err != nil {
			log.Fatal().Err(err).Msg("walk-forward analysis failed")
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Train", "Test", "IS Return", "OOS Return", "Return Decay", "Sharpe Decay"})
		table.SetBorder(false)
		for _, split := range result.Splits {
			row := []string{
				fmt.Sprintf("%s..%s", split.Window.TrainStart.Format(common.DateFormat), split.Window.TrainEnd.Format(common.DateFormat)),
				fmt.Sprintf("%s..%s", split.Window.TestStart.Format(common.DateFormat), split.Window.TestEnd.Format(common.DateFormat)),
				"", "", "", "",
			}
			if split.Error != "" {
				row[2] = split.Error
			} else {
				row[2] = fmt.Sprintf("%.2f%%", split.InSample.Metrics.TotalReturnPct*100)
				row[3] = fmt.Sprintf("%.2f%%", split.OutOfSample.Metrics.TotalReturnPct*100)
				row[4] = fmt.Sprintf("%.2f", split.ReturnDecay)
				row[5] = fmt.Sprintf("%.2f", split.SharpeDecay)
			}
			table.Append(row)
		}
		table.Render()

		fmt.Printf("\nOOS positive: %.0f%%  Overfitting score: %.3f\n",
			result.OOSPositivePct*100, result.OverfittingScore)
	},
}
