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
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/penny-vault/pv-options/pipeline"
)

func init() {
	rootCmd.AddCommand(sweepCmd)

	sweepCmd.Flags().String("name", "sweep", "Run name used in reports")
	sweepCmd.Flags().String("start-date", "", "Simulation start date (YYYY-MM-DD)")
	sweepCmd.Flags().String("end-date", "", "Simulation end date (YYYY-MM-DD)")
	sweepCmd.Flags().StringSlice("symbols", nil, "Underlyings to trade")
	sweepCmd.Flags().Float64("initial-capital", 100_000, "Starting account value")
	sweepCmd.Flags().Float64("max-margin-utilization", 0.70, "Fraction of NLV usable as margin")
	sweepCmd.Flags().Int("max-positions", 10, "Maximum simultaneous positions")
	sweepCmd.Flags().String("price-mode", "close", "Mark prices at open, close, or mid")
	sweepCmd.Flags().StringArray("param", nil, "Sweep parameter as name=v1,v2,v3 (repeatable)")
	sweepCmd.Flags().Int("workers", 0, "Worker pool size (0 = GOMAXPROCS)")
}

var sweepCmd = &cobra.Command{
	Use:   "sweep [flags]",
	Short: "Run a parameter sweep over the Cartesian product of settings",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := configFromFlags(cmd)

		specs, _ := cmd.Flags().GetStringArray("param")
		if len(specs) == 0 {
			log.Fatal().Msg("at least one --param is required")
		}

		sweep := pipeline.NewParameterSweep(cfg)
		for _, spec := range specs {
			name, values, err := parseParamSpec(spec)
			if err != nil {
				log.Fatal().Err(err).Str("Param", spec).Msg("bad sweep parameter")
			}
			sweep.AddParam(name, values)
		}

		workers, _ := cmd.Flags().GetInt("workers")
		runner := pipeline.NewRunner(openStore(), workers)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		result, err := sweep.Run(ctx, runner, pipeline.Options{SkipDataCheck: true})
		if err != nil {
			log.Fatal().Err(err).Msg("sweep failed")
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Params", "Total Return", "Sharpe", "Sortino", "Calmar", "Max DD", "Error"})
		table.SetBorder(false)
		for _, run := range result.Runs {
			row := []string{paramString(run.Params), "", "", "", "", "", run.Error}
			if run.Result != nil && run.Result.Metrics != nil {
				m := run.Result.Metrics
				row[1] = fmt.Sprintf("%.2f%%", m.TotalReturnPct*100)
				row[2] = fmt.Sprintf("%.2f", m.SharpeRatio)
				row[3] = fmt.Sprintf("%.2f", m.SortinoRatio)
				row[4] = fmt.Sprintf("%.2f", m.CalmarRatio)
				row[5] = fmt.Sprintf("%.2f%%", m.MaxDrawdown*100)
			}
			table.Append(row)
		}
		table.Render()

		if result.BestBySharpe != nil {
			fmt.Printf("\nBest by Sharpe: %s (%.2f)\n", paramString(result.BestBySharpe.Params),
				result.BestBySharpe.Result.Metrics.SharpeRatio)
		}
		if result.BestByTotalReturn != nil {
			fmt.Printf("Best by Total Return: %s (%.2f%%)\n", paramString(result.BestByTotalReturn.Params),
				result.BestByTotalReturn.Result.Metrics.TotalReturnPct*100)
		}
	},
}

func parseParamSpec(spec string) (string, []float64, error) {
	name, list, found := strings.Cut(spec, "=")
	if !found || name == "" {
		return "", nil, fmt.Errorf("expected name=v1,v2,...")
	}

	var values []float64
	for _, item := range strings.Split(list, ",") {
		value, err := strconv.ParseFloat(strings.TrimSpace(item), 64)
		if err != nil {
			return "", nil, fmt.Errorf("bad value %q: %w", item, err)
		}
		values = append(values, value)
	}
	if len(values) == 0 {
		return "", nil, fmt.Errorf("no values for %q", name)
	}
	return name, values, nil
}

func paramString(params map[string]float64) string {
	parts := make([]string, 0, len(params))
	for _, key := range sortedKeys(params) {
		parts = append(parts, fmt.Sprintf("%s=%g", key, params[key]))
	}
	return strings.Join(parts, " ")
}

func sortedKeys(params map[string]float64) []string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
