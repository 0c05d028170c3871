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

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/penny-vault/pv-options/common"
	"github.com/penny-vault/pv-options/data"
)

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().String("start-date", "", "First date to cover (YYYY-MM-DD)")
	downloadCmd.Flags().String("end-date", "", "Last date to cover (YYYY-MM-DD)")
	downloadCmd.Flags().StringSlice("symbols", nil, "Symbols to download")
	downloadCmd.Flags().StringSlice("types", []string{"stock", "option", "beta"}, "Data types: stock, option, macro, fundamental, beta")
	downloadCmd.Flags().StringSlice("indicators", []string{"^VIX"}, "Macro indicators (with --types macro)")
	downloadCmd.Flags().Int("parallel", 4, "Concurrent gap downloads")
}

var downloadCmd = &cobra.Command{
	Use:   "download [flags]",
	Short: "Detect and fill data gaps from the configured vendors",
	Run: func(cmd *cobra.Command, args []string) {
		start, _ := cmd.Flags().GetString("start-date")
		end, _ := cmd.Flags().GetString("end-date")
		startDate := mustParseDate(start, "start-date")
		endDate := mustParseDate(end, "end-date")
		symbols, _ := cmd.Flags().GetStringSlice("symbols")
		types, _ := cmd.Flags().GetStringSlice("types")
		indicators, _ := cmd.Flags().GetStringSlice("indicators")
		parallel, _ := cmd.Flags().GetInt("parallel")

		common.ArrToUpper(symbols)

		store := openStore()
		ledger, err := data.LoadProgressLedger(store.ProgressPath())
		if err != nil {
			log.Fatal().Err(err).Msg("could not load progress ledger")
		}

		detector := data.NewGapDetector(store, ledger)
		var gaps []data.DataGap
		for _, kind := range types {
			switch kind {
			case "stock":
				gaps = append(gaps, detector.Detect(data.DataTypeStock, symbols, startDate, endDate)...)
			case "option":
				gaps = append(gaps, detector.Detect(data.DataTypeOption, symbols, startDate, endDate)...)
			case "beta":
				gaps = append(gaps, detector.Detect(data.DataTypeBeta, symbols, startDate, endDate)...)
			case "fundamental":
				gaps = append(gaps, detector.Detect(data.DataTypeFundamentalEPS, symbols, startDate, endDate)...)
			case "macro":
				gaps = append(gaps, detector.DetectMacro(indicators, startDate, endDate)...)
			default:
				log.Fatal().Str("Type", kind).Msg("unknown data type")
			}
		}

		if len(gaps) == 0 {
			fmt.Println("All datasets up to date; nothing to download.")
			return
		}

		for _, gap := range gaps {
			fmt.Printf("%-12s %-8s %s .. %s (%s)\n", gap.DataType, gap.Symbol,
				gap.MissingStart.Format(common.DateFormat), gap.MissingEnd.Format(common.DateFormat), gap.Reason)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		downloader := data.NewDownloader(store, ledger, buildVendors())
		errs := downloader.FillGaps(ctx, gaps, parallel)
		for _, err := range errs {
			log.Error().Err(err).Msg("gap fill failed")
		}
		fmt.Printf("Filled %d of %d gaps.\n", len(gaps)-len(errs), len(gaps))
	},
}
