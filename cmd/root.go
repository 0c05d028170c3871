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

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/penny-vault/pv-options/common"
)

func init() {
	// data directory
	viper.BindEnv("data.dir", "PVOPT_DATA_DIR")
	rootCmd.PersistentFlags().String("data-dir", "data", "Directory holding the parquet datasets")
	viper.BindPFlag("data.dir", rootCmd.PersistentFlags().Lookup("data-dir"))

	// vendor credentials and tuning
	viper.BindEnv("tiingo.token", "TIINGO_TOKEN")
	rootCmd.PersistentFlags().String("tiingo-token", "", "Tiingo API token")
	viper.BindPFlag("tiingo.token", rootCmd.PersistentFlags().Lookup("tiingo-token"))

	viper.BindEnv("thetadata.max_dte", "THETADATA_MAX_DTE")
	rootCmd.PersistentFlags().Int("thetadata-max-dte", 120, "Drop option contracts with more days to expiration")
	viper.BindPFlag("thetadata.max_dte", rootCmd.PersistentFlags().Lookup("thetadata-max-dte"))

	viper.BindEnv("thetadata.strike_range", "THETADATA_STRIKE_RANGE")
	rootCmd.PersistentFlags().Int("thetadata-strike-range", 30, "Keep only N strikes each side of at-the-money")
	viper.BindPFlag("thetadata.strike_range", rootCmd.PersistentFlags().Lookup("thetadata-strike-range"))

	// logging configuration
	viper.BindEnv("log.level", "PVOPT_LOG_LEVEL")
	rootCmd.PersistentFlags().String("log-level", "warning", "Logging level")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	viper.BindEnv("log.report_caller", "PVOPT_LOG_REPORT_CALLER")
	rootCmd.PersistentFlags().Bool("log-report-caller", false, "Log function name that called log statement")
	viper.BindPFlag("log.report_caller", rootCmd.PersistentFlags().Lookup("log-report-caller"))

	viper.BindEnv("log.output", "PVOPT_LOG_OUTPUT")
	rootCmd.PersistentFlags().String("log-output", "stdout", "Write logs to specified output one of: file path, `stdout`, or `stderr`")
	viper.BindPFlag("log.output", rootCmd.PersistentFlags().Lookup("log-output"))

	viper.BindEnv("log.pretty", "PVOPT_LOG_PRETTY")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "Print logs in human readable form")
	viper.BindPFlag("log.pretty", rootCmd.PersistentFlags().Lookup("log-pretty"))
}

var rootCmd = &cobra.Command{
	Use:     "pvopt",
	Version: common.CurrentVersion.String(),
	Short:   "Penny Vault options is an options strategy backtesting engine",
	Long:    `Backtest options strategies against end-of-day option chains with greeks, with incremental vendor downloads and walk-forward analysis.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		common.SetupLogging()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
