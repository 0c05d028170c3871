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

package sim

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/penny-vault/pv-options/common"
	"github.com/penny-vault/pv-options/data"
)

var (
	ErrInvalidConfig    = errors.New("invalid backtest configuration")
	ErrUnknownOverride  = errors.New("unknown override key")
	ErrInvalidDateRange = errors.New("start date must not be after end date")
	ErrInvalidCapital   = errors.New("initial capital must be positive")
	ErrInvalidMarginCap = errors.New("max margin utilization must be in (0, 1]")
	ErrNegativeFees     = errors.New("commission rates must be non-negative")
	ErrNoSymbols        = errors.New("at least one symbol is required")
	ErrInvalidPriceMode = errors.New("price mode must be open, close, or mid")
)

// CommissionConfig is the fee schedule applied by the trade simulator.
// Defaults follow IBKR tiered pricing.
type CommissionConfig struct {
	OptionPerContract float64 `json:"option_per_contract" mapstructure:"option_per_contract"`
	OptionMinPerOrder float64 `json:"option_min_per_order" mapstructure:"option_min_per_order"`
	StockPerShare     float64 `json:"stock_per_share" mapstructure:"stock_per_share"`
	StockMinPerOrder  float64 `json:"stock_min_per_order" mapstructure:"stock_min_per_order"`
}

// DefaultCommission returns the IBKR tiered schedule.
func DefaultCommission() CommissionConfig {
	return CommissionConfig{
		OptionPerContract: 0.65,
		OptionMinPerOrder: 1.00,
		StockPerShare:     0.005,
		StockMinPerOrder:  1.00,
	}
}

// Config describes a single backtest run.
type Config struct {
	Name        string `json:"name" mapstructure:"name"`
	Description string `json:"description" mapstructure:"description"`

	StartDate time.Time `json:"start_date" mapstructure:"start_date"`
	EndDate   time.Time `json:"end_date" mapstructure:"end_date"`

	Symbols []string `json:"symbols" mapstructure:"symbols"`
	Market  string   `json:"market" mapstructure:"market"`

	InitialCapital       float64 `json:"initial_capital" mapstructure:"initial_capital"`
	MaxMarginUtilization float64 `json:"max_margin_utilization" mapstructure:"max_margin_utilization"`
	MaxPositionPct       float64 `json:"max_position_pct" mapstructure:"max_position_pct"`
	MaxPositions         int     `json:"max_positions" mapstructure:"max_positions"`

	Commission CommissionConfig `json:"commission" mapstructure:"commission"`

	DataDir   string         `json:"data_dir" mapstructure:"data_dir"`
	PriceMode data.PriceMode `json:"price_mode" mapstructure:"price_mode"`

	StrategyTypes []string `json:"strategy_types" mapstructure:"strategy_types"`

	RiskOverrides       map[string]float64 `json:"risk_overrides" mapstructure:"risk_overrides"`
	ScreeningOverrides  map[string]float64 `json:"screening_overrides" mapstructure:"screening_overrides"`
	MonitoringOverrides map[string]float64 `json:"monitoring_overrides" mapstructure:"monitoring_overrides"`

	// StrictData aborts the run on hard data absence instead of carrying
	// stale marks forward.
	StrictData bool `json:"strict_data" mapstructure:"strict_data"`
}

// knownOverrideKeys is the declared set of accepted override keys. Anything
// else fails validation rather than being silently ignored.
var knownOverrideKeys = map[string]bool{
	"min_dte":              true,
	"max_dte":              true,
	"min_strike_pct":       true,
	"max_strike_pct":       true,
	"min_delta":            true,
	"max_delta":            true,
	"min_premium":          true,
	"min_volume":           true,
	"min_open_interest":    true,
	"min_iv_rank":          true,
	"max_iv_rank":          true,
	"profit_target_pct":    true,
	"stop_loss_pct":        true,
	"stop_loss_delta":      true,
	"time_exit_dte":        true,
	"max_contracts":        true,
	"max_positions":        true,
	"max_position_pct":     true,
	"macro_blackout_days":  true,
	"min_annualized_yield": true,
}

// NewConfig returns a config with sensible defaults; caller fills in dates
// and symbols.
func NewConfig() *Config {
	return &Config{
		Name:                 "backtest",
		Market:               "US",
		InitialCapital:       100_000,
		MaxMarginUtilization: 0.70,
		MaxPositionPct:       0.25,
		MaxPositions:         10,
		Commission:           DefaultCommission(),
		PriceMode:            data.PriceModeClose,
		StrategyTypes:        []string{"short_put"},
	}
}

// Validate checks the configuration; errors are fatal to the run.
func (cfg *Config) Validate() error {
	if cfg.StartDate.After(cfg.EndDate) {
		return fmt.Errorf("%w: %s > %s", ErrInvalidDateRange,
			cfg.StartDate.Format(common.DateFormat), cfg.EndDate.Format(common.DateFormat))
	}
	if cfg.InitialCapital <= 0 {
		return ErrInvalidCapital
	}
	if cfg.MaxMarginUtilization <= 0 || cfg.MaxMarginUtilization > 1 {
		return ErrInvalidMarginCap
	}
	if cfg.Commission.OptionPerContract < 0 || cfg.Commission.OptionMinPerOrder < 0 ||
		cfg.Commission.StockPerShare < 0 || cfg.Commission.StockMinPerOrder < 0 {
		return ErrNegativeFees
	}
	if len(cfg.Symbols) == 0 {
		return ErrNoSymbols
	}
	switch cfg.PriceMode {
	case data.PriceModeOpen, data.PriceModeClose, data.PriceModeMid:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPriceMode, cfg.PriceMode)
	}

	for _, overrides := range []map[string]float64{cfg.RiskOverrides, cfg.ScreeningOverrides, cfg.MonitoringOverrides} {
		for key := range overrides {
			if !knownOverrideKeys[strings.ToLower(key)] {
				return fmt.Errorf("%w: %q", ErrUnknownOverride, key)
			}
		}
	}
	return nil
}

// Clone deep-copies the config so parameter sweeps can mutate overrides
// independently.
func (cfg *Config) Clone() *Config {
	clone := *cfg
	clone.Symbols = append([]string(nil), cfg.Symbols...)
	clone.StrategyTypes = append([]string(nil), cfg.StrategyTypes...)
	clone.RiskOverrides = cloneOverrides(cfg.RiskOverrides)
	clone.ScreeningOverrides = cloneOverrides(cfg.ScreeningOverrides)
	clone.MonitoringOverrides = cloneOverrides(cfg.MonitoringOverrides)
	return &clone
}

func cloneOverrides(overrides map[string]float64) map[string]float64 {
	if overrides == nil {
		return nil
	}
	clone := make(map[string]float64, len(overrides))
	for key, value := range overrides {
		clone[key] = value
	}
	return clone
}
