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
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/penny-vault/pv-options/common"
	"github.com/penny-vault/pv-options/data"
)

// BacktestResult is the full output of one executor run.
type BacktestResult struct {
	Config       *Config          `json:"config"`
	StartDate    time.Time        `json:"start_date"`
	EndDate      time.Time        `json:"end_date"`
	TradingDays  int              `json:"trading_days"`
	Snapshots    []EquitySnapshot `json:"snapshots"`
	TradeRecords []*TradeRecord   `json:"trade_records"`
	FinalNLV     float64          `json:"final_nlv"`
	DataErrors   []string         `json:"data_errors,omitempty"`
	Elapsed      time.Duration    `json:"elapsed"`
}

// Executor drives the day-by-day simulation. The loop is strictly
// single-threaded; within a day the order is fixed: revalue, expire,
// monitor, screen, decide, execute, snapshot.
type Executor struct {
	cfg      *Config
	provider *data.Provider
	tradeSim *TradeSimulator
	account  *Account
	posMgr   *PositionManager

	screening  ScreeningPipeline
	monitoring MonitoringPipeline
	decisions  DecisionEngine

	records    []*TradeRecord
	dataErrors []string

	// per-day counters, reset each morning
	opened, closed, expired int
}

// NewExecutor wires the simulation components. Screening, monitoring, and
// decision collaborators are optional; without them the run produces a
// pure mark-to-market series.
func NewExecutor(cfg *Config, provider *data.Provider) *Executor {
	return &Executor{
		cfg:      cfg,
		provider: provider,
		tradeSim: NewTradeSimulator(cfg.Commission),
		account:  NewAccount(cfg.InitialCapital, cfg.MaxMarginUtilization),
		posMgr:   NewPositionManager(provider, cfg.PriceMode),
	}
}

// SetCollaborators attaches the optional strategy collaborators.
func (ex *Executor) SetCollaborators(screening ScreeningPipeline, monitoring MonitoringPipeline, decisions DecisionEngine) {
	ex.screening = screening
	ex.monitoring = monitoring
	ex.decisions = decisions
}

// Account exposes the simulated account, mainly for tests and reporting.
func (ex *Executor) Account() *Account {
	return ex.account
}

// Run executes the simulation over the configured date range.
func (ex *Executor) Run() (*BacktestResult, error) {
	if err := ex.cfg.Validate(); err != nil {
		return nil, err
	}

	started := time.Now()
	days := ex.provider.TradingDays(ex.cfg.StartDate, ex.cfg.EndDate, "")
	result := &BacktestResult{
		Config:    ex.cfg,
		StartDate: common.Midnight(ex.cfg.StartDate),
		EndDate:   common.Midnight(ex.cfg.EndDate),
	}
	if len(days) == 0 {
		log.Warn().Str("Start", ex.cfg.StartDate.Format(common.DateFormat)).
			Str("End", ex.cfg.EndDate.Format(common.DateFormat)).Msg("no trading days in range")
		result.FinalNLV = ex.cfg.InitialCapital
		result.Elapsed = time.Since(started)
		return result, nil
	}

	for _, day := range days {
		if err := ex.runDay(day); err != nil {
			return nil, err
		}
	}

	result.TradingDays = len(days)
	result.Snapshots = ex.account.Snapshots()
	result.TradeRecords = ex.records
	result.FinalNLV = ex.account.NLV()
	result.DataErrors = ex.dataErrors
	result.Elapsed = time.Since(started)

	log.Info().Int("Days", len(days)).Int("Trades", len(ex.records)).
		Float64("FinalNLV", result.FinalNLV).Dur("Elapsed", result.Elapsed).Msg("backtest complete")
	return result, nil
}

func (ex *Executor) runDay(day time.Time) error {
	prevNLV := ex.account.NLV()
	ex.opened, ex.closed, ex.expired = 0, 0, 0

	ex.provider.SetAsOf(day)
	ex.posMgr.SetDate(day)

	if err := ex.revalue(day); err != nil {
		return err
	}
	ex.processExpirations(day)

	suggestions := ex.runMonitoring(day)
	screen := ex.runScreening(day)
	decisions := ex.runDecisions(screen, suggestions)
	ex.executeDecisions(day, decisions)

	ex.account.TakeSnapshot(day, ex.account.NLV()-prevNLV, ex.opened, ex.closed, ex.expired)
	return nil
}

// revalue marks every live position to the day. A missing underlying quote
// is recorded and the position's marks go stale for the day; with
// StrictData set the run aborts instead.
func (ex *Executor) revalue(day time.Time) error {
	for _, pos := range ex.account.Positions() {
		if err := ex.posMgr.Revalue(pos); err != nil {
			if ex.cfg.StrictData {
				return err
			}
			ex.dataErrors = append(ex.dataErrors,
				fmt.Sprintf("%s: %s", day.Format(common.DateFormat), err))
			log.Warn().Err(err).Str("Symbol", pos.Symbol).Msg("revaluation failed; marks stale")
		}
	}
	return nil
}

// processExpirations settles every position expiring today at intrinsic
// value.
func (ex *Executor) processExpirations(day time.Time) {
	for _, pos := range ex.account.Positions() {
		if !common.DateEqual(pos.Expiration, day) {
			continue
		}

		exec, record := ex.tradeSim.ExecuteExpire(day, pos.Symbol, pos.Underlying,
			pos.OptionType, pos.Strike, pos.Expiration, pos.Quantity, pos.UnderlyingPrice)
		realized := ex.posMgr.ClosePnL(pos, exec.FillPrice, exec.Commission)

		record.PositionID = pos.PositionID
		record.PnL = &realized
		ex.records = append(ex.records, record)

		ex.account.RemovePosition(pos.PositionID, exec.NetAmount, realized)
		ex.posMgr.FinalizeClose(pos, day, exec.FillPrice, record.CloseReasonType, realized, exec.Commission)
		ex.expired++
	}
}

func (ex *Executor) runMonitoring(day time.Time) []PositionSuggestion {
	if ex.monitoring == nil || ex.account.PositionCount() == 0 {
		return nil
	}

	views := make([]PositionData, 0, ex.account.PositionCount())
	for _, pos := range ex.account.Positions() {
		views = append(views, ex.posMgr.MonitorView(pos))
	}

	result, err := ex.monitoring.Run(day, views, ex.account.NLV())
	if err != nil {
		log.Warn().Err(err).Msg("monitoring pipeline failed; positions held")
		return nil
	}

	var actionable []PositionSuggestion
	for _, suggestion := range result.Suggestions {
		if suggestion.Action.Actionable() {
			actionable = append(actionable, suggestion)
		}
	}
	return actionable
}

func (ex *Executor) runScreening(day time.Time) *ScreeningResult {
	if ex.screening == nil {
		return nil
	}
	if ex.account.PositionCount() >= ex.cfg.MaxPositions {
		return nil
	}
	if ex.account.State().MarginUtilization >= ex.cfg.MaxMarginUtilization {
		return nil
	}

	result, err := ex.screening.Run(day, ex.cfg.Symbols, ex.cfg.Market, ex.cfg.StrategyTypes, false)
	if err != nil {
		log.Warn().Err(err).Msg("screening pipeline failed; no new opportunities")
		return nil
	}
	return result
}

func (ex *Executor) runDecisions(screen *ScreeningResult, suggestions []PositionSuggestion) []TradingDecision {
	if ex.decisions == nil {
		return nil
	}

	decisions, err := ex.decisions.ProcessBatch(screen, ex.account.State(), suggestions)
	if err != nil {
		log.Warn().Err(err).Msg("decision engine failed; no trades today")
		return nil
	}
	return decisions
}

// executeDecisions applies the ordered decision list. Opens that fail the
// margin check are kept in the audit log with status rejected; rolls close
// the matched position and then open the replacement leg when present.
func (ex *Executor) executeDecisions(day time.Time, decisions []TradingDecision) {
	for ii := range decisions {
		decision := &decisions[ii]
		switch decision.DecisionType {
		case DecisionOpen:
			ex.executeOpen(day, decision)
		case DecisionClose:
			ex.executeClose(day, decision)
		case DecisionRoll:
			if ex.executeClose(day, decision) && decision.Roll != nil {
				ex.executeOpen(day, decision.Roll)
			}
		default:
			log.Warn().Str("Type", string(decision.DecisionType)).Msg("unknown decision type ignored")
		}
	}
}

func (ex *Executor) executeOpen(day time.Time, decision *TradingDecision) {
	symbol := data.ContractSymbol(decision.Underlying, decision.Expiry, decision.OptionType, decision.Strike)

	mid := decision.LimitPrice
	if quotes := ex.provider.OptionQuotesBatch([]string{symbol}, 0); len(quotes) == 1 {
		mid = ex.cfg.PriceMode.OptionPrice(&quotes[0])
	}
	if mid <= 0 {
		log.Warn().Str("Symbol", symbol).Msg("no price for open decision; skipped")
		return
	}

	spot := 0.0
	if quote := ex.provider.StockQuote(decision.Underlying); quote != nil {
		spot = ex.cfg.PriceMode.StockPrice(quote)
	}

	exec, record := ex.tradeSim.ExecuteOpen(day, symbol, decision.Underlying,
		decision.OptionType, decision.Strike, decision.Expiry, decision.Quantity, mid, decision.Reason)
	pos := ex.posMgr.CreatePosition(exec, spot)
	record.PositionID = pos.PositionID

	if !ex.account.AddPosition(pos, exec.NetAmount) {
		// keep the attempt in the audit log, no state mutation
		exec.Status = StatusRejected
		ex.records = append(ex.records, record)
		return
	}

	ex.records = append(ex.records, record)
	ex.opened++
}

// executeClose locates the live position matching the decision and closes
// it at the day's price. Match prefers (underlying, strike, expiry); falls
// back to underlying-in-symbol.
func (ex *Executor) executeClose(day time.Time, decision *TradingDecision) bool {
	pos := ex.matchPosition(decision)
	if pos == nil {
		log.Warn().Str("Underlying", decision.Underlying).Float64("Strike", decision.Strike).
			Msg("close decision matched no live position")
		return false
	}

	mid := pos.CurrentPrice
	if quotes := ex.provider.OptionQuotesBatch([]string{pos.Symbol}, 0); len(quotes) == 1 {
		mid = ex.cfg.PriceMode.OptionPrice(&quotes[0])
	}

	exec, record := ex.tradeSim.ExecuteClose(day, pos.Symbol, pos.Underlying,
		pos.OptionType, pos.Strike, pos.Expiration, -pos.Quantity, mid, decision.Reason)
	realized := ex.posMgr.ClosePnL(pos, exec.FillPrice, exec.Commission)

	record.PositionID = pos.PositionID
	record.PnL = &realized
	ex.records = append(ex.records, record)

	ex.account.RemovePosition(pos.PositionID, exec.NetAmount, realized)
	ex.posMgr.FinalizeClose(pos, day, exec.FillPrice, record.CloseReasonType, realized, exec.Commission)
	ex.closed++
	return true
}

func (ex *Executor) matchPosition(decision *TradingDecision) *SimulatedPosition {
	underlying := strings.ToUpper(decision.Underlying)
	for _, pos := range ex.account.Positions() {
		if pos.Underlying == underlying &&
			math.Abs(pos.Strike-decision.Strike) < 1e-9 &&
			(decision.Expiry.IsZero() || pos.Expiration.Equal(common.Midnight(decision.Expiry))) {
			return pos
		}
	}
	for _, pos := range ex.account.Positions() {
		if strings.Contains(pos.Symbol, underlying) {
			return pos
		}
	}
	return nil
}
