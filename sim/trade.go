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
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/penny-vault/pv-options/data"
)

// DefaultLotSize is the standard US equity option contract multiplier.
const DefaultLotSize = 100

// TradeSide distinguishes buys from sells; derived from quantity sign.
type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

// TradeStatus marks whether an execution was applied to the account.
type TradeStatus string

const (
	StatusFilled   TradeStatus = "filled"
	StatusRejected TradeStatus = "rejected"
)

// TradeAction is the high-level action behind an execution.
type TradeAction string

const (
	ActionOpen   TradeAction = "open"
	ActionClose  TradeAction = "close"
	ActionExpire TradeAction = "expire"
)

// CloseReasonType is the structured close reason inferred from the
// free-text reason string.
type CloseReasonType string

const (
	CloseProfitTarget     CloseReasonType = "PROFIT_TARGET"
	CloseStopLossDelta    CloseReasonType = "STOP_LOSS_DELTA"
	CloseStopLossOTM      CloseReasonType = "STOP_LOSS_OTM"
	CloseStopLoss         CloseReasonType = "STOP_LOSS"
	CloseTimeExit         CloseReasonType = "TIME_EXIT"
	CloseRoll             CloseReasonType = "ROLL"
	CloseManual           CloseReasonType = "MANUAL_CLOSE"
	CloseExpiredITM       CloseReasonType = "EXPIRED_ITM"
	CloseExpiredWorthless CloseReasonType = "EXPIRED_WORTHLESS"
	CloseUnknown          CloseReasonType = "UNKNOWN"
)

// InferCloseReason maps a free-text close reason to its structured type.
// Matching is ordered: more specific stop-loss variants win over the
// generic one.
func InferCloseReason(reason string) CloseReasonType {
	reason = strings.ToLower(reason)
	switch {
	case strings.Contains(reason, "profit"):
		return CloseProfitTarget
	case strings.Contains(reason, "delta"):
		return CloseStopLossDelta
	case strings.Contains(reason, "otm"):
		return CloseStopLossOTM
	case strings.Contains(reason, "stop") || strings.Contains(reason, "loss"):
		return CloseStopLoss
	case strings.Contains(reason, "dte") || strings.Contains(reason, "time"):
		return CloseTimeExit
	case strings.Contains(reason, "roll"):
		return CloseRoll
	case strings.Contains(reason, "close"):
		return CloseManual
	default:
		return CloseUnknown
	}
}

// TradeExecution is the fill-level record of a simulated trade.
//
// Sign convention: grossAmount = -quantity * fillPrice * lotSize, so
// selling (negative quantity) yields positive gross (premium received) and
// buying yields negative gross. NetAmount is the cash delta applied to the
// account.
type TradeExecution struct {
	ExecutionID string          `json:"execution_id"`
	TradeDate   time.Time       `json:"trade_date"`
	Symbol      string          `json:"symbol"`
	Underlying  string          `json:"underlying"`
	OptionType  data.OptionType `json:"option_type"`
	Strike      float64         `json:"strike"`
	Expiration  time.Time       `json:"expiration"`
	Side        TradeSide       `json:"side"`
	Quantity    int             `json:"quantity"`
	OrderPrice  float64         `json:"order_price"`
	FillPrice   float64         `json:"fill_price"`
	Slippage    float64         `json:"slippage"`
	Commission  float64         `json:"commission"`
	GrossAmount float64         `json:"gross_amount"`
	NetAmount   float64         `json:"net_amount"`
	Status      TradeStatus     `json:"status"`
	LotSize     int             `json:"lot_size"`
	Reason      string          `json:"reason"`
}

// TradeRecord is the audit-log entry paired with an execution.
type TradeRecord struct {
	Execution       *TradeExecution `json:"execution"`
	Action          TradeAction     `json:"action"`
	CloseReasonType CloseReasonType `json:"close_reason_type,omitempty"`
	PositionID      int             `json:"position_id,omitempty"`
	PnL             *float64        `json:"pnl,omitempty"`
}

// TradeSimulator prices fills with a tiered slippage model and an IBKR
// style commission schedule.
type TradeSimulator struct {
	commission CommissionConfig
}

// NewTradeSimulator creates a simulator with the given fee schedule.
func NewTradeSimulator(commission CommissionConfig) *TradeSimulator {
	return &TradeSimulator{commission: commission}
}

// slippagePct returns the slippage percentage for a reference price tier:
// cheap options trade on wide spreads, liquid mid-priced options are near
// frictionless.
func slippagePct(mid float64) float64 {
	switch {
	case mid < 0.50:
		return 0.05
	case mid <= 5.00:
		return 0.001
	default:
		return 0.002
	}
}

// fill computes the fill price after slippage. Buys pay up, sells receive
// less; never below zero.
func fill(mid float64, quantity int) (fillPrice, slippage float64) {
	slippage = mid * slippagePct(mid)
	if quantity > 0 {
		fillPrice = mid + slippage
	} else {
		fillPrice = mid - slippage
	}
	if fillPrice < 0 {
		fillPrice = 0
	}
	return
}

// OptionCommission is max(minPerOrder, contracts x perContract).
func (sim *TradeSimulator) OptionCommission(contracts int) float64 {
	return math.Max(sim.commission.OptionMinPerOrder,
		float64(contracts)*sim.commission.OptionPerContract)
}

// StockCommission is max(minPerOrder, shares x perShare); charged on the
// implied share leg of an ITM expiration.
func (sim *TradeSimulator) StockCommission(shares int) float64 {
	return math.Max(sim.commission.StockMinPerOrder,
		float64(shares)*sim.commission.StockPerShare)
}

func sideOf(quantity int) TradeSide {
	if quantity < 0 {
		return SideSell
	}
	return SideBuy
}

func (sim *TradeSimulator) execute(day time.Time, symbol, underlying string, optType data.OptionType,
	strike float64, expiration time.Time, quantity int, mid float64, reason string) *TradeExecution {
	fillPrice, slippage := fill(mid, quantity)
	commission := sim.OptionCommission(absInt(quantity))
	gross := -float64(quantity) * fillPrice * DefaultLotSize

	return &TradeExecution{
		ExecutionID: uuid.New().String(),
		TradeDate:   day,
		Symbol:      symbol,
		Underlying:  underlying,
		OptionType:  optType,
		Strike:      strike,
		Expiration:  expiration,
		Side:        sideOf(quantity),
		Quantity:    quantity,
		OrderPrice:  mid,
		FillPrice:   fillPrice,
		Slippage:    slippage,
		Commission:  commission,
		GrossAmount: gross,
		NetAmount:   gross - commission,
		Status:      StatusFilled,
		LotSize:     DefaultLotSize,
		Reason:      reason,
	}
}

// ExecuteOpen fills an opening order at the reference mid plus slippage.
func (sim *TradeSimulator) ExecuteOpen(day time.Time, symbol, underlying string, optType data.OptionType,
	strike float64, expiration time.Time, quantity int, mid float64, reason string) (*TradeExecution, *TradeRecord) {
	exec := sim.execute(day, symbol, underlying, optType, strike, expiration, quantity, mid, reason)
	record := &TradeRecord{Execution: exec, Action: ActionOpen}

	log.Debug().Str("Symbol", symbol).Int("Quantity", quantity).
		Float64("Fill", exec.FillPrice).Float64("Net", exec.NetAmount).Msg("open executed")
	return exec, record
}

// ExecuteClose fills a closing order; quantity is the negation of the
// position's quantity.
func (sim *TradeSimulator) ExecuteClose(day time.Time, symbol, underlying string, optType data.OptionType,
	strike float64, expiration time.Time, quantity int, mid float64, reason string) (*TradeExecution, *TradeRecord) {
	exec := sim.execute(day, symbol, underlying, optType, strike, expiration, quantity, mid, reason)
	record := &TradeRecord{
		Execution:       exec,
		Action:          ActionClose,
		CloseReasonType: InferCloseReason(reason),
	}

	log.Debug().Str("Symbol", symbol).Int("Quantity", quantity).
		Float64("Fill", exec.FillPrice).Str("Reason", string(record.CloseReasonType)).Msg("close executed")
	return exec, record
}

// ExecuteExpire settles an expiring position at intrinsic value. There is
// no slippage and no option commission; an in-the-money expiration charges
// the stock commission for the implied share leg.
func (sim *TradeSimulator) ExecuteExpire(day time.Time, symbol, underlying string, optType data.OptionType,
	strike float64, expiration time.Time, quantity int, underlyingPrice float64) (*TradeExecution, *TradeRecord) {
	intrinsic := IntrinsicValue(optType, strike, underlyingPrice)
	itm := intrinsic > 0

	commission := 0.0
	reason := "expired worthless"
	reasonType := CloseExpiredWorthless
	if itm {
		commission = sim.StockCommission(absInt(quantity) * DefaultLotSize)
		reason = "expired in the money - assigned"
		reasonType = CloseExpiredITM
	}

	// settle the position: closing trade is the negation of the held quantity
	closeQty := -quantity
	gross := -float64(closeQty) * intrinsic * DefaultLotSize

	exec := &TradeExecution{
		ExecutionID: uuid.New().String(),
		TradeDate:   day,
		Symbol:      symbol,
		Underlying:  underlying,
		OptionType:  optType,
		Strike:      strike,
		Expiration:  expiration,
		Side:        sideOf(closeQty),
		Quantity:    closeQty,
		OrderPrice:  intrinsic,
		FillPrice:   intrinsic,
		Commission:  commission,
		GrossAmount: gross,
		NetAmount:   gross - commission,
		Status:      StatusFilled,
		LotSize:     DefaultLotSize,
		Reason:      reason,
	}
	record := &TradeRecord{
		Execution:       exec,
		Action:          ActionExpire,
		CloseReasonType: reasonType,
	}

	log.Debug().Str("Symbol", symbol).Bool("ITM", itm).
		Float64("Intrinsic", intrinsic).Msg("expiration settled")
	return exec, record
}

// IntrinsicValue is the option's exercise value at the given underlying
// price.
func IntrinsicValue(optType data.OptionType, strike, underlyingPrice float64) float64 {
	if optType == data.OptionTypeCall {
		return math.Max(0, underlyingPrice-strike)
	}
	return math.Max(0, strike-underlyingPrice)
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
