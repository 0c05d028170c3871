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
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/penny-vault/pv-options/common"
	"github.com/penny-vault/pv-options/data"
)

// ErrDataNotFound signals a hard data absence: the underlying of a live
// position has no quote on the simulation day.
var ErrDataNotFound = errors.New("market data not found")

// StrategyType is the inferred shape of a position.
type StrategyType string

const (
	StrategyShortPut  StrategyType = "SHORT_PUT"
	StrategyNakedCall StrategyType = "NAKED_CALL"
	StrategyUnknown   StrategyType = "UNKNOWN"
)

// SimulatedPosition is a live (or closed) option position. Quantity is
// signed: positive long, negative short.
type SimulatedPosition struct {
	PositionID int             `json:"position_id"`
	Symbol     string          `json:"symbol"`
	Underlying string          `json:"underlying"`
	OptionType data.OptionType `json:"option_type"`
	Strike     float64         `json:"strike"`
	Expiration time.Time       `json:"expiration"`
	Quantity   int             `json:"quantity"`
	EntryPrice float64         `json:"entry_price"`
	EntryDate  time.Time       `json:"entry_date"`
	LotSize    int             `json:"lot_size"`

	CurrentPrice    float64 `json:"current_price"`
	UnderlyingPrice float64 `json:"underlying_price"`
	MarketValue     float64 `json:"market_value"`
	MarginRequired  float64 `json:"margin_required"`
	UnrealizedPnL   float64 `json:"unrealized_pnl"`
	CommissionPaid  float64 `json:"commission_paid"`

	IsClosed    bool            `json:"is_closed"`
	CloseDate   time.Time       `json:"close_date,omitempty"`
	ClosePrice  float64         `json:"close_price,omitempty"`
	CloseReason CloseReasonType `json:"close_reason,omitempty"`
	RealizedPnL float64         `json:"realized_pnl,omitempty"`

	// latest greeks from the option quote, unscaled
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
}

// IsShort reports whether the position is short.
func (pos *SimulatedPosition) IsShort() bool {
	return pos.Quantity < 0
}

// DTE is calendar days to expiration from the given date.
func (pos *SimulatedPosition) DTE(from time.Time) int {
	return common.DaysBetween(from, pos.Expiration)
}

// Moneyness is (S - K) / K, signed.
func (pos *SimulatedPosition) Moneyness() float64 {
	if pos.Strike == 0 {
		return 0
	}
	return (pos.UnderlyingPrice - pos.Strike) / pos.Strike
}

// OTMPct is how far out of the money the contract is, as a fraction of
// spot; negative when in the money.
func (pos *SimulatedPosition) OTMPct() float64 {
	if pos.UnderlyingPrice == 0 {
		return 0
	}
	if pos.OptionType == data.OptionTypePut {
		return (pos.UnderlyingPrice - pos.Strike) / pos.UnderlyingPrice
	}
	return (pos.Strike - pos.UnderlyingPrice) / pos.UnderlyingPrice
}

// StrategyType infers the position's shape from its direction and type.
func (pos *SimulatedPosition) StrategyType() StrategyType {
	if !pos.IsShort() {
		return StrategyUnknown
	}
	if pos.OptionType == data.OptionTypePut {
		return StrategyShortPut
	}
	return StrategyNakedCall
}

// regTMarginPerShare computes Reg-T maintenance margin per share for a
// short contract.
//
//	short put:  premium + max(0.20*S - max(0, S-K), 0.10*K)
//	short call: premium + max(0.20*S - max(0, K-S), 0.10*S)
func regTMarginPerShare(optType data.OptionType, premium, spot, strike float64) float64 {
	if optType == data.OptionTypePut {
		return premium + math.Max(0.20*spot-math.Max(0, spot-strike), 0.10*strike)
	}
	return premium + math.Max(0.20*spot-math.Max(0, strike-spot), 0.10*spot)
}

// updateMarketValue refreshes marks from the latest option and underlying
// prices. Long positions carry no margin.
func (pos *SimulatedPosition) updateMarketValue(optionPrice, underlyingPrice float64) {
	pos.CurrentPrice = optionPrice
	pos.UnderlyingPrice = underlyingPrice
	pos.MarketValue = float64(pos.Quantity) * optionPrice * float64(pos.LotSize)
	pos.UnrealizedPnL = (optionPrice - pos.EntryPrice) * float64(pos.Quantity) * float64(pos.LotSize)

	if pos.IsShort() {
		perShare := regTMarginPerShare(pos.OptionType, optionPrice, underlyingPrice, pos.Strike)
		pos.MarginRequired = perShare * float64(absInt(pos.Quantity)) * float64(pos.LotSize)
	} else {
		pos.MarginRequired = 0
	}
}

// PositionData is the monitoring view of a position: DTE, moneyness, and
// greeks scaled by position size.
type PositionData struct {
	PositionID    int             `json:"position_id"`
	Symbol        string          `json:"symbol"`
	Underlying    string          `json:"underlying"`
	OptionType    data.OptionType `json:"option_type"`
	Strike        float64         `json:"strike"`
	Expiration    time.Time       `json:"expiration"`
	Quantity      int             `json:"quantity"`
	EntryPrice    float64         `json:"entry_price"`
	CurrentPrice  float64         `json:"current_price"`
	Spot          float64         `json:"spot"`
	DTE           int             `json:"dte"`
	Moneyness     float64         `json:"moneyness"`
	OTMPct        float64         `json:"otm_pct"`
	UnrealizedPnL float64         `json:"unrealized_pnl"`
	Delta         float64         `json:"delta"`
	Gamma         float64         `json:"gamma"`
	Theta         float64         `json:"theta"`
	Vega          float64         `json:"vega"`
	StrategyType  StrategyType    `json:"strategy_type"`
}

// PositionManager issues position ids, creates positions from executions,
// and revalues them against the provider each day.
type PositionManager struct {
	provider  *data.Provider
	priceMode data.PriceMode
	date      time.Time
	nextID    int
}

// NewPositionManager creates a manager marking at the given price mode.
func NewPositionManager(provider *data.Provider, priceMode data.PriceMode) *PositionManager {
	return &PositionManager{
		provider:  provider,
		priceMode: priceMode,
		nextID:    1,
	}
}

// SetDate moves the manager to the simulation day.
func (mgr *PositionManager) SetDate(day time.Time) {
	mgr.date = day
}

// CreatePosition builds a position from an opening execution. Market value
// starts at -grossAmount; margin follows the Reg-T formula.
func (mgr *PositionManager) CreatePosition(exec *TradeExecution, underlyingPrice float64) *SimulatedPosition {
	pos := &SimulatedPosition{
		PositionID:     mgr.nextID,
		Symbol:         exec.Symbol,
		Underlying:     exec.Underlying,
		OptionType:     exec.OptionType,
		Strike:         exec.Strike,
		Expiration:     exec.Expiration,
		Quantity:       exec.Quantity,
		EntryPrice:     exec.FillPrice,
		EntryDate:      exec.TradeDate,
		LotSize:        exec.LotSize,
		CommissionPaid: exec.Commission,
	}
	mgr.nextID++

	pos.updateMarketValue(exec.FillPrice, underlyingPrice)
	return pos
}

// Revalue marks a position to the day's quotes. A missing underlying quote
// is a hard error; a missing option quote falls back to intrinsic value
// with a warning.
func (mgr *PositionManager) Revalue(pos *SimulatedPosition) error {
	underlying := mgr.provider.StockQuote(pos.Underlying)
	if underlying == nil {
		return fmt.Errorf("%w: no quote for %s on %s", ErrDataNotFound,
			pos.Underlying, mgr.date.Format(common.DateFormat))
	}
	spot := mgr.priceMode.StockPrice(underlying)

	optionPrice, quote := mgr.optionPrice(pos, spot)
	if quote != nil {
		pos.Delta = quote.Delta
		pos.Gamma = quote.Gamma
		pos.Theta = quote.Theta
		pos.Vega = quote.Vega
	}

	pos.updateMarketValue(optionPrice, spot)
	return nil
}

func (mgr *PositionManager) optionPrice(pos *SimulatedPosition, spot float64) (float64, *data.OptionQuote) {
	quotes := mgr.provider.OptionQuotesBatch([]string{pos.Symbol}, 0)
	if len(quotes) == 1 {
		return mgr.priceMode.OptionPrice(&quotes[0]), &quotes[0]
	}

	intrinsic := IntrinsicValue(pos.OptionType, pos.Strike, spot)
	log.Warn().Str("Symbol", pos.Symbol).Time("Date", mgr.date).
		Float64("Intrinsic", intrinsic).Msg("no option quote; marking at intrinsic")
	return intrinsic, nil
}

// ClosePnL computes realized PnL for a close or expiration fill:
// (close - entry) * quantity * lotSize minus both legs' commissions.
func (mgr *PositionManager) ClosePnL(pos *SimulatedPosition, closePrice, closeCommission float64) float64 {
	return (closePrice-pos.EntryPrice)*float64(pos.Quantity)*float64(pos.LotSize) -
		(pos.CommissionPaid + closeCommission)
}

// FinalizeClose stamps closure fields on the position.
func (mgr *PositionManager) FinalizeClose(pos *SimulatedPosition, day time.Time,
	closePrice float64, reason CloseReasonType, realizedPnL, closeCommission float64) {
	pos.IsClosed = true
	pos.CloseDate = day
	pos.ClosePrice = closePrice
	pos.CloseReason = reason
	pos.RealizedPnL = realizedPnL
	pos.CommissionPaid += closeCommission
}

// MonitorView converts a position to its monitoring representation. Delta
// and theta scale by signed quantity; gamma and vega by absolute quantity.
func (mgr *PositionManager) MonitorView(pos *SimulatedPosition) PositionData {
	qty := float64(pos.Quantity)
	return PositionData{
		PositionID:    pos.PositionID,
		Symbol:        pos.Symbol,
		Underlying:    pos.Underlying,
		OptionType:    pos.OptionType,
		Strike:        pos.Strike,
		Expiration:    pos.Expiration,
		Quantity:      pos.Quantity,
		EntryPrice:    pos.EntryPrice,
		CurrentPrice:  pos.CurrentPrice,
		Spot:          pos.UnderlyingPrice,
		DTE:           pos.DTE(mgr.date),
		Moneyness:     pos.Moneyness(),
		OTMPct:        pos.OTMPct(),
		UnrealizedPnL: pos.UnrealizedPnL,
		Delta:         pos.Delta * qty,
		Gamma:         pos.Gamma * math.Abs(qty),
		Theta:         pos.Theta * qty,
		Vega:          pos.Vega * math.Abs(qty),
		StrategyType:  pos.StrategyType(),
	}
}

// ExpiringPositions returns live positions expiring within daysAhead
// calendar days of the manager's date.
func ExpiringPositions(positions []*SimulatedPosition, from time.Time, daysAhead int) []*SimulatedPosition {
	var out []*SimulatedPosition
	for _, pos := range positions {
		if pos.IsClosed {
			continue
		}
		dte := pos.DTE(from)
		if dte >= 0 && dte <= daysAhead {
			out = append(out, pos)
		}
	}
	return out
}
