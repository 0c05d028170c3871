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
	"time"

	"github.com/penny-vault/pv-options/data"
)

// ContractOpportunity is one candidate contract surfaced by screening.
type ContractOpportunity struct {
	Underlying string          `json:"underlying"`
	OptionType data.OptionType `json:"option_type"`
	Strike     float64         `json:"strike"`
	Expiration time.Time       `json:"expiration"`
	Mid        float64         `json:"mid"`
	Delta      float64         `json:"delta"`
	ImpliedVol float64         `json:"implied_vol"`
	Volume     int64           `json:"volume"`
	Score      float64         `json:"score"`
	Reason     string          `json:"reason"`
}

// ScreeningResult is the ordered output of a screening run.
type ScreeningResult struct {
	Date          time.Time             `json:"date"`
	Opportunities []ContractOpportunity `json:"opportunities"`
}

// SuggestionAction is a monitoring pipeline's verdict for one position.
type SuggestionAction string

const (
	SuggestHold    SuggestionAction = "HOLD"
	SuggestMonitor SuggestionAction = "MONITOR"
	SuggestReview  SuggestionAction = "REVIEW"
	SuggestClose   SuggestionAction = "CLOSE"
	SuggestRoll    SuggestionAction = "ROLL"
	SuggestAdjust  SuggestionAction = "ADJUST"
)

// Actionable reports whether the suggestion demands a trade rather than
// continued observation.
func (action SuggestionAction) Actionable() bool {
	switch action {
	case SuggestHold, SuggestMonitor, SuggestReview:
		return false
	}
	return true
}

// PositionSuggestion is a monitoring verdict for a single position.
type PositionSuggestion struct {
	PositionID int              `json:"position_id"`
	Action     SuggestionAction `json:"action"`
	Reason     string           `json:"reason"`
}

// MonitoringResult is the output of a monitoring run.
type MonitoringResult struct {
	Date        time.Time            `json:"date"`
	Suggestions []PositionSuggestion `json:"suggestions"`
}

// DecisionType is the kind of trading decision.
type DecisionType string

const (
	DecisionOpen  DecisionType = "OPEN"
	DecisionClose DecisionType = "CLOSE"
	DecisionRoll  DecisionType = "ROLL"
)

// TradingDecision is one ordered instruction from the decision engine.
// A ROLL closes the referenced position and, when Roll is set, opens the
// replacement contract.
type TradingDecision struct {
	DecisionType       DecisionType     `json:"decision_type"`
	Underlying         string           `json:"underlying"`
	OptionType         data.OptionType  `json:"option_type"`
	Strike             float64          `json:"strike"`
	Expiry             time.Time        `json:"expiry"`
	Quantity           int              `json:"quantity"`
	LimitPrice         float64          `json:"limit_price"`
	Reason             string           `json:"reason"`
	ContractMultiplier int              `json:"contract_multiplier"`
	Roll               *TradingDecision `json:"roll,omitempty"`
}

// ScreeningPipeline proposes new contracts to open.
type ScreeningPipeline interface {
	Run(day time.Time, symbols []string, market string, strategyTypes []string, skipMarketCheck bool) (*ScreeningResult, error)
}

// MonitoringPipeline reviews live positions.
type MonitoringPipeline interface {
	Run(day time.Time, positions []PositionData, nlv float64) (*MonitoringResult, error)
}

// DecisionEngine turns screening output and monitoring suggestions into an
// ordered decision list.
type DecisionEngine interface {
	ProcessBatch(screen *ScreeningResult, state AccountState, suggestions []PositionSuggestion) ([]TradingDecision, error)
}
