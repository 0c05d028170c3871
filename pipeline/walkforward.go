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

package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/penny-vault/pv-options/common"
	"github.com/penny-vault/pv-options/sim"
)

// WalkForwardConfig shapes the train/test split schedule.
type WalkForwardConfig struct {
	TrainMonths   int  // in-sample window length
	TestMonths    int  // out-of-sample window length
	NSplits       int  // 0 = as many as fit
	OverlapMonths int  // window step back-off; 0 = non-overlapping
	Expanding     bool // extend train instead of rolling it
}

// SplitWindow is one train/test pair of date ranges.
type SplitWindow struct {
	TrainStart time.Time `json:"train_start"`
	TrainEnd   time.Time `json:"train_end"`
	TestStart  time.Time `json:"test_start"`
	TestEnd    time.Time `json:"test_end"`
}

// SplitResult carries the in-sample and out-of-sample outcomes of one
// split plus its decay figures.
type SplitResult struct {
	Window SplitWindow `json:"window"`

	InSample    *Result `json:"in_sample,omitempty"`
	OutOfSample *Result `json:"out_of_sample,omitempty"`
	Error       string  `json:"error,omitempty"`

	ReturnDecay  float64 `json:"return_decay"`
	SharpeDecay  float64 `json:"sharpe_decay"`
	WinRateDecay float64 `json:"win_rate_decay"`
}

// WalkForwardResult aggregates all splits and the composite overfitting
// score.
type WalkForwardResult struct {
	Splits           []SplitResult `json:"splits"`
	AvgReturnDecay   float64       `json:"avg_return_decay"`
	AvgSharpeDecay   float64       `json:"avg_sharpe_decay"`
	OOSPositivePct   float64       `json:"oos_positive_pct"`
	OverfittingScore float64       `json:"overfitting_score"`
}

// GenerateSplits computes the train/test windows over the base config's
// date range.
func GenerateSplits(cfg *sim.Config, wf WalkForwardConfig) ([]SplitWindow, error) {
	if wf.TrainMonths <= 0 || wf.TestMonths <= 0 {
		return nil, fmt.Errorf("train and test windows must be positive")
	}

	step := wf.TestMonths - wf.OverlapMonths
	if step <= 0 {
		return nil, fmt.Errorf("overlap must be smaller than the test window")
	}

	var windows []SplitWindow
	trainStart := common.Midnight(cfg.StartDate)
	for {
		trainEnd := trainStart.AddDate(0, wf.TrainMonths, -1)
		testStart := trainEnd.AddDate(0, 0, 1)
		testEnd := testStart.AddDate(0, wf.TestMonths, -1)
		if testEnd.After(common.Midnight(cfg.EndDate)) {
			break
		}

		windows = append(windows, SplitWindow{
			TrainStart: trainStart,
			TrainEnd:   trainEnd,
			TestStart:  testStart,
			TestEnd:    testEnd,
		})
		if wf.NSplits > 0 && len(windows) >= wf.NSplits {
			break
		}

		if wf.Expanding {
			// anchored start; the next train window absorbs the previous
			// test window
			wf.TrainMonths += step
		} else {
			trainStart = trainStart.AddDate(0, step, 0)
		}
	}

	if len(windows) == 0 {
		return nil, fmt.Errorf("date range too short for %d+%d month windows", wf.TrainMonths, wf.TestMonths)
	}
	return windows, nil
}

// WalkForward runs every split's train and test halves and computes decay
// metrics plus the composite overfitting score.
func WalkForward(ctx context.Context, runner *Runner, cfg *sim.Config, wf WalkForwardConfig, opts Options) (*WalkForwardResult, error) {
	windows, err := GenerateSplits(cfg, wf)
	if err != nil {
		return nil, err
	}

	tasks := make([]Task, 0, len(windows)*2)
	for ii, window := range windows {
		train := cfg.Clone()
		train.StartDate, train.EndDate = window.TrainStart, window.TrainEnd
		test := cfg.Clone()
		test.StartDate, test.EndDate = window.TestStart, window.TestEnd

		tasks = append(tasks,
			Task{Name: fmt.Sprintf("split-%d-train", ii), Config: train},
			Task{Name: fmt.Sprintf("split-%d-test", ii), Config: test})
	}

	batch := runner.Run(ctx, tasks, opts)

	result := &WalkForwardResult{Splits: make([]SplitResult, len(windows))}
	oosPositive := 0
	scored := 0
	for ii := range windows {
		split := &result.Splits[ii]
		split.Window = windows[ii]

		trainTask := batch.Results[ii*2]
		testTask := batch.Results[ii*2+1]
		if trainTask.Err != nil || testTask.Err != nil {
			split.Error = firstError(trainTask, testTask)
			log.Warn().Str("Error", split.Error).Int("Split", ii).Msg("walk-forward split failed")
			continue
		}

		split.InSample = trainTask.Result
		split.OutOfSample = testTask.Result
		computeDecay(split)

		result.AvgReturnDecay += split.ReturnDecay
		result.AvgSharpeDecay += split.SharpeDecay
		if split.OutOfSample.Metrics.TotalReturnPct > 0 {
			oosPositive++
		}
		scored++
	}

	if scored == 0 {
		return result, fmt.Errorf("every walk-forward split failed")
	}

	result.AvgReturnDecay /= float64(scored)
	result.AvgSharpeDecay /= float64(scored)
	result.OOSPositivePct = float64(oosPositive) / float64(scored)
	result.OverfittingScore = OverfittingScore(result.AvgReturnDecay, result.AvgSharpeDecay, result.OOSPositivePct)
	return result, nil
}

// computeDecay fills the split's decay figures: how much of the in-sample
// edge evaporates out of sample, as a fraction of the in-sample figure.
func computeDecay(split *SplitResult) {
	is := split.InSample.Metrics
	oos := split.OutOfSample.Metrics

	split.ReturnDecay = decayFraction(is.TotalReturnPct, oos.TotalReturnPct)
	split.SharpeDecay = decayFraction(is.SharpeRatio, oos.SharpeRatio)
	split.WinRateDecay = decayFraction(is.TradeStats.WinRate, oos.TradeStats.WinRate)
}

// decayFraction is (IS - OOS) / |IS|, clamped to [0, 1]; zero when the
// in-sample figure carries no edge to lose.
func decayFraction(inSample, outOfSample float64) float64 {
	if inSample <= 0 {
		return 0
	}
	decay := (inSample - outOfSample) / math.Abs(inSample)
	return math.Max(0, math.Min(1, decay))
}

// OverfittingScore composes the decay figures into a [0, 1] score: return
// decay contributes up to 0.4, Sharpe decay up to 0.3, and out-of-sample
// inconsistency (1 - oosPositivePct) up to 0.3.
func OverfittingScore(returnDecay, sharpeDecay, oosPositivePct float64) float64 {
	score := 0.4*clamp01(returnDecay) + 0.3*clamp01(sharpeDecay) + 0.3*(1-clamp01(oosPositivePct))
	return clamp01(score)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func firstError(results ...TaskResult) string {
	for _, result := range results {
		if result.Err != nil {
			return result.Err.Error()
		}
	}
	return ""
}
