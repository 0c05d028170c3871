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
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penny-vault/pv-options/perf"
	"github.com/penny-vault/pv-options/sim"
)

func TestChartReportSinkRender(t *testing.T) {
	orig := stamp
	stamp = func() string { return "test" }
	defer func() { stamp = orig }()

	cfg := rangeConfig(day(2024, 1, 8), day(2024, 1, 12))
	result := &sim.BacktestResult{
		Config:      cfg,
		TradingDays: 5,
		FinalNLV:    100_500,
		Snapshots: []sim.EquitySnapshot{
			{Date: day(2024, 1, 8), NLV: 100_000},
			{Date: day(2024, 1, 9), NLV: 100_300},
			{Date: day(2024, 1, 10), NLV: 100_100},
			{Date: day(2024, 1, 11), NLV: 100_400},
			{Date: day(2024, 1, 12), NLV: 100_500},
		},
	}
	metrics := perf.Compute(result, 0.02)

	reportDir := t.TempDir()
	sink := &ChartReportSink{}
	summaryPath, err := sink.Render(result, metrics, nil, reportDir)
	require.NoError(t, err)

	runDir := filepath.Join(reportDir, "backtest-test")
	assert.Equal(t, filepath.Join(runDir, "summary.json"), summaryPath)

	raw, err := os.ReadFile(summaryPath)
	require.NoError(t, err)

	var summary struct {
		Config  *sim.Config           `json:"config"`
		Metrics *perf.BacktestMetrics `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(raw, &summary))
	assert.Equal(t, "backtest", summary.Config.Name)
	assert.InDelta(t, 0.005, summary.Metrics.TotalReturnPct, 1e-9)

	// both charts render alongside the summary
	for _, name := range []string{"equity.png", "drawdown.png"} {
		info, err := os.Stat(filepath.Join(runDir, name))
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	}
}

func TestChartReportSinkTooFewSnapshots(t *testing.T) {
	orig := stamp
	stamp = func() string { return "short" }
	defer func() { stamp = orig }()

	result := &sim.BacktestResult{
		Config:    rangeConfig(day(2024, 1, 8), day(2024, 1, 8)),
		FinalNLV:  100_000,
		Snapshots: []sim.EquitySnapshot{{Date: day(2024, 1, 8), NLV: 100_000}},
	}
	metrics := perf.Compute(result, 0)

	reportDir := t.TempDir()
	summaryPath, err := (&ChartReportSink{}).Render(result, metrics, nil, reportDir)
	require.NoError(t, err)

	// the summary still lands even when charting is infeasible
	_, err = os.Stat(summaryPath)
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(reportDir, "backtest-short", "equity.png"))
	assert.True(t, os.IsNotExist(err))
}
