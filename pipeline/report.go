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
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/wcharczuk/go-chart/v2"

	"github.com/penny-vault/pv-options/perf"
	"github.com/penny-vault/pv-options/sim"
)

// ChartReportSink renders a run to a report directory: an equity-curve
// PNG, a drawdown PNG, and a JSON summary of metrics and trades.
type ChartReportSink struct{}

// Render writes the report files and returns the summary path.
func (sink *ChartReportSink) Render(result *sim.BacktestResult, metrics *perf.BacktestMetrics,
	benchmark *perf.BenchmarkResult, reportDir string) (string, error) {
	if reportDir == "" {
		reportDir = "reports"
	}
	runDir := filepath.Join(reportDir, fmt.Sprintf("%s-%s", result.Config.Name, stamp()))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := sink.renderEquityCurve(result, filepath.Join(runDir, "equity.png")); err != nil {
		log.Warn().Err(err).Msg("equity chart failed")
	}
	if err := sink.renderDrawdown(result, filepath.Join(runDir, "drawdown.png")); err != nil {
		log.Warn().Err(err).Msg("drawdown chart failed")
	}

	summaryPath := filepath.Join(runDir, "summary.json")
	if err := sink.writeSummary(result, metrics, benchmark, summaryPath); err != nil {
		return "", err
	}
	return summaryPath, nil
}

func (sink *ChartReportSink) renderEquityCurve(result *sim.BacktestResult, path string) error {
	if len(result.Snapshots) < 2 {
		return fmt.Errorf("not enough snapshots to chart")
	}

	dates := make([]time.Time, len(result.Snapshots))
	nlv := make([]float64, len(result.Snapshots))
	for ii, snap := range result.Snapshots {
		dates[ii] = snap.Date
		nlv[ii] = snap.NLV
	}

	graph := chart.Chart{
		Title:  fmt.Sprintf("%s equity curve", result.Config.Name),
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("$%.0f", f)
				}
				return ""
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "NLV",
				XValues: dates,
				YValues: nlv,
			},
		},
	}

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()
	return graph.Render(chart.PNG, out)
}

func (sink *ChartReportSink) renderDrawdown(result *sim.BacktestResult, path string) error {
	if len(result.Snapshots) < 2 {
		return fmt.Errorf("not enough snapshots to chart")
	}

	dates := make([]time.Time, len(result.Snapshots))
	drawdown := make([]float64, len(result.Snapshots))
	peak := result.Snapshots[0].NLV
	for ii, snap := range result.Snapshots {
		if snap.NLV > peak {
			peak = snap.NLV
		}
		dates[ii] = snap.Date
		if peak > 0 {
			drawdown[ii] = -(peak - snap.NLV) / peak * 100
		}
	}

	graph := chart.Chart{
		Title:  fmt.Sprintf("%s drawdown", result.Config.Name),
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("%.1f%%", f)
				}
				return ""
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Drawdown",
				XValues: dates,
				YValues: drawdown,
			},
		},
	}

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()
	return graph.Render(chart.PNG, out)
}

func (sink *ChartReportSink) writeSummary(result *sim.BacktestResult, metrics *perf.BacktestMetrics,
	benchmark *perf.BenchmarkResult, path string) error {
	summary := struct {
		Config    *sim.Config           `json:"config"`
		Metrics   *perf.BacktestMetrics `json:"metrics"`
		Benchmark *perf.BenchmarkResult `json:"benchmark,omitempty"`
		Trades    []*sim.TradeRecord    `json:"trades"`
	}{
		Config:    result.Config,
		Metrics:   metrics,
		Benchmark: benchmark,
		Trades:    result.TradeRecords,
	}

	raw, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// stamp is overridable in tests to pin report directory names.
var stamp = func() string {
	return time.Now().Format("20060102-150405")
}
