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
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/penny-vault/pv-options/data"
	"github.com/penny-vault/pv-options/perf"
	"github.com/penny-vault/pv-options/sim"
)

const (
	benchmarkSymbol      = "SPY"
	dataCheckParallelism = 4
)

// ErrUnresolvedGaps aborts a strict-data run when the pre-run check could
// not fill every gap.
var ErrUnresolvedGaps = errors.New("unresolved data gaps")

// Options tune a single pipeline run.
type Options struct {
	SkipDataCheck  bool
	StrictData     bool // abort when the data check leaves unresolved gaps
	GenerateReport bool
	ReportDir      string
	RiskFreeRate   float64
}

// DataStatus summarizes the pre-run data check.
type DataStatus struct {
	GapsFound  int      `json:"gaps_found"`
	GapsFilled int      `json:"gaps_filled"`
	Errors     []string `json:"errors,omitempty"`
}

// Result bundles everything a pipeline run produces.
type Result struct {
	Backtest   *sim.BacktestResult   `json:"backtest"`
	Metrics    *perf.BacktestMetrics `json:"metrics"`
	Benchmark  *perf.BenchmarkResult `json:"benchmark,omitempty"`
	DataStatus *DataStatus           `json:"data_status,omitempty"`
	ReportPath string                `json:"report_path,omitempty"`
}

// ReportSink renders a completed run; the renderer is a black box to the
// pipeline.
type ReportSink interface {
	Render(result *sim.BacktestResult, metrics *perf.BacktestMetrics, benchmark *perf.BenchmarkResult, reportDir string) (string, error)
}

// Pipeline wires data preparation, execution, and analysis into a single
// entry point.
type Pipeline struct {
	store      *data.Store
	vendors    *data.VendorSet
	sink       ReportSink
	screening  sim.ScreeningPipeline
	monitoring sim.MonitoringPipeline
	decisions  sim.DecisionEngine
}

// New creates a pipeline over the given store. Vendors may be nil; the
// data check is then skipped automatically.
func New(store *data.Store, vendors *data.VendorSet) *Pipeline {
	return &Pipeline{store: store, vendors: vendors}
}

// SetReportSink attaches a report renderer.
func (pipe *Pipeline) SetReportSink(sink ReportSink) {
	pipe.sink = sink
}

// SetCollaborators attaches the strategy collaborators passed to every
// executor this pipeline creates.
func (pipe *Pipeline) SetCollaborators(screening sim.ScreeningPipeline, monitoring sim.MonitoringPipeline, decisions sim.DecisionEngine) {
	pipe.screening = screening
	pipe.monitoring = monitoring
	pipe.decisions = decisions
}

// Run executes the full pipeline: data check, backtest, metrics, and
// benchmark comparison against SPY.
func (pipe *Pipeline) Run(ctx context.Context, cfg *sim.Config, opts Options) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	result := &Result{}
	if !opts.SkipDataCheck && pipe.vendors != nil {
		result.DataStatus = pipe.ensureData(ctx, cfg)
		if opts.StrictData && len(result.DataStatus.Errors) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnresolvedGaps, result.DataStatus.Errors[0])
		}
	}

	provider := data.NewProvider(pipe.store, cfg.StartDate)
	if calendar, err := data.LoadEconomicCalendar(pipe.store); err == nil {
		provider.SetCalendar(calendar)
	} else {
		log.Warn().Err(err).Msg("economic calendar unavailable")
	}

	executor := sim.NewExecutor(cfg, provider)
	executor.SetCollaborators(pipe.screening, pipe.monitoring, pipe.decisions)

	backtest, err := executor.Run()
	if err != nil {
		return nil, err
	}
	result.Backtest = backtest
	result.Metrics = perf.Compute(backtest, opts.RiskFreeRate)
	result.Benchmark = pipe.compareBenchmark(backtest, cfg)

	if opts.GenerateReport && pipe.sink != nil {
		path, err := pipe.sink.Render(backtest, result.Metrics, result.Benchmark, opts.ReportDir)
		if err != nil {
			log.Warn().Err(err).Msg("report rendering failed")
		} else {
			result.ReportPath = path
		}
	}
	return result, nil
}

// ensureData detects and fills data gaps for the run's symbols plus the
// benchmark. Failures are reported but never abort the run; the day loop
// tolerates missing rows.
func (pipe *Pipeline) ensureData(ctx context.Context, cfg *sim.Config) *DataStatus {
	status := &DataStatus{}

	ledger, err := data.LoadProgressLedger(pipe.store.ProgressPath())
	if err != nil {
		status.Errors = append(status.Errors, err.Error())
		return status
	}

	symbols := cfg.Symbols
	if !contains(symbols, benchmarkSymbol) {
		symbols = append(append([]string(nil), symbols...), benchmarkSymbol)
	}

	detector := data.NewGapDetector(pipe.store, ledger)
	var gaps []data.DataGap
	for _, dataType := range []data.DataType{data.DataTypeStock, data.DataTypeOption, data.DataTypeBeta} {
		gaps = append(gaps, detector.Detect(dataType, symbols, cfg.StartDate, cfg.EndDate)...)
	}
	gaps = append(gaps, detector.DetectMacro([]string{"^VIX"}, cfg.StartDate, cfg.EndDate)...)

	status.GapsFound = len(gaps)
	if len(gaps) == 0 {
		return status
	}

	downloader := data.NewDownloader(pipe.store, ledger, *pipe.vendors)
	for _, fillErr := range downloader.FillGaps(ctx, gaps, dataCheckParallelism) {
		status.Errors = append(status.Errors, fillErr.Error())
	}
	status.GapsFilled = status.GapsFound - len(status.Errors)
	return status
}

// compareBenchmark loads the SPY close series over the run window from a
// provider parked at the end date.
func (pipe *Pipeline) compareBenchmark(backtest *sim.BacktestResult, cfg *sim.Config) *perf.BenchmarkResult {
	provider := data.NewProvider(pipe.store, cfg.EndDate)
	bars := provider.HistoryKline(benchmarkSymbol, cfg.StartDate, cfg.EndDate)
	if len(bars) == 0 {
		log.Info().Str("Symbol", benchmarkSymbol).Msg("no benchmark data; skipping comparison")
		return nil
	}

	points := make([]perf.BenchmarkPoint, 0, len(bars))
	for _, bar := range bars {
		points = append(points, perf.BenchmarkPoint{Date: bar.Date, Close: bar.Close})
	}
	return perf.CompareBenchmark(backtest.Snapshots, points, benchmarkSymbol)
}

func contains(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}
