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
	"sort"
	"strings"

	"github.com/penny-vault/pv-options/sim"
)

// ConfigModifier lets callers extend parameter application beyond the
// built-in override keys.
type ConfigModifier func(cfg *sim.Config, name string, value float64)

// ParameterSweep generates the Cartesian product of parameter settings
// over a base config and runs each combination.
type ParameterSweep struct {
	base     *sim.Config
	names    []string
	values   map[string][]float64
	modifier ConfigModifier
}

// SweepRun is one combination's outcome.
type SweepRun struct {
	Params map[string]float64 `json:"params"`
	Result *Result            `json:"result,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// SweepResult exposes the full grid plus best-by-metric selections.
type SweepResult struct {
	Runs []SweepRun `json:"runs"`

	BestByTotalReturn *SweepRun `json:"best_by_total_return,omitempty"`
	BestBySharpe      *SweepRun `json:"best_by_sharpe,omitempty"`
	BestBySortino     *SweepRun `json:"best_by_sortino,omitempty"`
	BestByCalmar      *SweepRun `json:"best_by_calmar,omitempty"`
}

// NewParameterSweep starts a sweep over the base configuration.
func NewParameterSweep(base *sim.Config) *ParameterSweep {
	return &ParameterSweep{
		base:   base,
		values: make(map[string][]float64),
	}
}

// AddParam registers a parameter and its candidate values. Returns the
// sweep for chaining.
func (sweep *ParameterSweep) AddParam(name string, values []float64) *ParameterSweep {
	if _, exists := sweep.values[name]; !exists {
		sweep.names = append(sweep.names, name)
	}
	sweep.values[name] = values
	return sweep
}

// SetModifier installs a custom config modifier consulted for parameter
// names that are not built-in override keys.
func (sweep *ParameterSweep) SetModifier(modifier ConfigModifier) {
	sweep.modifier = modifier
}

// Combinations materializes the Cartesian product as cloned configs with
// overrides applied, paired with their parameter maps.
func (sweep *ParameterSweep) Combinations() ([]*sim.Config, []map[string]float64) {
	grids := [][]float64{}
	for _, name := range sweep.names {
		grids = append(grids, sweep.values[name])
	}

	var configs []*sim.Config
	var params []map[string]float64

	var walk func(depth int, current map[string]float64)
	walk = func(depth int, current map[string]float64) {
		if depth == len(sweep.names) {
			combo := make(map[string]float64, len(current))
			for key, value := range current {
				combo[key] = value
			}
			configs = append(configs, sweep.materialize(combo))
			params = append(params, combo)
			return
		}
		name := sweep.names[depth]
		for _, value := range grids[depth] {
			current[name] = value
			walk(depth+1, current)
		}
		delete(current, name)
	}
	walk(0, make(map[string]float64))
	return configs, params
}

// materialize clones the base config and applies one parameter setting.
// Structural parameters map onto typed config fields; everything else goes
// through the screening overrides (or the custom modifier).
func (sweep *ParameterSweep) materialize(combo map[string]float64) *sim.Config {
	cfg := sweep.base.Clone()

	keys := make([]string, 0, len(combo))
	for key := range combo {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, name := range keys {
		value := combo[name]
		switch strings.ToLower(name) {
		case "max_positions":
			cfg.MaxPositions = int(value)
		case "max_position_pct":
			cfg.MaxPositionPct = value
		case "max_margin_utilization":
			cfg.MaxMarginUtilization = value
		case "initial_capital":
			cfg.InitialCapital = value
		default:
			if sweep.modifier != nil {
				sweep.modifier(cfg, name, value)
				continue
			}
			if cfg.ScreeningOverrides == nil {
				cfg.ScreeningOverrides = make(map[string]float64)
			}
			cfg.ScreeningOverrides[strings.ToLower(name)] = value
		}
	}
	return cfg
}

// Run executes every combination on the runner and selects the best runs
// per metric.
func (sweep *ParameterSweep) Run(ctx context.Context, runner *Runner, opts Options) (*SweepResult, error) {
	configs, params := sweep.Combinations()
	if len(configs) == 0 {
		return nil, fmt.Errorf("parameter sweep has no combinations")
	}

	tasks := make([]Task, len(configs))
	for ii, cfg := range configs {
		tasks[ii] = Task{Name: paramLabel(params[ii]), Config: cfg}
	}

	batch := runner.Run(ctx, tasks, opts)

	result := &SweepResult{Runs: make([]SweepRun, len(tasks))}
	for ii, taskResult := range batch.Results {
		result.Runs[ii] = SweepRun{Params: params[ii], Result: taskResult.Result, Error: taskResult.Error}
	}

	result.BestByTotalReturn = result.best(func(m *SweepRun) float64 { return m.Result.Metrics.TotalReturnPct })
	result.BestBySharpe = result.best(func(m *SweepRun) float64 { return m.Result.Metrics.SharpeRatio })
	result.BestBySortino = result.best(func(m *SweepRun) float64 { return m.Result.Metrics.SortinoRatio })
	result.BestByCalmar = result.best(func(m *SweepRun) float64 { return m.Result.Metrics.CalmarRatio })
	return result, nil
}

func (result *SweepResult) best(metric func(*SweepRun) float64) *SweepRun {
	var best *SweepRun
	for ii := range result.Runs {
		run := &result.Runs[ii]
		if run.Result == nil || run.Result.Metrics == nil {
			continue
		}
		if best == nil || metric(run) > metric(best) {
			best = run
		}
	}
	return best
}

// HeatmapCell is one (x, y) slice of the sweep grid; Value is the chosen
// metric averaged over runs sharing that coordinate.
type HeatmapCell struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Value float64 `json:"value"`
}

// Heatmap slices the grid by two parameters, averaging the metric over
// any remaining dimensions.
func (result *SweepResult) Heatmap(xParam, yParam string, metric func(*SweepRun) float64) []HeatmapCell {
	type coord struct{ x, y float64 }
	sums := make(map[coord]float64)
	counts := make(map[coord]int)
	var order []coord

	for ii := range result.Runs {
		run := &result.Runs[ii]
		if run.Result == nil || run.Result.Metrics == nil {
			continue
		}
		x, okX := run.Params[xParam]
		y, okY := run.Params[yParam]
		if !okX || !okY {
			continue
		}
		key := coord{x, y}
		if _, seen := counts[key]; !seen {
			order = append(order, key)
		}
		sums[key] += metric(run)
		counts[key]++
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].x != order[j].x {
			return order[i].x < order[j].x
		}
		return order[i].y < order[j].y
	})

	cells := make([]HeatmapCell, 0, len(order))
	for _, key := range order {
		cells = append(cells, HeatmapCell{X: key.x, Y: key.y, Value: sums[key] / float64(counts[key])})
	}
	return cells
}

func paramLabel(params map[string]float64) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%g", key, params[key]))
	}
	return strings.Join(parts, ",")
}
