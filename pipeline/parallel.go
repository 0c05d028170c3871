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
	"runtime"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/penny-vault/pv-options/data"
	"github.com/penny-vault/pv-options/sim"
)

// Task is one independent backtest in a parallel batch.
type Task struct {
	Name   string
	Config *sim.Config
}

// TaskResult pairs a task with its outcome. Err is set when the run
// failed; the result is then nil.
type TaskResult struct {
	Name    string        `json:"name"`
	Result  *Result       `json:"result,omitempty"`
	Err     error         `json:"-"`
	Error   string        `json:"error,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// ParallelRunResult aggregates a batch of independent backtests.
type ParallelRunResult struct {
	Results   []TaskResult  `json:"results"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Runner executes independent backtests on a bounded worker pool. Every
// task gets its own provider over the shared store; the simulation cores
// never share mutable state. Worker failures are isolated per task and
// never abort the batch; context cancellation stops dispatch of remaining
// tasks.
type Runner struct {
	store   *data.Store
	workers int

	screening  sim.ScreeningPipeline
	monitoring sim.MonitoringPipeline
	decisions  sim.DecisionEngine
}

// NewRunner creates a runner; workers <= 0 defaults to GOMAXPROCS.
func NewRunner(store *data.Store, workers int) *Runner {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Runner{store: store, workers: workers}
}

// SetCollaborators attaches strategy collaborators applied to every task.
// Collaborators must be safe for concurrent use across workers.
func (runner *Runner) SetCollaborators(screening sim.ScreeningPipeline, monitoring sim.MonitoringPipeline, decisions sim.DecisionEngine) {
	runner.screening = screening
	runner.monitoring = monitoring
	runner.decisions = decisions
}

// Run executes every task and returns per-task results in input order.
func (runner *Runner) Run(ctx context.Context, tasks []Task, opts Options) *ParallelRunResult {
	started := time.Now()
	results := make([]TaskResult, len(tasks))

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(runner.workers)

	for ii := range tasks {
		ii := ii
		group.Go(func() error {
			task := tasks[ii]
			taskStart := time.Now()
			results[ii].Name = task.Name

			if err := ctx.Err(); err != nil {
				results[ii].Err = err
				results[ii].Error = err.Error()
				return nil
			}

			pipe := New(runner.store, nil)
			pipe.SetCollaborators(runner.screening, runner.monitoring, runner.decisions)

			taskOpts := opts
			taskOpts.SkipDataCheck = true
			result, err := pipe.Run(ctx, task.Config, taskOpts)
			results[ii].Elapsed = time.Since(taskStart)
			if err != nil {
				results[ii].Err = err
				results[ii].Error = err.Error()
				log.Warn().Err(err).Str("Task", task.Name).Msg("backtest task failed")
				return nil
			}
			results[ii].Result = result
			return nil
		})
	}
	_ = group.Wait()

	run := &ParallelRunResult{
		Results: results,
		Elapsed: time.Since(started),
	}
	for _, result := range results {
		if result.Err != nil {
			run.Failed++
		} else {
			run.Completed++
		}
	}

	log.Info().Int("Tasks", len(tasks)).Int("Completed", run.Completed).
		Int("Failed", run.Failed).Dur("Elapsed", run.Elapsed).Msg("parallel run finished")
	return run
}
