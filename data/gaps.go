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

package data

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/penny-vault/pv-options/common"
)

// GapReason explains why a slice of data is missing.
type GapReason string

const (
	GapNewSymbol    GapReason = "new_symbol"
	GapExtendBefore GapReason = "extend_before"
	GapExtendAfter  GapReason = "extend_after"
	GapResume       GapReason = "resume"
)

// DataGap is a contiguous missing date range for a (dataType, symbol) pair.
type DataGap struct {
	Symbol       string
	DataType     DataType
	MissingStart time.Time
	MissingEnd   time.Time
	Reason       GapReason
}

// GapDetector computes the minimal set of missing slices per dataset and
// symbol by consulting the progress ledger.
type GapDetector struct {
	store  *Store
	ledger *ProgressLedger
}

func NewGapDetector(store *Store, ledger *ProgressLedger) *GapDetector {
	return &GapDetector{store: store, ledger: ledger}
}

// Detect returns the gaps for one dataType over [start, end] for each symbol.
func (detector *GapDetector) Detect(dataType DataType, symbols []string, start, end time.Time) []DataGap {
	start = common.Midnight(start)
	end = common.Midnight(end)

	gaps := make([]DataGap, 0, len(symbols))
	for _, symbol := range symbols {
		gaps = append(gaps, detector.detectOne(dataType, symbol, start, end)...)
	}
	return gaps
}

func (detector *GapDetector) detectOne(dataType DataType, symbol string, start, end time.Time) []DataGap {
	entry, ok := detector.ledger.Entry(dataType, symbol)

	if !ok || (entry.Status != StatusCompleted && entry.Status != StatusInProgress) {
		return []DataGap{{
			Symbol:       symbol,
			DataType:     dataType,
			MissingStart: start,
			MissingEnd:   end,
			Reason:       GapNewSymbol,
		}}
	}

	if entry.Status == StatusInProgress {
		if entry.LastCompletedDate != nil {
			resumeStart := entry.LastCompletedDate.AddDate(0, 0, 1)
			if resumeStart.After(end) {
				return nil
			}
			return []DataGap{{
				Symbol:       symbol,
				DataType:     dataType,
				MissingStart: resumeStart,
				MissingEnd:   end,
				Reason:       GapResume,
			}}
		}
		// in progress but no chunk ever completed: treat as a fresh start
		return []DataGap{{
			Symbol:       symbol,
			DataType:     dataType,
			MissingStart: start,
			MissingEnd:   end,
			Reason:       GapNewSymbol,
		}}
	}

	// completed with covered range [entry.StartDate, entry.EndDate]
	var gaps []DataGap
	if entry.StartDate.After(start) {
		gaps = append(gaps, DataGap{
			Symbol:       symbol,
			DataType:     dataType,
			MissingStart: start,
			MissingEnd:   entry.StartDate.AddDate(0, 0, -1),
			Reason:       GapExtendBefore,
		})
	}
	if entry.EndDate.Before(end) {
		gaps = append(gaps, DataGap{
			Symbol:       symbol,
			DataType:     dataType,
			MissingStart: entry.EndDate.AddDate(0, 0, 1),
			MissingEnd:   end,
			Reason:       GapExtendAfter,
		})
	}
	return gaps
}

// DetectMacro computes per-indicator gaps from the macro file itself: a
// single file holds many indicators and the ledger does not track each one.
// If the file cannot be read the full range is assumed missing.
func (detector *GapDetector) DetectMacro(indicators []string, start, end time.Time) []DataGap {
	start = common.Midnight(start)
	end = common.Midnight(end)

	rows, err := detector.store.ReadMacroEOD()
	if err != nil {
		log.Warn().Err(err).Msg("could not read macro data; assuming full gap")
		rows = nil
	}

	type minMax struct {
		min time.Time
		max time.Time
		n   int
	}
	coverage := make(map[string]*minMax)
	for _, row := range rows {
		mm, ok := coverage[row.Indicator]
		if !ok {
			mm = &minMax{min: row.Date, max: row.Date}
			coverage[row.Indicator] = mm
		}
		mm.min = common.MinTime(mm.min, row.Date)
		mm.max = common.MaxTime(mm.max, row.Date)
		mm.n++
	}

	var gaps []DataGap
	for _, indicator := range indicators {
		mm, ok := coverage[indicator]
		if !ok || mm.n == 0 {
			gaps = append(gaps, DataGap{
				Symbol:       indicator,
				DataType:     DataTypeMacro,
				MissingStart: start,
				MissingEnd:   end,
				Reason:       GapNewSymbol,
			})
			continue
		}
		if mm.min.After(start) {
			gaps = append(gaps, DataGap{
				Symbol:       indicator,
				DataType:     DataTypeMacro,
				MissingStart: start,
				MissingEnd:   mm.min.AddDate(0, 0, -1),
				Reason:       GapExtendBefore,
			})
		}
		if mm.max.Before(end) {
			gaps = append(gaps, DataGap{
				Symbol:       indicator,
				DataType:     DataTypeMacro,
				MissingStart: mm.max.AddDate(0, 0, 1),
				MissingEnd:   end,
				Reason:       GapExtendAfter,
			})
		}
	}
	return gaps
}
