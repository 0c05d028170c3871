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
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/goccy/go-json"

	"github.com/penny-vault/pv-options/common"
)

// CatalogCoverage summarizes one symbol's rows within a dataset.
type CatalogCoverage struct {
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date"`
	Records   int      `json:"records"`
	Files     []string `json:"files,omitempty"`
}

// CatalogDataset summarizes one dataset.
type CatalogDataset struct {
	File    string                      `json:"file,omitempty"`
	Symbols map[string]*CatalogCoverage `json:"symbols,omitempty"`
}

// Catalog is the regenerated-on-write summary of store contents. It is
// consumed by tooling only; the parquet files remain the source of truth.
type Catalog struct {
	UpdatedAt time.Time                  `json:"updated_at"`
	DataDir   string                     `json:"data_dir"`
	Datasets  map[string]*CatalogDataset `json:"datasets"`
}

type coverageAccum struct {
	start   time.Time
	end     time.Time
	records int
	files   map[string]bool
}

func (acc *coverageAccum) observe(date time.Time, file string) {
	if acc.records == 0 || date.Before(acc.start) {
		acc.start = date
	}
	if acc.records == 0 || date.After(acc.end) {
		acc.end = date
	}
	acc.records++
	if file != "" {
		acc.files[file] = true
	}
}

func (acc *coverageAccum) coverage() *CatalogCoverage {
	cov := &CatalogCoverage{
		StartDate: acc.start.Format(common.DateFormat),
		EndDate:   acc.end.Format(common.DateFormat),
		Records:   acc.records,
	}
	for f := range acc.files {
		cov.Files = append(cov.Files, f)
	}
	sort.Strings(cov.Files)
	return cov
}

func newAccumMap() map[string]*coverageAccum {
	return make(map[string]*coverageAccum)
}

func accumFor(accums map[string]*coverageAccum, symbol string) *coverageAccum {
	acc, ok := accums[symbol]
	if !ok {
		acc = &coverageAccum{files: make(map[string]bool)}
		accums[symbol] = acc
	}
	return acc
}

func coverageMap(accums map[string]*coverageAccum) map[string]*CatalogCoverage {
	if len(accums) == 0 {
		return nil
	}
	out := make(map[string]*CatalogCoverage, len(accums))
	for symbol, acc := range accums {
		out[symbol] = acc.coverage()
	}
	return out
}

// RefreshCatalog scans the store and rewrites data_catalog.json.
func (store *Store) RefreshCatalog() error {
	catalog := &Catalog{
		UpdatedAt: time.Now().UTC(),
		DataDir:   store.dataDir,
		Datasets:  make(map[string]*CatalogDataset),
	}

	// stock
	if rows, err := store.ReadStockEOD(); err == nil && len(rows) > 0 {
		accums := newAccumMap()
		for _, row := range rows {
			accumFor(accums, row.Symbol).observe(row.Date, "")
		}
		catalog.Datasets[string(DataTypeStock)] = &CatalogDataset{
			File:    stockFile,
			Symbols: coverageMap(accums),
		}
	}

	// options, one directory per underlying
	optAccums := newAccumMap()
	for _, symbol := range store.OptionSymbols() {
		for _, year := range store.OptionYears(symbol) {
			rows, err := store.ReadOptionEOD(symbol, year)
			if err != nil {
				continue
			}
			file := fmt.Sprintf("%s/%s/%04d.parquet", optionDir, symbol, year)
			for _, row := range rows {
				accumFor(optAccums, symbol).observe(row.Date, file)
			}
		}
	}
	if len(optAccums) > 0 {
		catalog.Datasets[string(DataTypeOption)] = &CatalogDataset{Symbols: coverageMap(optAccums)}
	}

	// macro, keyed by indicator
	if rows, err := store.ReadMacroEOD(); err == nil && len(rows) > 0 {
		accums := newAccumMap()
		for _, row := range rows {
			accumFor(accums, row.Indicator).observe(row.Date, "")
		}
		catalog.Datasets[string(DataTypeMacro)] = &CatalogDataset{
			File:    macroFile,
			Symbols: coverageMap(accums),
		}
	}

	if rows, err := store.ReadEPS(); err == nil && len(rows) > 0 {
		accums := newAccumMap()
		for _, row := range rows {
			accumFor(accums, row.Symbol).observe(row.AsOfDate, "")
		}
		catalog.Datasets[string(DataTypeFundamentalEPS)] = &CatalogDataset{
			File:    epsFile,
			Symbols: coverageMap(accums),
		}
	}

	if rows, err := store.ReadRevenue(); err == nil && len(rows) > 0 {
		accums := newAccumMap()
		for _, row := range rows {
			accumFor(accums, row.Symbol).observe(row.AsOfDate, "")
		}
		catalog.Datasets[string(DataTypeFundamentalRev)] = &CatalogDataset{
			File:    revenueFile,
			Symbols: coverageMap(accums),
		}
	}

	if rows, err := store.ReadDividends(); err == nil && len(rows) > 0 {
		accums := newAccumMap()
		for _, row := range rows {
			accumFor(accums, row.Symbol).observe(row.ExDate, "")
		}
		catalog.Datasets[string(DataTypeFundamentalDiv)] = &CatalogDataset{
			File:    dividendFile,
			Symbols: coverageMap(accums),
		}
	}

	if rows, err := store.ReadBeta(); err == nil && len(rows) > 0 {
		accums := newAccumMap()
		for _, row := range rows {
			accumFor(accums, row.Symbol).observe(row.Date, "")
		}
		catalog.Datasets[string(DataTypeBeta)] = &CatalogDataset{
			File:    betaFile,
			Symbols: coverageMap(accums),
		}
	}

	raw, err := json.MarshalIndent(catalog, "", "  ")
	if err != nil {
		return err
	}

	tmp := store.CatalogPath() + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, store.CatalogPath())
}
