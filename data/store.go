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
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/rs/zerolog/log"
)

const (
	stockFile    = "stock_daily.parquet"
	optionDir    = "option_daily"
	macroFile    = "macro_daily.parquet"
	epsFile      = "fundamental_eps.parquet"
	revenueFile  = "fundamental_revenue.parquet"
	dividendFile = "fundamental_dividend.parquet"
	betaFile     = "stock_beta_daily.parquet"
	progressFile = ".download_progress.json"
	catalogFile  = "data_catalog.json"
	calendarFile = "economic_calendar.json"
)

// Store is the layered on-disk parquet store rooted at a data directory.
// Every write is merge-and-dedup on the dataset's natural key followed by a
// write-temp-and-rename so concurrent readers never observe partial files.
type Store struct {
	dataDir string
}

func NewStore(dataDir string) *Store {
	return &Store{dataDir: dataDir}
}

func (store *Store) DataDir() string {
	return store.dataDir
}

// DatasetPath resolves the file a (dataType, symbol, year) triple lives in.
// Symbol and year are only meaningful for option data.
func (store *Store) DatasetPath(dataType DataType, symbol string, year int) (string, error) {
	switch dataType {
	case DataTypeStock:
		return filepath.Join(store.dataDir, stockFile), nil
	case DataTypeOption:
		return filepath.Join(store.dataDir, optionDir, strings.ToUpper(symbol), fmt.Sprintf("%04d.parquet", year)), nil
	case DataTypeMacro:
		return filepath.Join(store.dataDir, macroFile), nil
	case DataTypeFundamentalEPS:
		return filepath.Join(store.dataDir, epsFile), nil
	case DataTypeFundamentalRev:
		return filepath.Join(store.dataDir, revenueFile), nil
	case DataTypeFundamentalDiv:
		return filepath.Join(store.dataDir, dividendFile), nil
	case DataTypeBeta:
		return filepath.Join(store.dataDir, betaFile), nil
	}
	return "", ErrUnknownDataType
}

func (store *Store) ProgressPath() string {
	return filepath.Join(store.dataDir, progressFile)
}

func (store *Store) CatalogPath() string {
	return filepath.Join(store.dataDir, catalogFile)
}

func (store *Store) CalendarPath() string {
	return filepath.Join(store.dataDir, calendarFile)
}

// readRows loads every row of a parquet file. A missing file means no
// coverage and yields an empty slice, never an error.
func readRows[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return rows, nil
}

// writeRowsAtomic writes rows to a temp file in the destination directory
// and renames it into place.
func writeRowsAtomic[T any](path string, rows []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}

	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, rows); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s: %w", tmp, err)
	}
	return nil
}

// keyed is satisfied by every dataset row type.
type keyed interface {
	Key() string
}

// mergeRows concatenates existing and incoming rows, sorts by natural key,
// and deduplicates keeping the latest write for each key.
func mergeRows[T keyed](existing, incoming []T) []T {
	combined := make([]T, 0, len(existing)+len(incoming))
	combined = append(combined, existing...)
	combined = append(combined, incoming...)

	// stable: for equal keys, later writes stay after earlier ones
	sort.SliceStable(combined, func(i, j int) bool {
		return combined[i].Key() < combined[j].Key()
	})

	deduped := combined[:0]
	for ii := range combined {
		if ii+1 < len(combined) && combined[ii].Key() == combined[ii+1].Key() {
			continue // a later write for the same key follows
		}
		deduped = append(deduped, combined[ii])
	}
	return deduped
}

// mergeWrite reads path, merges rows in, and atomically rewrites the file.
func mergeWrite[T keyed](path string, rows []T) error {
	existing, err := readRows[T](path)
	if err != nil {
		return err
	}
	return writeRowsAtomic(path, mergeRows(existing, rows))
}

// Typed dataset accessors

func (store *Store) ReadStockEOD() ([]StockEOD, error) {
	path, _ := store.DatasetPath(DataTypeStock, "", 0)
	return readRows[StockEOD](path)
}

func (store *Store) WriteStockEOD(rows []StockEOD) error {
	path, _ := store.DatasetPath(DataTypeStock, "", 0)
	return mergeWrite(path, rows)
}

func (store *Store) ReadOptionEOD(symbol string, year int) ([]OptionEOD, error) {
	path, _ := store.DatasetPath(DataTypeOption, symbol, year)
	return readRows[OptionEOD](path)
}

// WriteOptionEOD splits rows by EOD year and merges each slice into the
// per-symbol per-year file it belongs to.
func (store *Store) WriteOptionEOD(symbol string, rows []OptionEOD) error {
	byYear := make(map[int][]OptionEOD)
	for _, row := range rows {
		byYear[row.Date.Year()] = append(byYear[row.Date.Year()], row)
	}

	years := make([]int, 0, len(byYear))
	for year := range byYear {
		years = append(years, year)
	}
	sort.Ints(years)

	for _, year := range years {
		path, _ := store.DatasetPath(DataTypeOption, symbol, year)
		if err := mergeWrite(path, byYear[year]); err != nil {
			return err
		}
	}
	return nil
}

// OptionYears lists the years with option coverage for a symbol, ascending.
func (store *Store) OptionYears(symbol string) []int {
	dir := filepath.Join(store.dataDir, optionDir, strings.ToUpper(symbol))
	matches, err := filepath.Glob(filepath.Join(dir, "*.parquet"))
	if err != nil {
		return nil
	}

	years := make([]int, 0, len(matches))
	for _, m := range matches {
		base := strings.TrimSuffix(filepath.Base(m), ".parquet")
		if year, err := strconv.Atoi(base); err == nil {
			years = append(years, year)
		}
	}
	sort.Ints(years)
	return years
}

// OptionSymbols lists the underlyings with any option coverage.
func (store *Store) OptionSymbols() []string {
	entries, err := os.ReadDir(filepath.Join(store.dataDir, optionDir))
	if err != nil {
		return nil
	}

	symbols := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			symbols = append(symbols, entry.Name())
		}
	}
	sort.Strings(symbols)
	return symbols
}

func (store *Store) ReadMacroEOD() ([]MacroEOD, error) {
	path, _ := store.DatasetPath(DataTypeMacro, "", 0)
	return readRows[MacroEOD](path)
}

func (store *Store) WriteMacroEOD(rows []MacroEOD) error {
	path, _ := store.DatasetPath(DataTypeMacro, "", 0)
	return mergeWrite(path, rows)
}

func (store *Store) ReadEPS() ([]EPSRow, error) {
	path, _ := store.DatasetPath(DataTypeFundamentalEPS, "", 0)
	return readRows[EPSRow](path)
}

func (store *Store) WriteEPS(rows []EPSRow) error {
	path, _ := store.DatasetPath(DataTypeFundamentalEPS, "", 0)
	return mergeWrite(path, rows)
}

func (store *Store) ReadRevenue() ([]RevenueRow, error) {
	path, _ := store.DatasetPath(DataTypeFundamentalRev, "", 0)
	return readRows[RevenueRow](path)
}

func (store *Store) WriteRevenue(rows []RevenueRow) error {
	path, _ := store.DatasetPath(DataTypeFundamentalRev, "", 0)
	return mergeWrite(path, rows)
}

func (store *Store) ReadDividends() ([]DividendRow, error) {
	path, _ := store.DatasetPath(DataTypeFundamentalDiv, "", 0)
	return readRows[DividendRow](path)
}

func (store *Store) WriteDividends(rows []DividendRow) error {
	path, _ := store.DatasetPath(DataTypeFundamentalDiv, "", 0)
	return mergeWrite(path, rows)
}

func (store *Store) ReadBeta() ([]BetaRow, error) {
	path, _ := store.DatasetPath(DataTypeBeta, "", 0)
	return readRows[BetaRow](path)
}

func (store *Store) WriteBeta(rows []BetaRow) error {
	path, _ := store.DatasetPath(DataTypeBeta, "", 0)
	return mergeWrite(path, rows)
}

// logCatalogErr refreshes the data catalog after a write batch. Catalog
// failures are informational only and never fail the caller.
func (store *Store) logCatalogErr() {
	if err := store.RefreshCatalog(); err != nil {
		log.Warn().Err(err).Str("Path", store.CatalogPath()).Msg("could not refresh data catalog")
	}
}
