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
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/penny-vault/pv-options/common"
)

const (
	defaultChunkDays   = 7
	defaultMaxAttempts = 5
	betaWindow         = 252
	betaBenchmark      = "SPY"
)

// throttle maintains a single inter-request delay for one vendor adapter.
// Transient failures increase the delay multiplicatively; successes decay
// it back toward the floor.
type throttle struct {
	mu    sync.Mutex
	delay time.Duration
	floor time.Duration
	max   time.Duration
}

func newThrottle(floor, max time.Duration) *throttle {
	return &throttle{delay: floor, floor: floor, max: max}
}

func (t *throttle) wait(ctx context.Context) error {
	t.mu.Lock()
	delay := t.delay
	t.mu.Unlock()

	if delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

func (t *throttle) backoff() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.delay = t.delay * 3 / 2
	if t.delay > t.max {
		t.delay = t.max
	}
	return t.delay
}

func (t *throttle) relax() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.delay = t.delay * 9 / 10
	if t.delay < t.floor {
		t.delay = t.floor
	}
}

// Downloader drives the vendor adapters for each detected gap, persisting
// per-chunk progress so interrupted downloads resume where they stopped.
type Downloader struct {
	store   *Store
	ledger  *ProgressLedger
	vendors VendorSet

	chunkDays   int
	maxAttempts int

	writeMu    sync.Mutex // serializes merge writes to shared dataset files
	throttleMu sync.Mutex
	throttles  map[DataType]*throttle
}

func NewDownloader(store *Store, ledger *ProgressLedger, vendors VendorSet) *Downloader {
	return &Downloader{
		store:       store,
		ledger:      ledger,
		vendors:     vendors,
		chunkDays:   defaultChunkDays,
		maxAttempts: defaultMaxAttempts,
		throttles: map[DataType]*throttle{
			DataTypeStock:          newThrottle(100*time.Millisecond, 30*time.Second),
			DataTypeOption:         newThrottle(250*time.Millisecond, 60*time.Second),
			DataTypeMacro:          newThrottle(500*time.Millisecond, 30*time.Second),
			DataTypeFundamentalEPS: newThrottle(500*time.Millisecond, 30*time.Second),
		},
	}
}

// FillGaps resolves gaps concurrently up to parallel workers. Per-gap
// failures demote the ledger entry and are collected, never fatal.
func (dl *Downloader) FillGaps(ctx context.Context, gaps []DataGap, parallel int) []error {
	if parallel < 1 {
		parallel = 1
	}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(parallel)

	errMu := sync.Mutex{}
	var errs []error

	for _, gap := range gaps {
		gap := gap
		group.Go(func() error {
			if err := dl.FillGap(gctx, gap); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("%s %s [%s..%s]: %w", gap.DataType, gap.Symbol,
					gap.MissingStart.Format(common.DateFormat), gap.MissingEnd.Format(common.DateFormat), err))
				errMu.Unlock()
			}
			return nil // gap failures never cancel sibling downloads
		})
	}

	group.Wait() //nolint:errcheck // workers always return nil
	if len(errs) > 0 {
		dl.store.logCatalogErr()
	}
	return errs
}

// FillGap resolves a single gap.
func (dl *Downloader) FillGap(ctx context.Context, gap DataGap) error {
	subLog := log.With().Str("DataType", string(gap.DataType)).Str("Symbol", gap.Symbol).
		Time("Start", gap.MissingStart).Time("End", gap.MissingEnd).Str("Reason", string(gap.Reason)).Logger()
	subLog.Info().Msg("filling data gap")

	var err error
	switch gap.DataType {
	case DataTypeStock:
		err = dl.fillStock(ctx, gap)
	case DataTypeOption:
		err = dl.fillOption(ctx, gap)
	case DataTypeMacro:
		err = dl.fillMacro(ctx, gap)
	case DataTypeFundamentalEPS, DataTypeFundamentalRev, DataTypeFundamentalDiv:
		err = dl.fillFundamentals(ctx, gap)
	case DataTypeBeta:
		err = dl.fillBeta(gap)
	default:
		err = ErrUnknownDataType
	}

	if err != nil {
		subLog.Error().Err(err).Msg("gap fill failed")
		if lerr := dl.ledger.Fail(gap.DataType, gap.Symbol, err); lerr != nil {
			subLog.Warn().Err(lerr).Msg("could not record failure in ledger")
		}
		return err
	}

	dl.store.logCatalogErr()
	return nil
}

func (dl *Downloader) fillStock(ctx context.Context, gap DataGap) error {
	if dl.vendors.Stock == nil {
		return fmt.Errorf("no stock vendor configured")
	}
	if err := dl.ledger.Begin(DataTypeStock, gap.Symbol, gap.MissingStart, gap.MissingEnd); err != nil {
		return err
	}

	rows, err := fetchWithRetry(ctx, dl, DataTypeStock, func(ctx context.Context) ([]StockEOD, error) {
		return dl.vendors.Stock.StockEOD(ctx, gap.Symbol, gap.MissingStart, gap.MissingEnd)
	})
	if err != nil {
		return err
	}

	dl.writeMu.Lock()
	err = dl.store.WriteStockEOD(rows)
	dl.writeMu.Unlock()
	if err != nil {
		return err
	}

	if err := dl.ledger.Advance(DataTypeStock, gap.Symbol, gap.MissingEnd, len(rows)); err != nil {
		return err
	}
	return dl.ledger.Complete(DataTypeStock, gap.Symbol)
}

// fillOption walks the gap in fixed-size calendar chunks, persisting the
// ledger after every chunk so a restart resumes at last_completed_date+1.
func (dl *Downloader) fillOption(ctx context.Context, gap DataGap) error {
	if dl.vendors.Option == nil {
		return fmt.Errorf("no option vendor configured")
	}
	if err := dl.ledger.Begin(DataTypeOption, gap.Symbol, gap.MissingStart, gap.MissingEnd); err != nil {
		return err
	}

	for chunkStart := gap.MissingStart; !chunkStart.After(gap.MissingEnd); chunkStart = chunkStart.AddDate(0, 0, dl.chunkDays) {
		chunkEnd := common.MinTime(chunkStart.AddDate(0, 0, dl.chunkDays-1), gap.MissingEnd)

		if common.WeekdaysIn(chunkStart, chunkEnd) == 0 {
			if err := dl.ledger.Advance(DataTypeOption, gap.Symbol, chunkEnd, 0); err != nil {
				return err
			}
			continue
		}

		rows, err := fetchWithRetry(ctx, dl, DataTypeOption, func(ctx context.Context) ([]OptionEOD, error) {
			return dl.vendors.Option.OptionEOD(ctx, gap.Symbol, chunkStart, chunkEnd)
		})
		if err != nil {
			return err
		}

		if len(rows) > 0 {
			if err := dl.store.WriteOptionEOD(gap.Symbol, rows); err != nil {
				return err
			}
		}
		if err := dl.ledger.Advance(DataTypeOption, gap.Symbol, chunkEnd, len(rows)); err != nil {
			return err
		}
	}

	return dl.ledger.Complete(DataTypeOption, gap.Symbol)
}

func (dl *Downloader) fillMacro(ctx context.Context, gap DataGap) error {
	if dl.vendors.Macro == nil {
		return fmt.Errorf("no macro vendor configured")
	}
	if err := dl.ledger.Begin(DataTypeMacro, gap.Symbol, gap.MissingStart, gap.MissingEnd); err != nil {
		return err
	}

	rows, err := fetchWithRetry(ctx, dl, DataTypeMacro, func(ctx context.Context) ([]MacroEOD, error) {
		return dl.vendors.Macro.MacroEOD(ctx, gap.Symbol, gap.MissingStart, gap.MissingEnd)
	})
	if err != nil {
		return err
	}

	dl.writeMu.Lock()
	err = dl.store.WriteMacroEOD(rows)
	dl.writeMu.Unlock()
	if err != nil {
		return err
	}

	if err := dl.ledger.Advance(DataTypeMacro, gap.Symbol, gap.MissingEnd, len(rows)); err != nil {
		return err
	}
	return dl.ledger.Complete(DataTypeMacro, gap.Symbol)
}

// fillFundamentals fetches the full composite history for the symbol; the
// three tables are always written together.
func (dl *Downloader) fillFundamentals(ctx context.Context, gap DataGap) error {
	if dl.vendors.Fundamental == nil {
		return fmt.Errorf("no fundamental vendor configured")
	}
	if err := dl.ledger.Begin(gap.DataType, gap.Symbol, gap.MissingStart, gap.MissingEnd); err != nil {
		return err
	}

	set, err := fetchWithRetry(ctx, dl, DataTypeFundamentalEPS, func(ctx context.Context) (*FundamentalSet, error) {
		return dl.vendors.Fundamental.Fundamentals(ctx, gap.Symbol)
	})
	if err != nil {
		return err
	}

	dl.writeMu.Lock()
	defer dl.writeMu.Unlock()

	if err := dl.store.WriteEPS(set.EPS); err != nil {
		return err
	}
	if err := dl.store.WriteRevenue(set.Revenue); err != nil {
		return err
	}
	if err := dl.store.WriteDividends(set.Dividends); err != nil {
		return err
	}

	total := len(set.EPS) + len(set.Revenue) + len(set.Dividends)
	if err := dl.ledger.Advance(gap.DataType, gap.Symbol, gap.MissingEnd, total); err != nil {
		return err
	}
	return dl.ledger.Complete(gap.DataType, gap.Symbol)
}

// fillBeta derives rolling betas locally from stored stock history; no
// vendor is involved.
func (dl *Downloader) fillBeta(gap DataGap) error {
	if err := dl.ledger.Begin(DataTypeBeta, gap.Symbol, gap.MissingStart, gap.MissingEnd); err != nil {
		return err
	}

	stocks, err := dl.store.ReadStockEOD()
	if err != nil {
		return err
	}

	var symCloses, benchCloses []StockEOD
	for _, row := range stocks {
		switch row.Symbol {
		case gap.Symbol:
			symCloses = append(symCloses, row)
		case betaBenchmark:
			benchCloses = append(benchCloses, row)
		}
	}
	if gap.Symbol == betaBenchmark {
		benchCloses = symCloses
	}

	rows := computeRollingBeta(gap.Symbol, symCloses, benchCloses, gap.MissingStart, gap.MissingEnd)

	dl.writeMu.Lock()
	err = dl.store.WriteBeta(rows)
	dl.writeMu.Unlock()
	if err != nil {
		return err
	}

	if err := dl.ledger.Advance(DataTypeBeta, gap.Symbol, gap.MissingEnd, len(rows)); err != nil {
		return err
	}
	return dl.ledger.Complete(DataTypeBeta, gap.Symbol)
}

// computeRollingBeta regresses the symbol's daily returns against the
// benchmark over a trailing 252-day window, emitting one row per trading
// day in [start, end] that has a full window behind it.
func computeRollingBeta(symbol string, symRows, benchRows []StockEOD, start, end time.Time) []BetaRow {
	sort.Slice(symRows, func(i, j int) bool { return symRows[i].Date.Before(symRows[j].Date) })
	sort.Slice(benchRows, func(i, j int) bool { return benchRows[i].Date.Before(benchRows[j].Date) })

	benchClose := make(map[time.Time]float64, len(benchRows))
	for _, row := range benchRows {
		benchClose[common.Midnight(row.Date)] = row.Close
	}

	// aligned daily returns on days both series traded
	type ret struct {
		date time.Time
		sym  float64
		mkt  float64
	}
	var rets []ret
	var prevSym, prevMkt float64
	havePrev := false
	for _, row := range symRows {
		mkt, ok := benchClose[common.Midnight(row.Date)]
		if !ok {
			continue
		}
		if havePrev && prevSym > 0 && prevMkt > 0 {
			rets = append(rets, ret{
				date: common.Midnight(row.Date),
				sym:  row.Close/prevSym - 1,
				mkt:  mkt/prevMkt - 1,
			})
		}
		prevSym = row.Close
		prevMkt = mkt
		havePrev = true
	}

	var out []BetaRow
	for ii := betaWindow - 1; ii < len(rets); ii++ {
		date := rets[ii].date
		if date.Before(start) || date.After(end) {
			continue
		}

		symWin := make([]float64, betaWindow)
		mktWin := make([]float64, betaWindow)
		for jj := 0; jj < betaWindow; jj++ {
			symWin[jj] = rets[ii-betaWindow+1+jj].sym
			mktWin[jj] = rets[ii-betaWindow+1+jj].mkt
		}

		variance := stat.Variance(mktWin, nil)
		if variance <= 0 || math.IsNaN(variance) {
			continue
		}
		beta := stat.Covariance(symWin, mktWin, nil) / variance
		out = append(out, BetaRow{Symbol: symbol, Date: date, Beta: beta})
	}
	return out
}

// fetchWithRetry runs one vendor request with adaptive throttling and
// bounded retries on transient failures.
func fetchWithRetry[T any](ctx context.Context, dl *Downloader, dataType DataType, fetch func(context.Context) (T, error)) (T, error) {
	var zero T

	dl.throttleMu.Lock()
	th, ok := dl.throttles[dataType]
	if !ok {
		th = newThrottle(100*time.Millisecond, 30*time.Second)
		dl.throttles[dataType] = th
	}
	dl.throttleMu.Unlock()

	var lastErr error
	for attempt := 0; attempt < dl.maxAttempts; attempt++ {
		if err := th.wait(ctx); err != nil {
			return zero, err
		}

		result, err := fetch(ctx)
		if err == nil {
			th.relax()
			return result, nil
		}

		lastErr = err
		if !IsTransient(err) {
			return zero, err
		}
		next := th.backoff()
		log.Warn().Err(err).Str("DataType", string(dataType)).Int("Attempt", attempt+1).
			Dur("NextDelay", next).Msg("transient vendor error; backing off")
	}
	return zero, fmt.Errorf("retries exhausted: %w", lastErr)
}
