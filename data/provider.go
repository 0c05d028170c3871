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
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/penny-vault/pv-options/common"
)

const maxDayCacheEntries = 1000

// PriceMode selects which end-of-day price a quote is marked at.
type PriceMode string

const (
	PriceModeOpen  PriceMode = "open"
	PriceModeClose PriceMode = "close"
	PriceModeMid   PriceMode = "mid"
)

// StockPrice extracts the configured price from a stock bar. Mid falls back
// to close when bid/ask are unavailable.
func (mode PriceMode) StockPrice(row *StockEOD) float64 {
	switch mode {
	case PriceModeOpen:
		return row.Open
	case PriceModeMid:
		if row.Bid != nil && row.Ask != nil && *row.Bid > 0 && *row.Ask > 0 {
			return (*row.Bid + *row.Ask) / 2
		}
		return row.Close
	default:
		return row.Close
	}
}

// OptionPrice extracts the configured price from an option quote.
func (mode PriceMode) OptionPrice(quote *OptionQuote) float64 {
	switch mode {
	case PriceModeOpen:
		return quote.Open
	case PriceModeMid:
		if quote.Bid != nil && quote.Ask != nil && *quote.Bid > 0 && *quote.Ask > 0 {
			return (*quote.Bid + *quote.Ask) / 2
		}
		return quote.Close
	default:
		return quote.Close
	}
}

// OptionQuote is an option EOD row addressed by its synthetic contract
// symbol.
type OptionQuote struct {
	OptionEOD
	Symbol string
}

// OptionChain holds every quoted contract of an underlying for one day.
type OptionChain struct {
	Underlying      string
	Date            time.Time
	UnderlyingPrice float64
	Calls           []OptionQuote
	Puts            []OptionQuote
}

// Quotes returns calls and puts as a single list.
func (chain *OptionChain) Quotes() []OptionQuote {
	quotes := make([]OptionQuote, 0, len(chain.Calls)+len(chain.Puts))
	quotes = append(quotes, chain.Calls...)
	quotes = append(quotes, chain.Puts...)
	return quotes
}

// Fundamental is the latest trailing-twelve-month view of a symbol.
type Fundamental struct {
	Symbol      string
	EPS         float64
	EPSDate     time.Time
	Revenue     float64
	RevenueDate time.Time
	Currency    string
}

// EPSPoint is one historical EPS observation.
type EPSPoint struct {
	Date  time.Time
	Value float64
}

// knownETFs never have fundamentals; lookups are skipped instead of
// triggering a download per run.
var knownETFs = map[string]bool{
	"SPY": true, "QQQ": true, "IWM": true, "DIA": true, "GLD": true,
	"SLV": true, "TLT": true, "HYG": true, "XLE": true, "XLF": true,
	"XLK": true, "EEM": true, "EFA": true, "VTI": true, "VOO": true,
}

// ContractSymbol builds the deterministic synthetic contract id:
// UNDERLYING + YYMMDD + C|P + strike*1000 zero-padded to 8 digits.
func ContractSymbol(underlying string, expiration time.Time, optType OptionType, strike float64) string {
	cp := "P"
	if optType == OptionTypeCall {
		cp = "C"
	}
	return fmt.Sprintf("%s%s%s%08d", strings.ToUpper(underlying),
		expiration.Format("060102"), cp, int(math.Round(strike*1000)))
}

// ParseContractSymbol reverses ContractSymbol.
func ParseContractSymbol(symbol string) (underlying string, expiration time.Time, optType OptionType, strike float64, err error) {
	if len(symbol) < 16 {
		err = fmt.Errorf("contract symbol too short: %q", symbol)
		return
	}

	underlying = symbol[:len(symbol)-15]
	dateStr := symbol[len(symbol)-15 : len(symbol)-9]
	cp := symbol[len(symbol)-9]
	strikeStr := symbol[len(symbol)-8:]

	expiration, err = time.Parse("060102", dateStr)
	if err != nil {
		err = fmt.Errorf("contract symbol %q: %w", symbol, err)
		return
	}
	expiration = common.Midnight(expiration)

	switch cp {
	case 'C':
		optType = OptionTypeCall
	case 'P':
		optType = OptionTypePut
	default:
		err = fmt.Errorf("contract symbol %q: bad option type %q", symbol, cp)
		return
	}

	milli, err := strconv.Atoi(strikeStr)
	if err != nil {
		err = fmt.Errorf("contract symbol %q: bad strike: %w", symbol, err)
		return
	}
	strike = float64(milli) / 1000.0
	return
}

// Provider is the point-in-time read API over the parquet store. It holds a
// single as-of date cursor; every row it returns is dated on or before the
// cursor. Full-series caches survive cursor moves because historical rows
// are immutable; per-day caches are dropped whenever the cursor changes.
//
// A Provider has a single owner and is not safe for concurrent use.
type Provider struct {
	store *Store
	asOf  time.Time

	// full-series caches, loaded on first touch, keyed by symbol
	klineCache  map[string][]StockEOD
	macroCache  map[string][]MacroEOD
	betaCache   map[string][]BetaRow
	epsCache    map[string][]EPSRow
	revCache    map[string][]RevenueRow
	divCache    map[string][]DividendRow
	stockLoaded bool
	macroLoaded bool
	betaLoaded  bool
	fundLoaded  bool

	// per-day caches, purged on SetAsOf
	quoteCache *lru.Cache[string, *StockEOD]
	chainCache *lru.Cache[string, *OptionChain]
	volCache   *lru.Cache[string, *StockVolatility]

	// fundamentals auto-download
	downloader       *Downloader
	autoDownload     bool
	fundamentalTried map[string]bool

	// economic calendar blackout
	calendar     *EconomicCalendar
	blackoutKey  string
	blackoutDays map[time.Time][]CalendarEvent
}

// NewProvider creates a provider with its cursor at asOf.
func NewProvider(store *Store, asOf time.Time) *Provider {
	quoteCache, _ := lru.New[string, *StockEOD](maxDayCacheEntries)
	chainCache, _ := lru.New[string, *OptionChain](maxDayCacheEntries)
	volCache, _ := lru.New[string, *StockVolatility](maxDayCacheEntries)

	return &Provider{
		store:            store,
		asOf:             common.Midnight(asOf),
		klineCache:       make(map[string][]StockEOD),
		macroCache:       make(map[string][]MacroEOD),
		betaCache:        make(map[string][]BetaRow),
		epsCache:         make(map[string][]EPSRow),
		revCache:         make(map[string][]RevenueRow),
		divCache:         make(map[string][]DividendRow),
		quoteCache:       quoteCache,
		chainCache:       chainCache,
		volCache:         volCache,
		fundamentalTried: make(map[string]bool),
	}
}

// EnableAutoDownload lets Fundamental trigger one download attempt per
// symbol per run on a cache miss.
func (p *Provider) EnableAutoDownload(dl *Downloader) {
	p.downloader = dl
	p.autoDownload = dl != nil
}

// AsOf returns the cursor.
func (p *Provider) AsOf() time.Time {
	return p.asOf
}

// SetAsOf moves the cursor and drops all per-day caches. Full-series
// caches are preserved.
func (p *Provider) SetAsOf(date time.Time) {
	date = common.Midnight(date)
	if date.Equal(p.asOf) {
		return
	}
	p.asOf = date
	p.quoteCache.Purge()
	p.chainCache.Purge()
	p.volCache.Purge()
}

// Store exposes the underlying store (read-only use).
func (p *Provider) Store() *Store {
	return p.store
}

func (p *Provider) loadStocks() {
	if p.stockLoaded {
		return
	}
	p.stockLoaded = true

	rows, err := p.store.ReadStockEOD()
	if err != nil {
		log.Warn().Err(err).Msg("could not read stock data")
		return
	}
	for _, row := range rows {
		symbol := strings.ToUpper(row.Symbol)
		p.klineCache[symbol] = append(p.klineCache[symbol], row)
	}
	for symbol := range p.klineCache {
		series := p.klineCache[symbol]
		sort.Slice(series, func(i, j int) bool { return series[i].Date.Before(series[j].Date) })
	}
}

func (p *Provider) loadMacro() {
	if p.macroLoaded {
		return
	}
	p.macroLoaded = true

	rows, err := p.store.ReadMacroEOD()
	if err != nil {
		log.Warn().Err(err).Msg("could not read macro data")
		return
	}
	for _, row := range rows {
		p.macroCache[row.Indicator] = append(p.macroCache[row.Indicator], row)
	}
	for indicator := range p.macroCache {
		series := p.macroCache[indicator]
		sort.Slice(series, func(i, j int) bool { return series[i].Date.Before(series[j].Date) })
	}
}

func (p *Provider) loadBeta() {
	if p.betaLoaded {
		return
	}
	p.betaLoaded = true

	rows, err := p.store.ReadBeta()
	if err != nil {
		log.Warn().Err(err).Msg("could not read beta data")
		return
	}
	for _, row := range rows {
		symbol := strings.ToUpper(row.Symbol)
		p.betaCache[symbol] = append(p.betaCache[symbol], row)
	}
	for symbol := range p.betaCache {
		series := p.betaCache[symbol]
		sort.Slice(series, func(i, j int) bool { return series[i].Date.Before(series[j].Date) })
	}
}

func (p *Provider) loadFundamentals() {
	if p.fundLoaded {
		return
	}
	p.fundLoaded = true

	if rows, err := p.store.ReadEPS(); err == nil {
		for _, row := range rows {
			symbol := strings.ToUpper(row.Symbol)
			p.epsCache[symbol] = append(p.epsCache[symbol], row)
		}
	}
	if rows, err := p.store.ReadRevenue(); err == nil {
		for _, row := range rows {
			symbol := strings.ToUpper(row.Symbol)
			p.revCache[symbol] = append(p.revCache[symbol], row)
		}
	}
	if rows, err := p.store.ReadDividends(); err == nil {
		for _, row := range rows {
			symbol := strings.ToUpper(row.Symbol)
			p.divCache[symbol] = append(p.divCache[symbol], row)
		}
	}
	for symbol := range p.epsCache {
		series := p.epsCache[symbol]
		sort.Slice(series, func(i, j int) bool { return series[i].AsOfDate.Before(series[j].AsOfDate) })
	}
	for symbol := range p.revCache {
		series := p.revCache[symbol]
		sort.Slice(series, func(i, j int) bool { return series[i].AsOfDate.Before(series[j].AsOfDate) })
	}
	for symbol := range p.divCache {
		series := p.divCache[symbol]
		sort.Slice(series, func(i, j int) bool { return series[i].ExDate.Before(series[j].ExDate) })
	}
}

// StockQuote returns the symbol's bar for the as-of date, nil when the
// symbol did not trade that day.
func (p *Provider) StockQuote(symbol string) *StockEOD {
	symbol = strings.ToUpper(symbol)
	if quote, ok := p.quoteCache.Get(symbol); ok {
		return quote
	}

	p.loadStocks()
	series := p.klineCache[symbol]
	idx := sort.Search(len(series), func(i int) bool { return !series[i].Date.Before(p.asOf) })
	if idx >= len(series) || !common.DateEqual(series[idx].Date, p.asOf) {
		return nil
	}

	quote := &series[idx]
	p.quoteCache.Add(symbol, quote)
	return quote
}

// HistoryKline returns the symbol's bars in [start, end]; the effective end
// never exceeds the cursor.
func (p *Provider) HistoryKline(symbol string, start, end time.Time) []StockEOD {
	p.loadStocks()
	series := p.klineCache[strings.ToUpper(symbol)]
	return sliceByDate(series, func(row StockEOD) time.Time { return row.Date }, start, common.MinTime(end, p.asOf))
}

// OptionChain returns every contract of the underlying quoted on the as-of
// date whose expiration falls in [expiryStart, expiryEnd] (zero values mean
// unbounded) and whose days-to-expiration lies in [minDTE, maxDTE] (≤0
// means unbounded). Nil when no contracts are quoted.
func (p *Provider) OptionChain(underlying string, expiryStart, expiryEnd time.Time, minDTE, maxDTE int) *OptionChain {
	underlying = strings.ToUpper(underlying)
	cacheKey := fmt.Sprintf("%s|%s|%s|%d|%d", underlying,
		expiryStart.Format(common.DateFormat), expiryEnd.Format(common.DateFormat), minDTE, maxDTE)
	if chain, ok := p.chainCache.Get(cacheKey); ok {
		return chain
	}

	rows, err := p.store.ReadOptionEOD(underlying, p.asOf.Year())
	if err != nil {
		log.Warn().Err(err).Str("Underlying", underlying).Msg("could not read option data")
		return nil
	}

	chain := &OptionChain{Underlying: underlying, Date: p.asOf}
	for _, row := range rows {
		if !common.DateEqual(row.Date, p.asOf) {
			continue
		}
		if !expiryStart.IsZero() && row.Expiration.Before(common.Midnight(expiryStart)) {
			continue
		}
		if !expiryEnd.IsZero() && row.Expiration.After(common.Midnight(expiryEnd)) {
			continue
		}
		dte := common.DaysBetween(p.asOf, row.Expiration)
		if minDTE > 0 && dte < minDTE {
			continue
		}
		if maxDTE > 0 && dte > maxDTE {
			continue
		}

		quote := OptionQuote{
			OptionEOD: row,
			Symbol:    ContractSymbol(underlying, row.Expiration, row.OptionType, row.Strike),
		}
		chain.UnderlyingPrice = row.UnderlyingPrice
		if row.OptionType == OptionTypeCall {
			chain.Calls = append(chain.Calls, quote)
		} else {
			chain.Puts = append(chain.Puts, quote)
		}
	}

	if len(chain.Calls) == 0 && len(chain.Puts) == 0 {
		return nil
	}

	byContract := func(quotes []OptionQuote) {
		sort.Slice(quotes, func(i, j int) bool {
			if !quotes[i].Expiration.Equal(quotes[j].Expiration) {
				return quotes[i].Expiration.Before(quotes[j].Expiration)
			}
			return quotes[i].Strike < quotes[j].Strike
		})
	}
	byContract(chain.Calls)
	byContract(chain.Puts)

	p.chainCache.Add(cacheKey, chain)
	return chain
}

// OptionQuotesBatch resolves specific contracts by synthetic symbol,
// optionally requiring a minimum day volume.
func (p *Provider) OptionQuotesBatch(contracts []string, minVolume int64) []OptionQuote {
	quotes := make([]OptionQuote, 0, len(contracts))
	for _, contract := range contracts {
		underlying, expiration, optType, strike, err := ParseContractSymbol(contract)
		if err != nil {
			log.Warn().Err(err).Str("Contract", contract).Msg("skipping unparseable contract symbol")
			continue
		}

		chain := p.OptionChain(underlying, time.Time{}, time.Time{}, 0, 0)
		if chain == nil {
			continue
		}

		side := chain.Puts
		if optType == OptionTypeCall {
			side = chain.Calls
		}
		for _, quote := range side {
			if quote.Expiration.Equal(expiration) && math.Abs(quote.Strike-strike) < 1e-9 {
				if minVolume <= 0 || quote.Volume >= minVolume {
					quotes = append(quotes, quote)
				}
				break
			}
		}
	}
	return quotes
}

// MacroData returns indicator bars in [start, end], clamped at the cursor.
func (p *Provider) MacroData(indicator string, start, end time.Time) []MacroEOD {
	p.loadMacro()
	series := p.macroCache[strings.ToUpper(indicator)]
	return sliceByDate(series, func(row MacroEOD) time.Time { return row.Date }, start, common.MinTime(end, p.asOf))
}

// Fundamental returns the latest TTM/12M EPS and revenue on or before the
// cursor. When auto-download is enabled, a miss triggers at most one
// download attempt per symbol per run; known ETFs are never attempted.
func (p *Provider) Fundamental(symbol string) *Fundamental {
	symbol = strings.ToUpper(symbol)
	p.loadFundamentals()

	fund := p.latestFundamental(symbol)
	if fund != nil {
		return fund
	}

	if !p.autoDownload || knownETFs[symbol] || p.fundamentalTried[symbol] {
		return nil
	}
	p.fundamentalTried[symbol] = true

	gap := DataGap{
		Symbol:       symbol,
		DataType:     DataTypeFundamentalEPS,
		MissingStart: p.asOf.AddDate(-5, 0, 0),
		MissingEnd:   p.asOf,
		Reason:       GapNewSymbol,
	}
	if err := p.downloader.FillGap(context.Background(), gap); err != nil {
		log.Warn().Err(err).Str("Symbol", symbol).Msg("fundamental auto-download failed")
		return nil
	}

	// reload from disk
	p.fundLoaded = false
	p.epsCache = make(map[string][]EPSRow)
	p.revCache = make(map[string][]RevenueRow)
	p.divCache = make(map[string][]DividendRow)
	p.loadFundamentals()
	return p.latestFundamental(symbol)
}

func (p *Provider) latestFundamental(symbol string) *Fundamental {
	var fund *Fundamental
	for _, row := range p.epsCache[symbol] {
		if row.ReportType != "TTM" || row.Period != "12M" || row.AsOfDate.After(p.asOf) {
			continue
		}
		if fund == nil {
			fund = &Fundamental{Symbol: symbol}
		}
		fund.EPS = row.EPS
		fund.EPSDate = row.AsOfDate
		fund.Currency = row.Currency
	}
	for _, row := range p.revCache[symbol] {
		if row.ReportType != "TTM" || row.Period != "12M" || row.AsOfDate.After(p.asOf) {
			continue
		}
		if fund == nil {
			fund = &Fundamental{Symbol: symbol}
		}
		fund.Revenue = row.Revenue
		fund.RevenueDate = row.AsOfDate
		if fund.Currency == "" {
			fund.Currency = row.Currency
		}
	}
	return fund
}

// DividendDates returns dividends with ex-date in [start, end], clamped at
// the cursor. Zero bounds are unbounded.
func (p *Provider) DividendDates(symbol string, start, end time.Time) []DividendRow {
	p.loadFundamentals()

	var out []DividendRow
	for _, row := range p.divCache[strings.ToUpper(symbol)] {
		if row.ExDate.After(p.asOf) {
			continue
		}
		if !start.IsZero() && row.ExDate.Before(common.Midnight(start)) {
			continue
		}
		if !end.IsZero() && row.ExDate.After(common.Midnight(end)) {
			continue
		}
		out = append(out, row)
	}
	return out
}

// HistoricalEPS returns (date, eps) points of the requested report type in
// [start, end], clamped at the cursor. Zero bounds are unbounded.
func (p *Provider) HistoricalEPS(symbol string, start, end time.Time, reportType string) []EPSPoint {
	p.loadFundamentals()

	var out []EPSPoint
	for _, row := range p.epsCache[strings.ToUpper(symbol)] {
		if row.ReportType != reportType || row.AsOfDate.After(p.asOf) {
			continue
		}
		if !start.IsZero() && row.AsOfDate.Before(common.Midnight(start)) {
			continue
		}
		if !end.IsZero() && row.AsOfDate.After(common.Midnight(end)) {
			continue
		}
		out = append(out, EPSPoint{Date: row.AsOfDate, Value: row.EPS})
	}
	return out
}

// TradingDays lists the distinct dates with stock coverage in [start, end],
// ascending. The day list is calendar metadata used to drive the simulation
// loop and is not clamped at the cursor. When a symbol is given, only its
// trading days count; with no stock data at all, the first option directory
// is consulted instead.
func (p *Provider) TradingDays(start, end time.Time, symbol string) []time.Time {
	start = common.Midnight(start)
	end = common.Midnight(end)

	p.loadStocks()

	seen := make(map[time.Time]bool)
	if symbol != "" {
		for _, row := range p.klineCache[strings.ToUpper(symbol)] {
			day := common.Midnight(row.Date)
			if !day.Before(start) && !day.After(end) {
				seen[day] = true
			}
		}
	} else {
		for _, series := range p.klineCache {
			for _, row := range series {
				day := common.Midnight(row.Date)
				if !day.Before(start) && !day.After(end) {
					seen[day] = true
				}
			}
		}
	}

	if len(seen) == 0 {
		// fall back to the first underlying with option coverage
		symbols := p.store.OptionSymbols()
		if len(symbols) > 0 {
			for _, year := range p.store.OptionYears(symbols[0]) {
				if year < start.Year() || year > end.Year() {
					continue
				}
				rows, err := p.store.ReadOptionEOD(symbols[0], year)
				if err != nil {
					continue
				}
				for _, row := range rows {
					day := common.Midnight(row.Date)
					if !day.Before(start) && !day.After(end) {
						seen[day] = true
					}
				}
			}
		}
	}

	days := make([]time.Time, 0, len(seen))
	for day := range seen {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}

// StockBeta returns the latest rolling beta on or before asOf (the cursor
// when zero). Nil when no coverage.
func (p *Provider) StockBeta(symbol string, asOf time.Time) *float64 {
	if asOf.IsZero() {
		asOf = p.asOf
	}
	asOf = common.MinTime(common.Midnight(asOf), p.asOf)

	p.loadBeta()
	series := p.betaCache[strings.ToUpper(symbol)]

	var beta *float64
	for ii := range series {
		if series[ii].Date.After(asOf) {
			break
		}
		beta = &series[ii].Beta
	}
	return beta
}

// sliceByDate returns the subslice of rows with date in [start, end].
// Rows are sorted ascending by date.
func sliceByDate[T any](rows []T, dateOf func(T) time.Time, start, end time.Time) []T {
	start = common.Midnight(start)
	end = common.Midnight(end)
	if end.Before(start) {
		return nil
	}

	lo := sort.Search(len(rows), func(i int) bool { return !dateOf(rows[i]).Before(start) })
	hi := sort.Search(len(rows), func(i int) bool { return dateOf(rows[i]).After(end) })
	if lo >= hi {
		return nil
	}
	return rows[lo:hi]
}
