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
	"time"
)

// DataType identifies one of the datasets kept in the parquet store.
type DataType string

const (
	DataTypeStock          DataType = "stock"
	DataTypeOption         DataType = "option"
	DataTypeMacro          DataType = "macro"
	DataTypeFundamentalEPS DataType = "fundamental_eps"
	DataTypeFundamentalRev DataType = "fundamental_revenue"
	DataTypeFundamentalDiv DataType = "fundamental_dividend"
	DataTypeBeta           DataType = "stock_beta"
)

// OptionType is the contract right: call or put.
type OptionType string

const (
	OptionTypeCall OptionType = "call"
	OptionTypePut  OptionType = "put"
)

// StockEOD is one end-of-day stock bar. Natural key (symbol, date).
type StockEOD struct {
	Symbol string    `parquet:"symbol,dict" json:"symbol"`
	Date   time.Time `parquet:"date,timestamp(millisecond)" json:"date"`
	Open   float64   `parquet:"open" json:"open"`
	High   float64   `parquet:"high" json:"high"`
	Low    float64   `parquet:"low" json:"low"`
	Close  float64   `parquet:"close" json:"close"`
	Volume int64     `parquet:"volume" json:"volume"`
	Count  int32     `parquet:"count" json:"count"`
	Bid    *float64  `parquet:"bid,optional" json:"bid,omitempty"`
	Ask    *float64  `parquet:"ask,optional" json:"ask,omitempty"`
}

// OptionEOD is one end-of-day option quote with greeks.
// Natural key (underlying_symbol, expiration, strike, option_type, date).
type OptionEOD struct {
	UnderlyingSymbol string     `parquet:"underlying_symbol,dict" json:"underlying_symbol"`
	Expiration       time.Time  `parquet:"expiration,timestamp(millisecond)" json:"expiration"`
	Strike           float64    `parquet:"strike" json:"strike"`
	OptionType       OptionType `parquet:"option_type,dict" json:"option_type"`
	Date             time.Time  `parquet:"date,timestamp(millisecond)" json:"date"`
	Open             float64    `parquet:"open" json:"open"`
	High             float64    `parquet:"high" json:"high"`
	Low              float64    `parquet:"low" json:"low"`
	Close            float64    `parquet:"close" json:"close"`
	Volume           int64      `parquet:"volume" json:"volume"`
	Count            int32      `parquet:"count" json:"count"`
	Bid              *float64   `parquet:"bid,optional" json:"bid,omitempty"`
	Ask              *float64   `parquet:"ask,optional" json:"ask,omitempty"`
	Delta            float64    `parquet:"delta" json:"delta"`
	Gamma            float64    `parquet:"gamma" json:"gamma"`
	Theta            float64    `parquet:"theta" json:"theta"`
	Vega             float64    `parquet:"vega" json:"vega"`
	Rho              float64    `parquet:"rho" json:"rho"`
	ImpliedVol       float64    `parquet:"implied_vol" json:"implied_vol"`
	UnderlyingPrice  float64    `parquet:"underlying_price" json:"underlying_price"`
	OpenInterest     *int64     `parquet:"open_interest,optional" json:"open_interest,omitempty"`
	IVError          *float64   `parquet:"iv_error,optional" json:"iv_error,omitempty"`
}

// MacroEOD is one end-of-day macro indicator bar (e.g. ^VIX).
// Natural key (indicator, date).
type MacroEOD struct {
	Indicator string    `parquet:"indicator,dict" json:"indicator"`
	Date      time.Time `parquet:"date,timestamp(millisecond)" json:"date"`
	Open      float64   `parquet:"open" json:"open"`
	High      float64   `parquet:"high" json:"high"`
	Low       float64   `parquet:"low" json:"low"`
	Close     float64   `parquet:"close" json:"close"`
	Volume    *int64    `parquet:"volume,optional" json:"volume,omitempty"`
	AdjClose  *float64  `parquet:"adj_close,optional" json:"adj_close,omitempty"`
}

// EPSRow is an earnings-per-share report.
// Natural key (symbol, as_of_date, report_type, period).
type EPSRow struct {
	Symbol     string    `parquet:"symbol,dict" json:"symbol"`
	AsOfDate   time.Time `parquet:"as_of_date,timestamp(millisecond)" json:"as_of_date"`
	ReportType string    `parquet:"report_type,dict" json:"report_type"` // TTM, P, R, A
	Period     string    `parquet:"period,dict" json:"period"`           // 3M, 12M
	EPS        float64   `parquet:"eps" json:"eps"`
	Currency   string    `parquet:"currency,dict" json:"currency"`
}

// RevenueRow is a revenue report. Natural key mirrors EPSRow.
type RevenueRow struct {
	Symbol     string    `parquet:"symbol,dict" json:"symbol"`
	AsOfDate   time.Time `parquet:"as_of_date,timestamp(millisecond)" json:"as_of_date"`
	ReportType string    `parquet:"report_type,dict" json:"report_type"`
	Period     string    `parquet:"period,dict" json:"period"`
	Revenue    float64   `parquet:"revenue" json:"revenue"`
	Currency   string    `parquet:"currency,dict" json:"currency"`
}

// DividendRow is one declared dividend. Natural key (symbol, ex_date).
type DividendRow struct {
	Symbol          string     `parquet:"symbol,dict" json:"symbol"`
	ExDate          time.Time  `parquet:"ex_date,timestamp(millisecond)" json:"ex_date"`
	RecordDate      *time.Time `parquet:"record_date,optional,timestamp(millisecond)" json:"record_date,omitempty"`
	PayDate         *time.Time `parquet:"pay_date,optional,timestamp(millisecond)" json:"pay_date,omitempty"`
	DeclarationDate *time.Time `parquet:"declaration_date,optional,timestamp(millisecond)" json:"declaration_date,omitempty"`
	DividendType    string     `parquet:"dividend_type,dict" json:"dividend_type"`
	Amount          float64    `parquet:"amount" json:"amount"`
	Currency        string     `parquet:"currency,dict" json:"currency"`
}

// BetaRow is a 252-day rolling regression beta vs SPY.
// Natural key (symbol, date).
type BetaRow struct {
	Symbol string    `parquet:"symbol,dict" json:"symbol"`
	Date   time.Time `parquet:"date,timestamp(millisecond)" json:"date"`
	Beta   float64   `parquet:"beta" json:"beta"`
}

// Natural-key functions. Keys sort lexically in the same order as the
// dataset's natural ordering so merge writes can sort on them directly.

const keyDateFormat = "2006-01-02"

func (r StockEOD) Key() string {
	return fmt.Sprintf("%s|%s", r.Symbol, r.Date.Format(keyDateFormat))
}

func (r OptionEOD) Key() string {
	return fmt.Sprintf("%s|%s|%012.3f|%s|%s", r.UnderlyingSymbol,
		r.Expiration.Format(keyDateFormat), r.Strike, r.OptionType,
		r.Date.Format(keyDateFormat))
}

func (r MacroEOD) Key() string {
	return fmt.Sprintf("%s|%s", r.Indicator, r.Date.Format(keyDateFormat))
}

func (r EPSRow) Key() string {
	return fmt.Sprintf("%s|%s|%s|%s", r.Symbol, r.AsOfDate.Format(keyDateFormat), r.ReportType, r.Period)
}

func (r RevenueRow) Key() string {
	return fmt.Sprintf("%s|%s|%s|%s", r.Symbol, r.AsOfDate.Format(keyDateFormat), r.ReportType, r.Period)
}

func (r DividendRow) Key() string {
	return fmt.Sprintf("%s|%s", r.Symbol, r.ExDate.Format(keyDateFormat))
}

func (r BetaRow) Key() string {
	return fmt.Sprintf("%s|%s", r.Symbol, r.Date.Format(keyDateFormat))
}
