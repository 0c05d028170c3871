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
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/penny-vault/pv-options/common"
)

var tiingoAPI = "https://api.tiingo.com"

// tiingo provides stock EOD bars and fundamentals.
type tiingo struct {
	apikey string
	client *http.Client
}

// NewTiingo creates a Tiingo stock and fundamental source.
func NewTiingo(apikey string) *tiingo {
	return &tiingo{
		apikey: apikey,
		client: newVendorClient(),
	}
}

type tiingoBar struct {
	Date   string   `json:"date"`
	Open   float64  `json:"open"`
	High   float64  `json:"high"`
	Low    float64  `json:"low"`
	Close  float64  `json:"close"`
	Volume int64    `json:"volume"`
	Count  int32    `json:"tradeCount"`
	Bid    *float64 `json:"bidPrice"`
	Ask    *float64 `json:"askPrice"`
}

// StockEOD returns contiguous trading-day bars in [start, end].
func (t *tiingo) StockEOD(ctx context.Context, symbol string, start, end time.Time) ([]StockEOD, error) {
	reqURL := fmt.Sprintf("%s/tiingo/daily/%s/prices?startDate=%s&endDate=%s&format=json&token=%s",
		tiingoAPI, url.PathEscape(strings.ToLower(symbol)),
		start.Format(common.DateFormat), end.Format(common.DateFormat), t.apikey)

	body, err := t.get(ctx, reqURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	// stream-decode: responses for multi-year ranges can be large
	dec := json.NewDecoder(body)
	if _, err := dec.Token(); err != nil { // opening '['
		return nil, PermanentVendorError(fmt.Errorf("malformed tiingo response: %w", err))
	}

	var rows []StockEOD
	for dec.More() {
		var bar tiingoBar
		if err := dec.Decode(&bar); err != nil {
			return nil, PermanentVendorError(fmt.Errorf("malformed tiingo bar: %w", err))
		}
		date, err := parseTiingoDate(bar.Date)
		if err != nil {
			return nil, PermanentVendorError(err)
		}
		rows = append(rows, StockEOD{
			Symbol: strings.ToUpper(symbol),
			Date:   date,
			Open:   bar.Open,
			High:   bar.High,
			Low:    bar.Low,
			Close:  bar.Close,
			Volume: bar.Volume,
			Count:  bar.Count,
			Bid:    bar.Bid,
			Ask:    bar.Ask,
		})
	}
	return rows, nil
}

type tiingoStatement struct {
	Date       string   `json:"date"`
	ReportType string   `json:"reportType"`
	Period     string   `json:"period"`
	EPS        *float64 `json:"eps"`
	Revenue    *float64 `json:"revenue"`
	Currency   string   `json:"currency"`
}

type tiingoDistribution struct {
	ExDate           string  `json:"exDate"`
	RecordDate       string  `json:"recordDate"`
	PayDate          string  `json:"payDate"`
	DeclarationDate  string  `json:"declarationDate"`
	DistributionType string  `json:"distributionType"`
	Amount           float64 `json:"amount"`
	Currency         string  `json:"currency"`
}

type tiingoFundamentals struct {
	Statements    []tiingoStatement    `json:"statements"`
	Distributions []tiingoDistribution `json:"distributions"`
}

// Fundamentals returns the symbol's EPS, revenue, and dividend history as
// three parallel record lists.
func (t *tiingo) Fundamentals(ctx context.Context, symbol string) (*FundamentalSet, error) {
	reqURL := fmt.Sprintf("%s/tiingo/fundamentals/%s/statements?token=%s",
		tiingoAPI, url.PathEscape(strings.ToLower(symbol)), t.apikey)

	body, err := t.get(ctx, reqURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var payload tiingoFundamentals
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return nil, PermanentVendorError(fmt.Errorf("malformed tiingo fundamentals: %w", err))
	}

	symbol = strings.ToUpper(symbol)
	set := &FundamentalSet{}
	for _, stmt := range payload.Statements {
		asOf, err := parseTiingoDate(stmt.Date)
		if err != nil {
			log.Warn().Str("Symbol", symbol).Str("Date", stmt.Date).Msg("skipping statement with bad date")
			continue
		}
		if stmt.EPS != nil {
			set.EPS = append(set.EPS, EPSRow{
				Symbol:     symbol,
				AsOfDate:   asOf,
				ReportType: stmt.ReportType,
				Period:     stmt.Period,
				EPS:        *stmt.EPS,
				Currency:   stmt.Currency,
			})
		}
		if stmt.Revenue != nil {
			set.Revenue = append(set.Revenue, RevenueRow{
				Symbol:     symbol,
				AsOfDate:   asOf,
				ReportType: stmt.ReportType,
				Period:     stmt.Period,
				Revenue:    *stmt.Revenue,
				Currency:   stmt.Currency,
			})
		}
	}

	for _, dist := range payload.Distributions {
		exDate, err := parseTiingoDate(dist.ExDate)
		if err != nil {
			log.Warn().Str("Symbol", symbol).Str("ExDate", dist.ExDate).Msg("skipping distribution with bad ex-date")
			continue
		}
		row := DividendRow{
			Symbol:       symbol,
			ExDate:       exDate,
			DividendType: dist.DistributionType,
			Amount:       dist.Amount,
			Currency:     dist.Currency,
		}
		if d, err := parseTiingoDate(dist.RecordDate); err == nil {
			row.RecordDate = &d
		}
		if d, err := parseTiingoDate(dist.PayDate); err == nil {
			row.PayDate = &d
		}
		if d, err := parseTiingoDate(dist.DeclarationDate); err == nil {
			row.DeclarationDate = &d
		}
		set.Dividends = append(set.Dividends, row)
	}

	return set, nil
}

func (t *tiingo) get(ctx context.Context, reqURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, PermanentVendorError(err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, classifyHTTPError(err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, VendorErrorFromStatus(resp.StatusCode, fmt.Errorf("tiingo request failed"))
	}
	return resp.Body, nil
}

// parseTiingoDate handles both date-only and RFC-3339 timestamps.
func parseTiingoDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if len(s) >= 10 {
		if t, err := common.ParseDate(s[:10]); err == nil {
			return t, nil
		}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable date %q: %w", s, err)
	}
	return common.Midnight(t), nil
}
