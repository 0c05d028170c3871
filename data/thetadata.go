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
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/penny-vault/pv-options/common"
)

var thetadataAPI = "http://127.0.0.1:25510"

// thetadata provides end-of-day option quotes with greeks from a local
// ThetaData terminal. Responses are CSV and decoded row-by-row; bulk
// replies for a year of a liquid underlying run to hundreds of MB and are
// never materialized whole.
type thetadata struct {
	client      *http.Client
	maxDTE      int
	strikeRange int
}

// NewThetaData creates an option EOD source. maxDTE drops contracts with
// more than that many calendar days to expiration at quote date;
// strikeRange keeps only that many strikes on each side of at-the-money.
func NewThetaData(maxDTE, strikeRange int) *thetadata {
	return &thetadata{
		client:      newVendorClient(),
		maxDTE:      maxDTE,
		strikeRange: strikeRange,
	}
}

// OptionEOD fetches quotes for all contracts of an underlying in [start, end].
func (t *thetadata) OptionEOD(ctx context.Context, underlying string, start, end time.Time) ([]OptionEOD, error) {
	reqURL := fmt.Sprintf("%s/v2/bulk_hist/option/eod_greeks?root=%s&start_date=%s&end_date=%s&use_csv=true",
		thetadataAPI, strings.ToUpper(underlying),
		start.Format("20060102"), end.Format("20060102"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, PermanentVendorError(err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, classifyHTTPError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode >= 400 {
		return nil, VendorErrorFromStatus(resp.StatusCode, fmt.Errorf("thetadata request failed"))
	}

	rows, err := t.decodeCSV(strings.ToUpper(underlying), resp.Body)
	if err != nil {
		return nil, err
	}
	return t.filter(rows), nil
}

func (t *thetadata) decodeCSV(underlying string, body io.Reader) ([]OptionEOD, error) {
	reader := csv.NewReader(body)
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, PermanentVendorError(fmt.Errorf("malformed thetadata response: %w", err))
	}

	col := make(map[string]int, len(header))
	for idx, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = idx
	}
	required := []string{"date", "expiration", "strike", "right", "open", "high", "low", "close", "volume"}
	for _, name := range required {
		if _, ok := col[name]; !ok {
			return nil, PermanentVendorError(fmt.Errorf("thetadata response missing column %q", name))
		}
	}

	var rows []OptionEOD
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, PermanentVendorError(fmt.Errorf("malformed thetadata row: %w", err))
		}

		field := func(name string) string {
			idx, ok := col[name]
			if !ok || idx >= len(record) {
				return ""
			}
			return record[idx]
		}
		numField := func(name string) float64 {
			v, _ := strconv.ParseFloat(field(name), 64)
			return v
		}

		date, err := parseCompactDate(field("date"))
		if err != nil {
			return nil, PermanentVendorError(err)
		}
		expiration, err := parseCompactDate(field("expiration"))
		if err != nil {
			return nil, PermanentVendorError(err)
		}

		optType := OptionTypePut
		if strings.EqualFold(field("right"), "C") || strings.EqualFold(field("right"), "call") {
			optType = OptionTypeCall
		}

		volume, _ := strconv.ParseInt(field("volume"), 10, 64)
		count, _ := strconv.ParseInt(field("count"), 10, 32)

		row := OptionEOD{
			UnderlyingSymbol: underlying,
			Expiration:       expiration,
			Strike:           numField("strike") / 1000.0, // strikes are in 10ths of a cent
			OptionType:       optType,
			Date:             date,
			Open:             numField("open"),
			High:             numField("high"),
			Low:              numField("low"),
			Close:            numField("close"),
			Volume:           volume,
			Count:            int32(count),
			Delta:            numField("delta"),
			Gamma:            numField("gamma"),
			Theta:            numField("theta"),
			Vega:             numField("vega"),
			Rho:              numField("rho"),
			ImpliedVol:       numField("implied_vol"),
			UnderlyingPrice:  numField("underlying_price"),
		}
		if s := field("bid"); s != "" {
			v, _ := strconv.ParseFloat(s, 64)
			row.Bid = &v
		}
		if s := field("ask"); s != "" {
			v, _ := strconv.ParseFloat(s, 64)
			row.Ask = &v
		}
		if s := field("open_interest"); s != "" {
			v, _ := strconv.ParseInt(s, 10, 64)
			row.OpenInterest = &v
		}
		if s := field("iv_error"); s != "" {
			v, _ := strconv.ParseFloat(s, 64)
			row.IVError = &v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// filter drops contracts beyond maxDTE at quote date and keeps only
// strikeRange strikes on each side of the at-the-money strike within each
// (date, expiration, right) group.
func (t *thetadata) filter(rows []OptionEOD) []OptionEOD {
	if t.maxDTE <= 0 && t.strikeRange <= 0 {
		return rows
	}

	type groupKey struct {
		date       time.Time
		expiration time.Time
		right      OptionType
	}
	groups := make(map[groupKey][]OptionEOD)
	order := make([]groupKey, 0)
	for _, row := range rows {
		if t.maxDTE > 0 && common.DaysBetween(row.Date, row.Expiration) > t.maxDTE {
			continue
		}
		key := groupKey{row.Date, row.Expiration, row.OptionType}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], row)
	}

	if t.strikeRange <= 0 {
		kept := make([]OptionEOD, 0, len(rows))
		for _, key := range order {
			kept = append(kept, groups[key]...)
		}
		return kept
	}

	kept := make([]OptionEOD, 0, len(rows))
	for _, key := range order {
		group := groups[key]
		sort.Slice(group, func(i, j int) bool { return group[i].Strike < group[j].Strike })

		// find the strike closest to spot
		atm := 0
		for idx := range group {
			if diff(group[idx].Strike, group[idx].UnderlyingPrice) < diff(group[atm].Strike, group[atm].UnderlyingPrice) {
				atm = idx
			}
		}

		lo := atm - t.strikeRange
		if lo < 0 {
			lo = 0
		}
		hi := atm + t.strikeRange
		if hi > len(group)-1 {
			hi = len(group) - 1
		}
		kept = append(kept, group[lo:hi+1]...)
	}
	return kept
}

func diff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}

func parseCompactDate(s string) (time.Time, error) {
	t, err := time.Parse("20060102", strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable date %q: %w", s, err)
	}
	return common.Midnight(t), nil
}
