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
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/penny-vault/pv-options/common"
)

var stooqAPI = "https://stooq.com"

// stooq provides daily bars for macro indicators (^VIX, ^SPX, ...).
type stooq struct {
	client *http.Client
}

// NewStooq creates a macro indicator source.
func NewStooq() *stooq {
	return &stooq{client: newVendorClient()}
}

// MacroEOD returns daily bars for one indicator in [start, end].
func (s *stooq) MacroEOD(ctx context.Context, indicator string, start, end time.Time) ([]MacroEOD, error) {
	reqURL := fmt.Sprintf("%s/q/d/l/?s=%s&d1=%s&d2=%s&i=d",
		stooqAPI, url.QueryEscape(strings.ToLower(indicator)),
		start.Format("20060102"), end.Format("20060102"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, PermanentVendorError(err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, classifyHTTPError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, VendorErrorFromStatus(resp.StatusCode, fmt.Errorf("stooq request failed"))
	}

	reader := csv.NewReader(resp.Body)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, PermanentVendorError(fmt.Errorf("malformed stooq response: %w", err))
	}

	col := make(map[string]int, len(header))
	for idx, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = idx
	}
	for _, name := range []string{"date", "open", "high", "low", "close"} {
		if _, ok := col[name]; !ok {
			return nil, PermanentVendorError(fmt.Errorf("stooq response missing column %q", name))
		}
	}

	var rows []MacroEOD
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, PermanentVendorError(fmt.Errorf("malformed stooq row: %w", err))
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

		date, err := common.ParseDate(field("date"))
		if err != nil {
			return nil, PermanentVendorError(fmt.Errorf("unparseable stooq date %q", field("date")))
		}

		row := MacroEOD{
			Indicator: strings.ToUpper(indicator),
			Date:      date,
			Open:      numField("open"),
			High:      numField("high"),
			Low:       numField("low"),
			Close:     numField("close"),
		}
		if s := field("volume"); s != "" {
			v, _ := strconv.ParseInt(s, 10, 64)
			row.Volume = &v
		}
		if s := field("adj close"); s != "" {
			v, _ := strconv.ParseFloat(s, 64)
			row.AdjClose = &v
		}
		rows = append(rows, row)
	}
	return rows, nil
}
