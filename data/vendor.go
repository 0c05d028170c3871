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
	"net/http"
	"time"
)

// Vendor adapters are pure mappings from (symbol, date range) to internal
// records. They classify failures as transient or permanent via VendorError
// and never retry; retry policy belongs to the downloader.

// StockSource fetches end-of-day stock bars. Weekends and holidays are
// simply absent from the result.
type StockSource interface {
	StockEOD(ctx context.Context, symbol string, start, end time.Time) ([]StockEOD, error)
}

// OptionSource fetches end-of-day option quotes with greeks. Adapters are
// parametrized with a max days-to-expiration and a strike range around the
// at-the-money strike; contracts outside either bound are dropped.
type OptionSource interface {
	OptionEOD(ctx context.Context, underlying string, start, end time.Time) ([]OptionEOD, error)
}

// MacroSource fetches daily bars for one macro indicator at a time.
type MacroSource interface {
	MacroEOD(ctx context.Context, indicator string, start, end time.Time) ([]MacroEOD, error)
}

// FundamentalSet is the composite record a fundamental fetch returns.
type FundamentalSet struct {
	EPS       []EPSRow
	Revenue   []RevenueRow
	Dividends []DividendRow
}

// FundamentalSource fetches the full fundamental history for one symbol.
type FundamentalSource interface {
	Fundamentals(ctx context.Context, symbol string) (*FundamentalSet, error)
}

// VendorSet bundles the adapters the downloader drives.
type VendorSet struct {
	Stock       StockSource
	Option      OptionSource
	Macro       MacroSource
	Fundamental FundamentalSource
}

const vendorRequestTimeout = 30 * time.Second

func newVendorClient() *http.Client {
	return &http.Client{Timeout: vendorRequestTimeout}
}

// classifyHTTPError maps a transport-level failure to a vendor error.
// Timeouts and connection resets are retriable.
func classifyHTTPError(err error) *VendorError {
	if err == nil {
		return nil
	}
	return TransientVendorError(err)
}
