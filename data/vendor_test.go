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
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTiingoStockEOD(t *testing.T) {
	source := NewTiingo("test-token")
	httpmock.ActivateNonDefault(source.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", `=~^https://api\.tiingo\.com/tiingo/daily/spy/prices`,
		httpmock.NewStringResponder(200, `[
			{"date":"2024-01-02T00:00:00.000Z","open":469.0,"high":471.5,"low":468.2,"close":470.1,"volume":81000000,"tradeCount":1200},
			{"date":"2024-01-03T00:00:00.000Z","open":470.3,"high":472.0,"low":469.8,"close":471.4,"volume":78000000,"tradeCount":1100,"bidPrice":471.3,"askPrice":471.5}
		]`))

	rows, err := source.StockEOD(context.Background(), "SPY", day(2024, 1, 1), day(2024, 1, 5))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "SPY", rows[0].Symbol)
	assert.True(t, rows[0].Date.Equal(day(2024, 1, 2)))
	assert.Equal(t, 470.1, rows[0].Close)
	assert.Nil(t, rows[0].Bid)

	require.NotNil(t, rows[1].Bid)
	assert.Equal(t, 471.3, *rows[1].Bid)
}

func TestTiingoErrorClassification(t *testing.T) {
	source := NewTiingo("test-token")
	httpmock.ActivateNonDefault(source.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", `=~^https://api\.tiingo\.com/tiingo/daily/spy/prices`,
		httpmock.NewStringResponder(429, "slow down"))

	_, err := source.StockEOD(context.Background(), "SPY", day(2024, 1, 1), day(2024, 1, 5))
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	httpmock.RegisterResponder("GET", `=~^https://api\.tiingo\.com/tiingo/daily/bad/prices`,
		httpmock.NewStringResponder(404, "not found"))

	_, err = source.StockEOD(context.Background(), "BAD", day(2024, 1, 1), day(2024, 1, 5))
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestTiingoFundamentals(t *testing.T) {
	source := NewTiingo("test-token")
	httpmock.ActivateNonDefault(source.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", `=~^https://api\.tiingo\.com/tiingo/fundamentals/aapl/statements`,
		httpmock.NewStringResponder(200, `{
			"statements": [
				{"date":"2023-12-30","reportType":"TTM","period":"12M","eps":6.42,"revenue":383000000000,"currency":"USD"},
				{"date":"2023-12-30","reportType":"A","period":"3M","eps":2.18,"currency":"USD"}
			],
			"distributions": [
				{"exDate":"2024-02-09","payDate":"2024-02-15","distributionType":"cash","amount":0.24,"currency":"USD"}
			]
		}`))

	set, err := source.Fundamentals(context.Background(), "AAPL")
	require.NoError(t, err)

	require.Len(t, set.EPS, 2)
	assert.Equal(t, "AAPL", set.EPS[0].Symbol)
	assert.Equal(t, 6.42, set.EPS[0].EPS)
	assert.Equal(t, "TTM", set.EPS[0].ReportType)

	// only the statement carrying revenue produces a revenue row
	require.Len(t, set.Revenue, 1)
	assert.Equal(t, 383e9, set.Revenue[0].Revenue)

	require.Len(t, set.Dividends, 1)
	assert.True(t, set.Dividends[0].ExDate.Equal(day(2024, 2, 9)))
	require.NotNil(t, set.Dividends[0].PayDate)
	assert.Nil(t, set.Dividends[0].RecordDate)
}

const thetadataFixture = `date,expiration,strike,right,open,high,low,close,volume,count,bid,ask,delta,gamma,theta,vega,rho,implied_vol,underlying_price
20240110,20240126,460000,P,1.1,1.3,1.0,1.2,100,10,1.15,1.25,-0.12,0.01,-0.05,0.2,0.0,0.17,470.0
20240110,20240126,465000,P,1.6,1.9,1.5,1.8,150,12,1.75,1.85,-0.18,0.02,-0.06,0.3,0.0,0.18,470.0
20240110,20240126,470000,P,2.4,2.8,2.3,2.6,200,15,2.55,2.65,-0.48,0.03,-0.08,0.4,0.0,0.19,470.0
20240110,20240126,475000,P,4.1,4.6,4.0,4.4,180,14,4.35,4.45,-0.71,0.03,-0.07,0.4,0.0,0.20,470.0
20240110,20240126,480000,P,6.9,7.4,6.8,7.2,90,9,7.10,7.30,-0.86,0.02,-0.05,0.3,0.0,0.21,470.0
20240110,20240621,470000,P,13.5,14.2,13.3,13.9,50,5,13.70,14.10,-0.45,0.01,-0.03,0.9,0.0,0.22,470.0
`

func TestThetaDataOptionEOD(t *testing.T) {
	source := NewThetaData(30, 1)
	httpmock.ActivateNonDefault(source.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", `=~^http://127\.0\.0\.1:25510/v2/bulk_hist/option/eod_greeks`,
		httpmock.NewStringResponder(200, thetadataFixture))

	rows, err := source.OptionEOD(context.Background(), "spy", day(2024, 1, 10), day(2024, 1, 10))
	require.NoError(t, err)

	// the June expiration exceeds maxDTE; strikeRange 1 keeps one strike on
	// each side of the 470 at-the-money
	require.Len(t, rows, 3)
	assert.Equal(t, 465.0, rows[0].Strike)
	assert.Equal(t, 470.0, rows[1].Strike)
	assert.Equal(t, 475.0, rows[2].Strike)

	assert.Equal(t, "SPY", rows[1].UnderlyingSymbol)
	assert.Equal(t, OptionTypePut, rows[1].OptionType)
	assert.True(t, rows[1].Expiration.Equal(day(2024, 1, 26)))
	assert.Equal(t, -0.48, rows[1].Delta)
	require.NotNil(t, rows[1].Bid)
	assert.Equal(t, 2.55, *rows[1].Bid)
}

func TestThetaDataNoContent(t *testing.T) {
	source := NewThetaData(0, 0)
	httpmock.ActivateNonDefault(source.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", `=~^http://127\.0\.0\.1:25510/v2/bulk_hist/option/eod_greeks`,
		httpmock.NewStringResponder(204, ""))

	rows, err := source.OptionEOD(context.Background(), "SPY", day(2024, 1, 10), day(2024, 1, 10))
	require.NoError(t, err)
	assert.Nil(t, rows)
}

func TestStooqMacroEOD(t *testing.T) {
	source := NewStooq()
	httpmock.ActivateNonDefault(source.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", `=~^https://stooq\.com/q/d/l/`,
		httpmock.NewStringResponder(200, "Date,Open,High,Low,Close,Volume\n2024-01-02,13.2,14.1,13.0,13.8,0\n2024-01-03,13.8,14.5,13.5,14.2,0\n"))

	rows, err := source.MacroEOD(context.Background(), "^vix", day(2024, 1, 1), day(2024, 1, 5))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "^VIX", rows[0].Indicator)
	assert.True(t, rows[0].Date.Equal(day(2024, 1, 2)))
	assert.Equal(t, 13.8, rows[0].Close)
	require.NotNil(t, rows[0].Volume)
	assert.Equal(t, int64(0), *rows[0].Volume)
}
