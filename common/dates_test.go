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

package common_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penny-vault/pv-options/common"
)

func TestMidnight(t *testing.T) {
	in := time.Date(2024, 3, 15, 14, 30, 45, 123, time.FixedZone("EST", -5*3600))
	out := common.Midnight(in)

	assert.Equal(t, 2024, out.Year())
	assert.Equal(t, time.March, out.Month())
	assert.Equal(t, 15, out.Day())
	assert.Equal(t, 0, out.Hour())
	assert.Equal(t, time.UTC, out.Location())
}

func TestParseDate(t *testing.T) {
	parsed, err := common.ParseDate("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), parsed)

	_, err = common.ParseDate("02/29/2024")
	assert.Error(t, err)
}

func TestDaysBetween(t *testing.T) {
	a := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 30, common.DaysBetween(a, b))
	assert.Equal(t, 0, common.DaysBetween(a, a))
}

func TestWeekdaysIn(t *testing.T) {
	// Mon 2024-01-01 .. Sun 2024-01-07 has five weekdays
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 5, common.WeekdaysIn(start, end))

	// Sat..Sun has none
	sat := time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC)
	sun := time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 0, common.WeekdaysIn(sat, sun))
}

func TestMinMaxTime(t *testing.T) {
	a := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, common.MinTime(a, b).Equal(a))
	assert.True(t, common.MaxTime(a, b).Equal(b))
}
